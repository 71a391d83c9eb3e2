package execution

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"scene-forge/internal/model"

	"go.uber.org/zap"
)

// LocalExecutor рендерит программу локально установленным manim.
type LocalExecutor struct {
	python string
	opts   RenderOptions
	logger *zap.Logger
}

// NewLocalExecutor создает локальный исполнитель. python - интерпретатор с установленным manim.
func NewLocalExecutor(python string, opts RenderOptions, logger *zap.Logger) (*LocalExecutor, error) {
	opts = opts.withDefaults()
	if !validQuality(opts.Quality) {
		return nil, fmt.Errorf("некорректное качество рендера: '%s'", opts.Quality)
	}
	if python == "" {
		python = "python"
	}
	return &LocalExecutor{python: python, opts: opts, logger: logger.Named("LocalExecutor")}, nil
}

// Execute запускает `python -m manim render` и ждет завершения не дольше Timeout.
func (e *LocalExecutor) Execute(ctx context.Context, p model.Program) (model.ExecutionResult, error) {
	script, err := writeScript(e.opts.WorkDir, p)
	if err != nil {
		return model.ExecutionResult{}, err
	}
	mediaDir := filepath.Join(e.opts.WorkDir, "media")

	execCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, e.python, "-m", "manim", "render",
		"-q"+e.opts.Quality, "--disable_caching", "--media_dir", mediaDir, script, p.SceneName)
	cmd.Dir = e.opts.WorkDir
	cmd.Env = append(os.Environ(), e.opts.Env...)
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.logger.Info("Starting render", zap.String("scene", p.SceneName), zap.String("script", script))
	start := time.Now()
	err = cmd.Run()
	result := model.ExecutionResult{Duration: time.Since(start)}

	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		e.logger.Warn("Render timed out", zap.String("scene", p.SceneName), zap.Duration("timeout", e.opts.Timeout))
		result.TimedOut = true
		result.Diagnostic = timeoutDiagnostic(e.opts.Timeout)
		return result, nil
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return result, fmt.Errorf("%w: %v", model.ErrExecutorUnavailable, err)
		}
		e.logger.Warn("Render failed",
			zap.String("scene", p.SceneName),
			zap.Int("exit_code", exitErr.ExitCode()),
			zap.Duration("duration", result.Duration),
		)
		result.Diagnostic = failureDiagnostic(stdout.String(), stderr.String())
		return result, nil
	}

	result.Success = true
	if ref, ok := artifactFromOutput(stdout.String()); ok {
		result.ArtifactRef = ref
	} else if ref, ok := newestVideo(mediaDir, p.FileName); ok {
		result.ArtifactRef = ref
	} else {
		e.logger.Warn("Render succeeded but video file not found", zap.String("media_dir", mediaDir))
	}
	e.logger.Info("Render finished",
		zap.String("scene", p.SceneName),
		zap.String("artifact", result.ArtifactRef),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

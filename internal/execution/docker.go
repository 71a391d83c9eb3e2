package execution

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"scene-forge/internal/model"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/zap"
)

// containerWorkDir - точка монтирования рабочего каталога внутри контейнера.
const containerWorkDir = "/manim"

// DockerExecutor рендерит программу в одноразовом контейнере с manim.
type DockerExecutor struct {
	cli    *client.Client
	image  string
	opts   RenderOptions
	logger *zap.Logger
}

// NewDockerExecutor подключается к docker по переменным окружения (DOCKER_HOST и т.д.).
func NewDockerExecutor(image string, opts RenderOptions, logger *zap.Logger) (*DockerExecutor, error) {
	opts = opts.withDefaults()
	if !validQuality(opts.Quality) {
		return nil, fmt.Errorf("некорректное качество рендера: '%s'", opts.Quality)
	}
	if image == "" {
		return nil, fmt.Errorf("не задан образ для рендера")
	}
	absDir, err := filepath.Abs(opts.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("некорректный рабочий каталог %s: %w", opts.WorkDir, err)
	}
	opts.WorkDir = absDir

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("%w: docker: %v", model.ErrExecutorUnavailable, err)
	}
	return &DockerExecutor{cli: cli, image: image, opts: opts, logger: logger.Named("DockerExecutor")}, nil
}

// Ping проверяет доступность демона.
func (e *DockerExecutor) Ping(ctx context.Context) error {
	if _, err := e.cli.Ping(ctx); err != nil {
		return fmt.Errorf("%w: docker: %v", model.ErrExecutorUnavailable, err)
	}
	return nil
}

// Close закрывает клиент docker.
func (e *DockerExecutor) Close() error {
	return e.cli.Close()
}

// Execute создает контейнер, ждет его завершения не дольше Timeout и забирает логи.
func (e *DockerExecutor) Execute(ctx context.Context, p model.Program) (model.ExecutionResult, error) {
	if _, err := writeScript(e.opts.WorkDir, p); err != nil {
		return model.ExecutionResult{}, err
	}

	cfg := &container.Config{
		Image:      e.image,
		WorkingDir: containerWorkDir,
		Env:        e.opts.Env,
		Cmd: []string{"manim", "render", "-q" + e.opts.Quality, "--disable_caching",
			"--media_dir", path.Join(containerWorkDir, "media"),
			path.Join(containerWorkDir, p.FileName), p.SceneName},
	}
	hostCfg := &container.HostConfig{
		Binds: []string{e.opts.WorkDir + ":" + containerWorkDir},
	}

	created, err := e.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if err != nil {
		return model.ExecutionResult{}, fmt.Errorf("%w: создание контейнера: %v", model.ErrExecutorUnavailable, err)
	}
	id := created.ID
	log := e.logger.With(zap.String("container_id", shortID(id)), zap.String("scene", p.SceneName))
	defer func() {
		rmCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := e.cli.ContainerRemove(rmCtx, id, container.RemoveOptions{Force: true}); err != nil {
			log.Warn("Failed to remove render container", zap.Error(err))
		}
	}()

	start := time.Now()
	if err := e.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return model.ExecutionResult{}, fmt.Errorf("%w: запуск контейнера: %v", model.ErrExecutorUnavailable, err)
	}
	log.Info("Render container started")

	waitCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()
	statusCh, errCh := e.cli.ContainerWait(waitCtx, id, container.WaitConditionNotRunning)

	var exitCode int64
	select {
	case status := <-statusCh:
		if status.Error != nil {
			return model.ExecutionResult{}, fmt.Errorf("%w: ожидание контейнера: %s", model.ErrExecutorUnavailable, status.Error.Message)
		}
		exitCode = status.StatusCode
	case err := <-errCh:
		result := model.ExecutionResult{Duration: time.Since(start)}
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
			log.Warn("Render timed out", zap.Duration("timeout", e.opts.Timeout))
			result.TimedOut = true
			result.Diagnostic = timeoutDiagnostic(e.opts.Timeout)
			return result, nil
		}
		return result, fmt.Errorf("%w: ожидание контейнера: %v", model.ErrExecutorUnavailable, err)
	}
	result := model.ExecutionResult{Duration: time.Since(start)}

	stdout, stderr, err := e.logs(ctx, id)
	if err != nil {
		return result, err
	}

	if exitCode != 0 {
		log.Warn("Render failed", zap.Int64("exit_code", exitCode), zap.Duration("duration", result.Duration))
		result.Diagnostic = failureDiagnostic(stdout, stderr)
		return result, nil
	}

	result.Success = true
	if ref, ok := artifactFromOutput(stdout); ok {
		result.ArtifactRef = e.hostPath(ref)
	} else if ref, ok := newestVideo(filepath.Join(e.opts.WorkDir, "media"), p.FileName); ok {
		result.ArtifactRef = ref
	}
	log.Info("Render finished", zap.String("artifact", result.ArtifactRef), zap.Duration("duration", result.Duration))
	return result, nil
}

func (e *DockerExecutor) logs(ctx context.Context, id string) (string, string, error) {
	rc, err := e.cli.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", "", fmt.Errorf("%w: логи контейнера: %v", model.ErrExecutorUnavailable, err)
	}
	defer rc.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, rc); err != nil {
		return "", "", fmt.Errorf("%w: чтение логов контейнера: %v", model.ErrExecutorUnavailable, err)
	}
	return stdout.String(), stderr.String(), nil
}

// hostPath переводит путь внутри контейнера в путь на хосте.
func (e *DockerExecutor) hostPath(p string) string {
	if rel, ok := strings.CutPrefix(p, containerWorkDir+"/"); ok {
		return filepath.Join(e.opts.WorkDir, filepath.FromSlash(rel))
	}
	return p
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

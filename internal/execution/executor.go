package execution

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"scene-forge/internal/model"
)

// Executor исполняет собранную программу.
// Неуспешный рендер - это результат с Success=false и диагностикой, а не ошибка.
// Ошибка возвращается только при сбое инфраструктуры (model.ErrExecutorUnavailable) или отмене контекста.
type Executor interface {
	Execute(ctx context.Context, p model.Program) (model.ExecutionResult, error)
}

// FailurePrefix - префикс диагностики неуспешного рендера.
const FailurePrefix = "RENDER_FAILED:"

// Качество рендера manim (-q<quality>)
const (
	QualityLow    = "l"
	QualityMedium = "m"
	QualityHigh   = "h"
	Quality4K     = "k"
)

// maxDiagnosticBytes - сколько байт хвоста вывода рендера попадает в диагностику.
// Дальнейшее ограничение по токенам делает Repairer.
const maxDiagnosticBytes = 64 * 1024

// RenderOptions - общие параметры исполнителей.
type RenderOptions struct {
	Quality string
	Timeout time.Duration
	// WorkDir - каталог для скриптов и медиафайлов.
	WorkDir string
	// Env - дополнительные переменные окружения процесса рендера (KEY=VALUE).
	Env []string
}

func (o RenderOptions) withDefaults() RenderOptions {
	if o.Quality == "" {
		o.Quality = QualityLow
	}
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Minute
	}
	if o.WorkDir == "" {
		o.WorkDir = filepath.Join(os.TempDir(), "scene-forge")
	}
	return o
}

func validQuality(q string) bool {
	switch q {
	case QualityLow, QualityMedium, QualityHigh, Quality4K:
		return true
	}
	return false
}

var fileReadyRe = regexp.MustCompile(`File ready at\s+(?:\S+\.py:\d+\s+)?'?([^'\n]+?\.mp4)'?`)

// artifactFromOutput ищет путь к видео в выводе manim.
func artifactFromOutput(stdout string) (string, bool) {
	// rich переносит длинные пути по строкам
	joined := strings.Join(strings.Fields(stdout), " ")
	m := fileReadyRe.FindStringSubmatch(joined)
	if m == nil {
		return "", false
	}
	return strings.ReplaceAll(strings.TrimSpace(m[1]), " ", ""), true
}

// newestVideo ищет самый свежий mp4 среди видео программы fileName.
// manim складывает их в <mediaDir>/videos/<имя скрипта без .py>/, чужие сцены туда не попадают.
func newestVideo(mediaDir, fileName string) (string, bool) {
	dir := filepath.Join(mediaDir, "videos", strings.TrimSuffix(fileName, filepath.Ext(fileName)))
	var (
		best    string
		bestMod time.Time
	)
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".mp4") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if best == "" || info.ModTime().After(bestMod) {
			best, bestMod = path, info.ModTime()
		}
		return nil
	})
	return best, best != ""
}

// failureDiagnostic собирает диагностику неуспешного рендера: stderr, а при пустом stderr - хвост stdout.
func failureDiagnostic(stdout, stderr string) string {
	out := strings.TrimSpace(stderr)
	if out == "" {
		out = strings.TrimSpace(stdout)
	}
	if len(out) > maxDiagnosticBytes {
		out = out[len(out)-maxDiagnosticBytes:]
	}
	return FailurePrefix + "\n" + out
}

func timeoutDiagnostic(timeout time.Duration) string {
	return fmt.Sprintf("%s Rendering timeout after %s", FailurePrefix, timeout)
}

// writeScript сохраняет программу в каталог задачи.
func writeScript(dir string, p model.Program) (string, error) {
	if p.FileName == "" || filepath.Base(p.FileName) != p.FileName {
		return "", fmt.Errorf("некорректное имя файла программы: '%s'", p.FileName)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: не удалось создать каталог %s: %v", model.ErrExecutorUnavailable, dir, err)
	}
	path := filepath.Join(dir, p.FileName)
	if err := os.WriteFile(path, []byte(p.Source), 0o644); err != nil {
		return "", fmt.Errorf("%w: не удалось записать скрипт %s: %v", model.ErrExecutorUnavailable, path, err)
	}
	return path, nil
}

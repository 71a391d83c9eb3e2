package execution_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"scene-forge/internal/execution"
	"scene-forge/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakePython пишет shell-скрипт, который притворяется интерпретатором с manim.
func fakePython(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not supported on windows")
	}
	path := filepath.Join(t.TempDir(), "python")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func program() model.Program {
	return model.Program{SceneName: "Video1Scene1", FileName: "video1_scene1.py", Source: "print('hi')\n"}
}

func TestLocalExecutorSuccess(t *testing.T) {
	python := fakePython(t, `echo "INFO     File ready at '/tmp/media/videos/video1_scene1/480p15/Video1Scene1.mp4'"`)
	dir := t.TempDir()
	e, err := execution.NewLocalExecutor(python, execution.RenderOptions{WorkDir: dir, Timeout: 10 * time.Second}, zap.NewNop())
	require.NoError(t, err)

	res, err := e.Execute(context.Background(), program())
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, "/tmp/media/videos/video1_scene1/480p15/Video1Scene1.mp4", res.ArtifactRef)
	src, err := os.ReadFile(filepath.Join(dir, "video1_scene1.py"))
	require.NoError(t, err)
	assert.Equal(t, "print('hi')\n", string(src))
}

func TestLocalExecutorPassesArguments(t *testing.T) {
	python := fakePython(t, `echo "$@" >&2; exit 3`)
	dir := t.TempDir()
	e, err := execution.NewLocalExecutor(python, execution.RenderOptions{WorkDir: dir, Quality: execution.QualityMedium}, zap.NewNop())
	require.NoError(t, err)

	res, err := e.Execute(context.Background(), program())
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.True(t, strings.HasPrefix(res.Diagnostic, execution.FailurePrefix))
	assert.Contains(t, res.Diagnostic, "-m manim render -qm --disable_caching")
	assert.Contains(t, res.Diagnostic, filepath.Join(dir, "video1_scene1.py")+" Video1Scene1")
}

func TestLocalExecutorFindsOwnVideoWithoutFileReadyLine(t *testing.T) {
	// $7 - --media_dir, manim пишет видео в videos/<имя скрипта>/<качество>/
	python := fakePython(t, `mkdir -p "$7/videos/video1_scene1/480p15" && touch "$7/videos/video1_scene1/480p15/Video1Scene1.mp4"`)
	dir := t.TempDir()

	// Более свежее видео соседней сцены в общем media
	other := filepath.Join(dir, "media", "videos", "video1_scene2", "480p15", "Video1Scene2.mp4")
	require.NoError(t, os.MkdirAll(filepath.Dir(other), 0o755))
	require.NoError(t, os.WriteFile(other, nil, 0o644))
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(other, future, future))

	e, err := execution.NewLocalExecutor(python, execution.RenderOptions{WorkDir: dir, Timeout: 10 * time.Second}, zap.NewNop())
	require.NoError(t, err)

	res, err := e.Execute(context.Background(), program())
	require.NoError(t, err)

	require.True(t, res.Success)
	assert.Equal(t, filepath.Join(dir, "media", "videos", "video1_scene1", "480p15", "Video1Scene1.mp4"), res.ArtifactRef)
}

func TestLocalExecutorFailure(t *testing.T) {
	python := fakePython(t, `echo "rendering..."; echo "NameError: name 'betainc' is not defined" >&2; exit 1`)
	e, err := execution.NewLocalExecutor(python, execution.RenderOptions{WorkDir: t.TempDir()}, zap.NewNop())
	require.NoError(t, err)

	res, err := e.Execute(context.Background(), program())
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.False(t, res.TimedOut)
	assert.Equal(t, "RENDER_FAILED:\nNameError: name 'betainc' is not defined", res.Diagnostic)
}

func TestLocalExecutorTimeout(t *testing.T) {
	python := fakePython(t, `exec sleep 5`)
	e, err := execution.NewLocalExecutor(python, execution.RenderOptions{WorkDir: t.TempDir(), Timeout: 200 * time.Millisecond}, zap.NewNop())
	require.NoError(t, err)

	res, err := e.Execute(context.Background(), program())
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.True(t, res.TimedOut)
	assert.Contains(t, res.Diagnostic, "timeout")
}

func TestLocalExecutorMissingBinary(t *testing.T) {
	e, err := execution.NewLocalExecutor(filepath.Join(t.TempDir(), "no-python"), execution.RenderOptions{WorkDir: t.TempDir()}, zap.NewNop())
	require.NoError(t, err)

	_, err = e.Execute(context.Background(), program())

	assert.True(t, errors.Is(err, model.ErrExecutorUnavailable))
}

func TestLocalExecutorRejectsBadInput(t *testing.T) {
	_, err := execution.NewLocalExecutor("python", execution.RenderOptions{Quality: "x"}, zap.NewNop())
	assert.Error(t, err)

	e, err := execution.NewLocalExecutor("python", execution.RenderOptions{WorkDir: t.TempDir()}, zap.NewNop())
	require.NoError(t, err)
	p := program()
	p.FileName = "../escape.py"
	_, err = e.Execute(context.Background(), p)
	assert.Error(t, err)
}

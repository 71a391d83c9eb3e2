package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"scene-forge/internal/config"
	"scene-forge/internal/policy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	sceneYAML = `title: Intro
beats:
  - narration: One idea.
    visual: a dot
`
	cleanFragment = "with self.voiceover(text=\"One idea.\") as tracker:\n" +
		"    dot = Dot(color=BLUE)\n" +
		"    self.play(FadeIn(dot), run_time=tracker.duration)\n"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSanitizeCommand(t *testing.T) {
	out, err := execute(t, "```python\nfrom manim import *\nx = 1\n```\n", "sanitize")

	require.NoError(t, err)
	assert.Contains(t, out, "x = 1")
	assert.NotContains(t, out, "```")
	assert.NotContains(t, out, "from manim")
}

func TestValidateCommand(t *testing.T) {
	scene := writeFile(t, "scene.yaml", sceneYAML)

	t.Run("clean", func(t *testing.T) {
		fragment := writeFile(t, "fragment.py", cleanFragment)
		out, err := execute(t, "", "validate", "--scene", scene, "--fragment", fragment)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(out, "clean"), out)
	})

	t.Run("dirty", func(t *testing.T) {
		fragment := writeFile(t, "fragment.py", cleanFragment+"    self.play(self.camera.frame.animate.scale(0.5))\n")
		out, err := execute(t, "", "validate", "--scene", scene, "--fragment", fragment)
		require.ErrorIs(t, err, errDirty)
		assert.True(t, strings.HasPrefix(out, "dirty"), out)
	})

	t.Run("sanitize from stdin", func(t *testing.T) {
		out, err := execute(t, "```python\n"+cleanFragment+"```\n", "validate", "--scene", scene, "--sanitize")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(out, "clean"), out)
	})

	t.Run("unknown scene field", func(t *testing.T) {
		bad := writeFile(t, "bad.yaml", sceneYAML+"camera: wide\n")
		_, err := execute(t, cleanFragment, "validate", "--scene", bad)
		require.Error(t, err)
	})

	t.Run("scene flag is required", func(t *testing.T) {
		_, err := execute(t, cleanFragment, "validate")
		require.Error(t, err)
	})
}

func TestPolicyCommands(t *testing.T) {
	out, err := execute(t, "", "policy", "show")
	require.NoError(t, err)
	shown, err := policy.Parse(strings.NewReader(out))
	require.NoError(t, err)

	def, err := policy.Default()
	require.NoError(t, err)
	assert.Equal(t, def.Version(), shown.Version())

	file := writeFile(t, "policy.yaml", out)
	out, err = execute(t, "", "policy", "check", "--file", file)
	require.NoError(t, err)
	assert.Contains(t, out, "ok: version "+def.Version())

	broken := writeFile(t, "broken.yaml", "forbidden:\n  - pattern: '('\n")
	_, err = execute(t, "", "policy", "check", "--file", broken)
	assert.Error(t, err)
}

func TestLoadCLIConfig(t *testing.T) {
	t.Run("missing file falls back to defaults", func(t *testing.T) {
		cfg, err := loadCLIConfig(filepath.Join(t.TempDir(), "absent.yaml"))
		require.NoError(t, err)
		assert.Equal(t, 6, cfg.Synthesis.MaxIterations)
		assert.Equal(t, 3, cfg.Executor.MaxAttempts)
		assert.Equal(t, "l", cfg.Executor.Quality)
	})

	t.Run("file values", func(t *testing.T) {
		path := writeFile(t, "forge.yaml", `ai:
  type: ollama
  base_url: http://localhost:11434
  model: qwen2.5-coder
advisor:
  enabled: true
  model: llama3
synthesis:
  max_iterations: 4
executor:
  type: none
batch:
  concurrency: 2
`)
		cfg, err := loadCLIConfig(path)
		require.NoError(t, err)
		require.NoError(t, cfg.validate())

		ec := cfg.engineConfig()
		assert.Equal(t, config.AIClientOllama, ec.AI.Type)
		assert.Equal(t, 4, ec.Synthesis.MaxIterations)
		assert.Equal(t, config.ExecutorNone, ec.ExecutorType)
		assert.Equal(t, 2, ec.Batch.Concurrency)
		require.NotNil(t, ec.Advisor)
		assert.Equal(t, "llama3", ec.Advisor.Model)
		assert.Equal(t, "http://localhost:11434", ec.Advisor.BaseURL)
	})
}

func TestCLIConfigValidate(t *testing.T) {
	base := func() *cliConfig {
		c := &cliConfig{}
		c.AI.Type = config.AIClientOpenAI
		c.AI.APIKey = "key"
		c.Synthesis.MaxIterations = 6
		c.Executor.Type = config.ExecutorLocal
		c.Executor.MaxAttempts = 3
		return c
	}

	require.NoError(t, base().validate())

	c := base()
	c.AI.APIKey = ""
	assert.Error(t, c.validate())

	c = base()
	c.AI.Type = "gpt"
	assert.Error(t, c.validate())

	c = base()
	c.Synthesis.MaxIterations = 0
	assert.Error(t, c.validate())

	c = base()
	c.Executor.MaxAttempts = 0
	assert.Error(t, c.validate())

	c.Executor.Type = config.ExecutorNone
	assert.NoError(t, c.validate())
}

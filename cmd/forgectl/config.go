package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"scene-forge/internal/config"
	"scene-forge/internal/execution"
	"scene-forge/internal/pipeline"
	"scene-forge/internal/service"
	"scene-forge/internal/synthesis"

	"github.com/ilyakaznacheev/cleanenv"
)

// cliConfig - настройки forgectl. Файл необязателен: значения берутся из окружения и умолчаний.
type cliConfig struct {
	AI struct {
		Type    string        `yaml:"type" env:"AI_CLIENT_TYPE" env-default:"openai"`
		BaseURL string        `yaml:"base_url" env:"AI_BASE_URL" env-default:"https://openrouter.ai/api/v1"`
		Model   string        `yaml:"model" env:"AI_MODEL" env-default:"anthropic/claude-3.5-sonnet"`
		APIKey  string        `yaml:"api_key" env:"AI_API_KEY"`
		Timeout time.Duration `yaml:"timeout" env:"AI_TIMEOUT" env-default:"180s"`
	} `yaml:"ai"`

	Advisor struct {
		Enabled bool   `yaml:"enabled" env:"ADVISOR_ENABLED" env-default:"false"`
		Model   string `yaml:"model" env:"ADVISOR_MODEL"`
	} `yaml:"advisor"`

	Synthesis struct {
		MaxIterations int     `yaml:"max_iterations" env:"SYNTH_MAX_ITERATIONS" env-default:"6"`
		Temperature   float64 `yaml:"temperature" env:"SYNTH_TEMPERATURE" env-default:"0.35"`
		MaxTokens     int     `yaml:"max_tokens" env:"GENERATION_MAX_TOKENS" env-default:"12000"`
	} `yaml:"synthesis"`

	Executor struct {
		Type        string        `yaml:"type" env:"EXECUTOR_TYPE" env-default:"local"`
		Python      string        `yaml:"python" env:"PYTHON_BINARY" env-default:"python"`
		DockerImage string        `yaml:"docker_image" env:"DOCKER_IMAGE" env-default:"manimcommunity/manim:v0.18.1"`
		Quality     string        `yaml:"quality" env:"RENDER_QUALITY" env-default:"l"`
		Timeout     time.Duration `yaml:"timeout" env:"RENDER_TIMEOUT" env-default:"10m"`
		WorkDir     string        `yaml:"work_dir" env:"RENDER_WORK_DIR" env-default:"./media"`
		MaxAttempts int           `yaml:"max_attempts" env:"EXEC_MAX_ATTEMPTS" env-default:"3"`
	} `yaml:"executor"`

	Shell execution.ShellConfig `yaml:"shell"`

	Batch struct {
		Concurrency int  `yaml:"concurrency" env:"BATCH_CONCURRENCY" env-default:"1"`
		RenderFull  bool `yaml:"render_full" env:"RENDER_FULL_VIDEO" env-default:"false"`
	} `yaml:"batch"`

	PolicyPath string `yaml:"policy" env:"POLICY_PATH"`
}

// loadCLIConfig читает YAML файл, если он существует, иначе только окружение.
func loadCLIConfig(path string) (*cliConfig, error) {
	var cfg cliConfig
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := cleanenv.ReadConfig(path, &cfg); err != nil {
				return nil, fmt.Errorf("ошибка чтения конфигурации '%s': %w", path, err)
			}
			return &cfg, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("ошибка доступа к конфигурации '%s': %w", path, err)
		}
	}
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("ошибка чтения окружения: %w", err)
	}
	return &cfg, nil
}

// engineConfig переносит настройки CLI в конфигурацию конвейера.
func (c *cliConfig) engineConfig() pipeline.EngineConfig {
	ai := service.ClientConfig{
		Type:    c.AI.Type,
		BaseURL: c.AI.BaseURL,
		Model:   c.AI.Model,
		APIKey:  c.AI.APIKey,
		Timeout: c.AI.Timeout,
	}

	opts := synthesis.DefaultOptions()
	opts.MaxIterations = c.Synthesis.MaxIterations
	opts.SynthesisParams = service.Params(c.Synthesis.Temperature, c.Synthesis.MaxTokens)

	ec := pipeline.EngineConfig{
		AI:           ai,
		Synthesis:    opts,
		ExecutorType: c.Executor.Type,
		PythonBinary: c.Executor.Python,
		DockerImage:  c.Executor.DockerImage,
		Render: execution.RenderOptions{
			Quality: c.Executor.Quality,
			Timeout: c.Executor.Timeout,
			WorkDir: c.Executor.WorkDir,
		},
		Shell:           c.Shell,
		ExecMaxAttempts: c.Executor.MaxAttempts,
		Batch: pipeline.BatchConfig{
			Concurrency: c.Batch.Concurrency,
			RenderFull:  c.Batch.RenderFull,
		},
	}
	if c.Advisor.Enabled {
		advisor := ai
		if c.Advisor.Model != "" {
			advisor.Model = c.Advisor.Model
		}
		ec.Advisor = &advisor
	}
	return ec
}

// validate проверяет значения, которые иначе всплывут только посреди генерации.
func (c *cliConfig) validate() error {
	switch c.AI.Type {
	case config.AIClientOpenAI, config.AIClientAnthropic:
		if c.AI.APIKey == "" {
			return fmt.Errorf("не задан ключ AI (ai.api_key или AI_API_KEY)")
		}
	case config.AIClientOllama:
	default:
		return fmt.Errorf("неизвестный тип AI клиента: '%s'", c.AI.Type)
	}
	if c.Synthesis.MaxIterations < 1 {
		return fmt.Errorf("synthesis.max_iterations должен быть >= 1")
	}
	if c.Executor.Type != config.ExecutorNone && c.Executor.MaxAttempts < 1 {
		return fmt.Errorf("executor.max_attempts должен быть >= 1")
	}
	return nil
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"scene-forge/internal/config"
	"scene-forge/internal/execution"
	"scene-forge/internal/policy"
	"scene-forge/internal/service"
	"scene-forge/internal/synthesis"

	"go.uber.org/zap"
)

// EngineConfig - все, что нужно для сборки конвейера из конфигурации процесса.
type EngineConfig struct {
	AI service.ClientConfig
	// Advisor - клиент генеративной проверки. nil выключает ее.
	Advisor   *service.ClientConfig
	Synthesis synthesis.Options

	// ExecutorType - config.ExecutorLocal, config.ExecutorDocker или config.ExecutorNone.
	ExecutorType    string
	PythonBinary    string
	DockerImage     string
	Render          execution.RenderOptions
	Shell           execution.ShellConfig
	ExecMaxAttempts int

	Batch BatchConfig
}

// Engine - собранный конвейер: обработчик сцен, пакетный драйвер и их зависимости.
type Engine struct {
	Processor *SceneProcessor
	Driver    *BatchDriver
	Assembler *execution.Assembler
	// Executor равен nil при config.ExecutorNone.
	Executor execution.Executor
	Prompts  *synthesis.Prompts

	closers []func() error
}

// NewEngine собирает конвейер. policies и cache задаются снаружи: воркер берет правила
// из наблюдателя за файлом, CLI - из статического снимка. cache может быть nil.
func NewEngine(ctx context.Context, cfg EngineConfig, policies policy.Provider, cache FragmentCache, logger *zap.Logger) (*Engine, error) {
	log := logger.Named("Engine")

	client, err := service.NewAIClient(cfg.AI, logger)
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации AI клиента: %w", err)
	}
	var advisor service.AIClient
	if cfg.Advisor != nil {
		advisor, err = service.NewAIClient(*cfg.Advisor, logger.Named("Advisor"))
		if err != nil {
			return nil, fmt.Errorf("ошибка инициализации клиента проверки: %w", err)
		}
	}

	prompts, err := synthesis.LoadPrompts()
	if err != nil {
		return nil, err
	}

	assembler, err := execution.NewAssembler(cfg.Shell)
	if err != nil {
		return nil, err
	}

	e := &Engine{Assembler: assembler, Prompts: prompts}
	e.Executor, err = e.newExecutor(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	var codec synthesis.TokenCodec
	if c, err := synthesis.TiktokenCodec(); err != nil {
		log.Warn("Tokenizer unavailable, diagnostics will be limited by runes", zap.Error(err))
	} else {
		codec = c
	}

	e.Processor, err = NewSceneProcessor(ProcessorConfig{
		Policies: policies,
		Synthesis: synthesis.Deps{
			Client:  client,
			Advisor: advisor,
			Prompts: prompts,
			Parser:  synthesis.FencedBlockParser{},
			Syntax:  synthesis.TreeSitterChecker{},
			Codec:   codec,
			Options: cfg.Synthesis,
			Logger:  logger,
		},
		Assembler:   assembler,
		Executor:    e.Executor,
		MaxAttempts: cfg.ExecMaxAttempts,
		Cache:       cache,
		Logger:      logger,
	})
	if err != nil {
		_ = e.Close()
		return nil, err
	}

	batch := cfg.Batch
	if e.Executor == nil && batch.RenderFull {
		log.Warn("Full render requested without executor, disabling")
		batch.RenderFull = false
	}
	e.Driver, err = NewBatchDriver(e.Processor, assembler, e.Executor, batch, logger)
	if err != nil {
		_ = e.Close()
		return nil, err
	}

	log.Info("Pipeline engine ready",
		zap.String("executor", cfg.ExecutorType),
		zap.Bool("advisor", advisor != nil),
		zap.Bool("cache", cache != nil),
		zap.Int("concurrency", batch.Concurrency),
		zap.Bool("render_full", batch.RenderFull),
	)
	return e, nil
}

func (e *Engine) newExecutor(ctx context.Context, cfg EngineConfig, logger *zap.Logger) (execution.Executor, error) {
	switch strings.ToLower(cfg.ExecutorType) {
	case config.ExecutorNone:
		return nil, nil
	case config.ExecutorLocal, "":
		return execution.NewLocalExecutor(cfg.PythonBinary, cfg.Render, logger)
	case config.ExecutorDocker:
		docker, err := execution.NewDockerExecutor(cfg.DockerImage, cfg.Render, logger)
		if err != nil {
			return nil, err
		}
		if err := docker.Ping(ctx); err != nil {
			_ = docker.Close()
			return nil, err
		}
		e.closers = append(e.closers, docker.Close)
		return docker, nil
	default:
		return nil, fmt.Errorf("неизвестный тип исполнителя: '%s'", cfg.ExecutorType)
	}
}

// Close освобождает ресурсы исполнителя.
func (e *Engine) Close() error {
	var errs []error
	for _, c := range e.closers {
		errs = append(errs, c())
	}
	e.closers = nil
	return errors.Join(errs...)
}

// EngineConfigFrom переносит настройки процесса в EngineConfig.
func EngineConfigFrom(cfg *config.Config) EngineConfig {
	ai := service.ClientConfig{
		Type:                  cfg.AIClientType,
		BaseURL:               cfg.AIBaseURL,
		Model:                 cfg.AIModel,
		APIKey:                cfg.AIAPIKey,
		Timeout:               cfg.AITimeout,
		InputPricePerMillion:  cfg.AIInputPricePerMillion,
		OutputPricePerMillion: cfg.AIOutputPricePerMillion,
	}
	ec := EngineConfig{
		AI: ai,
		Synthesis: synthesis.Options{
			MaxIterations:       cfg.SynthMaxIterations,
			SynthesisParams:     service.Params(cfg.SynthTemperature, cfg.GenerationMaxTokens),
			RepairParams:        service.Params(cfg.RepairTemperature, cfg.GenerationMaxTokens),
			EmergencyParams:     service.Params(cfg.EmergencyTemperature, cfg.GenerationMaxTokens),
			AdvisoryParams:      service.Params(cfg.AdvisorTemperature, cfg.AdvisorMaxTokens),
			DiagnosticParams:    service.Params(cfg.ExecRepairTemperature, cfg.ExecRepairMaxTokens),
			DiagnosticMaxTokens: cfg.DiagnosticMaxTokens,
		},
		ExecutorType: cfg.ExecutorType,
		PythonBinary: cfg.PythonBinary,
		DockerImage:  cfg.DockerImage,
		Render: execution.RenderOptions{
			Quality: cfg.RenderQuality,
			Timeout: cfg.RenderTimeout,
			WorkDir: cfg.RenderWorkDir,
		},
		Shell:           execution.DefaultShellConfig(),
		ExecMaxAttempts: cfg.ExecMaxAttempts,
		Batch: BatchConfig{
			Concurrency: cfg.BatchConcurrency,
			RenderFull:  cfg.RenderFullVideo,
		},
	}
	if cfg.AdvisorEnabled {
		advisor := ai
		if cfg.AdvisorModel != "" {
			advisor.Model = cfg.AdvisorModel
		}
		ec.Advisor = &advisor
	}
	return ec
}

package pipeline

import (
	"context"
	"fmt"

	"scene-forge/internal/execution"
	"scene-forge/internal/model"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// BatchReport - итог обработки ролика.
type BatchReport struct {
	Video model.Video
	// Scenes упорядочены по индексу сцены.
	Scenes []SceneOutcome
	// Program - полная программа ролика из успешных фрагментов (nil, если успешных нет).
	Program *model.Program
	// Full - результат рендера полной программы, если он запускался.
	Full   *model.ExecutionResult
	Usage  model.Usage
	Failed int
}

// Succeeded возвращает число успешно обработанных сцен.
func (r BatchReport) Succeeded() int {
	return len(r.Scenes) - r.Failed
}

// BatchConfig - параметры пакетной обработки.
type BatchConfig struct {
	// Concurrency - число сцен, обрабатываемых одновременно (минимум 1).
	Concurrency int
	// RenderFull - рендерить ли собранную программу целиком.
	RenderFull bool
}

// BatchDriver обрабатывает все сцены ролика и собирает из них полную программу.
type BatchDriver struct {
	processor *SceneProcessor
	assembler *execution.Assembler
	executor  execution.Executor
	cfg       BatchConfig
	logger    *zap.Logger
}

// NewBatchDriver создает драйвер. executor используется только для полного рендера.
func NewBatchDriver(processor *SceneProcessor, assembler *execution.Assembler, executor execution.Executor, cfg BatchConfig, logger *zap.Logger) (*BatchDriver, error) {
	if processor == nil || assembler == nil {
		return nil, fmt.Errorf("не заданы обработчик сцен или сборщик программ")
	}
	if cfg.RenderFull && executor == nil {
		return nil, fmt.Errorf("для полного рендера нужен исполнитель")
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchDriver{
		processor: processor,
		assembler: assembler,
		executor:  executor,
		cfg:       cfg,
		logger:    logger.Named("BatchDriver"),
	}, nil
}

// Run обрабатывает ролик. Ошибки отдельных сцен не прерывают пакет, прерывает только отмена контекста.
func (d *BatchDriver) Run(ctx context.Context, video model.Video) (BatchReport, error) {
	report := BatchReport{Video: video}
	if err := video.Validate(); err != nil {
		return report, err
	}
	log := d.logger.With(zap.Int("video", video.Number), zap.Int("scenes", len(video.Scenes)))
	log.Info("Batch started", zap.Int("concurrency", d.cfg.Concurrency))

	outcomes := make([]SceneOutcome, len(video.Scenes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Concurrency)
	for i := range video.Scenes {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				outcomes[i] = SceneOutcome{Index: i, Spec: video.Scenes[i], Status: model.SceneStatusFailed, Err: err}
				return err
			}
			outcomes[i] = d.processor.Process(gctx, video, i)
			// Ошибка сцены изолирована, пакет прерывает только отмена
			return ctx.Err()
		})
	}
	err := g.Wait()
	report.Scenes = outcomes
	for _, o := range outcomes {
		report.Usage = report.Usage.Add(o.Usage)
		if o.Err != nil {
			report.Failed++
		}
	}
	if err != nil {
		log.Warn("Batch cancelled", zap.Error(err))
		return report, err
	}

	fragments := make([]execution.SceneFragment, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Err != nil {
			continue
		}
		fragments = append(fragments, execution.SceneFragment{
			Index:    o.Index,
			Title:    o.Spec.Title,
			Fragment: o.Fragment.Text,
		})
	}
	if len(fragments) == 0 {
		log.Error("Batch finished without successful scenes", zap.Int("failed", report.Failed))
		return report, nil
	}

	program, err := d.assembler.Video(video, fragments)
	if err != nil {
		return report, fmt.Errorf("сборка программы ролика %d: %w", video.Number, err)
	}
	report.Program = &program

	if d.cfg.RenderFull {
		res, err := d.executor.Execute(ctx, program)
		if err != nil {
			return report, fmt.Errorf("рендер ролика %d: %w", video.Number, err)
		}
		report.Full = &res
		if !res.Success {
			log.Warn("Full video render failed", zap.Bool("timed_out", res.TimedOut))
		}
	}

	log.Info("Batch finished",
		zap.Int("succeeded", report.Succeeded()),
		zap.Int("failed", report.Failed),
		zap.Int("prompt_tokens", report.Usage.PromptTokens),
		zap.Int("completion_tokens", report.Usage.CompletionTokens),
	)
	return report, nil
}

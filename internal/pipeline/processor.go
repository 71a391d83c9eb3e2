// Package pipeline связывает цикл синтеза и цикл рендера в обработку сцен и роликов.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"scene-forge/internal/execution"
	"scene-forge/internal/model"
	"scene-forge/internal/policy"
	"scene-forge/internal/synthesis"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	sceneOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scene_forge_scene_outcomes_total",
			Help: "Total number of processed scenes by status.",
		},
		[]string{"status"},
	)
	cacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scene_forge_fragment_cache_lookups_total",
			Help: "Total number of fragment cache lookups by result.",
		},
		[]string{"result"},
	)
)

// FragmentCache хранит проверенные фрагменты по ключу сцены.
type FragmentCache interface {
	// Get возвращает model.ErrCacheMiss, если фрагмента нет.
	Get(ctx context.Context, key string) (model.Candidate, error)
	Set(ctx context.Context, key string, c model.Candidate) error
}

// CacheKey - ключ кэша: версия правил плюс содержимое сцены.
func CacheKey(policyVersion string, spec model.SceneSpecification) string {
	sum := sha256.Sum256([]byte(policyVersion + "\n" + spec.Fingerprint()))
	return hex.EncodeToString(sum[:])
}

// SceneOutcome - итог обработки одной сцены.
type SceneOutcome struct {
	Index  int
	Spec   model.SceneSpecification
	Status model.SceneStatus
	// Fragment - итоговый санитизированный фрагмент (пустой при ошибке синтеза).
	Fragment  model.Candidate
	Session   *synthesis.Session
	Execution *execution.Report
	CacheHit  bool
	Usage     model.Usage
	Err       error
}

// ProcessorConfig - зависимости SceneProcessor.
type ProcessorConfig struct {
	Policies policy.Provider
	// Synthesis - зависимости контроллера синтеза. Контроллер собирается на каждую сцену
	// из текущего снимка правил.
	Synthesis synthesis.Deps
	Assembler *execution.Assembler
	// Executor может быть nil - тогда сцены только синтезируются.
	Executor    execution.Executor
	MaxAttempts int
	// Cache может быть nil.
	Cache  FragmentCache
	Logger *zap.Logger
}

// SceneProcessor обрабатывает одну сцену: кэш -> синтез -> рендер -> кэш.
type SceneProcessor struct {
	cfg    ProcessorConfig
	logger *zap.Logger
}

// NewSceneProcessor проверяет конфигурацию и создает обработчик.
func NewSceneProcessor(cfg ProcessorConfig) (*SceneProcessor, error) {
	if cfg.Policies == nil {
		return nil, fmt.Errorf("%w: не задан источник правил", model.ErrInvalidPolicy)
	}
	if cfg.Executor != nil && cfg.Assembler == nil {
		return nil, fmt.Errorf("для рендера нужен сборщик программ")
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = execution.DefaultMaxAttempts
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &SceneProcessor{cfg: cfg, logger: cfg.Logger.Named("SceneProcessor")}, nil
}

// Process обрабатывает сцену index ролика. Ошибка сцены возвращается в SceneOutcome.Err.
func (p *SceneProcessor) Process(ctx context.Context, video model.Video, index int) SceneOutcome {
	out := SceneOutcome{Index: index, Status: model.SceneStatusFailed}
	if index < 0 || index >= len(video.Scenes) {
		out.Err = fmt.Errorf("%w: сцена %d вне диапазона", model.ErrInvalidScene, index)
		return out
	}
	out.Spec = video.Scenes[index]
	log := p.logger.With(zap.Int("video", video.Number), zap.Int("scene_index", index), zap.String("title", out.Spec.Title))

	// Снимок правил фиксируется на всю обработку сцены
	rs := p.cfg.Policies.Current()
	ctrl, err := synthesis.NewController(rs, p.cfg.Synthesis)
	if err != nil {
		out.Err = err
		return p.finish(log, out)
	}

	key := CacheKey(rs.Version(), out.Spec)
	candidate, hit := p.lookup(ctx, log, key)
	if hit {
		out.CacheHit = true
		out.Fragment = candidate
	} else {
		session, err := ctrl.Run(ctx, out.Spec)
		out.Usage = session.Usage
		if err != nil {
			out.Session = &session
			out.Err = fmt.Errorf("синтез сцены %d: %w", index+1, err)
			return p.finish(log, out)
		}
		out.Session = &session
		out.Fragment = session.Candidate
	}

	if p.cfg.Executor == nil {
		out.Status = model.SceneStatusSynthesized
		if !hit && !out.Session.Emergency {
			p.store(ctx, log, key, out.Fragment)
		}
		return p.finish(log, out)
	}

	execCtrl, err := execution.NewController(p.cfg.MaxAttempts, p.cfg.Assembler, ctrl.Repairer(), ctrl.Sanitizer(), p.cfg.Logger)
	if err != nil {
		out.Err = err
		return p.finish(log, out)
	}
	report, err := execCtrl.Run(ctx, execution.Job{Video: video, Index: index, Candidate: out.Fragment}, p.cfg.Executor)
	out.Execution = &report
	for i, a := range report.History {
		if i > 0 {
			out.Usage = out.Usage.Add(a.Candidate.Usage)
		}
	}
	if err != nil {
		out.Err = fmt.Errorf("рендер сцены %d: %w", index+1, err)
		return p.finish(log, out)
	}

	out.Fragment = report.Candidate
	out.Status = model.SceneStatusRendered
	if !hit || out.Fragment.Provenance != model.ProvenanceCache {
		p.store(ctx, log, key, out.Fragment)
	}
	return p.finish(log, out)
}

func (p *SceneProcessor) lookup(ctx context.Context, log *zap.Logger, key string) (model.Candidate, bool) {
	if p.cfg.Cache == nil {
		return model.Candidate{}, false
	}
	c, err := p.cfg.Cache.Get(ctx, key)
	switch {
	case err == nil:
		cacheLookupsTotal.WithLabelValues("hit").Inc()
		log.Info("Fragment found in cache")
		c.Provenance = model.ProvenanceCache
		c.Usage = model.Usage{}
		return c, true
	case errors.Is(err, model.ErrCacheMiss):
		cacheLookupsTotal.WithLabelValues("miss").Inc()
	default:
		cacheLookupsTotal.WithLabelValues("error").Inc()
		log.Warn("Fragment cache lookup failed", zap.Error(err))
	}
	return model.Candidate{}, false
}

func (p *SceneProcessor) store(ctx context.Context, log *zap.Logger, key string, c model.Candidate) {
	if p.cfg.Cache == nil {
		return
	}
	if err := p.cfg.Cache.Set(ctx, key, c); err != nil {
		log.Warn("Failed to store fragment in cache", zap.Error(err))
	}
}

func (p *SceneProcessor) finish(log *zap.Logger, out SceneOutcome) SceneOutcome {
	sceneOutcomesTotal.WithLabelValues(string(out.Status)).Inc()
	if out.Err != nil {
		log.Error("Scene failed", zap.Error(out.Err))
		return out
	}
	log.Info("Scene processed",
		zap.String("status", string(out.Status)),
		zap.String("provenance", string(out.Fragment.Provenance)),
		zap.Bool("cache_hit", out.CacheHit),
	)
	return out
}

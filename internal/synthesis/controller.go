package synthesis

import (
	"context"
	"fmt"

	"scene-forge/internal/model"
	"scene-forge/internal/policy"
	"scene-forge/internal/retry"
	"scene-forge/internal/service"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// DefaultMaxIterations - число проверок до аварийного пути.
const DefaultMaxIterations = 6

var (
	sessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scene_forge_synthesis_sessions_total",
			Help: "Total number of synthesis sessions by exit path.",
		},
		[]string{"exit"},
	)
	sessionIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scene_forge_synthesis_iterations",
			Help:    "Histogram of validations per synthesis session.",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		},
	)
	validationIssuesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scene_forge_validation_issues_total",
			Help: "Total number of validation issues by kind.",
		},
		[]string{"kind"},
	)
)

// Options - параметры сессии синтеза.
type Options struct {
	MaxIterations       int
	SynthesisParams     service.GenerationParams
	RepairParams        service.GenerationParams
	EmergencyParams     service.GenerationParams
	AdvisoryParams      service.GenerationParams
	DiagnosticParams    service.GenerationParams
	DiagnosticMaxTokens int
}

// DefaultOptions возвращает значения по умолчанию.
func DefaultOptions() Options {
	return Options{
		MaxIterations:       DefaultMaxIterations,
		SynthesisParams:     service.Params(0.35, 12000),
		RepairParams:        service.Params(0.15, 12000),
		EmergencyParams:     service.Params(0.2, 12000),
		AdvisoryParams:      service.Params(0.0, 2048),
		DiagnosticParams:    service.Params(0.1, 16000),
		DiagnosticMaxTokens: 2000,
	}
}

// Deps - зависимости контроллера. Advisor, Parser, Syntax и Codec необязательны.
type Deps struct {
	Client service.AIClient
	// Advisor - отдельный клиент генеративной проверки. nil выключает ее.
	Advisor service.AIClient
	Prompts *Prompts
	Parser  ResponseParser
	// Syntax по умолчанию TreeSitterChecker.
	Syntax SyntaxChecker
	// Codec - токенизатор для обрезки диагностики. nil - обрезка по рунам.
	Codec   TokenCodec
	Options Options
	Logger  *zap.Logger
}

// Session - результат одной сессии синтеза.
type Session struct {
	Spec model.SceneSpecification
	// Candidate - терминальный кандидат, всегда прошедший Sanitizer.
	Candidate     model.Candidate
	Iterations    int
	MaxIterations int
	History       []retry.Attempt[model.Candidate, model.ValidationReport]
	Emergency     bool
	Usage         model.Usage
	PolicyVersion string
}

// Controller проводит сессию "синтез -> проверка -> исправление" с аварийным путем.
// Контроллер привязан к одному снимку набора правил.
type Controller struct {
	policy    *policy.RuleSet
	synth     *Synthesizer
	repairer  *Repairer
	validator *Validator
	sanitizer *Sanitizer
	opts      Options
	logger    *zap.Logger
}

// NewController собирает компоненты сессии над одним набором правил.
func NewController(rs *policy.RuleSet, deps Deps) (*Controller, error) {
	if rs == nil {
		return nil, fmt.Errorf("%w: набор правил не задан", model.ErrInvalidPolicy)
	}
	if deps.Client == nil {
		return nil, fmt.Errorf("не задан клиент генерации")
	}
	if deps.Options.MaxIterations < 1 {
		return nil, fmt.Errorf("%w: %d", model.ErrInvalidBudget, deps.Options.MaxIterations)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	prompts := deps.Prompts
	if prompts == nil {
		var err error
		if prompts, err = LoadPrompts(); err != nil {
			return nil, err
		}
	}
	parser := deps.Parser
	if parser == nil {
		parser = FencedBlockParser{}
	}

	opts := deps.Options
	validatorOpts := []ValidatorOption{}
	if deps.Syntax != nil {
		validatorOpts = append(validatorOpts, WithSyntaxChecker(deps.Syntax))
	}
	if deps.Advisor != nil {
		validatorOpts = append(validatorOpts, WithAdvisor(deps.Advisor, opts.AdvisoryParams))
	}

	return &Controller{
		policy:    rs,
		synth:     NewSynthesizer(deps.Client, rs, prompts, parser, opts.SynthesisParams, opts.EmergencyParams, logger),
		repairer:  NewRepairer(deps.Client, rs, prompts, parser, opts.RepairParams, opts.DiagnosticParams, NewDiagnosticLimiter(opts.DiagnosticMaxTokens, deps.Codec), logger),
		validator: NewValidator(rs, prompts, logger, validatorOpts...),
		sanitizer: NewSanitizer(rs),
		opts:      opts,
		logger:    logger.Named("RetryController"),
	}, nil
}

// Repairer возвращает Repairer контроллера (используется циклом рендера).
func (c *Controller) Repairer() *Repairer { return c.repairer }

// Sanitizer возвращает Sanitizer контроллера.
func (c *Controller) Sanitizer() *Sanitizer { return c.sanitizer }

// Validator возвращает Validator контроллера.
func (c *Controller) Validator() *Validator { return c.validator }

// Policy возвращает снимок набора правил контроллера.
func (c *Controller) Policy() *policy.RuleSet { return c.policy }

// Run проводит одну сессию. Наружу выходит только санитизированный кандидат
// либо фатальная ошибка (бэкенд, отмена контекста, невалидная сцена).
func (c *Controller) Run(ctx context.Context, spec model.SceneSpecification) (Session, error) {
	session := Session{Spec: spec, MaxIterations: c.opts.MaxIterations, PolicyVersion: c.policy.Version()}
	if err := spec.Validate(); err != nil {
		return session, err
	}

	log := c.logger.With(zap.String("title", spec.Title), zap.Int("beats", spec.BeatCount()))
	log.Info("Synthesis session started", zap.Int("max_iterations", c.opts.MaxIterations))

	loop := retry.Loop[model.Candidate, model.ValidationReport]{
		MaxIterations: c.opts.MaxIterations,
		Initial: func(ctx context.Context) (model.Candidate, error) {
			cand, err := c.synth.Synthesize(ctx, spec)
			session.Usage = session.Usage.Add(cand.Usage)
			return cand, err
		},
		Check: func(ctx context.Context, cand model.Candidate, _ int) (model.ValidationReport, bool, error) {
			report, err := c.validator.Validate(ctx, cand, spec)
			if err != nil {
				return report, false, err
			}
			return report, report.IsClean(), nil
		},
		Repair: func(ctx context.Context, cand model.Candidate, report model.ValidationReport, iteration int) (model.Candidate, error) {
			next, err := c.repairer.Repair(ctx, cand, report, spec, iteration)
			session.Usage = session.Usage.Add(next.Usage)
			return next, err
		},
		Emergency: func(ctx context.Context, _ model.Candidate, report model.ValidationReport) (model.Candidate, error) {
			log.Warn("Repair budget exhausted, rewriting from scratch", zap.String("last_report", report.Summary()))
			cand, err := c.synth.Emergency(ctx, spec, report, c.opts.MaxIterations)
			session.Usage = session.Usage.Add(cand.Usage)
			return cand, err
		},
		Finalize: c.sanitizer.SanitizeCandidate,
		OnAttempt: func(a retry.Attempt[model.Candidate, model.ValidationReport]) {
			for _, issue := range a.Feedback.Issues() {
				validationIssuesTotal.WithLabelValues(string(issue.Kind)).Inc()
			}
			log.Info("Candidate validated",
				zap.Int("iteration", a.Iteration),
				zap.String("provenance", string(a.Candidate.Provenance)),
				zap.Bool("clean", a.Passed),
				zap.Int("issues", len(a.Feedback.Issues())),
				zap.Int("advisories", len(a.Feedback.Advisories())),
			)
		},
	}

	out, err := loop.Run(ctx)
	session.History = out.History
	session.Iterations = out.Iterations()
	if err != nil {
		sessionsTotal.WithLabelValues("error").Inc()
		log.Error("Synthesis session failed", zap.Int("iterations", session.Iterations), zap.Error(err))
		return session, err
	}

	session.Candidate = out.Candidate
	session.Emergency = out.Emergency
	exit := "clean"
	if out.Emergency {
		exit = "emergency"
	}
	sessionsTotal.WithLabelValues(exit).Inc()
	sessionIterations.Observe(float64(session.Iterations))
	log.Info("Synthesis session finished",
		zap.String("exit", exit),
		zap.Int("iterations", session.Iterations),
		zap.String("provenance", string(session.Candidate.Provenance)),
		zap.Int("prompt_tokens", session.Usage.PromptTokens),
		zap.Int("completion_tokens", session.Usage.CompletionTokens),
	)
	return session, nil
}

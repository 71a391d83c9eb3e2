package execution

import (
	"context"
	"errors"
	"fmt"

	"scene-forge/internal/model"
	"scene-forge/internal/retry"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// DefaultMaxAttempts - число попыток рендера. Меньше бюджета синтеза: каждая попытка стоит минуты.
const DefaultMaxAttempts = 3

var (
	executionAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scene_forge_execution_attempts_total",
			Help: "Total number of render attempts by outcome.",
		},
		[]string{"outcome"},
	)
	executionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scene_forge_execution_duration_seconds",
			Help:    "Histogram of render attempt durations.",
			Buckets: []float64{5, 15, 30, 60, 120, 240, 480, 600},
		},
	)
)

// FragmentRepairer исправляет фрагмент по диагностике рендера.
type FragmentRepairer interface {
	Repair(ctx context.Context, c model.Candidate, fb model.Feedback, spec model.SceneSpecification, iteration int) (model.Candidate, error)
}

// FragmentSanitizer приводит фрагмент к контракту перед сборкой программы.
type FragmentSanitizer interface {
	SanitizeCandidate(c model.Candidate) model.Candidate
}

// Job - фрагмент одной сцены ролика, готовый к рендеру.
type Job struct {
	Video     model.Video
	Index     int
	Candidate model.Candidate
}

// Report - результат цикла рендера.
type Report struct {
	Result model.ExecutionResult
	// Candidate - последний исполненный фрагмент (после исправлений).
	Candidate model.Candidate
	History   []retry.Attempt[model.Candidate, model.Diagnostic]
}

// Controller повторяет рендер с исправлением фрагмента по диагностике.
type Controller struct {
	maxAttempts int
	assembler   *Assembler
	repairer    FragmentRepairer
	sanitizer   FragmentSanitizer
	logger      *zap.Logger
}

// NewController создает контроллер рендера.
func NewController(maxAttempts int, assembler *Assembler, repairer FragmentRepairer, sanitizer FragmentSanitizer, logger *zap.Logger) (*Controller, error) {
	if maxAttempts < 1 {
		return nil, fmt.Errorf("%w: %d", model.ErrInvalidBudget, maxAttempts)
	}
	if assembler == nil || repairer == nil || sanitizer == nil {
		return nil, fmt.Errorf("контроллер рендера: не заданы зависимости")
	}
	return &Controller{
		maxAttempts: maxAttempts,
		assembler:   assembler,
		repairer:    repairer,
		sanitizer:   sanitizer,
		logger:      logger.Named("ExecutionRetryController"),
	}, nil
}

// Run исполняет фрагмент. После исчерпания попыток возвращает *model.ExecutionBudgetExhaustedError
// с последней диагностикой. Ошибки инфраструктуры исполнителя и отмена контекста фатальны.
func (c *Controller) Run(ctx context.Context, job Job, executor Executor) (Report, error) {
	var report Report
	if job.Index < 0 || job.Index >= len(job.Video.Scenes) {
		return report, fmt.Errorf("%w: сцена %d вне диапазона", model.ErrInvalidScene, job.Index)
	}
	spec := job.Video.Scenes[job.Index]
	log := c.logger.With(zap.Int("video", job.Video.Number), zap.Int("scene_index", job.Index))

	var last model.ExecutionResult
	attempts := 0

	loop := retry.Loop[model.Candidate, model.Diagnostic]{
		MaxIterations: c.maxAttempts,
		Initial: func(context.Context) (model.Candidate, error) {
			return job.Candidate, nil
		},
		Check: func(ctx context.Context, cand model.Candidate, attempt int) (model.Diagnostic, bool, error) {
			program, err := c.assembler.Scene(job.Video, job.Index, cand.Text)
			if err != nil {
				return "", false, err
			}
			res, err := executor.Execute(ctx, program)
			if err != nil {
				return "", false, err
			}
			attempts++
			last = res
			executionDuration.Observe(res.Duration.Seconds())
			switch {
			case res.Success:
				executionAttemptsTotal.WithLabelValues("success").Inc()
			case res.TimedOut:
				executionAttemptsTotal.WithLabelValues("timeout").Inc()
			default:
				executionAttemptsTotal.WithLabelValues("failure").Inc()
			}
			log.Info("Render attempt finished",
				zap.Int("attempt", attempt+1),
				zap.Int("max_attempts", c.maxAttempts),
				zap.Bool("success", res.Success),
				zap.Bool("timed_out", res.TimedOut),
			)
			return model.Diagnostic(res.Diagnostic), res.Success, nil
		},
		Repair: func(ctx context.Context, cand model.Candidate, diag model.Diagnostic, attempt int) (model.Candidate, error) {
			next, err := c.repairer.Repair(ctx, cand, diag, spec, attempt)
			if err != nil {
				return model.Candidate{}, err
			}
			return c.sanitizer.SanitizeCandidate(next), nil
		},
	}

	out, err := loop.Run(ctx)
	report.History = out.History
	report.Candidate = out.Candidate
	last.Attempts = attempts
	report.Result = last

	if errors.Is(err, model.ErrBudgetExhausted) {
		log.Error("Render attempts exhausted", zap.Int("attempts", attempts), zap.Bool("timed_out", last.TimedOut))
		return report, &model.ExecutionBudgetExhaustedError{
			Attempts:       attempts,
			LastDiagnostic: last.Diagnostic,
			TimedOut:       last.TimedOut,
		}
	}
	if err != nil {
		return report, err
	}
	return report, nil
}

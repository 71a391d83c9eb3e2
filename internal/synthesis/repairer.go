package synthesis

import (
	"context"
	"fmt"

	"scene-forge/internal/model"
	"scene-forge/internal/policy"
	"scene-forge/internal/service"

	"go.uber.org/zap"
)

// Repairer строит исправленного кандидата по обратной связи.
// Каждый промт самодостаточен: код, сцена, правила и проблемы передаются заново.
type Repairer struct {
	generator
	issueParams      service.GenerationParams
	diagnosticParams service.GenerationParams
	limiter          *DiagnosticLimiter
}

// NewRepairer создает Repairer. limiter может быть nil - тогда диагностика не обрезается.
func NewRepairer(client service.AIClient, rs *policy.RuleSet, prompts *Prompts, parser ResponseParser, issueParams, diagnosticParams service.GenerationParams, limiter *DiagnosticLimiter, logger *zap.Logger) *Repairer {
	return &Repairer{
		generator:        generator{client: client, prompts: prompts, parser: parser, policy: rs, logger: logger.Named("Repairer")},
		issueParams:      issueParams,
		diagnosticParams: diagnosticParams,
		limiter:          limiter,
	}
}

// Repair делает один вызов бэкенда. Форма промта зависит от вида обратной связи.
func (r *Repairer) Repair(ctx context.Context, c model.Candidate, fb model.Feedback, spec model.SceneSpecification, iteration int) (model.Candidate, error) {
	var (
		prompt string
		params service.GenerationParams
		err    error
	)
	switch f := fb.(type) {
	case model.ValidationReport:
		prompt, err = r.prompts.RepairIssues(r.policy, spec, c.Text, f)
		params = r.issueParams
	case model.Diagnostic:
		prompt, err = r.prompts.RepairDiagnostic(r.policy, spec, c.Text, r.limiter.Limit(string(f)))
		params = r.diagnosticParams
	default:
		return model.Candidate{}, fmt.Errorf("неизвестный вид обратной связи: %T", fb)
	}
	if err != nil {
		return model.Candidate{}, err
	}

	r.logger.Info("Repairing candidate",
		zap.Int("iteration", iteration),
		zap.String("from", string(c.Provenance)),
		zap.Int("from_iteration", c.Iteration),
	)
	return r.call(ctx, prompt, params, model.ProvenanceRepair, iteration)
}

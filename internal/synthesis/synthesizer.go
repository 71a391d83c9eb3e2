package synthesis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"scene-forge/internal/model"
	"scene-forge/internal/policy"
	"scene-forge/internal/service"

	"go.uber.org/zap"
)

// generator - общая часть Synthesizer и Repairer: один вызов бэкенда и извлечение кода.
type generator struct {
	client  service.AIClient
	prompts *Prompts
	parser  ResponseParser
	policy  *policy.RuleSet
	logger  *zap.Logger
}

// call выполняет один вызов бэкенда. Ошибка бэкенда фатальна и возвращается как есть.
// Ошибка разбора ответа не фатальна: кандидат получает ParseFailure и сырой текст.
func (g *generator) call(ctx context.Context, userPrompt string, params service.GenerationParams, provenance model.Provenance, iteration int) (model.Candidate, error) {
	system, err := g.prompts.System(g.policy)
	if err != nil {
		return model.Candidate{}, err
	}

	start := time.Now()
	resp, usage, err := g.client.GenerateText(ctx, service.UserFromContext(ctx), system, userPrompt, params)
	if err != nil {
		return model.Candidate{}, err
	}
	g.logger.Debug("Backend responded",
		zap.String("provenance", string(provenance)),
		zap.Int("iteration", iteration),
		zap.Duration("duration", time.Since(start)),
		zap.Int("completion_tokens", usage.CompletionTokens),
	)

	candidate := model.Candidate{Provenance: provenance, Iteration: iteration, Usage: usage.ToModel()}
	code, err := g.parser.Parse(resp)
	if err != nil {
		var pe *ParseError
		if !errors.As(err, &pe) {
			return model.Candidate{}, fmt.Errorf("ошибка разбора ответа: %w", err)
		}
		g.logger.Warn("Response has no single code block",
			zap.String("provenance", string(provenance)),
			zap.Int("iteration", iteration),
			zap.Int("blocks", pe.Blocks),
		)
		candidate.Text = resp
		candidate.ParseFailure = pe.Error()
		return candidate, nil
	}
	candidate.Text = code
	return candidate, nil
}

// Synthesizer производит первого кандидата и аварийного кандидата.
type Synthesizer struct {
	generator
	params          service.GenerationParams
	emergencyParams service.GenerationParams
}

// NewSynthesizer создает Synthesizer для набора правил.
func NewSynthesizer(client service.AIClient, rs *policy.RuleSet, prompts *Prompts, parser ResponseParser, params, emergencyParams service.GenerationParams, logger *zap.Logger) *Synthesizer {
	return &Synthesizer{
		generator:       generator{client: client, prompts: prompts, parser: parser, policy: rs, logger: logger.Named("Synthesizer")},
		params:          params,
		emergencyParams: emergencyParams,
	}
}

// Synthesize делает один вызов бэкенда и возвращает кандидата итерации 0.
func (s *Synthesizer) Synthesize(ctx context.Context, spec model.SceneSpecification) (model.Candidate, error) {
	prompt, err := s.prompts.Synthesize(s.policy, spec)
	if err != nil {
		return model.Candidate{}, err
	}
	return s.call(ctx, prompt, s.params, model.ProvenanceSynthesis, 0)
}

// Emergency переписывает сцену с нуля после исчерпания бюджета.
// Если в ответе нет единственного блока кода, используется сырой текст: Sanitizer все равно применится.
func (s *Synthesizer) Emergency(ctx context.Context, spec model.SceneSpecification, last model.ValidationReport, iteration int) (model.Candidate, error) {
	prompt, err := s.prompts.Emergency(s.policy, spec, last)
	if err != nil {
		return model.Candidate{}, err
	}
	return s.call(ctx, prompt, s.emergencyParams, model.ProvenanceEmergency, iteration)
}

package synthesis

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"scene-forge/internal/model"
	"scene-forge/internal/policy"
	"scene-forge/internal/service"

	"go.uber.org/zap"
)

// Validator проверяет кандидата: детерминированный проход по набору правил
// и необязательная генеративная проверка.
//
// Генеративная проверка - единственная намеренно недетерминированная граница системы.
// Ее замечания не авторитетны: они попадают в отчет отдельно и делают его грязным
// только при advisory_blocking в наборе правил.
type Validator struct {
	policy  *policy.RuleSet
	syntax  SyntaxChecker
	advisor service.AIClient
	params  service.GenerationParams
	prompts *Prompts
	logger  *zap.Logger
}

// ValidatorOption настраивает Validator.
type ValidatorOption func(*Validator)

// WithAdvisor включает генеративную проверку.
func WithAdvisor(client service.AIClient, params service.GenerationParams) ValidatorOption {
	return func(v *Validator) {
		v.advisor = client
		v.params = params
	}
}

// WithSyntaxChecker подменяет проверку синтаксиса. nil выключает ее.
func WithSyntaxChecker(c SyntaxChecker) ValidatorOption {
	return func(v *Validator) { v.syntax = c }
}

// NewValidator создает валидатор для набора правил.
func NewValidator(rs *policy.RuleSet, prompts *Prompts, logger *zap.Logger, opts ...ValidatorOption) *Validator {
	v := &Validator{
		policy:  rs,
		syntax:  TreeSitterChecker{},
		prompts: prompts,
		logger:  logger.Named("Validator"),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate возвращает свежий отчет. Ошибка возможна только при отмене контекста.
func (v *Validator) Validate(ctx context.Context, c model.Candidate, spec model.SceneSpecification) (model.ValidationReport, error) {
	if err := ctx.Err(); err != nil {
		return model.ValidationReport{}, err
	}

	issues := v.Deterministic(ctx, c, spec)
	report := model.Dirty(issues...)

	if v.advisor == nil || !c.Parsed() {
		return report, nil
	}

	notes, err := v.advise(ctx, c, spec)
	if err != nil {
		if ctx.Err() != nil {
			return model.ValidationReport{}, ctx.Err()
		}
		// Генеративная проверка не авторитетна, ее сбой не меняет результат
		v.logger.Warn("Advisory check failed, using deterministic result", zap.Error(err))
		return report, nil
	}
	if len(notes) == 0 {
		return report, nil
	}
	if v.policy.AdvisoryBlocking() {
		return model.Dirty(append(issues, notes...)...), nil
	}
	return report.WithAdvisories(notes...), nil
}

// Deterministic выполняет только детерминированные проверки.
func (v *Validator) Deterministic(ctx context.Context, c model.Candidate, spec model.SceneSpecification) []model.Issue {
	if !c.Parsed() {
		return []model.Issue{{Kind: model.IssueParseError, Rule: "response_parser", Message: c.ParseFailure}}
	}

	var issues []model.Issue
	issues = append(issues, v.checkFragmentContract(c.Text)...)
	issues = append(issues, v.checkForbidden(c.Text)...)
	issues = append(issues, v.checkStructure(c.Text, spec)...)
	issues = append(issues, v.checkTiming(c.Text, spec)...)

	if v.syntax != nil {
		syntaxIssues, err := v.syntax.Check(ctx, c.Text)
		if err != nil {
			v.logger.Warn("Syntax check failed", zap.Error(err))
		}
		issues = append(issues, syntaxIssues...)
	}
	return issues
}

func (v *Validator) checkFragmentContract(text string) []model.Issue {
	var issues []model.Issue
	seen := map[string]bool{}
	for i, line := range strings.Split(text, "\n") {
		prefix, bad := v.policy.DisallowedPrefix(line)
		if !bad || seen[prefix] {
			continue
		}
		seen[prefix] = true
		issues = append(issues, model.Issue{
			Kind:    model.IssueForbidden,
			Rule:    "fragment_contract",
			Message: fmt.Sprintf("top-level '%s' line is not allowed in an inline fragment", strings.TrimSpace(prefix)),
			Line:    i + 1,
		})
	}
	return issues
}

// checkForbidden - одна проблема на каждый сработавший шаблон, с первой строкой совпадения.
func (v *Validator) checkForbidden(text string) []model.Issue {
	lines := strings.Split(text, "\n")
	var issues []model.Issue
	for _, p := range v.policy.Patterns() {
		for i, line := range lines {
			if !p.MatchLine(line) {
				continue
			}
			msg := p.Message
			if p.Fix != "" {
				msg += " (fix: " + p.Fix + ")"
			}
			issues = append(issues, model.Issue{Kind: model.IssueForbidden, Rule: p.Name, Message: msg, Line: i + 1})
			break
		}
	}
	return issues
}

func (v *Validator) expectedBeats(spec model.SceneSpecification) int {
	if n := spec.BeatCount(); n > 0 {
		return n
	}
	return v.policy.DefaultBeatCount()
}

func (v *Validator) checkStructure(text string, spec model.SceneSpecification) []model.Issue {
	counts := map[string]int{policy.BasisBeats: v.expectedBeats(spec)}
	var issues []model.Issue
	for _, r := range v.policy.Requirements() {
		count := r.Count(text)
		counts[r.Name] = count
		basis := counts[r.Basis]
		if basis == 0 {
			continue
		}
		msg := r.Message
		if msg == "" {
			msg = r.Name
		}
		switch {
		case float64(count) < r.MinRatio*float64(basis):
			issues = append(issues, model.Issue{
				Kind:    model.IssueStructural,
				Rule:    r.Name,
				Message: fmt.Sprintf("%s: found %d, expected at least %d of %d", msg, count, int(math.Ceil(r.MinRatio*float64(basis))), basis),
			})
		case r.RejectSingleMarkerFrom > 0 && count == 1 && basis >= r.RejectSingleMarkerFrom:
			issues = append(issues, model.Issue{
				Kind:    model.IssueStructural,
				Rule:    r.Name,
				Message: fmt.Sprintf("%s: only one found for %d", msg, basis),
			})
		}
	}
	return issues
}

var (
	explicitRunTimeRe = regexp.MustCompile(`run_time\s*=\s*([0-9]+(?:\.[0-9]+)?)`)
	waitRe            = regexp.MustCompile(`self\.wait\(\s*([0-9]+(?:\.[0-9]+)?)\s*\)`)
	trackerRunTimeRe  = regexp.MustCompile(`run_time\s*=\s*tracker\.duration`)
)

// EstimateDuration оценивает длительность анимаций фрагмента в секундах.
// Блоки с run_time=tracker.duration считаются длиной среднего бита.
func EstimateDuration(text string, perBeat float64) float64 {
	total := 0.0
	for _, m := range explicitRunTimeRe.FindAllStringSubmatch(text, -1) {
		if f, err := strconv.ParseFloat(m[1], 64); err == nil {
			total += f
		}
	}
	for _, m := range waitRe.FindAllStringSubmatch(text, -1) {
		if f, err := strconv.ParseFloat(m[1], 64); err == nil {
			total += f
		}
	}
	total += float64(len(trackerRunTimeRe.FindAllStringIndex(text, -1))) * perBeat
	return total
}

func (v *Validator) checkTiming(text string, spec model.SceneSpecification) []model.Issue {
	t := v.policy.Timing()
	if !t.Enabled || spec.BeatCount() == 0 {
		return nil
	}
	expected := float64(spec.NarrationWords()) / t.WordsPerSecond
	if expected <= 0 {
		return nil
	}
	actual := EstimateDuration(text, expected/float64(spec.BeatCount()))
	switch {
	case actual < expected*t.MinRatio:
		return []model.Issue{{Kind: model.IssueStructural, Rule: "timing",
			Message: fmt.Sprintf("animation too short: %.1fs for ~%.0fs of narration", actual, expected)}}
	case actual > expected*t.MaxRatio:
		return []model.Issue{{Kind: model.IssueStructural, Rule: "timing",
			Message: fmt.Sprintf("animation too long: %.1fs for ~%.0fs of narration", actual, expected)}}
	}
	return nil
}

// structuralSummary - краткая сводка счетчиков для промта генеративной проверки.
func (v *Validator) structuralSummary(text string, spec model.SceneSpecification) string {
	parts := []string{fmt.Sprintf("scene has %d beats", v.expectedBeats(spec))}
	for _, r := range v.policy.Requirements() {
		parts = append(parts, fmt.Sprintf("%s=%d", r.Name, r.Count(text)))
	}
	return strings.Join(parts, ", ")
}

func (v *Validator) advise(ctx context.Context, c model.Candidate, spec model.SceneSpecification) ([]model.Issue, error) {
	system, err := v.prompts.System(v.policy)
	if err != nil {
		return nil, err
	}
	prompt, err := v.prompts.Advisory(v.policy, spec, c.Text, v.structuralSummary(c.Text, spec))
	if err != nil {
		return nil, err
	}
	resp, _, err := v.advisor.GenerateText(ctx, service.UserFromContext(ctx), system, prompt, v.params)
	if err != nil {
		return nil, err
	}
	return ParseAdvisory(resp), nil
}

var listMarkerRe = regexp.MustCompile(`^(?:[-*•]+|\d+[.)])\s*`)

// ParseAdvisory разбирает ответ генеративной проверки. Сигнальное слово означает отсутствие замечаний.
func ParseAdvisory(response string) []model.Issue {
	trimmed := strings.Trim(strings.TrimSpace(response), ".*`\"' ")
	if strings.EqualFold(trimmed, AdvisorySentinel) {
		return nil
	}
	var notes []model.Issue
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(listMarkerRe.ReplaceAllString(strings.TrimSpace(line), ""))
		if line == "" || strings.EqualFold(strings.Trim(line, ".*` "), AdvisorySentinel) {
			continue
		}
		kind := model.IssueStructural
		if strings.Contains(strings.ToLower(line), "syntax") {
			kind = model.IssueSyntax
		}
		notes = append(notes, model.Issue{Kind: kind, Rule: "advisory", Message: line, Advisory: true})
	}
	return notes
}

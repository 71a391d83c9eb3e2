package synthesis

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"scene-forge/internal/model"
	"scene-forge/internal/policy"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

// Имена шаблонов промтов
const (
	promptSystem     = "system.tmpl"
	promptSynthesize = "synthesize.tmpl"
	promptRepair     = "repair_issues.tmpl"
	promptDiagnostic = "repair_diagnostic.tmpl"
	promptEmergency  = "emergency.tmpl"
	promptAdvisory   = "advisory.tmpl"
)

// AdvisorySentinel - ответ генеративной проверки, означающий отсутствие замечаний.
const AdvisorySentinel = "PERFECT"

// Prompts - набор шаблонов промтов.
type Prompts struct {
	tmpl *template.Template
}

// LoadPrompts разбирает встроенные шаблоны.
func LoadPrompts() (*Prompts, error) {
	funcs := template.FuncMap{
		"inc":  func(i int) int { return i + 1 },
		"join": strings.Join,
	}
	tmpl, err := template.New("prompts").Funcs(funcs).ParseFS(promptFS, "prompts/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки шаблонов промтов: %w", err)
	}
	return &Prompts{tmpl: tmpl}, nil
}

// MustLoadPrompts - как LoadPrompts, но паникует. Шаблоны встроены, ошибка означает битую сборку.
func MustLoadPrompts() *Prompts {
	p, err := LoadPrompts()
	if err != nil {
		panic(err)
	}
	return p
}

// promptData - данные для всех шаблонов.
type promptData struct {
	Spec              model.SceneSpecification
	BeatCount         int
	Surface           policy.Surface
	Forbidden         []policy.Pattern
	Prefixes          []string
	Code              string
	Issues            []model.Issue
	Advisories        []model.Issue
	Diagnostic        string
	StructuralSummary string
	Sentinel          string
}

func newPromptData(rs *policy.RuleSet, spec model.SceneSpecification) promptData {
	beats := spec.BeatCount()
	if beats == 0 {
		beats = rs.DefaultBeatCount()
	}
	return promptData{
		Spec:      spec,
		BeatCount: beats,
		Surface:   rs.Surface(),
		Forbidden: rs.Patterns(),
		Prefixes:  rs.DisallowedPrefixes(),
		Sentinel:  AdvisorySentinel,
	}
}

func (p *Prompts) render(name string, data promptData) (string, error) {
	var buf bytes.Buffer
	if err := p.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("ошибка рендера промта %s: %w", name, err)
	}
	return buf.String(), nil
}

// System - системный промт с поверхностью API и известными ошибками.
func (p *Prompts) System(rs *policy.RuleSet) (string, error) {
	return p.render(promptSystem, newPromptData(rs, model.SceneSpecification{}))
}

// Synthesize - промт первой генерации.
func (p *Prompts) Synthesize(rs *policy.RuleSet, spec model.SceneSpecification) (string, error) {
	return p.render(promptSynthesize, newPromptData(rs, spec))
}

// RepairIssues - промт исправления по отчету валидации.
func (p *Prompts) RepairIssues(rs *policy.RuleSet, spec model.SceneSpecification, code string, report model.ValidationReport) (string, error) {
	data := newPromptData(rs, spec)
	data.Code = code
	data.Issues = report.Issues()
	data.Advisories = report.Advisories()
	return p.render(promptRepair, data)
}

// RepairDiagnostic - промт исправления по диагностике исполнителя.
func (p *Prompts) RepairDiagnostic(rs *policy.RuleSet, spec model.SceneSpecification, code, diagnostic string) (string, error) {
	data := newPromptData(rs, spec)
	data.Code = code
	data.Diagnostic = diagnostic
	return p.render(promptDiagnostic, data)
}

// Emergency - промт переписывания с нуля.
func (p *Prompts) Emergency(rs *policy.RuleSet, spec model.SceneSpecification, last model.ValidationReport) (string, error) {
	data := newPromptData(rs, spec)
	data.Issues = last.Issues()
	return p.render(promptEmergency, data)
}

// Advisory - промт генеративной проверки.
func (p *Prompts) Advisory(rs *policy.RuleSet, spec model.SceneSpecification, code, structuralSummary string) (string, error) {
	data := newPromptData(rs, spec)
	data.Code = code
	data.StructuralSummary = structuralSummary
	return p.render(promptAdvisory, data)
}

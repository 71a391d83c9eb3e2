package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// IssueKind - категория проблемы кандидата.
type IssueKind string

const (
	IssueForbidden  IssueKind = "forbidden"
	IssueStructural IssueKind = "structural"
	IssueSyntax     IssueKind = "syntax"
	IssueParseError IssueKind = "parse_error"
)

// Issue - одна проблема, найденная валидатором.
type Issue struct {
	Kind    IssueKind `json:"kind"`
	Rule    string    `json:"rule,omitempty"`
	Message string    `json:"message"`
	// Line - подсказка о местоположении (1-based), 0 если неизвестно.
	Line int `json:"line,omitempty"`
	// Advisory - замечание от генеративной проверки, не авторитетно.
	Advisory bool `json:"advisory,omitempty"`
}

func (i Issue) String() string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(string(i.Kind))
	if i.Rule != "" {
		b.WriteString(":")
		b.WriteString(i.Rule)
	}
	b.WriteString("]")
	if i.Line > 0 {
		fmt.Fprintf(&b, " line %d:", i.Line)
	}
	b.WriteString(" ")
	b.WriteString(i.Message)
	return b.String()
}

// Feedback - обратная связь для Repairer: либо ValidationReport, либо Diagnostic.
// Интерфейс закрыт для реализаций вне пакета.
type Feedback interface {
	feedback()
	Summary() string
}

// ValidationReport - результат одной валидации: Clean либо Dirty(issues).
// Поля неэкспортируемые, отчет не изменяется после создания.
type ValidationReport struct {
	dirty      bool
	issues     []Issue
	advisories []Issue
}

// Clean создает чистый отчет.
func Clean() ValidationReport {
	return ValidationReport{}
}

// Dirty создает отчет с проблемами. Без проблем возвращает Clean.
func Dirty(issues ...Issue) ValidationReport {
	if len(issues) == 0 {
		return Clean()
	}
	return ValidationReport{dirty: true, issues: append([]Issue(nil), issues...)}
}

// WithAdvisories возвращает копию отчета с добавленными замечаниями генеративной проверки.
// Замечания не меняют статус отчета.
func (r ValidationReport) WithAdvisories(notes ...Issue) ValidationReport {
	out := ValidationReport{
		dirty:      r.dirty,
		issues:     append([]Issue(nil), r.issues...),
		advisories: append(append([]Issue(nil), r.advisories...), notes...),
	}
	return out
}

// IsClean - true для варианта Clean.
func (r ValidationReport) IsClean() bool { return !r.dirty }

// Issues возвращает копию авторитетных проблем.
func (r ValidationReport) Issues() []Issue { return append([]Issue(nil), r.issues...) }

// Advisories возвращает копию неавторитетных замечаний.
func (r ValidationReport) Advisories() []Issue { return append([]Issue(nil), r.advisories...) }

// CountKind считает авторитетные проблемы заданного вида.
func (r ValidationReport) CountKind(kind IssueKind) int {
	n := 0
	for _, i := range r.issues {
		if i.Kind == kind {
			n++
		}
	}
	return n
}

func (ValidationReport) feedback() {}

// Summary - построчный список проблем для промта исправления.
func (r ValidationReport) Summary() string {
	if r.IsClean() && len(r.advisories) == 0 {
		return "no issues"
	}
	lines := make([]string, 0, len(r.issues)+len(r.advisories))
	for _, i := range r.issues {
		lines = append(lines, "- "+i.String())
	}
	for _, i := range r.advisories {
		lines = append(lines, "- (advisory) "+i.String())
	}
	return strings.Join(lines, "\n")
}

type reportJSON struct {
	Status     string  `json:"status"`
	Issues     []Issue `json:"issues,omitempty"`
	Advisories []Issue `json:"advisories,omitempty"`
}

// MarshalJSON сериализует отчет для хранения и API.
func (r ValidationReport) MarshalJSON() ([]byte, error) {
	status := "clean"
	if r.dirty {
		status = "dirty"
	}
	return json.Marshal(reportJSON{Status: status, Issues: r.issues, Advisories: r.advisories})
}

// UnmarshalJSON восстанавливает отчет из хранилища.
func (r *ValidationReport) UnmarshalJSON(data []byte) error {
	var raw reportJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Status != "clean" && raw.Status != "dirty" {
		return fmt.Errorf("неизвестный статус отчета: '%s'", raw.Status)
	}
	*r = ValidationReport{dirty: raw.Status == "dirty", issues: raw.Issues, advisories: raw.Advisories}
	return nil
}

// Diagnostic - свободный текст диагностики исполнителя.
type Diagnostic string

func (Diagnostic) feedback() {}

// Summary возвращает текст диагностики как есть.
func (d Diagnostic) Summary() string { return string(d) }

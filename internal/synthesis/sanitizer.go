package synthesis

import (
	"strings"
	"unicode"

	"scene-forge/internal/model"
	"scene-forge/internal/policy"
)

// Sanitizer приводит текст к контракту фрагмента: без ограждений, без объявлений
// верхнего уровня и без строк, совпадающих с запрещенными шаблонами.
// Чистая, детерминированная и идемпотентная функция над набором правил.
type Sanitizer struct {
	policy *policy.RuleSet
}

// NewSanitizer создает санитайзер для набора правил.
func NewSanitizer(rs *policy.RuleSet) *Sanitizer {
	return &Sanitizer{policy: rs}
}

// Sanitize очищает текст фрагмента.
func (s *Sanitizer) Sanitize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.ReplaceAll(text, "\t", "    ")

	kept := make([]string, 0, strings.Count(text, "\n")+1)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRightFunc(line, unicode.IsSpace)
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			kept = append(kept, "")
			continue
		}
		if strings.HasPrefix(trimmed, "```") {
			continue
		}
		if _, bad := s.policy.DisallowedPrefix(trimmed); bad {
			continue
		}
		if _, bad := s.policy.ForbiddenLine(trimmed); bad {
			line = leadingSpaces(line) + policy.SanitizerFiller
		}
		kept = append(kept, line)
	}

	kept = dedent(kept)
	return strings.Join(trimBlank(kept), "\n")
}

// SanitizeCandidate возвращает копию кандидата с очищенным текстом.
func (s *Sanitizer) SanitizeCandidate(c model.Candidate) model.Candidate {
	c.Text = s.Sanitize(c.Text)
	c.Sanitized = true
	return c
}

func leadingSpaces(line string) string {
	return line[:len(line)-len(strings.TrimLeft(line, " "))]
}

func dedent(lines []string) []string {
	minIndent := -1
	for _, l := range lines {
		if l == "" {
			continue
		}
		if n := len(leadingSpaces(l)); minIndent < 0 || n < minIndent {
			minIndent = n
		}
	}
	if minIndent <= 0 {
		return lines
	}
	out := make([]string, len(lines))
	for i, l := range lines {
		if l != "" {
			out[i] = l[minIndent:]
		}
	}
	return out
}

func trimBlank(lines []string) []string {
	start, end := 0, len(lines)
	for start < end && lines[start] == "" {
		start++
	}
	for end > start && lines[end-1] == "" {
		end--
	}
	return lines[start:end]
}

// Package policy содержит неизменяемый набор правил, по которому проверяются
// и очищаются фрагменты кода сцен.
package policy

import (
	"fmt"
	"regexp"
	"strings"

	"scene-forge/internal/model"
)

// BasisBeats - база структурного требования: количество битов сцены.
const BasisBeats = "beats"

// SanitizerFiller - строка, которой санитайзер заменяет запрещенные строки.
// Ни один запрещенный шаблон не должен ей соответствовать.
const SanitizerFiller = "pass"

// Значения по умолчанию для незаполненных полей определения.
const (
	defaultBeatCount      = 5
	defaultWordsPerSecond = 2.5
	defaultTimingMinRatio = 0.7
	defaultTimingMaxRatio = 1.3
)

var defaultDisallowedPrefixes = []string{"import ", "from ", "class ", "def construct(self):"}

// ForbiddenPattern - запрещенная конструкция. Pattern - регулярное выражение,
// применяемое к каждой строке без отступов.
type ForbiddenPattern struct {
	Name    string `yaml:"name" json:"name"`
	Pattern string `yaml:"pattern" json:"pattern"`
	Message string `yaml:"message" json:"message"`
	Fix     string `yaml:"fix,omitempty" json:"fix,omitempty"`
}

// StructuralRequirement - требование к количеству структурных маркеров.
// Basis - "beats" либо имя ранее объявленного требования, чей счетчик служит базой.
type StructuralRequirement struct {
	Name     string  `yaml:"name" json:"name"`
	Marker   string  `yaml:"marker" json:"marker"`
	Basis    string  `yaml:"basis" json:"basis"`
	MinRatio float64 `yaml:"min_ratio" json:"min_ratio"`
	// RejectSingleMarkerFrom - при базе не меньше этого значения единственный маркер считается ошибкой. 0 - проверка выключена.
	RejectSingleMarkerFrom int    `yaml:"reject_single_marker_from" json:"reject_single_marker_from"`
	Message                string `yaml:"message" json:"message"`
}

// FragmentContract - префиксы строк, недопустимые во встраиваемом фрагменте.
type FragmentContract struct {
	DisallowedPrefixes []string `yaml:"disallowed_prefixes" json:"disallowed_prefixes"`
}

// TimingCheck - проверка соответствия длительности анимаций длительности озвучки.
type TimingCheck struct {
	Enabled        bool    `yaml:"enabled" json:"enabled"`
	WordsPerSecond float64 `yaml:"words_per_second" json:"words_per_second"`
	MinRatio       float64 `yaml:"min_ratio" json:"min_ratio"`
	MaxRatio       float64 `yaml:"max_ratio" json:"max_ratio"`
}

// Surface - описание доступного API для промтов генерации.
type Surface struct {
	AmbientNames      []string `yaml:"ambient_names" json:"ambient_names"`
	AllowedOperations []string `yaml:"allowed_operations" json:"allowed_operations"`
	Notes             []string `yaml:"notes" json:"notes"`
	Example           string   `yaml:"example" json:"example"`
}

// Definition - сериализуемое (версионируемое) описание набора правил.
type Definition struct {
	Version          string                  `yaml:"version" json:"version"`
	DefaultBeatCount int                     `yaml:"default_beat_count" json:"default_beat_count"`
	AdvisoryBlocking bool                    `yaml:"advisory_blocking" json:"advisory_blocking"`
	Forbidden        []ForbiddenPattern      `yaml:"forbidden" json:"forbidden"`
	Structural       []StructuralRequirement `yaml:"structural" json:"structural"`
	Fragment         FragmentContract        `yaml:"fragment" json:"fragment"`
	Timing           TimingCheck             `yaml:"timing" json:"timing"`
	Surface          Surface                 `yaml:"surface" json:"surface"`
}

// Pattern - скомпилированный запрещенный шаблон.
type Pattern struct {
	ForbiddenPattern
	re *regexp.Regexp
}

// MatchLine проверяет строку (отступы и хвостовые пробелы игнорируются).
func (p Pattern) MatchLine(line string) bool {
	return p.re.MatchString(strings.TrimSpace(line))
}

// Requirement - скомпилированное структурное требование.
type Requirement struct {
	StructuralRequirement
	re *regexp.Regexp
}

// Count возвращает количество вхождений маркера в тексте.
func (r Requirement) Count(text string) int {
	return len(r.re.FindAllStringIndex(text, -1))
}

// RuleSet - неизменяемый набор правил. Безопасен для одновременного чтения из разных сессий.
type RuleSet struct {
	def      Definition
	patterns []Pattern
	reqs     []Requirement
	prefixes []string
}

// New проверяет определение, заполняет значения по умолчанию и компилирует шаблоны.
func New(def Definition) (*RuleSet, error) {
	def = cloneDefinition(def)
	applyDefaults(&def)

	if def.DefaultBeatCount < 1 {
		return nil, fmt.Errorf("%w: default_beat_count должен быть >= 1, получено %d", model.ErrInvalidPolicy, def.DefaultBeatCount)
	}

	rs := &RuleSet{def: def, prefixes: def.Fragment.DisallowedPrefixes}

	seen := make(map[string]struct{}, len(def.Forbidden))
	for _, fp := range def.Forbidden {
		if fp.Name == "" {
			return nil, fmt.Errorf("%w: запрещенный шаблон без имени ('%s')", model.ErrInvalidPolicy, fp.Pattern)
		}
		if _, dup := seen[fp.Name]; dup {
			return nil, fmt.Errorf("%w: повторяющееся имя шаблона '%s'", model.ErrInvalidPolicy, fp.Name)
		}
		seen[fp.Name] = struct{}{}
		re, err := regexp.Compile(fp.Pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: шаблон '%s' не компилируется: %v", model.ErrInvalidPolicy, fp.Name, err)
		}
		if re.MatchString(SanitizerFiller) {
			return nil, fmt.Errorf("%w: шаблон '%s' совпадает со строкой-заглушкой '%s'", model.ErrInvalidPolicy, fp.Name, SanitizerFiller)
		}
		rs.patterns = append(rs.patterns, Pattern{ForbiddenPattern: fp, re: re})
	}

	known := map[string]struct{}{BasisBeats: {}}
	for _, sr := range def.Structural {
		if sr.Name == "" || sr.Name == BasisBeats {
			return nil, fmt.Errorf("%w: недопустимое имя структурного требования '%s'", model.ErrInvalidPolicy, sr.Name)
		}
		if _, dup := known[sr.Name]; dup {
			return nil, fmt.Errorf("%w: повторяющееся имя требования '%s'", model.ErrInvalidPolicy, sr.Name)
		}
		if _, ok := known[sr.Basis]; !ok {
			return nil, fmt.Errorf("%w: требование '%s' ссылается на неизвестную базу '%s'", model.ErrInvalidPolicy, sr.Name, sr.Basis)
		}
		if sr.MinRatio <= 0 || sr.MinRatio > 1 {
			return nil, fmt.Errorf("%w: min_ratio требования '%s' должен быть в (0, 1], получено %v", model.ErrInvalidPolicy, sr.Name, sr.MinRatio)
		}
		if sr.RejectSingleMarkerFrom < 0 {
			return nil, fmt.Errorf("%w: reject_single_marker_from требования '%s' отрицателен", model.ErrInvalidPolicy, sr.Name)
		}
		re, err := regexp.Compile(sr.Marker)
		if err != nil {
			return nil, fmt.Errorf("%w: маркер '%s' не компилируется: %v", model.ErrInvalidPolicy, sr.Name, err)
		}
		known[sr.Name] = struct{}{}
		rs.reqs = append(rs.reqs, Requirement{StructuralRequirement: sr, re: re})
	}

	for _, p := range rs.prefixes {
		if strings.TrimSpace(p) == "" {
			return nil, fmt.Errorf("%w: пустой запрещенный префикс фрагмента", model.ErrInvalidPolicy)
		}
		if strings.HasPrefix(SanitizerFiller, p) {
			return nil, fmt.Errorf("%w: префикс '%s' совпадает со строкой-заглушкой", model.ErrInvalidPolicy, p)
		}
	}

	t := def.Timing
	if t.WordsPerSecond <= 0 || t.MinRatio <= 0 || t.MinRatio >= t.MaxRatio {
		return nil, fmt.Errorf("%w: некорректные параметры проверки длительности %+v", model.ErrInvalidPolicy, t)
	}

	return rs, nil
}

// MustNew - как New, но паникует. Только для тестов и встроенных правил.
func MustNew(def Definition) *RuleSet {
	rs, err := New(def)
	if err != nil {
		panic(err)
	}
	return rs
}

// WithForbidden возвращает новый набор правил с дополнительным шаблоном. Исходный набор не меняется.
func (rs *RuleSet) WithForbidden(p ForbiddenPattern) (*RuleSet, error) {
	def := rs.Definition()
	def.Forbidden = append(def.Forbidden, p)
	return New(def)
}

// Version возвращает версию набора правил.
func (rs *RuleSet) Version() string { return rs.def.Version }

// DefaultBeatCount - ожидаемое число битов, если в сцене их нет.
func (rs *RuleSet) DefaultBeatCount() int { return rs.def.DefaultBeatCount }

// AdvisoryBlocking - делают ли замечания генеративной проверки отчет грязным.
func (rs *RuleSet) AdvisoryBlocking() bool { return rs.def.AdvisoryBlocking }

// Patterns возвращает скомпилированные запрещенные шаблоны.
func (rs *RuleSet) Patterns() []Pattern { return append([]Pattern(nil), rs.patterns...) }

// Requirements возвращает скомпилированные структурные требования в порядке объявления.
func (rs *RuleSet) Requirements() []Requirement { return append([]Requirement(nil), rs.reqs...) }

// DisallowedPrefixes возвращает префиксы строк, недопустимые во фрагменте.
func (rs *RuleSet) DisallowedPrefixes() []string { return append([]string(nil), rs.prefixes...) }

// Timing возвращает параметры проверки длительности.
func (rs *RuleSet) Timing() TimingCheck { return rs.def.Timing }

// Surface возвращает копию описания API.
func (rs *RuleSet) Surface() Surface {
	return cloneDefinition(Definition{Surface: rs.def.Surface}).Surface
}

// Definition возвращает глубокую копию определения (для сериализации и API).
func (rs *RuleSet) Definition() Definition { return cloneDefinition(rs.def) }

// ForbiddenLine возвращает первый шаблон, которому соответствует строка.
func (rs *RuleSet) ForbiddenLine(line string) (Pattern, bool) {
	for _, p := range rs.patterns {
		if p.MatchLine(line) {
			return p, true
		}
	}
	return Pattern{}, false
}

// DisallowedPrefix возвращает префикс, с которого начинается строка (без отступа).
func (rs *RuleSet) DisallowedPrefix(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	for _, p := range rs.prefixes {
		if strings.HasPrefix(trimmed, p) {
			return p, true
		}
	}
	return "", false
}

func applyDefaults(def *Definition) {
	if def.Version == "" {
		def.Version = "unversioned"
	}
	if def.DefaultBeatCount == 0 {
		def.DefaultBeatCount = defaultBeatCount
	}
	if def.Fragment.DisallowedPrefixes == nil {
		def.Fragment.DisallowedPrefixes = append([]string(nil), defaultDisallowedPrefixes...)
	}
	if def.Timing.WordsPerSecond == 0 {
		def.Timing.WordsPerSecond = defaultWordsPerSecond
	}
	if def.Timing.MinRatio == 0 {
		def.Timing.MinRatio = defaultTimingMinRatio
	}
	if def.Timing.MaxRatio == 0 {
		def.Timing.MaxRatio = defaultTimingMaxRatio
	}
}

func cloneDefinition(def Definition) Definition {
	out := def
	out.Forbidden = append([]ForbiddenPattern(nil), def.Forbidden...)
	out.Structural = append([]StructuralRequirement(nil), def.Structural...)
	if def.Fragment.DisallowedPrefixes != nil {
		out.Fragment.DisallowedPrefixes = append([]string{}, def.Fragment.DisallowedPrefixes...)
	}
	out.Surface.AmbientNames = append([]string(nil), def.Surface.AmbientNames...)
	out.Surface.AllowedOperations = append([]string(nil), def.Surface.AllowedOperations...)
	out.Surface.Notes = append([]string(nil), def.Surface.Notes...)
	return out
}

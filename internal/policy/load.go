package policy

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"sync"

	"scene-forge/internal/model"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultPolicyYAML []byte

var (
	defaultOnce sync.Once
	defaultSet  *RuleSet
	defaultErr  error
)

// Default возвращает встроенный набор правил. Разбирается один раз.
func Default() (*RuleSet, error) {
	defaultOnce.Do(func() {
		defaultSet, defaultErr = Parse(bytes.NewReader(defaultPolicyYAML))
	})
	return defaultSet, defaultErr
}

// DefaultDefinition возвращает встроенное определение (копию) для расширения в тестах и CLI.
func DefaultDefinition() (Definition, error) {
	rs, err := Default()
	if err != nil {
		return Definition{}, err
	}
	return rs.Definition(), nil
}

// Load читает набор правил из YAML-файла. Пустой путь означает встроенные правила.
func Load(path string) (*RuleSet, error) {
	if path == "" {
		return Default()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть файл правил '%s': %w", path, err)
	}
	defer f.Close()

	rs, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("файл правил '%s': %w", path, err)
	}
	return rs, nil
}

// Parse разбирает YAML со строгой проверкой полей.
func Parse(r io.Reader) (*RuleSet, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var def Definition
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("%w: ошибка разбора YAML: %v", model.ErrInvalidPolicy, err)
	}
	return New(def)
}

// Marshal сериализует определение набора правил в YAML.
func Marshal(rs *RuleSet) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(rs.Definition()); err != nil {
		return nil, fmt.Errorf("ошибка сериализации правил: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

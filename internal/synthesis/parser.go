package synthesis

import (
	"fmt"
	"regexp"
	"strings"
)

// ResponseParser извлекает код из ответа генеративного бэкенда.
type ResponseParser interface {
	Parse(response string) (string, error)
}

// ParseError - ответ не содержит ровно одного блока кода.
type ParseError struct {
	Blocks int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("не удалось извлечь код: %s (блоков: %d)", e.Reason, e.Blocks)
}

var (
	fenceOpenRe  = regexp.MustCompile("^(`{3,})\\s*([\\w+.-]*)\\s*$")
	fenceCloseRe = regexp.MustCompile("^(`{3,})\\s*$")
)

// FencedBlockParser требует ровно один огражденный блок кода. Не угадывает.
type FencedBlockParser struct{}

// Parse возвращает содержимое единственного блока.
func (FencedBlockParser) Parse(response string) (string, error) {
	lines := strings.Split(strings.ReplaceAll(response, "\r\n", "\n"), "\n")

	var (
		blocks  []string
		current []string
		fence   string
		open    bool
	)
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !open {
			if m := fenceOpenRe.FindStringSubmatch(trimmed); m != nil {
				open, fence, current = true, m[1], nil
			}
			continue
		}
		if m := fenceCloseRe.FindStringSubmatch(trimmed); m != nil && len(m[1]) >= len(fence) {
			blocks = append(blocks, strings.Join(current, "\n"))
			open = false
			continue
		}
		current = append(current, line)
	}

	switch {
	case open:
		return "", &ParseError{Blocks: len(blocks), Reason: "незакрытый блок кода"}
	case len(blocks) == 0:
		return "", &ParseError{Blocks: 0, Reason: "в ответе нет блока кода"}
	case len(blocks) > 1:
		return "", &ParseError{Blocks: len(blocks), Reason: "в ответе несколько блоков кода"}
	}
	if strings.TrimSpace(blocks[0]) == "" {
		return "", &ParseError{Blocks: 1, Reason: "блок кода пуст"}
	}
	return blocks[0], nil
}

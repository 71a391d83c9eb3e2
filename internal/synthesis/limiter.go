package synthesis

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// runesPerToken - грубая оценка, когда токенизатор недоступен.
const runesPerToken = 4

// TokenCodec - минимальный интерфейс токенизатора (совпадает с *tiktoken.Tiktoken).
type TokenCodec interface {
	Encode(text string, allowedSpecial []string, disallowedSpecial []string) []int
	Decode(tokens []int) string
}

// TiktokenCodec возвращает кодировщик cl100k_base.
// При первом вызове tiktoken скачивает словарь, поэтому ошибка возможна без сети.
func TiktokenCodec() (TokenCodec, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("не удалось загрузить токенизатор: %w", err)
	}
	return enc, nil
}

// DiagnosticLimiter ограничивает размер диагностики перед вставкой в промт.
// Сохраняется хвост: в конце трейсбека находится сама ошибка.
type DiagnosticLimiter struct {
	maxTokens int
	codec     TokenCodec
}

// NewDiagnosticLimiter создает ограничитель. codec может быть nil - тогда лимит считается в рунах.
func NewDiagnosticLimiter(maxTokens int, codec TokenCodec) *DiagnosticLimiter {
	return &DiagnosticLimiter{maxTokens: maxTokens, codec: codec}
}

// Limit возвращает текст не длиннее лимита.
func (l *DiagnosticLimiter) Limit(text string) string {
	if l == nil || l.maxTokens <= 0 {
		return text
	}
	if l.codec != nil {
		tokens := l.codec.Encode(text, nil, nil)
		if len(tokens) <= l.maxTokens {
			return text
		}
		dropped := len(tokens) - l.maxTokens
		return fmt.Sprintf("...[truncated %d tokens]\n%s", dropped, l.codec.Decode(tokens[dropped:]))
	}

	runes := []rune(text)
	limit := l.maxTokens * runesPerToken
	if len(runes) <= limit {
		return text
	}
	dropped := len(runes) - limit
	return fmt.Sprintf("...[truncated %d chars]\n%s", dropped, string(runes[dropped:]))
}

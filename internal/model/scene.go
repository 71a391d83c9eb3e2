package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Beat - одна пара "озвучка + визуальная инструкция", атомарная единица сцены.
type Beat struct {
	Narration string `json:"narration" yaml:"narration"`
	Visual    string `json:"visual" yaml:"visual"`
}

// SceneSpecification описывает одну сцену: заголовок и упорядоченный список битов.
// Создается один раз выше по конвейеру и не изменяется.
type SceneSpecification struct {
	Title string `json:"title" yaml:"title"`
	Beats []Beat `json:"beats" yaml:"beats"`
}

// Validate проверяет инварианты сцены: минимум один бит, у каждого бита есть текст озвучки.
func (s SceneSpecification) Validate() error {
	if len(s.Beats) == 0 {
		return fmt.Errorf("%w: сцена '%s' не содержит ни одного бита", ErrInvalidScene, s.Title)
	}
	for i, b := range s.Beats {
		if strings.TrimSpace(b.Narration) == "" {
			return fmt.Errorf("%w: сцена '%s', бит %d: пустой текст озвучки", ErrInvalidScene, s.Title, i+1)
		}
	}
	return nil
}

// BeatCount возвращает количество битов сцены.
func (s SceneSpecification) BeatCount() int {
	return len(s.Beats)
}

// NarrationWords возвращает общее число слов озвучки (для оценки длительности).
func (s SceneSpecification) NarrationWords() int {
	total := 0
	for _, b := range s.Beats {
		total += len(strings.Fields(b.Narration))
	}
	return total
}

// Fingerprint - стабильный хэш содержимого сцены, используется как часть ключа кэша.
func (s SceneSpecification) Fingerprint() string {
	data, _ := json.Marshal(s)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Video - единица пакетной обработки: набор сцен одного ролика.
type Video struct {
	Number int                  `json:"number" yaml:"number"`
	Title  string               `json:"title" yaml:"title"`
	Scenes []SceneSpecification `json:"scenes" yaml:"scenes"`
}

// Validate проверяет, что ролик содержит хотя бы одну сцену.
// Сцены по отдельности не проверяются: ошибка одной сцены не должна валить весь ролик.
func (v Video) Validate() error {
	if len(v.Scenes) == 0 {
		return fmt.Errorf("%w: видео %d не содержит сцен", ErrInvalidScene, v.Number)
	}
	return nil
}

// SceneClassName возвращает имя класса сцены в сгенерированной программе.
func (v Video) SceneClassName(index int) string {
	return fmt.Sprintf("Video%dScene%d", v.Number, index+1)
}

// ClassName возвращает имя класса полной программы ролика.
func (v Video) ClassName() string {
	return fmt.Sprintf("Video%d", v.Number)
}

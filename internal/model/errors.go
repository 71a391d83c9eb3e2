package model

import (
	"errors"
	"fmt"
)

// Ошибки генерации
var (
	// ErrBackend - сбой генеративного бэкенда (транспорт, таймаут, квота). Фатальна, не ретраится.
	ErrBackend = errors.New("ошибка генеративного бэкенда")
	// ErrBudgetExhausted - исчерпан бюджет итераций цикла без аварийного пути.
	ErrBudgetExhausted = errors.New("бюджет итераций исчерпан")
	// ErrInvalidBudget - некорректное значение лимита итераций.
	ErrInvalidBudget = errors.New("некорректный лимит итераций")
)

// Ошибки исполнения
var (
	// ErrExecutionFailed - рендер завершился неуспешно.
	ErrExecutionFailed = errors.New("ошибка исполнения сцены")
	// ErrExecutionBudgetExhausted - все попытки рендера исчерпаны.
	ErrExecutionBudgetExhausted = errors.New("бюджет попыток исполнения исчерпан")
	// ErrExecutorUnavailable - инфраструктура исполнителя недоступна (нет бинарника, демона и т.п.).
	ErrExecutorUnavailable = errors.New("исполнитель недоступен")
)

// Ошибки входных данных
var (
	ErrInvalidScene  = errors.New("некорректная спецификация сцены")
	ErrInvalidPolicy = errors.New("некорректный набор правил")
	ErrInvalidTask   = errors.New("некорректная задача")
)

// Ошибки хранилищ
var (
	ErrNotFound  = errors.New("запись не найдена")
	ErrCacheMiss = errors.New("фрагмент отсутствует в кэше")
)

// ExecutionBudgetExhaustedError - жесткий отказ после исчерпания попыток исполнения.
// Несет последнюю диагностику рендера.
type ExecutionBudgetExhaustedError struct {
	Attempts       int
	LastDiagnostic string
	TimedOut       bool
}

func (e *ExecutionBudgetExhaustedError) Error() string {
	suffix := ""
	if e.TimedOut {
		suffix = " (последняя попытка по таймауту)"
	}
	return fmt.Sprintf("%s после %d попыток%s", ErrExecutionBudgetExhausted.Error(), e.Attempts, suffix)
}

// Is позволяет сравнивать через errors.Is с ErrExecutionBudgetExhausted.
func (e *ExecutionBudgetExhaustedError) Is(target error) bool {
	return target == ErrExecutionBudgetExhausted
}

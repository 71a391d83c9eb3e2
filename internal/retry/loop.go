// Package retry реализует ограниченный цикл "сгенерировать -> проверить -> исправить"
// с необязательным аварийным путем. Цикл синтеза сцены и цикл повторов рендера
// являются двумя инстанциями одного Loop.
package retry

import (
	"context"
	"fmt"

	"scene-forge/internal/model"
)

// Attempt - одна проверка кандидата. История сессии упорядочена по Iteration.
type Attempt[C any, F any] struct {
	Iteration int
	Candidate C
	Feedback  F
	Passed    bool
}

// Outcome - результат работы цикла.
type Outcome[C any, F any] struct {
	// Candidate - терминальный кандидат (после Finalize, если он задан).
	Candidate C
	History   []Attempt[C, F]
	// Emergency - кандидат получен аварийным путем.
	Emergency bool
	// Exhausted - бюджет исчерпан, а аварийного пути нет.
	Exhausted bool
}

// Iterations возвращает количество выполненных проверок.
func (o Outcome[C, F]) Iterations() int { return len(o.History) }

// Last возвращает последнюю проверку. ok=false для пустой истории.
func (o Outcome[C, F]) Last() (Attempt[C, F], bool) {
	if len(o.History) == 0 {
		var zero Attempt[C, F]
		return zero, false
	}
	return o.History[len(o.History)-1], true
}

// Loop - параметризованный цикл. Обязательны Initial, Check и Repair.
type Loop[C any, F any] struct {
	// MaxIterations - максимальное число проверок.
	MaxIterations int
	// Initial производит первого кандидата.
	Initial func(ctx context.Context) (C, error)
	// Check проверяет кандидата. passed=true завершает цикл.
	Check func(ctx context.Context, candidate C, iteration int) (feedback F, passed bool, err error)
	// Repair строит кандидата для итерации iteration по предыдущему кандидату и его обратной связи.
	Repair func(ctx context.Context, candidate C, feedback F, iteration int) (C, error)
	// Emergency вызывается один раз, если бюджет исчерпан. Без него цикл возвращает ErrBudgetExhausted.
	Emergency func(ctx context.Context, last C, feedback F) (C, error)
	// Finalize применяется к каждому терминальному кандидату.
	Finalize func(C) C
	// OnAttempt вызывается после каждой проверки (логирование, метрики).
	OnAttempt func(Attempt[C, F])
}

// Run выполняет цикл. Контекст проверяется перед каждым шагом.
// Ошибки шагов возвращаются как есть вместе с накопленной историей.
func (l *Loop[C, F]) Run(ctx context.Context) (Outcome[C, F], error) {
	var out Outcome[C, F]
	if l.MaxIterations < 1 {
		return out, fmt.Errorf("%w: %d", model.ErrInvalidBudget, l.MaxIterations)
	}
	if l.Initial == nil || l.Check == nil || l.Repair == nil {
		return out, fmt.Errorf("%w: не заданы шаги цикла", model.ErrInvalidBudget)
	}

	if err := ctx.Err(); err != nil {
		return out, err
	}
	candidate, err := l.Initial(ctx)
	if err != nil {
		return out, err
	}

	for iteration := 0; ; iteration++ {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		feedback, passed, err := l.Check(ctx, candidate, iteration)
		if err != nil {
			return out, err
		}
		attempt := Attempt[C, F]{Iteration: iteration, Candidate: candidate, Feedback: feedback, Passed: passed}
		out.History = append(out.History, attempt)
		if l.OnAttempt != nil {
			l.OnAttempt(attempt)
		}

		if passed {
			out.Candidate = l.finalize(candidate)
			return out, nil
		}
		if iteration+1 >= l.MaxIterations {
			break
		}

		if err := ctx.Err(); err != nil {
			return out, err
		}
		candidate, err = l.Repair(ctx, candidate, feedback, iteration+1)
		if err != nil {
			return out, err
		}
	}

	last := out.History[len(out.History)-1]
	if l.Emergency == nil {
		out.Candidate = last.Candidate
		out.Exhausted = true
		return out, model.ErrBudgetExhausted
	}

	if err := ctx.Err(); err != nil {
		return out, err
	}
	emergency, err := l.Emergency(ctx, last.Candidate, last.Feedback)
	if err != nil {
		return out, err
	}
	out.Candidate = l.finalize(emergency)
	out.Emergency = true
	return out, nil
}

func (l *Loop[C, F]) finalize(c C) C {
	if l.Finalize == nil {
		return c
	}
	return l.Finalize(c)
}

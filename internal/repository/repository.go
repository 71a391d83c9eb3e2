// Package repository хранит результаты обработки сцен и кэш проверенных фрагментов.
package repository

import (
	"context"

	"scene-forge/internal/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX - общий интерфейс пула и транзакции pgx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ResultRepository - хранилище результатов обработки сцен и программ роликов.
//
//go:generate mockery --name ResultRepository --output ../mocks --outpkg mocks --case=underscore
type ResultRepository interface {
	// Save сохраняет или обновляет результат сцены.
	Save(ctx context.Context, result *model.SceneResult) error
	// GetByID возвращает model.ErrNotFound, если результата нет.
	GetByID(ctx context.Context, id uuid.UUID) (*model.SceneResult, error)
	// ListByTask возвращает результаты задачи в порядке сцен.
	ListByTask(ctx context.Context, taskID string) ([]*model.SceneResult, error)
	// SaveProgram сохраняет полную программу ролика задачи.
	SaveProgram(ctx context.Context, program *model.VideoProgram) error
	// GetProgram возвращает model.ErrNotFound, если программы нет.
	GetProgram(ctx context.Context, taskID string) (*model.VideoProgram, error)
}

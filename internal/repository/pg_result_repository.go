package repository

import (
	"context"
	"errors"
	"fmt"

	"scene-forge/internal/model"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const (
	resultColumns = `
		id, task_id, user_id, video_number, scene_index, title, status, provenance,
		iterations, execution_attempts, fragment, artifact_ref, error,
		prompt_tokens, completion_tokens, estimated_cost_usd, created_at, completed_at`

	saveResultQuery = `
		INSERT INTO scene_results (` + resultColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			provenance = EXCLUDED.provenance,
			iterations = EXCLUDED.iterations,
			execution_attempts = EXCLUDED.execution_attempts,
			fragment = EXCLUDED.fragment,
			artifact_ref = EXCLUDED.artifact_ref,
			error = EXCLUDED.error,
			prompt_tokens = EXCLUDED.prompt_tokens,
			completion_tokens = EXCLUDED.completion_tokens,
			estimated_cost_usd = EXCLUDED.estimated_cost_usd,
			completed_at = EXCLUDED.completed_at
	`
	getResultByIDQuery     = `SELECT ` + resultColumns + ` FROM scene_results WHERE id = $1`
	listResultsByTaskQuery = `SELECT ` + resultColumns + ` FROM scene_results WHERE task_id = $1 ORDER BY scene_index, created_at`

	saveProgramQuery = `
		INSERT INTO video_programs (task_id, video_number, file_name, source, scenes_total, scenes_failed, artifact_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (task_id) DO UPDATE SET
			video_number = EXCLUDED.video_number,
			file_name = EXCLUDED.file_name,
			source = EXCLUDED.source,
			scenes_total = EXCLUDED.scenes_total,
			scenes_failed = EXCLUDED.scenes_failed,
			artifact_ref = EXCLUDED.artifact_ref
	`
	getProgramQuery = `
		SELECT task_id, video_number, file_name, source, scenes_total, scenes_failed, artifact_ref, created_at
		FROM video_programs WHERE task_id = $1
	`
)

// PgResultRepository - реализация ResultRepository поверх PostgreSQL.
type PgResultRepository struct {
	db     DBTX
	logger *zap.Logger
}

var _ ResultRepository = (*PgResultRepository)(nil)

// NewPgResultRepository создает репозиторий результатов.
func NewPgResultRepository(db DBTX, logger *zap.Logger) *PgResultRepository {
	return &PgResultRepository{db: db, logger: logger.Named("PgResultRepo")}
}

// Save сохраняет или обновляет результат сцены.
func (r *PgResultRepository) Save(ctx context.Context, result *model.SceneResult) error {
	if result.ID == uuid.Nil {
		result.ID = uuid.New()
	}
	tag, err := r.db.Exec(ctx, saveResultQuery,
		result.ID,
		result.TaskID,
		result.UserID,
		result.VideoNumber,
		result.SceneIndex,
		result.Title,
		result.Status,
		result.Provenance,
		result.Iterations,
		result.ExecutionAttempts,
		result.Fragment,
		result.ArtifactRef,
		result.Error,
		result.PromptTokens,
		result.CompletionTokens,
		result.EstimatedCostUSD,
		result.CreatedAt,
		result.CompletedAt,
	)
	if err != nil {
		r.logger.Error("Failed to save scene result",
			zap.String("task_id", result.TaskID),
			zap.Int("scene_index", result.SceneIndex),
			zap.Error(err),
		)
		return fmt.Errorf("error saving scene result: %w", err)
	}
	r.logger.Debug("Scene result saved",
		zap.String("id", result.ID.String()),
		zap.String("task_id", result.TaskID),
		zap.Int64("rows_affected", tag.RowsAffected()),
	)
	return nil
}

// GetByID возвращает результат по ID.
func (r *PgResultRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.SceneResult, error) {
	var result model.SceneResult
	if err := pgxscan.Get(ctx, r.db, &result, getResultByIDQuery, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		r.logger.Error("Failed to get scene result", zap.String("id", id.String()), zap.Error(err))
		return nil, fmt.Errorf("error getting scene result %s: %w", id, err)
	}
	return &result, nil
}

// ListByTask возвращает результаты задачи в порядке сцен. Пустой список - не ошибка.
func (r *PgResultRepository) ListByTask(ctx context.Context, taskID string) ([]*model.SceneResult, error) {
	results := []*model.SceneResult{}
	if err := pgxscan.Select(ctx, r.db, &results, listResultsByTaskQuery, taskID); err != nil {
		r.logger.Error("Failed to list scene results", zap.String("task_id", taskID), zap.Error(err))
		return nil, fmt.Errorf("error listing scene results for task %s: %w", taskID, err)
	}
	return results, nil
}

// SaveProgram сохраняет или обновляет программу ролика.
func (r *PgResultRepository) SaveProgram(ctx context.Context, p *model.VideoProgram) error {
	_, err := r.db.Exec(ctx, saveProgramQuery,
		p.TaskID,
		p.VideoNumber,
		p.FileName,
		p.Source,
		p.ScenesTotal,
		p.ScenesFailed,
		p.ArtifactRef,
		p.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to save video program", zap.String("task_id", p.TaskID), zap.Error(err))
		return fmt.Errorf("error saving video program: %w", err)
	}
	return nil
}

// GetProgram возвращает программу ролика задачи.
func (r *PgResultRepository) GetProgram(ctx context.Context, taskID string) (*model.VideoProgram, error) {
	var p model.VideoProgram
	if err := pgxscan.Get(ctx, r.db, &p, getProgramQuery, taskID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		r.logger.Error("Failed to get video program", zap.String("task_id", taskID), zap.Error(err))
		return nil, fmt.Errorf("error getting video program for task %s: %w", taskID, err)
	}
	return &p, nil
}

package model

import (
	"time"

	"github.com/google/uuid"
)

// SceneStatus - итоговый статус обработки сцены.
type SceneStatus string

const (
	SceneStatusRendered SceneStatus = "rendered"
	// SceneStatusSynthesized - код получен, исполнение не запускалось.
	SceneStatusSynthesized SceneStatus = "synthesized"
	SceneStatusFailed      SceneStatus = "failed"
)

// SceneResult - сохраняемый результат обработки одной сцены.
type SceneResult struct {
	ID                uuid.UUID   `db:"id" json:"id"`
	TaskID            string      `db:"task_id" json:"task_id"`
	UserID            string      `db:"user_id" json:"user_id"`
	VideoNumber       int         `db:"video_number" json:"video_number"`
	SceneIndex        int         `db:"scene_index" json:"scene_index"`
	Title             string      `db:"title" json:"title"`
	Status            SceneStatus `db:"status" json:"status"`
	Provenance        Provenance  `db:"provenance" json:"provenance"`
	Iterations        int         `db:"iterations" json:"iterations"`
	ExecutionAttempts int         `db:"execution_attempts" json:"execution_attempts"`
	Fragment          string      `db:"fragment" json:"fragment"`
	ArtifactRef       *string     `db:"artifact_ref" json:"artifact_ref,omitempty"`
	Error             *string     `db:"error" json:"error,omitempty"`
	PromptTokens      int         `db:"prompt_tokens" json:"prompt_tokens"`
	CompletionTokens  int         `db:"completion_tokens" json:"completion_tokens"`
	EstimatedCostUSD  float64     `db:"estimated_cost_usd" json:"estimated_cost_usd"`
	CreatedAt         time.Time   `db:"created_at" json:"created_at"`
	CompletedAt       time.Time   `db:"completed_at" json:"completed_at"`
}

// VideoProgram - сохраняемая полная программа ролика, собранная из успешных сцен.
type VideoProgram struct {
	TaskID       string    `db:"task_id" json:"task_id"`
	VideoNumber  int       `db:"video_number" json:"video_number"`
	FileName     string    `db:"file_name" json:"file_name"`
	Source       string    `db:"source" json:"source"`
	ScenesTotal  int       `db:"scenes_total" json:"scenes_total"`
	ScenesFailed int       `db:"scenes_failed" json:"scenes_failed"`
	ArtifactRef  *string   `db:"artifact_ref" json:"artifact_ref,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

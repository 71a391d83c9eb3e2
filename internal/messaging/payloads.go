// Package messaging - транспорт задач и уведомлений через RabbitMQ.
package messaging

import (
	"fmt"
	"strings"

	"scene-forge/internal/model"
)

// NotificationStatus - итоговый статус задачи в уведомлении.
type NotificationStatus string

const (
	NotificationStatusSuccess NotificationStatus = "success"
	// NotificationStatusPartial - часть сцен не удалась, программа собрана из остальных.
	NotificationStatusPartial NotificationStatus = "partial"
	NotificationStatusError   NotificationStatus = "error"
)

// SceneTaskPayload - задача на генерацию сцен одного ролика.
type SceneTaskPayload struct {
	TaskID string      `json:"task_id"`
	UserID string      `json:"user_id"`
	Video  model.Video `json:"video"`
}

// Validate проверяет обязательные поля задачи.
func (p SceneTaskPayload) Validate() error {
	if strings.TrimSpace(p.TaskID) == "" {
		return fmt.Errorf("%w: пустой task_id", model.ErrInvalidTask)
	}
	if err := p.Video.Validate(); err != nil {
		return fmt.Errorf("%w: %v", model.ErrInvalidTask, err)
	}
	return nil
}

// SceneNotification - краткий итог одной сцены.
type SceneNotification struct {
	Index       int               `json:"index"`
	Title       string            `json:"title"`
	Status      model.SceneStatus `json:"status"`
	Provenance  model.Provenance  `json:"provenance,omitempty"`
	ArtifactRef string            `json:"artifact_ref,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// NotificationPayload - уведомление о завершении задачи.
type NotificationPayload struct {
	TaskID       string              `json:"task_id"`
	UserID       string              `json:"user_id"`
	VideoNumber  int                 `json:"video_number"`
	Status       NotificationStatus  `json:"status"`
	ScenesTotal  int                 `json:"scenes_total"`
	ScenesFailed int                 `json:"scenes_failed"`
	Scenes       []SceneNotification `json:"scenes,omitempty"`
	ProgramFile  string              `json:"program_file,omitempty"`
	ArtifactRef  string              `json:"artifact_ref,omitempty"`
	ErrorDetails string              `json:"error_details,omitempty"`
}

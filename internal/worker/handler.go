// Package worker обрабатывает задачи генерации сцен из очереди.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"scene-forge/internal/messaging"
	"scene-forge/internal/model"
	"scene-forge/internal/pipeline"
	"scene-forge/internal/repository"
	"scene-forge/internal/service"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// saveTimeout ограничивает сохранение и уведомление после обработки.
const saveTimeout = 30 * time.Second

// VideoRunner обрабатывает все сцены ролика.
type VideoRunner interface {
	Run(ctx context.Context, video model.Video) (pipeline.BatchReport, error)
}

// TaskHandler обрабатывает задачу: пакет сцен -> сохранение -> уведомление.
type TaskHandler struct {
	runner   VideoRunner
	repo     repository.ResultRepository
	notifier messaging.Notifier
	now      func() time.Time
	logger   *zap.Logger
}

var _ messaging.TaskHandler = (*TaskHandler)(nil)

// NewTaskHandler создает обработчик задач.
func NewTaskHandler(runner VideoRunner, repo repository.ResultRepository, notifier messaging.Notifier, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{
		runner:   runner,
		repo:     repo,
		notifier: notifier,
		now:      time.Now,
		logger:   logger.Named("TaskHandler"),
	}
}

// Handle обрабатывает одну задачу. Ошибки отдельных сцен не делают задачу неуспешной:
// они попадают в сохраненные результаты и уведомление. Ошибка возвращается при
// некорректной задаче, отмене, сбое сборки, сохранения или уведомления.
func (h *TaskHandler) Handle(ctx context.Context, payload messaging.SceneTaskPayload) error {
	metricsTaskReceived()
	started := h.now()
	log := h.logger.With(zap.String("task_id", payload.TaskID), zap.String("user_id", payload.UserID))
	defer func() {
		metricsTaskDuration(h.now().Sub(started))
		_ = PushMetricsNow()
	}()

	if err := payload.Validate(); err != nil {
		log.Error("Invalid task payload", zap.Error(err))
		metricsTaskFailed("invalid_payload")
		h.notify(ctx, log, messaging.NotificationPayload{
			TaskID:       payload.TaskID,
			UserID:       payload.UserID,
			VideoNumber:  payload.Video.Number,
			Status:       messaging.NotificationStatusError,
			ErrorDetails: err.Error(),
		})
		return err
	}

	log.Info("Processing task", zap.Int("video", payload.Video.Number), zap.Int("scenes", len(payload.Video.Scenes)))
	report, runErr := h.runner.Run(service.ContextWithUser(ctx, payload.UserID), payload.Video)
	if runErr != nil && ctx.Err() != nil {
		metricsTaskFailed("cancelled")
		return runErr
	}
	completed := h.now()
	metricsTokens(report.Usage.PromptTokens, report.Usage.CompletionTokens)

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()

	var saveErr error
	for _, o := range report.Scenes {
		result := sceneResult(payload, o, started, completed)
		if err := h.repo.Save(saveCtx, result); err != nil {
			saveErr = errors.Join(saveErr, err)
		}
	}
	if report.Program != nil {
		program := &model.VideoProgram{
			TaskID:       payload.TaskID,
			VideoNumber:  payload.Video.Number,
			FileName:     report.Program.FileName,
			Source:       report.Program.Source,
			ScenesTotal:  len(report.Scenes),
			ScenesFailed: report.Failed,
			CreatedAt:    completed,
		}
		if report.Full != nil && report.Full.Success {
			program.ArtifactRef = &report.Full.ArtifactRef
		}
		if err := h.repo.SaveProgram(saveCtx, program); err != nil {
			saveErr = errors.Join(saveErr, err)
		}
	}

	notification := buildNotification(payload, report, runErr)
	if saveErr != nil && notification.Status == messaging.NotificationStatusSuccess {
		notification.Status = messaging.NotificationStatusError
		notification.ErrorDetails = fmt.Sprintf("ошибка сохранения результата: %v", saveErr)
	}
	notifyErr := h.notify(saveCtx, log, notification)

	switch {
	case runErr != nil:
		metricsTaskFailed("pipeline")
		return runErr
	case saveErr != nil:
		metricsTaskFailed("save_error")
		return fmt.Errorf("ошибка сохранения результатов задачи %s: %w", payload.TaskID, saveErr)
	case notifyErr != nil:
		metricsTaskFailed("notify_error")
		return notifyErr
	}

	metricsTaskSucceeded(string(notification.Status))
	log.Info("Task processed",
		zap.String("status", string(notification.Status)),
		zap.Int("failed_scenes", report.Failed),
		zap.Duration("duration", completed.Sub(started)),
	)
	return nil
}

func (h *TaskHandler) notify(ctx context.Context, log *zap.Logger, n messaging.NotificationPayload) error {
	if err := h.notifier.Notify(ctx, n); err != nil {
		log.Error("Failed to send notification", zap.Error(err))
		return err
	}
	return nil
}

func sceneResult(payload messaging.SceneTaskPayload, o pipeline.SceneOutcome, started, completed time.Time) *model.SceneResult {
	r := &model.SceneResult{
		ID:               uuid.New(),
		TaskID:           payload.TaskID,
		UserID:           payload.UserID,
		VideoNumber:      payload.Video.Number,
		SceneIndex:       o.Index,
		Title:            o.Spec.Title,
		Status:           o.Status,
		Provenance:       o.Fragment.Provenance,
		Fragment:         o.Fragment.Text,
		PromptTokens:     o.Usage.PromptTokens,
		CompletionTokens: o.Usage.CompletionTokens,
		EstimatedCostUSD: o.Usage.EstimatedCostUSD,
		CreatedAt:        started,
		CompletedAt:      completed,
	}
	if o.Session != nil {
		r.Iterations = o.Session.Iterations
	}
	if o.Execution != nil {
		r.ExecutionAttempts = o.Execution.Result.Attempts
		if o.Execution.Result.Success {
			ref := o.Execution.Result.ArtifactRef
			r.ArtifactRef = &ref
		}
	}
	if o.Err != nil {
		msg := o.Err.Error()
		r.Error = &msg
	}
	return r
}

func buildNotification(payload messaging.SceneTaskPayload, report pipeline.BatchReport, runErr error) messaging.NotificationPayload {
	n := messaging.NotificationPayload{
		TaskID:       payload.TaskID,
		UserID:       payload.UserID,
		VideoNumber:  payload.Video.Number,
		ScenesTotal:  len(report.Scenes),
		ScenesFailed: report.Failed,
	}
	var failures []string
	for _, o := range report.Scenes {
		s := messaging.SceneNotification{
			Index:      o.Index,
			Title:      o.Spec.Title,
			Status:     o.Status,
			Provenance: o.Fragment.Provenance,
		}
		if o.Execution != nil && o.Execution.Result.Success {
			s.ArtifactRef = o.Execution.Result.ArtifactRef
		}
		if o.Err != nil {
			s.Error = o.Err.Error()
			failures = append(failures, fmt.Sprintf("сцена %d: %v", o.Index+1, o.Err))
		}
		n.Scenes = append(n.Scenes, s)
	}
	if report.Program != nil {
		n.ProgramFile = report.Program.FileName
	}
	if report.Full != nil && report.Full.Success {
		n.ArtifactRef = report.Full.ArtifactRef
	}

	switch {
	case runErr != nil:
		n.Status = messaging.NotificationStatusError
		n.ErrorDetails = runErr.Error()
	case report.Failed == 0:
		n.Status = messaging.NotificationStatusSuccess
	case report.Program != nil:
		n.Status = messaging.NotificationStatusPartial
		n.ErrorDetails = strings.Join(failures, "; ")
	default:
		n.Status = messaging.NotificationStatusError
		n.ErrorDetails = strings.Join(failures, "; ")
	}
	return n
}

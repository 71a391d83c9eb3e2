// Package api - HTTP API сервиса: проверка и очистка фрагментов, правила, сохраненные результаты.
package api

import (
	"errors"
	"net/http"
	"strings"

	"scene-forge/internal/execution"
	"scene-forge/internal/model"
	"scene-forge/internal/policy"
	"scene-forge/internal/repository"
	"scene-forge/internal/synthesis"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// APIError - стандартный ответ об ошибке.
type APIError struct {
	Message string `json:"message"`
}

// Handler обрабатывает HTTP запросы API.
type Handler struct {
	policies  policy.Provider
	prompts   *synthesis.Prompts
	syntax    synthesis.SyntaxChecker
	assembler *execution.Assembler
	repo      repository.ResultRepository
	logger    *zap.Logger
}

// NewHandler создает обработчик. syntax может быть nil: тогда синтаксис не проверяется.
func NewHandler(
	policies policy.Provider,
	prompts *synthesis.Prompts,
	syntax synthesis.SyntaxChecker,
	assembler *execution.Assembler,
	repo repository.ResultRepository,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		policies:  policies,
		prompts:   prompts,
		syntax:    syntax,
		assembler: assembler,
		repo:      repo,
		logger:    logger.Named("APIHandler"),
	}
}

// RegisterRoutes регистрирует маршруты API.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/health", h.health)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/policy", h.getPolicy)
		v1.POST("/validate", h.validateFragment)
		v1.POST("/sanitize", h.sanitizeFragment)
		v1.POST("/assemble", h.assembleFragment)

		v1.GET("/results/:id", h.getResult)
		v1.GET("/tasks/:taskId/results", h.listTaskResults)
		v1.GET("/tasks/:taskId/program", h.getTaskProgram)
	}
}

func handleServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		c.JSON(http.StatusNotFound, APIError{Message: "Resource not found"})
	case errors.Is(err, model.ErrInvalidScene):
		c.JSON(http.StatusBadRequest, APIError{Message: err.Error()})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, APIError{Message: "Internal server error"})
	}
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) getPolicy(c *gin.Context) {
	c.JSON(http.StatusOK, h.policies.Current().Definition())
}

type validateRequest struct {
	Fragment string                   `json:"fragment"`
	Scene    model.SceneSpecification `json:"scene"`
	// Sanitize - очистить фрагмент перед проверкой, как это делает цикл синтеза.
	Sanitize bool `json:"sanitize"`
}

type validateResponse struct {
	PolicyVersion string                 `json:"policy_version"`
	Fragment      string                 `json:"fragment"`
	Clean         bool                   `json:"clean"`
	Report        model.ValidationReport `json:"report"`
}

func (h *Handler) validateFragment(c *gin.Context) {
	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, APIError{Message: "Invalid request body: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.Fragment) == "" {
		c.JSON(http.StatusBadRequest, APIError{Message: "fragment is required"})
		return
	}

	rs := h.policies.Current()
	fragment := req.Fragment
	if req.Sanitize {
		fragment = synthesis.NewSanitizer(rs).Sanitize(fragment)
	}

	var opts []synthesis.ValidatorOption
	if h.syntax != nil {
		opts = append(opts, synthesis.WithSyntaxChecker(h.syntax))
	}
	validator := synthesis.NewValidator(rs, h.prompts, h.logger, opts...)
	report, err := validator.Validate(c.Request.Context(), model.Candidate{Text: fragment}, req.Scene)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, validateResponse{
		PolicyVersion: rs.Version(),
		Fragment:      fragment,
		Clean:         report.IsClean(),
		Report:        report,
	})
}

type sanitizeRequest struct {
	Fragment string `json:"fragment"`
}

func (h *Handler) sanitizeFragment(c *gin.Context) {
	var req sanitizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, APIError{Message: "Invalid request body: " + err.Error()})
		return
	}
	rs := h.policies.Current()
	c.JSON(http.StatusOK, gin.H{
		"policy_version": rs.Version(),
		"fragment":       synthesis.NewSanitizer(rs).Sanitize(req.Fragment),
	})
}

type assembleRequest struct {
	Video    model.Video `json:"video"`
	Index    int         `json:"index"`
	Fragment string      `json:"fragment"`
}

func (h *Handler) assembleFragment(c *gin.Context) {
	var req assembleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, APIError{Message: "Invalid request body: " + err.Error()})
		return
	}
	fragment := synthesis.NewSanitizer(h.policies.Current()).Sanitize(req.Fragment)
	program, err := h.assembler.Scene(req.Video, req.Index, fragment)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, program)
}

func (h *Handler) getResult(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, APIError{Message: "Invalid result ID format"})
		return
	}
	result, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) listTaskResults(c *gin.Context) {
	results, err := h.repo.ListByTask(c.Request.Context(), c.Param("taskId"))
	if err != nil {
		handleServiceError(c, err)
		return
	}
	if results == nil {
		results = []*model.SceneResult{}
	}
	c.JSON(http.StatusOK, gin.H{"data": results})
}

func (h *Handler) getTaskProgram(c *gin.Context) {
	program, err := h.repo.GetProgram(c.Request.Context(), c.Param("taskId"))
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, program)
}

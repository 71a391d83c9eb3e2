package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"scene-forge/internal/model"

	"github.com/liushuangls/go-anthropic/v2"
	"github.com/ollama/ollama/api"
	"github.com/pkoukk/tiktoken-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// GenerationParams - параметры генерации. Указатели отличают 0 от "не задано".
type GenerationParams struct {
	Temperature *float64
	MaxTokens   *int
	TopP        *float64
}

// Params - удобный конструктор параметров генерации.
func Params(temperature float64, maxTokens int) GenerationParams {
	return GenerationParams{Temperature: &temperature, MaxTokens: &maxTokens}
}

// UsageInfo - потребление токенов и оценочная стоимость одного вызова.
type UsageInfo struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	EstimatedCostUSD float64
}

// ToModel конвертирует в модельное представление.
func (u UsageInfo) ToModel() model.Usage {
	return model.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		EstimatedCostUSD: u.EstimatedCostUSD,
	}
}

// AIClient - порт генерации текста: промт -> текст.
// Любая ошибка оборачивает model.ErrBackend и считается фатальной для сессии.
type AIClient interface {
	GenerateText(ctx context.Context, userID string, systemPrompt string, userInput string, params GenerationParams) (string, UsageInfo, error)
}

var (
	aiRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scene_forge_ai_requests_total",
			Help: "Total number of requests to the AI backend.",
		},
		[]string{"client", "model", "status"},
	)
	aiRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scene_forge_ai_request_duration_seconds",
			Help:    "Histogram of AI backend request durations.",
			Buckets: []float64{1, 2.5, 5, 10, 20, 40, 60, 90, 120, 180, 300},
		},
		[]string{"client", "model"},
	)
	aiPromptTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scene_forge_ai_prompt_tokens",
			Help:    "Histogram of prompt token counts.",
			Buckets: prometheus.ExponentialBuckets(500, 2, 8),
		},
		[]string{"client", "model"},
	)
	aiCompletionTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scene_forge_ai_completion_tokens",
			Help:    "Histogram of completion token counts.",
			Buckets: prometheus.ExponentialBuckets(250, 2, 8),
		},
		[]string{"client", "model"},
	)
	aiEstimatedCostUSD = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scene_forge_ai_estimated_cost_usd_total",
			Help: "Estimated total cost of AI requests in USD.",
		},
		[]string{"client", "model"},
	)
)

// ClientConfig - настройки подключения к AI бэкенду.
type ClientConfig struct {
	Type                  string
	BaseURL               string
	Model                 string
	APIKey                string
	Timeout               time.Duration
	InputPricePerMillion  float64
	OutputPricePerMillion float64
}

func (c ClientConfig) cost(promptTokens, completionTokens int) float64 {
	return float64(promptTokens)*c.InputPricePerMillion/1_000_000.0 +
		float64(completionTokens)*c.OutputPricePerMillion/1_000_000.0
}

// NewAIClient создает клиента в зависимости от типа.
func NewAIClient(cfg ClientConfig, logger *zap.Logger) (AIClient, error) {
	log := logger.Named("AIClient").With(zap.String("client", cfg.Type), zap.String("model", cfg.Model))
	httpClient := &http.Client{Timeout: cfg.Timeout}

	switch strings.ToLower(cfg.Type) {
	case "openai":
		openaiConfig := openaigo.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			openaiConfig.BaseURL = cfg.BaseURL
		}
		openaiConfig.HTTPClient = httpClient
		log.Info("OpenAI-compatible client created", zap.String("base_url", cfg.BaseURL), zap.Duration("timeout", cfg.Timeout))
		return &openAIClient{client: openaigo.NewClientWithConfig(openaiConfig), cfg: cfg, logger: log}, nil

	case "ollama":
		// api.NewClient ожидает URL без суффикса /v1
		base := strings.TrimSuffix(strings.TrimSuffix(cfg.BaseURL, "/"), "/v1")
		parsedURL, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("ошибка парсинга Ollama Base URL '%s': %w", base, err)
		}
		log.Info("Ollama client created", zap.String("base_url", base), zap.Duration("timeout", cfg.Timeout))
		return &ollamaClient{client: api.NewClient(parsedURL, httpClient), cfg: cfg, logger: log}, nil

	case "anthropic":
		opts := []anthropic.ClientOption{anthropic.WithHTTPClient(httpClient)}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		log.Info("Anthropic client created", zap.String("base_url", cfg.BaseURL), zap.Duration("timeout", cfg.Timeout))
		return &anthropicClient{client: anthropic.NewClient(cfg.APIKey, opts...), cfg: cfg, logger: log}, nil

	default:
		return nil, fmt.Errorf("неизвестный тип AI клиента: '%s'", cfg.Type)
	}
}

// observe обновляет метрики успешного вызова и дописывает стоимость.
func observe(cfg ClientConfig, usage *UsageInfo, duration time.Duration) {
	labels := prometheus.Labels{"client": cfg.Type, "model": cfg.Model}
	aiRequestsTotal.With(prometheus.Labels{"client": cfg.Type, "model": cfg.Model, "status": "success"}).Inc()
	aiRequestDuration.With(labels).Observe(duration.Seconds())
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	if usage.TotalTokens > 0 {
		aiPromptTokens.With(labels).Observe(float64(usage.PromptTokens))
		aiCompletionTokens.With(labels).Observe(float64(usage.CompletionTokens))
		usage.EstimatedCostUSD = cfg.cost(usage.PromptTokens, usage.CompletionTokens)
		if usage.EstimatedCostUSD > 0 {
			aiEstimatedCostUSD.With(labels).Add(usage.EstimatedCostUSD)
		}
	}
}

// fail фиксирует ошибку в метриках и оборачивает ее в model.ErrBackend, сохраняя исходную причину.
func fail(cfg ClientConfig, logger *zap.Logger, status string, duration time.Duration, err error) error {
	aiRequestsTotal.With(prometheus.Labels{"client": cfg.Type, "model": cfg.Model, "status": status}).Inc()
	if errors.Is(err, context.DeadlineExceeded) {
		logger.Error("AI request timed out", zap.Duration("elapsed", duration), zap.Error(err))
	} else {
		logger.Error("AI request failed", zap.String("status", status), zap.Duration("elapsed", duration), zap.Error(err))
	}
	return fmt.Errorf("%w: %w", model.ErrBackend, err)
}

func checkPrompt(systemPrompt, userInput string) error {
	if strings.TrimSpace(systemPrompt) == "" && strings.TrimSpace(userInput) == "" {
		return errors.New("пустой промт")
	}
	return nil
}

// estimateTokens оценивает число токенов через tiktoken, если бэкенд не вернул usage.
func estimateTokens(modelName string, texts ...string) int {
	tke, err := tiktoken.EncodingForModel(modelName)
	if err != nil {
		tke, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return 0
		}
	}
	total := 0
	for _, t := range texts {
		total += len(tke.Encode(t, nil, nil))
	}
	return total
}

// --- OpenAI ---

type openAIClient struct {
	client *openaigo.Client
	cfg    ClientConfig
	logger *zap.Logger
}

func (c *openAIClient) GenerateText(ctx context.Context, userID string, systemPrompt string, userInput string, params GenerationParams) (string, UsageInfo, error) {
	var usage UsageInfo
	if err := checkPrompt(systemPrompt, userInput); err != nil {
		return "", usage, fail(c.cfg, c.logger, "error_empty_prompt", 0, err)
	}

	messages := make([]openaigo.ChatCompletionMessage, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, openaigo.ChatCompletionMessage{Role: openaigo.ChatMessageRoleSystem, Content: systemPrompt})
	}
	if userInput != "" {
		messages = append(messages, openaigo.ChatCompletionMessage{Role: openaigo.ChatMessageRoleUser, Content: userInput})
	}

	req := openaigo.ChatCompletionRequest{
		Model:    c.cfg.Model,
		Messages: messages,
		User:     userID,
	}
	if params.Temperature != nil {
		req.Temperature = float32(*params.Temperature)
	}
	if params.MaxTokens != nil {
		req.MaxTokens = *params.MaxTokens
	}
	if params.TopP != nil {
		req.TopP = float32(*params.TopP)
	}

	start := time.Now()
	c.logger.Debug("Sending AI request", zap.Int("system_bytes", len(systemPrompt)), zap.Int("input_bytes", len(userInput)), zap.String("user_id", userID))
	resp, err := c.client.CreateChatCompletion(ctx, req)
	duration := time.Since(start)
	if err != nil {
		return "", usage, fail(c.cfg, c.logger, "error", duration, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", usage, fail(c.cfg, c.logger, "error_empty_response", duration, errors.New("получен пустой ответ"))
	}
	text := resp.Choices[0].Message.Content

	usage.PromptTokens = resp.Usage.PromptTokens
	usage.CompletionTokens = resp.Usage.CompletionTokens
	usage.TotalTokens = resp.Usage.TotalTokens
	if usage.TotalTokens == 0 {
		// Часть совместимых прокси не возвращает usage
		usage.PromptTokens = estimateTokens(c.cfg.Model, systemPrompt, userInput)
		usage.CompletionTokens = estimateTokens(c.cfg.Model, text)
	}
	observe(c.cfg, &usage, duration)

	c.logger.Debug("AI response received", zap.Duration("elapsed", duration), zap.Int("response_bytes", len(text)),
		zap.Int("prompt_tokens", usage.PromptTokens), zap.Int("completion_tokens", usage.CompletionTokens))
	return text, usage, nil
}

// --- Ollama ---

type ollamaClient struct {
	client *api.Client
	cfg    ClientConfig
	logger *zap.Logger
}

func (c *ollamaClient) GenerateText(ctx context.Context, userID string, systemPrompt string, userInput string, params GenerationParams) (string, UsageInfo, error) {
	var usage UsageInfo
	if err := checkPrompt(systemPrompt, userInput); err != nil {
		return "", usage, fail(c.cfg, c.logger, "error_empty_prompt", 0, err)
	}

	messages := make([]api.Message, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, api.Message{Role: "system", Content: systemPrompt})
	}
	if userInput != "" {
		messages = append(messages, api.Message{Role: "user", Content: userInput})
	}

	options := map[string]interface{}{}
	if params.Temperature != nil {
		options["temperature"] = *params.Temperature
	}
	if params.TopP != nil {
		options["top_p"] = *params.TopP
	}
	if params.MaxTokens != nil {
		options["num_predict"] = *params.MaxTokens
	}

	stream := false
	req := &api.ChatRequest{
		Model:    c.cfg.Model,
		Messages: messages,
		Stream:   &stream,
		Options:  options,
	}

	requestCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	c.logger.Debug("Sending Ollama request", zap.Int("system_bytes", len(systemPrompt)), zap.Int("input_bytes", len(userInput)), zap.String("user_id", userID))
	var resp api.ChatResponse
	err := c.client.Chat(requestCtx, req, func(r api.ChatResponse) error {
		resp = r
		return nil
	})
	duration := time.Since(start)
	if err != nil {
		return "", usage, fail(c.cfg, c.logger, "error", duration, err)
	}
	if resp.Message.Content == "" {
		return "", usage, fail(c.cfg, c.logger, "error_empty_response", duration, errors.New("получен пустой ответ"))
	}

	usage.PromptTokens = resp.PromptEvalCount
	usage.CompletionTokens = resp.EvalCount
	observe(c.cfg, &usage, duration)
	// Локальная модель, стоимость не считаем
	usage.EstimatedCostUSD = 0
	return resp.Message.Content, usage, nil
}

// --- Anthropic ---

const anthropicDefaultMaxTokens = 4096

type anthropicClient struct {
	client *anthropic.Client
	cfg    ClientConfig
	logger *zap.Logger
}

func (c *anthropicClient) GenerateText(ctx context.Context, userID string, systemPrompt string, userInput string, params GenerationParams) (string, UsageInfo, error) {
	var usage UsageInfo
	if err := checkPrompt(systemPrompt, userInput); err != nil {
		return "", usage, fail(c.cfg, c.logger, "error_empty_prompt", 0, err)
	}

	// Messages API требует хотя бы одно сообщение пользователя
	system, input := systemPrompt, userInput
	if strings.TrimSpace(input) == "" {
		system, input = "", systemPrompt
	}

	req := anthropic.MessagesRequest{
		Model:     anthropic.Model(c.cfg.Model),
		System:    system,
		Messages:  []anthropic.Message{anthropic.NewUserTextMessage(input)},
		MaxTokens: anthropicDefaultMaxTokens,
	}
	if params.MaxTokens != nil {
		req.MaxTokens = *params.MaxTokens
	}
	if params.Temperature != nil {
		t := float32(*params.Temperature)
		req.Temperature = &t
	}
	if params.TopP != nil {
		p := float32(*params.TopP)
		req.TopP = &p
	}

	start := time.Now()
	c.logger.Debug("Sending Anthropic request", zap.Int("system_bytes", len(system)), zap.Int("input_bytes", len(input)), zap.String("user_id", userID))
	resp, err := c.client.CreateMessages(ctx, req)
	duration := time.Since(start)
	if err != nil {
		return "", usage, fail(c.cfg, c.logger, "error", duration, err)
	}
	text := resp.GetFirstContentText()
	if text == "" {
		return "", usage, fail(c.cfg, c.logger, "error_empty_response", duration, errors.New("получен пустой ответ"))
	}

	usage.PromptTokens = resp.Usage.InputTokens
	usage.CompletionTokens = resp.Usage.OutputTokens
	observe(c.cfg, &usage, duration)
	return text, usage, nil
}

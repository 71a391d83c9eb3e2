package model

// Provenance - происхождение кандидата.
type Provenance string

const (
	ProvenanceSynthesis Provenance = "synthesis"
	ProvenanceRepair    Provenance = "repair"
	ProvenanceEmergency Provenance = "emergency"
	// ProvenanceCache - фрагмент взят из кэша ранее отрендеренных сцен.
	ProvenanceCache Provenance = "cache"
)

// Candidate - кандидат-фрагмент кода сцены.
type Candidate struct {
	Text       string     `json:"text"`
	Provenance Provenance `json:"provenance"`
	Iteration  int        `json:"iteration"`
	Sanitized  bool       `json:"sanitized"`
	// ParseFailure заполнен, если из ответа бэкенда не удалось извлечь ровно один блок кода.
	// В этом случае Text содержит сырой ответ.
	ParseFailure string `json:"parse_failure,omitempty"`
	Usage        Usage  `json:"usage"`
}

// Usage - потребление токенов на получение кандидата.
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
}

// Add суммирует потребление.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		EstimatedCostUSD: u.EstimatedCostUSD + other.EstimatedCostUSD,
	}
}

// Parsed сообщает, был ли код успешно извлечен из ответа.
func (c Candidate) Parsed() bool {
	return c.ParseFailure == ""
}

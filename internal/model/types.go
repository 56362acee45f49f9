package model

// Request is a single foundation-model invocation.
type Request struct {
	Prompt      string  `json:"prompt"`
	System      string  `json:"system,omitempty"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// Response is the raw model output. It is transient: the validator consumes
// it and only the audit record retains the content.
type Response struct {
	Content      string `json:"content"`
	StopReason   string `json:"stop_reason"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	Model        string `json:"model"`
}

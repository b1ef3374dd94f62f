package interfaces

import "context"

// LLMClient is the completion contract consumed by planning strategies that
// call out for goal decomposition. Errors propagate as planner errors.
type LLMClient interface {
	// Generate produces a completion for the prompt.
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (*Generation, error)
}

// GenerateOptions tunes a single generation request.
type GenerateOptions struct {
	Model       string  `json:"model,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// Generation is the result of a completion request.
type Generation struct {
	Output string `json:"output"`
	Model  string `json:"model"`
	Usage  Usage  `json:"usage"`
}

// Usage reports token consumption for a generation.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

package cloud

import (
	"github.com/hrygo/fincue/ai/backend"
	"github.com/hrygo/fincue/ai/capability"
	"github.com/hrygo/fincue/ai/core/llm"
)

// Pricing holds USD list prices for the remote models.
type Pricing struct {
	InputPerMillion        float64 `json:"input_per_million"`
	OutputPerMillion       float64 `json:"output_per_million"`
	TranscriptionPerMinute float64 `json:"transcription_per_minute"`
}

// DefaultPricing matches gpt-4o-mini and whisper-1 list prices.
func DefaultPricing() Pricing {
	return Pricing{
		InputPerMillion:        0.15,
		OutputPerMillion:       0.60,
		TranscriptionPerMinute: 0.006,
	}
}

// Token budgets used for estimates before a call is made.
const (
	promptOverheadTokens  = 250
	textCompletionTokens  = 120
	imageInputTokens      = 1100
	imageCompletionTokens = 300
	bytesPerToken         = 4
)

func (p Pricing) tokens(prompt, completion int) float64 {
	return float64(prompt)*p.InputPerMillion/1e6 + float64(completion)*p.OutputPerMillion/1e6
}

func (p Pricing) chatCost(stats *llm.CallStats) float64 {
	if stats == nil {
		return 0
	}
	return p.tokens(stats.PromptTokens, stats.CompletionTokens)
}

func (p Pricing) transcriptionCost(seconds float64) float64 {
	return seconds / 60 * p.TranscriptionPerMinute
}

// Estimate returns the expected cost of a call on an input of size bytes.
func (p Pricing) Estimate(kind backend.TaskKind, size int) float64 {
	switch kind {
	case backend.TaskImage:
		return p.tokens(promptOverheadTokens+imageInputTokens, imageCompletionTokens)
	case backend.TaskAudio:
		return p.transcriptionCost(capability.AudioDurationSeconds(size))
	default:
		return p.tokens(promptOverheadTokens+size/bytesPerToken, textCompletionTokens)
	}
}

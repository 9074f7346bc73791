package llm

import "github.com/firebase/genkit/go/ai"

// Usage counts tokens consumed by model calls. Values accumulate
// additively across every call made while serving one request.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add accumulates other into u component-wise.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
}

// usageFromResponse extracts token counts from a model response.
// Responses without usage metadata count as zero.
func usageFromResponse(resp *ai.ModelResponse) Usage {
	if resp == nil || resp.Usage == nil {
		return Usage{}
	}
	return Usage{
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}
}

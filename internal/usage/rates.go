package usage

// DefaultRates is a small seed rate table for commonly deployed models.
// It is deliberately incomplete — new models are added here as they're
// onboarded; anything missing falls back to zero cost rather than
// blocking a chat call.
var DefaultRates = Table{
	"gpt-4o": {
		PromptPer1K:     0.005,
		CompletionPer1K: 0.015,
	},
	"gpt-4o-mini": {
		PromptPer1K:     0.00015,
		CompletionPer1K: 0.0006,
	},
	"claude-3-opus-20240229": {
		PromptPer1K:     0.015,
		CompletionPer1K: 0.075,
	},
	"claude-3-5-sonnet-20241022": {
		PromptPer1K:     0.003,
		CompletionPer1K: 0.015,
	},
	"claude-3-5-haiku-20241022": {
		PromptPer1K:     0.0008,
		CompletionPer1K: 0.004,
	},
}

// Package usage tracks token accounting and approximate USD cost. It
// mirrors the teacher's provider.Usage type but separates token counting
// from cost, since cost needs an external, swappable rate table (spec §9
// Open Question (c): the cost table is data, not behavior).
package usage

// Usage holds non-negative token counts returned by an upstream provider.
// When a response omits usage entirely, the zero value is reported —
// never an error.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Total is the sum of prompt and completion tokens.
func (u Usage) Total() int {
	return u.PromptTokens + u.CompletionTokens
}

// Cost is the result of pricing a Usage against a model's Rate. Each
// field is carried at full floating precision; rounding and currency
// formatting are the caller's concern.
type Cost struct {
	PromptCost     float64
	CompletionCost float64
}

// Total is the sum of prompt and completion cost.
func (c Cost) Total() float64 {
	return c.PromptCost + c.CompletionCost
}

// Rate is the $-per-1000-tokens price for a model's prompt and
// completion tokens.
type Rate struct {
	PromptPer1K     float64
	CompletionPer1K float64
}

// Table maps a model name to its Rate. Unknown models are not an error —
// Cost will look up a zero Rate for them and return zero cost.
type Table map[string]Rate

// Cost prices a Usage for the given model. A model absent from the table
// returns zero cost rather than failing — pricing data lags model
// releases and a missing row must never block a chat call.
func (t Table) Cost(model string, u Usage) Cost {
	rate := t[model] // zero value for unknown models
	return Cost{
		PromptCost:     float64(u.PromptTokens) / 1000 * rate.PromptPer1K,
		CompletionCost: float64(u.CompletionTokens) / 1000 * rate.CompletionPer1K,
	}
}

package usage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUsageTotal(t *testing.T) {
	u := Usage{PromptTokens: 10, CompletionTokens: 5}
	assert.Equal(t, 15, u.Total())
}

func TestTableCost_KnownModel(t *testing.T) {
	table := Table{
		"m": {PromptPer1K: 1.0, CompletionPer1K: 2.0},
	}
	c := table.Cost("m", Usage{PromptTokens: 1000, CompletionTokens: 500})
	assert.Equal(t, 1.0, c.PromptCost)
	assert.Equal(t, 1.0, c.CompletionCost)
	assert.Equal(t, 2.0, c.Total())
}

func TestTableCost_UnknownModel(t *testing.T) {
	table := Table{"m": {PromptPer1K: 1.0, CompletionPer1K: 2.0}}
	c := table.Cost("unknown-model", Usage{PromptTokens: 1000, CompletionTokens: 500})
	assert.Equal(t, 0.0, c.PromptCost)
	assert.Equal(t, 0.0, c.CompletionCost)
	assert.Equal(t, 0.0, c.Total())
}

func TestDefaultRates_NotEmpty(t *testing.T) {
	assert.NotEmpty(t, DefaultRates)
	_, ok := DefaultRates["gpt-4o"]
	assert.True(t, ok)
}

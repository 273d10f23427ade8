package tokens

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCounter_UnknownModelFallsBack(t *testing.T) {
	counter, err := NewCounter("definitely-not-a-real-model")
	require.NoError(t, err)

	count := counter.Count("hello world")
	assert.Greater(t, count, 0)
}

func TestCounter_CountGrowsWithText(t *testing.T) {
	counter, err := NewCounter("gpt-4")
	require.NoError(t, err)

	short := counter.Count("hi")
	long := counter.Count("the quick brown fox jumps over the lazy dog, repeatedly and at length")
	assert.Greater(t, long, short)
}

func TestEstimate_NeverNegative(t *testing.T) {
	assert.GreaterOrEqual(t, Estimate("gpt-4", ""), 0)
	assert.Greater(t, Estimate("gpt-4", "some text to count"), 0)
}

package testutil

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedIDGenerator_ReturnsSameID(t *testing.T) {
	gen := NewFixedIDGenerator("u-1")
	assert.Equal(t, "u-1", gen.Generate())
	assert.Equal(t, "u-1", gen.Generate())
}

func TestFixedIDGenerator_EmptyIDDefault(t *testing.T) {
	assert.Equal(t, "test-universe", NewFixedIDGenerator("").Generate())
}

func TestDevConfig_EnablesGuards(t *testing.T) {
	limits := DevConfig().Limits()
	assert.Less(t, limits.MaxNrOfChanges, math.MaxInt)
	assert.Less(t, limits.MaxNrOfObservers, math.MaxInt)
}

func TestContext_HasDeadline(t *testing.T) {
	_, ok := Context(t).Deadline()
	require.True(t, ok)
}

func TestLogger_WritesThroughT(t *testing.T) {
	Logger(t).Info("hello", "key", "value")
}

package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sparringlabs/sparring/types"
)

func TestNewConversationStateWithOpeningKey(t *testing.T) {
	record := map[string]any{
		"input":        "I need a discount.",
		"instructions": "be persistent",
	}

	state, err := NewConversationState(record, "input")
	require.NoError(t, err)

	// Opening value seeds one assistant message
	require.Len(t, state.Messages, 1)
	assert.Equal(t, types.RoleAssistant, state.Messages[0].Role)
	assert.Equal(t, "I need a discount.", state.Messages[0].Content)

	// Context is the record minus the consumed opening key
	assert.NotContains(t, state.Context, "input")
	assert.Equal(t, "be persistent", state.Context["instructions"])
}

func TestNewConversationStateWithoutOpeningKey(t *testing.T) {
	record := map[string]any{"instructions": "be persistent"}

	state, err := NewConversationState(record, "")
	require.NoError(t, err)

	assert.Empty(t, state.Messages)
	assert.Equal(t, "be persistent", state.Context["instructions"])
}

func TestNewConversationStateMissingOpeningKey(t *testing.T) {
	_, err := NewConversationState(map[string]any{}, "input")
	assert.ErrorIs(t, err, ErrOpeningKeyMissing)
}

func TestNewConversationStateNonStringOpening(t *testing.T) {
	state, err := NewConversationState(map[string]any{"input": 42}, "input")
	require.NoError(t, err)
	assert.Equal(t, "42", state.Messages[0].Content)
}

func TestNewConversationStateDoesNotAliasRecord(t *testing.T) {
	record := map[string]any{"input": "hello", "extra": "kept"}

	state, err := NewConversationState(record, "input")
	require.NoError(t, err)

	// Consuming the opening key must not mutate the caller's record
	assert.Equal(t, "hello", record["input"])
	assert.NotContains(t, state.Context, "input")
}

func TestAppendIsPure(t *testing.T) {
	state, err := NewConversationState(map[string]any{"input": "first"}, "input")
	require.NoError(t, err)

	next := state.Append(types.Message{Role: types.RoleUser, Content: "second"})

	assert.Len(t, state.Messages, 1)
	require.Len(t, next.Messages, 2)
	assert.Equal(t, "second", next.Messages[1].Content)

	// Appending to the successor never disturbs earlier snapshots
	third := next.Append(types.Message{Role: types.RoleAssistant, Content: "third"})
	assert.Len(t, state.Messages, 1)
	assert.Len(t, next.Messages, 2)
	assert.Len(t, third.Messages, 3)
}

func TestLastMessage(t *testing.T) {
	state := &ConversationState{}
	_, ok := state.LastMessage()
	assert.False(t, ok)

	state = state.Append(types.Message{Role: types.RoleUser, Content: "only"})
	last, ok := state.LastMessage()
	require.True(t, ok)
	assert.Equal(t, "only", last.Content)
}

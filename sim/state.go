// Package sim implements the turn-taking core of the simulator: conversation
// state, perspective translation, the termination policy, and the scheduler
// that alternates control between the system under test and its counterpart.
package sim

import (
	"errors"
	"fmt"

	"github.com/sparringlabs/sparring/types"
)

// ErrOpeningKeyMissing is returned when a configured opening key is absent
// from the input record. It is raised before any agent invocation.
var ErrOpeningKeyMissing = errors.New("opening key not present in record")

// ConversationState holds the transcript of a single run plus the side-channel
// context fixed at run start.
//
// Messages is append-only within a run and always stores absolute roles.
// Context is visible in full only to the counterpart; the system under test
// receives the transcript alone.
type ConversationState struct {
	Messages []types.Message
	Context  map[string]any
}

// NewConversationState builds the initial state for a run from an input record.
//
// If openingKey is non-empty, the record must contain it; its value seeds the
// transcript with one assistant message (the system under test speaks first)
// and is removed from the context. If openingKey is empty the transcript
// starts empty and the counterpart speaks first.
func NewConversationState(record map[string]any, openingKey string) (*ConversationState, error) {
	if openingKey == "" {
		return &ConversationState{
			Messages: []types.Message{},
			Context:  cloneContext(record),
		}, nil
	}

	opening, ok := record[openingKey]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrOpeningKeyMissing, openingKey)
	}

	content, ok := opening.(string)
	if !ok {
		// Scalar normalization happens only here, at the ingestion boundary.
		content = fmt.Sprint(opening)
	}

	context := cloneContext(record)
	delete(context, openingKey)

	return &ConversationState{
		Messages: []types.Message{{Role: types.RoleAssistant, Content: content}},
		Context:  context,
	}, nil
}

// Append returns a new state with the message appended. The receiver is left
// unchanged, so previously yielded snapshots stay valid.
func (s *ConversationState) Append(msg types.Message) *ConversationState {
	messages := make([]types.Message, 0, len(s.Messages)+1)
	messages = append(messages, s.Messages...)
	messages = append(messages, msg)

	return &ConversationState{
		Messages: messages,
		Context:  s.Context,
	}
}

// LastMessage returns the most recent message, if any.
func (s *ConversationState) LastMessage() (types.Message, bool) {
	if len(s.Messages) == 0 {
		return types.Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

func cloneContext(record map[string]any) map[string]any {
	context := make(map[string]any, len(record))
	for k, v := range record {
		context[k] = v
	}
	return context
}

package sim

import "github.com/sparringlabs/sparring/types"

// SwapRoles returns a perspective-shifted copy of the transcript for the
// counterpart: messages the counterpart authored appear under its own role,
// and messages from the system under test appear as the other party's.
//
// The result has the same length and order as the input and content is copied
// verbatim. Applying SwapRoles twice restores the original sequence. The
// swapped view is transient: it is handed to the counterpart for one
// invocation and never written back into the conversation state.
func SwapRoles(messages []types.Message) []types.Message {
	if messages == nil {
		return nil
	}

	swapped := make([]types.Message, len(messages))
	for i, msg := range messages {
		msg.Role = types.SwapRole(msg.Role)
		swapped[i] = msg
	}
	return swapped
}

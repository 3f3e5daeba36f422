package sim

import "strings"

// StopSentinel is the literal content a counterpart emits to end a run early.
// Comparison is exact after trimming surrounding whitespace.
const StopSentinel = "FINISHED"

// DefaultMaxTurns is the message-count cutoff applied when a run does not
// configure its own limit.
const DefaultMaxTurns = 6

// TerminationPolicy decides, after each counterpart turn, whether the run
// stops. It is never consulted after a turn by the system under test, which
// unconditionally yields to the counterpart.
type TerminationPolicy func(state *ConversationState, maxTurns int) bool

// DefaultTermination stops a run when the transcript has grown past maxTurns
// total messages, or when the counterpart's latest message is the stop
// sentinel. The cutoff counts individual messages, not exchange pairs.
func DefaultTermination(state *ConversationState, maxTurns int) bool {
	if len(state.Messages) > maxTurns {
		return true
	}

	last, ok := state.LastMessage()
	if !ok {
		return false
	}
	return strings.TrimSpace(last.Content) == StopSentinel
}

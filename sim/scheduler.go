package sim

import (
	"context"
	"time"

	"github.com/sparringlabs/sparring/agent"
	"github.com/sparringlabs/sparring/logger"
	"github.com/sparringlabs/sparring/types"
)

// phase is the scheduler's automaton state.
type phase int

const (
	awaitingSubjectTurn phase = iota
	awaitingCounterpartTurn
	terminated
)

// RunSpec configures a single simulated conversation.
type RunSpec struct {
	// Record is the input record the conversation is seeded from.
	Record map[string]any

	// OpeningKey selects which record field seeds the opening assistant
	// message. When empty, the counterpart speaks first instead.
	OpeningKey string

	// MaxTurns is the hard cutoff over total message count.
	// Zero means DefaultMaxTurns.
	MaxTurns int

	// Subject is the system under test. It sees the transcript as-is.
	Subject agent.Agent

	// Counterpart is the scripted adversary. It sees the role-swapped
	// transcript plus the full context.
	Counterpart agent.Agent

	// Terminate overrides the default stop rule entirely when set.
	Terminate TerminationPolicy
}

// Snapshot is one observable step of a run: the conversation state after a
// message was appended, or a fatal error. The last snapshot of a run has
// Done set, or Err set if the run aborted.
type Snapshot struct {
	// State is the conversation state after this turn. Snapshots share no
	// mutable data with later ones, so they are safe to retain.
	State *ConversationState

	// Turn is the total number of messages after this turn.
	Turn int

	// Done marks the terminal snapshot of a successful run.
	Done bool

	// Err carries the fatal error that aborted the run, if any.
	Err error
}

// Run executes a conversation as a lazy sequence of state snapshots, one per
// appended message, with the last element terminal.
//
// Configuration errors are returned synchronously, before any agent is
// invoked. Agent failures abort the run and surface in the final snapshot;
// messages appended before the failure remain visible in already-yielded
// snapshots. Cancelling ctx aborts the run at the next suspension point; the
// terminal error snapshot is then delivered when a consumer is receiving,
// but the channel can close without one, so consumers must treat a stream
// that ends with neither Done nor Err as cancelled (Execute does this).
func Run(ctx context.Context, spec RunSpec) (<-chan Snapshot, error) {
	state, err := NewConversationState(spec.Record, spec.OpeningKey)
	if err != nil {
		return nil, err
	}

	maxTurns := spec.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}

	terminate := spec.Terminate
	if terminate == nil {
		terminate = DefaultTermination
	}

	instructions := ""
	if v, ok := state.Context["instructions"].(string); ok {
		instructions = v
	}

	// A seeded opening message already is the subject's first turn, so the
	// counterpart replies next. Without a seed the subject is invoked first.
	current := awaitingSubjectTurn
	if len(state.Messages) > 0 {
		current = awaitingCounterpartTurn
	}

	snapshots := make(chan Snapshot)

	go func() {
		defer close(snapshots)

		emit := func(s Snapshot) bool {
			select {
			case snapshots <- s:
				return true
			case <-ctx.Done():
				if s.Err != nil || s.Done {
					// Terminal snapshots still reach a consumer that is
					// draining the channel.
					select {
					case snapshots <- s:
					default:
					}
				}
				return false
			}
		}

		for current != terminated {
			if ctx.Err() != nil {
				emit(Snapshot{State: state, Turn: len(state.Messages), Err: ctx.Err()})
				return
			}

			switch current {
			case awaitingSubjectTurn:
				msg, err := invokeWithLatency(ctx, spec.Subject, agent.Request{
					Messages: types.CloneMessages(state.Messages),
				})
				if err != nil {
					logger.AgentError(types.RoleAssistant, err)
					emit(Snapshot{State: state, Turn: len(state.Messages), Err: err})
					return
				}
				msg.Role = types.RoleAssistant
				state = state.Append(msg)

				if !emit(Snapshot{State: state, Turn: len(state.Messages)}) {
					return
				}
				// Subject unconditionally yields to the counterpart.
				current = awaitingCounterpartTurn

			case awaitingCounterpartTurn:
				msg, err := invokeWithLatency(ctx, spec.Counterpart, agent.Request{
					Instructions: instructions,
					Context:      state.Context,
					Messages:     SwapRoles(state.Messages),
				})
				if err != nil {
					logger.AgentError(types.RoleUser, err)
					emit(Snapshot{State: state, Turn: len(state.Messages), Err: err})
					return
				}
				msg.Role = types.RoleUser
				state = state.Append(msg)

				if terminate(state, maxTurns) {
					current = terminated
					emit(Snapshot{State: state, Turn: len(state.Messages), Done: true})
					return
				}

				if !emit(Snapshot{State: state, Turn: len(state.Messages)}) {
					return
				}
				current = awaitingSubjectTurn
			}
		}
	}()

	return snapshots, nil
}

// Execute runs a conversation to completion and returns the final state.
// It is the blocking convenience form of Run.
func Execute(ctx context.Context, spec RunSpec) (*ConversationState, error) {
	snapshots, err := Run(ctx, spec)
	if err != nil {
		return nil, err
	}

	var final *ConversationState
	done := false
	for snap := range snapshots {
		if snap.Err != nil {
			return nil, snap.Err
		}
		final = snap.State
		done = snap.Done
	}

	if !done {
		// The stream only closes without a Done or Err snapshot when the
		// context was cancelled mid-run, so a truncated transcript is
		// never reported as a clean completion.
		return nil, ctx.Err()
	}
	return final, nil
}

func invokeWithLatency(ctx context.Context, a agent.Agent, req agent.Request) (types.Message, error) {
	logger.AgentCall(reqRole(req), len(req.Messages))

	start := time.Now()
	msg, err := a.Invoke(ctx, req)
	if err != nil {
		return types.Message{}, err
	}

	msg.LatencyMs = time.Since(start).Milliseconds()
	logger.AgentResponse(msg.Role, msg.LatencyMs)
	return msg, nil
}

func reqRole(req agent.Request) string {
	// Only counterpart invocations carry context.
	if req.Context != nil {
		return types.RoleUser
	}
	return types.RoleAssistant
}

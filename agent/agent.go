// Package agent normalizes heterogeneous conversational participants into a
// single invocation contract.
//
// A participant is anything that can produce one message given conversational
// context. Two callable shapes are supported: functions that consume only the
// ordered transcript, and functions that consume the full request (instructions,
// side-channel context, and transcript). Both are wrapped behind the Agent
// interface; return values are normalized once, at this boundary.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sparringlabs/sparring/types"
)

// ErrMalformedResponse is returned when an agent's return value cannot be
// normalized into a Message.
var ErrMalformedResponse = errors.New("agent response cannot be normalized into a message")

// Request carries everything an agent may consume when producing its next message.
//
// The system under test receives only Messages. The counterpart additionally
// receives Instructions and Context, with Messages already perspective-shifted
// by the caller.
type Request struct {
	// Instructions is the behavioral brief for the agent, if any.
	Instructions string

	// Context is the side-channel record fixed at run start.
	Context map[string]any

	// Messages is the ordered transcript visible to the agent.
	Messages []types.Message
}

// Agent produces exactly one message per invocation.
//
// Implementations must not retain or mutate req.Messages. A failed invocation
// aborts the surrounding run; retry and backoff are the caller's responsibility.
type Agent interface {
	Invoke(ctx context.Context, req Request) (types.Message, error)
}

// TranscriptFunc is a participant that sees only the ordered transcript.
// It may return a plain string, a types.Message, or a map with a "content" key.
type TranscriptFunc func(ctx context.Context, messages []types.Message) (any, error)

// RequestFunc is a participant that sees the full request, including
// instructions and side-channel context.
type RequestFunc func(ctx context.Context, req Request) (any, error)

// FromTranscriptFunc wraps a transcript-shaped callable as an Agent.
// Messages produced by the agent are stamped with the given role regardless
// of any role the callable claims.
func FromTranscriptFunc(role string, fn TranscriptFunc) Agent {
	return &funcAgent{
		role: role,
		invoke: func(ctx context.Context, req Request) (any, error) {
			return fn(ctx, req.Messages)
		},
	}
}

// FromRequestFunc wraps a request-shaped callable as an Agent.
// Messages produced by the agent are stamped with the given role regardless
// of any role the callable claims.
func FromRequestFunc(role string, fn RequestFunc) Agent {
	return &funcAgent{role: role, invoke: fn}
}

type funcAgent struct {
	role   string
	invoke func(ctx context.Context, req Request) (any, error)
}

func (a *funcAgent) Invoke(ctx context.Context, req Request) (types.Message, error) {
	out, err := a.invoke(ctx, req)
	if err != nil {
		// Propagate unchanged: no retry, no substitution.
		return types.Message{}, err
	}
	return normalize(out, a.role)
}

// normalize converts an agent's return value into a Message with the caller's
// role. The role is always assigned by the invoking side, never taken from the
// agent's own claim.
func normalize(out any, role string) (types.Message, error) {
	switch v := out.(type) {
	case string:
		return types.Message{Role: role, Content: v, Timestamp: time.Now()}, nil

	case types.Message:
		v.Role = role
		if v.Timestamp.IsZero() {
			v.Timestamp = time.Now()
		}
		return v, nil

	case *types.Message:
		if v == nil {
			return types.Message{}, fmt.Errorf("%w: nil message", ErrMalformedResponse)
		}
		msg := *v
		msg.Role = role
		if msg.Timestamp.IsZero() {
			msg.Timestamp = time.Now()
		}
		return msg, nil

	case map[string]any:
		content, ok := v["content"].(string)
		if !ok {
			return types.Message{}, fmt.Errorf("%w: map response missing string content", ErrMalformedResponse)
		}
		msg := types.Message{Role: role, Content: content, Timestamp: time.Now()}
		if meta, ok := v["meta"].(map[string]any); ok {
			msg.Meta = meta
		}
		return msg, nil

	default:
		return types.Message{}, fmt.Errorf("%w: unsupported response type %T", ErrMalformedResponse, out)
	}
}

// Package types defines the canonical message model shared by every
// component of the simulator.
package types

import "time"

// Conversation roles. The subject under test always speaks as "assistant";
// the simulated counterpart always speaks as "user". Stored transcripts use
// these absolute roles; perspective shifts happen only in transient views.
const (
	// RoleAssistant marks messages authored by the system under test.
	RoleAssistant = "assistant"

	// RoleUser marks messages authored by the simulated counterpart.
	RoleUser = "user"
)

// Message represents a single message in a conversation.
// Once appended to a transcript a Message is never mutated or removed.
type Message struct {
	Role    string `json:"role"`    // "assistant" or "user"
	Content string `json:"content"` // Message content

	// Metadata for observability and tracking
	Timestamp time.Time      `json:"timestamp,omitempty"`  // When the message was created
	LatencyMs int64          `json:"latency_ms,omitempty"` // Time taken to generate
	Meta      map[string]any `json:"meta,omitempty"`       // Custom metadata
}

// SwapRole returns the opposite conversation role.
// Swapping twice restores the original role.
func SwapRole(role string) string {
	switch role {
	case RoleAssistant:
		return RoleUser
	case RoleUser:
		return RoleAssistant
	default:
		return role
	}
}

// CloneMessages returns a shallow copy of the message slice.
// Messages themselves are treated as immutable, so copying the slice header
// is sufficient to protect the transcript from external appends.
func CloneMessages(messages []Message) []Message {
	if messages == nil {
		return nil
	}
	out := make([]Message, len(messages))
	copy(out, messages)
	return out
}

package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sparringlabs/sparring/agent"
	"github.com/sparringlabs/sparring/dataset"
	"github.com/sparringlabs/sparring/judge"
	"github.com/sparringlabs/sparring/metrics"
	"github.com/sparringlabs/sparring/statestore"
	"github.com/sparringlabs/sparring/types"
)

// scriptedAgent returns canned replies in order, repeating the last one.
type scriptedAgent struct {
	replies []string
	calls   atomic.Int32
	err     error
}

func (a *scriptedAgent) Invoke(_ context.Context, _ agent.Request) (types.Message, error) {
	n := int(a.calls.Add(1)) - 1
	if a.err != nil {
		return types.Message{}, a.err
	}
	if n >= len(a.replies) {
		n = len(a.replies) - 1
	}
	return types.Message{Content: a.replies[n]}, nil
}

type stubJudge struct {
	verdict *judge.Verdict
	err     error
	calls   atomic.Int32
}

func (j *stubJudge) Evaluate(_ context.Context, _ string, _ []types.Message) (*judge.Verdict, error) {
	j.calls.Add(1)
	return j.verdict, j.err
}

func newTestEngine(t *testing.T, opts Options) (*Engine, *statestore.MemoryStore) {
	t.Helper()
	store := statestore.NewMemoryStore()
	opts.Store = store
	if opts.Subject == nil {
		opts.Subject = &scriptedAgent{replies: []string{"hello"}}
	}
	if opts.Counterpart == nil {
		opts.Counterpart = &scriptedAgent{replies: []string{"hi back", "FINISHED"}}
	}
	eng, err := New(opts)
	require.NoError(t, err)
	return eng, store
}

func TestNewValidation(t *testing.T) {
	subject := &scriptedAgent{replies: []string{"a"}}
	counterpart := &scriptedAgent{replies: []string{"b"}}
	store := statestore.NewMemoryStore()

	_, err := New(Options{Counterpart: counterpart, Store: store})
	assert.Error(t, err)

	_, err = New(Options{Subject: subject, Store: store})
	assert.Error(t, err)

	_, err = New(Options{Subject: subject, Counterpart: counterpart})
	assert.Error(t, err)

	eng, err := New(Options{Subject: subject, Counterpart: counterpart, Store: store})
	require.NoError(t, err)
	assert.Equal(t, DefaultConcurrency, eng.opts.Concurrency)
}

func TestExecuteRunsPersistsResults(t *testing.T) {
	eng, store := newTestEngine(t, Options{MaxTurns: 4})

	records := []dataset.Record{
		{"instructions": "be difficult"},
		{"instructions": "be polite"},
	}

	runIDs, err := eng.ExecuteRuns(context.Background(), records)
	require.NoError(t, err)
	require.Len(t, runIDs, 2)
	assert.NotEqual(t, runIDs[0], runIDs[1])

	for i, runID := range runIDs {
		result, err := store.Load(context.Background(), runID)
		require.NoError(t, err)
		assert.Equal(t, runID, result.RunID)
		assert.NotEmpty(t, result.Messages)
		assert.Equal(t, len(result.Messages), result.Turns)
		assert.Empty(t, result.Error)
		assert.False(t, result.EndTime.Before(result.StartTime))

		// Run IDs come back in record order.
		assert.Equal(t, i, result.DatasetIndex)
	}
}

func TestExecuteRunsSeededOpening(t *testing.T) {
	subject := &scriptedAgent{replies: []string{"follow-up"}}
	eng, store := newTestEngine(t, Options{
		Subject:    subject,
		OpeningKey: "opening",
		MaxTurns:   3,
	})

	records := []dataset.Record{
		{"opening": "How can I help?", "instructions": "probe the refund flow"},
	}

	runIDs, err := eng.ExecuteRuns(context.Background(), records)
	require.NoError(t, err)

	result, err := store.Load(context.Background(), runIDs[0])
	require.NoError(t, err)
	require.NotEmpty(t, result.Messages)
	assert.Equal(t, "How can I help?", result.Messages[0].Content)
	assert.Equal(t, types.RoleAssistant, result.Messages[0].Role)
}

func TestExecuteRunsCapturesRunError(t *testing.T) {
	boom := errors.New("upstream unavailable")
	eng, store := newTestEngine(t, Options{
		Subject: &scriptedAgent{err: boom},
	})

	runIDs, err := eng.ExecuteRuns(context.Background(), []dataset.Record{{"instructions": "x"}})
	require.NoError(t, err)
	require.Len(t, runIDs, 1)

	result, err := store.Load(context.Background(), runIDs[0])
	require.NoError(t, err)
	assert.Contains(t, result.Error, "upstream unavailable")
	assert.True(t, result.Failed())
	assert.Nil(t, result.Verdict)
}

func TestExecuteRunsMissingOpeningKey(t *testing.T) {
	eng, store := newTestEngine(t, Options{OpeningKey: "opening"})

	runIDs, err := eng.ExecuteRuns(context.Background(), []dataset.Record{{"instructions": "x"}})
	require.NoError(t, err)

	result, err := store.Load(context.Background(), runIDs[0])
	require.NoError(t, err)
	assert.True(t, result.Failed())
	assert.Empty(t, result.Messages)
}

func TestExecuteRunsWithJudge(t *testing.T) {
	j := &stubJudge{verdict: &judge.Verdict{Pass: true, Rationale: "stayed on script"}}
	eng, store := newTestEngine(t, Options{Judge: j, MaxTurns: 2})

	runIDs, err := eng.ExecuteRuns(context.Background(), []dataset.Record{{"instructions": "x"}})
	require.NoError(t, err)

	result, err := store.Load(context.Background(), runIDs[0])
	require.NoError(t, err)
	require.NotNil(t, result.Verdict)
	assert.True(t, result.Verdict.Pass)
	assert.Equal(t, int32(1), j.calls.Load())
}

func TestExecuteRunsJudgeErrorRecorded(t *testing.T) {
	j := &stubJudge{err: errors.New("grader returned garbage")}
	eng, store := newTestEngine(t, Options{Judge: j, MaxTurns: 2})

	runIDs, err := eng.ExecuteRuns(context.Background(), []dataset.Record{{"instructions": "x"}})
	require.NoError(t, err)

	result, err := store.Load(context.Background(), runIDs[0])
	require.NoError(t, err)
	assert.Contains(t, result.Error, "grader returned garbage")
	assert.Nil(t, result.Verdict)

	// Transcript is still persisted even when grading fails.
	assert.NotEmpty(t, result.Messages)
}

func TestExecuteRunsCancelledContext(t *testing.T) {
	// A run cancelled before any turn completes must be stored as failed,
	// with the judge never consulted.
	j := &stubJudge{verdict: &judge.Verdict{Pass: true, Rationale: "ok"}}
	eng, store := newTestEngine(t, Options{Judge: j})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runIDs, err := eng.ExecuteRuns(ctx, []dataset.Record{{"instructions": "x"}})
	require.NoError(t, err)
	require.Len(t, runIDs, 1)

	result, err := store.Load(context.Background(), runIDs[0])
	require.NoError(t, err)
	assert.True(t, result.Failed())
	assert.Nil(t, result.Verdict)
	assert.Equal(t, int32(0), j.calls.Load())
}

// turnsRecorded reads the current turns_total counter for a role.
func turnsRecorded(t *testing.T, role string) float64 {
	t.Helper()
	mfs, err := metrics.NewExporter("127.0.0.1:0").Registry().Gather()
	require.NoError(t, err)

	for _, mf := range mfs {
		if mf.GetName() != "sparring_turns_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetValue() == role {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestSeededOpeningNotCountedAsTurn(t *testing.T) {
	subject := &scriptedAgent{replies: []string{"follow-up"}}
	eng, _ := newTestEngine(t, Options{
		Subject:    subject,
		OpeningKey: "opening",
		MaxTurns:   6,
	})

	assistantBefore := turnsRecorded(t, types.RoleAssistant)
	userBefore := turnsRecorded(t, types.RoleUser)

	_, err := eng.ExecuteRuns(context.Background(), []dataset.Record{
		{"opening": "How can I help?", "instructions": "x"},
	})
	require.NoError(t, err)

	// Four messages, but the seed was never produced by an invocation:
	// one subject turn and two counterpart turns.
	assert.Equal(t, float64(1), turnsRecorded(t, types.RoleAssistant)-assistantBefore)
	assert.Equal(t, float64(2), turnsRecorded(t, types.RoleUser)-userBefore)
}

func TestExecuteRunsConcurrencyBound(t *testing.T) {
	var inFlight, peak atomic.Int32
	gate := func(_ context.Context, _ []types.Message) (any, error) {
		cur := inFlight.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		defer inFlight.Add(-1)
		return "FINISHED", nil
	}

	eng, _ := newTestEngine(t, Options{
		Subject:     agent.FromTranscriptFunc(types.RoleAssistant, gate),
		Concurrency: 2,
		MaxTurns:    2,
	})

	records := make([]dataset.Record, 8)
	for i := range records {
		records[i] = dataset.Record{"instructions": "x"}
	}

	_, err := eng.ExecuteRuns(context.Background(), records)
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

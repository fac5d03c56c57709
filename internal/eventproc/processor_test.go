package eventproc_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chatworkbench/streampipe/internal/eventproc"
	"github.com/chatworkbench/streampipe/internal/message"
	"github.com/chatworkbench/streampipe/internal/streamevent"
	"github.com/chatworkbench/streampipe/internal/telemetry"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []streamevent.Event
}

func (r *recordingPublisher) Publish(_ context.Context, _ string, e streamevent.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingPublisher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type recordingTerminal struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (r *recordingTerminal) HandleTerminal(_ context.Context, responseID string, _ streamevent.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, responseID)
	return r.err
}

func (r *recordingTerminal) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func newProcessor() (*eventproc.Processor, *recordingPublisher, *recordingTerminal) {
	pub := &recordingPublisher{}
	term := &recordingTerminal{}
	return eventproc.New(pub, term, telemetry.NewNoopProvider()), pub, term
}

func TestProcessReducesAcrossVariants(t *testing.T) {
	p, pub, term := newProcessor()
	ctx := context.Background()

	require.NoError(t, p.Process(ctx, "resp-1", streamevent.NewResponseStart("resp-1", "req-1", "chat-1", "model-x", "", "chat")))
	require.NoError(t, p.Process(ctx, "resp-1", streamevent.NewContent("resp-1", "hello")))
	require.NoError(t, p.Process(ctx, "resp-1", streamevent.NewReasoning("resp-1", "thinking...")))
	require.NoError(t, p.Process(ctx, "resp-1", streamevent.NewToolCall("resp-1", "search", "tool-1", map[string]any{"q": "go"})))
	require.NoError(t, p.Process(ctx, "resp-1", streamevent.NewToolReturn("resp-1", "search", "tool-1", map[string]any{"ok": true})))
	require.NoError(t, p.Process(ctx, "resp-1", streamevent.NewMetadata("resp-1", map[string]any{"model_name": "claude"})))
	require.NoError(t, p.Process(ctx, "resp-1", streamevent.NewResponseEnd("resp-1", "completed", map[string]any{"total_tokens": 42})))

	state := p.State("resp-1")
	require.NotNil(t, state)
	require.Equal(t, message.StatusComplete, state.Status)
	require.Equal(t, "claude", state.ModelName)
	require.Len(t, state.Parts, 4)
	require.Equal(t, 42, state.Usage["total_tokens"])

	require.Equal(t, 1, term.count())
	require.GreaterOrEqual(t, pub.count(), 6)
}

func TestProcessSuppressesDuplicateEvent(t *testing.T) {
	p, pub, _ := newProcessor()
	ctx := context.Background()

	ev := streamevent.NewContent("resp-2", "hi")
	require.NoError(t, p.Process(ctx, "resp-2", ev))
	require.NoError(t, p.Process(ctx, "resp-2", ev))

	state := p.State("resp-2")
	require.NotNil(t, state)
	require.Len(t, state.Parts, 1)
	require.Equal(t, 1, pub.count())
}

// TestProcessIsolatesResponsesOnError exercises the per-response failure
// containment: a raw payload that canonicalize rejects for one response_id
// must never affect the running state of another.
func TestProcessIsolatesResponsesOnError(t *testing.T) {
	p, _, term := newProcessor()
	ctx := context.Background()

	require.Error(t, p.Process(ctx, "resp-bad", 42))
	require.NoError(t, p.Process(ctx, "resp-ok", streamevent.NewContent("resp-ok", "fine")))

	okState := p.State("resp-ok")
	require.NotNil(t, okState)
	require.Len(t, okState.Parts, 1)
	require.NotEqual(t, message.StatusError, okState.Status)

	require.Equal(t, 0, term.count())
}

func TestProcessMapsUserStoppedStatus(t *testing.T) {
	p, _, _ := newProcessor()
	ctx := context.Background()

	require.NoError(t, p.Process(ctx, "resp-3", streamevent.NewResponseStart("resp-3", "req-3", "chat-3", "model-x", "", "chat")))
	require.NoError(t, p.Process(ctx, "resp-3", streamevent.NewResponseEnd("resp-3", "user_stopped", nil)))

	state := p.State("resp-3")
	require.NotNil(t, state)
	require.Equal(t, message.StatusUserStopped, state.Status)
}

// TestProcessPropagatesTerminalHandlerFailure checks that a failing
// TerminalHandler surfaces its error to the Process caller instead of being
// swallowed, and that the per-response state is left in place (Process never
// calls Cleanup itself) so a retry can still use it.
func TestProcessPropagatesTerminalHandlerFailure(t *testing.T) {
	pub := &recordingPublisher{}
	term := &recordingTerminal{err: errors.New("durable write failed")}
	p := eventproc.New(pub, term, telemetry.NewNoopProvider())
	ctx := context.Background()

	require.NoError(t, p.Process(ctx, "resp-6", streamevent.NewResponseStart("resp-6", "req-6", "chat-6", "model-x", "", "chat")))
	err := p.Process(ctx, "resp-6", streamevent.NewResponseEnd("resp-6", "completed", nil))
	require.Error(t, err)

	require.NotNil(t, p.State("resp-6"))
}

func TestCleanupReleasesState(t *testing.T) {
	p, _, _ := newProcessor()
	ctx := context.Background()

	require.NoError(t, p.Process(ctx, "resp-4", streamevent.NewContent("resp-4", "hi")))
	require.NotNil(t, p.State("resp-4"))

	p.Cleanup("resp-4")
	require.Nil(t, p.State("resp-4"))
}

func TestProcessDropsEventWithoutResponseID(t *testing.T) {
	p, pub, _ := newProcessor()
	require.NoError(t, p.Process(context.Background(), "", streamevent.NewContent("", "hi")))
	require.Equal(t, 0, pub.count())
}

// TestProcessStatusEventEmitOnlyNotPersisted checks that a status event is
// still published to the broker (it is streaming-only, emit=true) but is
// excluded from the Durable Writer's persist buffer (persist=false), since
// status events set state but never contribute a message part.
func TestProcessStatusEventEmitOnlyNotPersisted(t *testing.T) {
	p, pub, _ := newProcessor()
	ctx := context.Background()

	ev := streamevent.NewStatus("resp-5", "thinking", "model is reasoning")
	require.False(t, ev.Persist())
	require.True(t, ev.Emit())

	require.NoError(t, p.Process(ctx, "resp-5", ev))

	state := p.State("resp-5")
	require.NotNil(t, state)
	require.Equal(t, message.Status("thinking"), state.Status)
	require.Equal(t, "model is reasoning", state.Metadata["status_message"])
	require.Equal(t, 1, pub.count())
}

package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chatworkbench/streampipe/internal/eventproc"
	"github.com/chatworkbench/streampipe/internal/message"
	"github.com/chatworkbench/streampipe/internal/store"
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

func newCoordinator(t *testing.T) (*store.Coordinator, *eventproc.Processor, *mockDynamo, *recordingPublisher) {
	t.Helper()
	client := newMockDynamo()
	repo := newRepo(t, client)
	pub := &recordingPublisher{}

	coord, err := store.NewCoordinator(store.CoordinatorOptions{Repository: repo, Publisher: pub})
	require.NoError(t, err)

	processor := eventproc.New(coord, coord, telemetry.NewNoopProvider())
	coord.Bind(processor)
	return coord, processor, client, pub
}

func TestCoordinatorWritesPlaceholderOnResponseStart(t *testing.T) {
	_, processor, client, _ := newCoordinator(t)

	ctx := context.Background()
	require.NoError(t, processor.Process(ctx, "resp-1", streamevent.NewResponseStart("resp-1", "req-1", "chat-1", "model-x", "req-1", "chat")))

	key := "MESSAGE#chat-1|MESSAGE#resp-1"
	require.Contains(t, client.table, key)
}

func TestCoordinatorWritesFinalMessageOnTerminal(t *testing.T) {
	_, processor, client, pub := newCoordinator(t)
	ctx := context.Background()

	require.NoError(t, processor.Process(ctx, "resp-2", streamevent.NewResponseStart("resp-2", "req-2", "chat-2", "model-x", "req-2", "chat")))
	require.NoError(t, processor.Process(ctx, "resp-2", streamevent.NewContent("resp-2", "Hello ")))
	require.NoError(t, processor.Process(ctx, "resp-2", streamevent.NewContent("resp-2", "world")))
	require.NoError(t, processor.Process(ctx, "resp-2", streamevent.NewResponseEnd("resp-2", "completed", map[string]any{"total_tokens": 12})))

	key := "MESSAGE#chat-2|MESSAGE#resp-2"
	require.Contains(t, client.table, key)

	require.Nil(t, processor.State("resp-2"))
	require.GreaterOrEqual(t, pub.count(), 3)
}

func TestCoordinatorFinishSynthesizesResponseEnd(t *testing.T) {
	coord, processor, client, _ := newCoordinator(t)
	ctx := context.Background()

	require.NoError(t, processor.Process(ctx, "resp-3", streamevent.NewResponseStart("resp-3", "req-3", "chat-3", "model-x", "", "")))
	require.NoError(t, processor.Process(ctx, "resp-3", streamevent.NewContent("resp-3", "partial")))

	require.NoError(t, coord.Finish(ctx, "resp-3"))

	key := "MESSAGE#chat-3|MESSAGE#resp-3"
	require.Contains(t, client.table, key)
	require.Nil(t, processor.State("resp-3"))

	// Finish is idempotent once the terminal path has already run.
	require.NoError(t, coord.Finish(ctx, "resp-3"))
}

func TestCoordinatorCancelMarksUserStopped(t *testing.T) {
	coord, processor, client, _ := newCoordinator(t)
	ctx := context.Background()

	require.NoError(t, processor.Process(ctx, "resp-4", streamevent.NewResponseStart("resp-4", "req-4", "chat-4", "model-x", "", "")))
	require.NoError(t, coord.Cancel(ctx, "resp-4"))

	require.Nil(t, processor.State("resp-4"))

	stored, err := newRepo(t, client).GetMessage(ctx, "chat-4", "resp-4")
	require.NoError(t, err)
	require.Equal(t, message.StatusUserStopped, stored.Status)
}

func TestCoordinatorSurfacesFinalWriteFailureAndPreservesStateForRetry(t *testing.T) {
	client := newMockDynamo()
	repo := newRepo(t, client)
	pub := &recordingPublisher{}
	coord, err := store.NewCoordinator(store.CoordinatorOptions{Repository: repo, Publisher: pub})
	require.NoError(t, err)
	processor := eventproc.New(coord, coord, telemetry.NewNoopProvider())
	coord.Bind(processor)
	ctx := context.Background()

	require.NoError(t, processor.Process(ctx, "resp-6", streamevent.NewResponseStart("resp-6", "req-6", "chat-6", "model-x", "", "chat")))
	require.NoError(t, processor.Process(ctx, "resp-6", streamevent.NewContent("resp-6", "partial")))

	client.putErr = errors.New("dynamodb unavailable")
	require.Error(t, coord.Finish(ctx, "resp-6"))

	// Per-response state must survive the failed write so a retry can still
	// aggregate and write from it.
	require.NotNil(t, processor.State("resp-6"))

	client.putErr = nil
	require.NoError(t, coord.Finish(ctx, "resp-6"))
	require.Nil(t, processor.State("resp-6"))
}

func TestCoordinatorUpdatesParentRequestOnTerminal(t *testing.T) {
	client := newMockDynamo()
	repo := newRepo(t, client)
	pub := &recordingPublisher{}
	coord, err := store.NewCoordinator(store.CoordinatorOptions{Repository: repo, Publisher: pub})
	require.NoError(t, err)
	processor := eventproc.New(coord, coord, telemetry.NewNoopProvider())
	coord.Bind(processor)
	ctx := context.Background()

	require.NoError(t, repo.PutMessage(ctx, message.Message{
		MessageID: "req-5", ChatID: "chat-5", Kind: message.KindRequest, Status: message.StatusPending,
	}))

	require.NoError(t, processor.Process(ctx, "resp-5", streamevent.NewResponseStart("resp-5", "req-5", "chat-5", "model-x", "req-5", "chat")))
	require.NoError(t, processor.Process(ctx, "resp-5", streamevent.NewResponseEnd("resp-5", "completed", nil)))

	parent, err := repo.GetMessage(ctx, "chat-5", "req-5")
	require.NoError(t, err)
	require.Equal(t, message.StatusComplete, parent.Status)
}

package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chatworkbench/streampipe/internal/aggregate"
	"github.com/chatworkbench/streampipe/internal/eventproc"
	"github.com/chatworkbench/streampipe/internal/message"
	"github.com/chatworkbench/streampipe/internal/streamevent"
	"github.com/chatworkbench/streampipe/internal/telemetry"
)

// CoordinatorOptions configures a Coordinator.
type CoordinatorOptions struct {
	Repository *Repository
	// Publisher is the real downstream publisher (the Broker Bridge). The
	// Coordinator sits in front of it as the Processor's configured
	// eventproc.Publisher, so every accepted event passes through the
	// Coordinator before reaching the broker.
	Publisher eventproc.Publisher
	Telemetry telemetry.Provider
}

// Coordinator is the Durable Writer (§4.5): it buffers a response's
// persist-worthy events, writes the response_start placeholder, runs
// Aggregation and writes the final message once a terminal event arrives,
// and updates the originating request message's status.
//
// A Coordinator is installed as the Processor's Publisher (so it observes
// every accepted event) and as its TerminalHandler (so it runs after the
// per-response event path completes). Because the Processor is constructed
// from the Coordinator (as its Publisher/TerminalHandler) while the
// Coordinator also needs a reference back to the Processor (for State and
// Cleanup), construction is two-phase: NewCoordinator builds the Coordinator
// without a Processor, the caller constructs the Processor passing the new
// Coordinator as both dependencies, then calls Bind.
type Coordinator struct {
	repo      *Repository
	processor *eventproc.Processor
	publish   eventproc.Publisher
	telemetry telemetry.Provider

	mu       sync.Mutex
	buffers  map[string][]streamevent.Event
	chatOf   map[string]string
	parentOf map[string]string
	terminal map[string]struct{}
}

// NewCoordinator constructs a Coordinator. Bind must be called with the
// Processor that was constructed using this Coordinator as its Publisher and
// TerminalHandler before the Coordinator is used.
func NewCoordinator(opts CoordinatorOptions) (*Coordinator, error) {
	if opts.Repository == nil {
		return nil, fmt.Errorf("store: repository is required")
	}
	if opts.Publisher == nil {
		return nil, fmt.Errorf("store: publisher is required")
	}
	telemetryProvider := opts.Telemetry
	if telemetryProvider.Logger == nil {
		telemetryProvider = telemetry.NewNoopProvider()
	}
	return &Coordinator{
		repo:      opts.Repository,
		publish:   opts.Publisher,
		telemetry: telemetryProvider,
		buffers:   map[string][]streamevent.Event{},
		chatOf:    map[string]string{},
		parentOf:  map[string]string{},
		terminal:  map[string]struct{}{},
	}, nil
}

// Bind attaches the Processor this Coordinator was wired into. It must be
// called exactly once, before Publish, HandleTerminal, Finish, or Cancel.
func (c *Coordinator) Bind(p *eventproc.Processor) {
	c.processor = p
}

// Publish implements eventproc.Publisher. On response_start it writes the
// placeholder message, returning an error (without forwarding to the
// broker) if that write fails; every persist-worthy event is buffered for
// the end-of-response Aggregation pass before being forwarded to the broker.
func (c *Coordinator) Publish(ctx context.Context, responseID string, e streamevent.Event) error {
	if rs, ok := e.(*streamevent.ResponseStartEvent); ok {
		if err := c.start(ctx, responseID, rs); err != nil {
			return err
		}
	}
	if e.Persist() {
		c.mu.Lock()
		c.buffers[responseID] = append(c.buffers[responseID], e)
		c.mu.Unlock()
	}
	return c.publish.Publish(ctx, responseID, e)
}

func (c *Coordinator) start(ctx context.Context, responseID string, e *streamevent.ResponseStartEvent) error {
	c.mu.Lock()
	c.chatOf[responseID] = e.ChatID
	c.parentOf[responseID] = e.ParentID
	c.mu.Unlock()

	placeholder := message.Message{
		MessageID: responseID,
		ChatID:    e.ChatID,
		ParentID:  e.ParentID,
		Kind:      message.KindResponse,
		Status:    message.StatusPending,
		Metadata:  map[string]any{},
		Timestamp: e.Timestamp(),
		ModelName: e.ModelID,
	}
	if err := c.repo.PutMessage(ctx, placeholder); err != nil {
		c.telemetry.Logger.Error(ctx, "store: failed to write placeholder message", "response_id", responseID, "error", err.Error())
		return fmt.Errorf("store: write placeholder message: %w", err)
	}
	return nil
}

// HandleTerminal implements eventproc.TerminalHandler. It runs Aggregation
// over the response's buffered events, writes the final message, marks the
// originating request complete if still pending, and releases the
// Processor's per-response state. Idempotent: a response_id's terminal path
// runs at most once, so a synthesized response_end (§ Finish/Cancel) never
// double-writes behind a real one that raced it.
//
// If the final write fails, the terminal claim is released and the buffered
// events, chat/parent association, and Processor state are left intact so a
// later retry (another terminal event, or a caller-driven retry of Process)
// can still aggregate and write from them — a failed write must never
// silently leave the response with zero persisted messages.
func (c *Coordinator) HandleTerminal(ctx context.Context, responseID string, _ streamevent.Event) error {
	c.mu.Lock()
	if _, already := c.terminal[responseID]; already {
		c.mu.Unlock()
		return nil
	}
	c.terminal[responseID] = struct{}{}
	events := append([]streamevent.Event(nil), c.buffers[responseID]...)
	chatID := c.chatOf[responseID]
	parentID := c.parentOf[responseID]
	c.mu.Unlock()

	state := c.processor.State(responseID)

	final := message.Message{
		MessageID: responseID,
		ChatID:    chatID,
		ParentID:  parentID,
		Kind:      message.KindResponse,
		Parts:     aggregate.Aggregate(events),
		Status:    message.StatusComplete,
		Metadata:  map[string]any{},
		Timestamp: time.Now().UTC(),
	}
	if state != nil {
		final.Status = state.Status
		final.Metadata = state.Metadata
		final.Usage = state.Usage
		final.ModelName = state.ModelName
	}

	if err := c.repo.PutMessage(ctx, final); err != nil {
		c.telemetry.Logger.Error(ctx, "store: failed to write final message", "response_id", responseID, "error", err.Error())
		c.mu.Lock()
		delete(c.terminal, responseID)
		c.mu.Unlock()
		return fmt.Errorf("store: write final message: %w", err)
	}

	if parentID != "" {
		if err := c.repo.UpdateStatusIfPending(ctx, chatID, parentID, message.StatusComplete); err != nil {
			c.telemetry.Logger.Warn(ctx, "store: failed to update parent request status", "response_id", responseID, "parent_id", parentID, "error", err.Error())
		}
	}

	c.processor.Cleanup(responseID)

	c.mu.Lock()
	delete(c.buffers, responseID)
	delete(c.chatOf, responseID)
	delete(c.parentOf, responseID)
	c.mu.Unlock()

	return nil
}

// Finish is called once the agent event source for responseID is exhausted.
// If no terminal event was ever processed, it synthesizes a completed
// response_end so the response is still published and durably written.
func (c *Coordinator) Finish(ctx context.Context, responseID string) error {
	if c.isTerminal(responseID) {
		return nil
	}
	return c.processor.Process(ctx, responseID, streamevent.NewResponseEnd(responseID, "completed", nil))
}

// Cancel records a client-requested interruption by synthesizing a
// user_stopped response_end, driving the same terminal path Finish does.
func (c *Coordinator) Cancel(ctx context.Context, responseID string) error {
	if c.isTerminal(responseID) {
		return nil
	}
	return c.processor.Process(ctx, responseID, streamevent.NewResponseEnd(responseID, "user_stopped", nil))
}

func (c *Coordinator) isTerminal(responseID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, done := c.terminal[responseID]
	return done
}

// Package eventproc implements the Event Processor: it normalizes,
// sequences, deduplicates, routes, and publishes agent events, and maintains
// the per-response runtime state described by the data model.
//
// Each reducer call runs under recover-and-continue failure containment: a
// panic or error from one response's processing must never take down
// another response's processing.
package eventproc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chatworkbench/streampipe/internal/message"
	"github.com/chatworkbench/streampipe/internal/streamevent"
	"github.com/chatworkbench/streampipe/internal/telemetry"
)

// Publisher fans an accepted, emittable event out to the Broker Bridge.
type Publisher interface {
	Publish(ctx context.Context, responseID string, e streamevent.Event) error
}

// TerminalHandler is notified once a response_id sees a terminal event
// (response_end or error), after the per-response mutex has been released.
// The Durable Writer implements this to drive the Aggregation pass. An error
// return means the durable write did not complete; the per-response state
// must not be torn down so a later retry can still aggregate from it.
type TerminalHandler interface {
	HandleTerminal(ctx context.Context, responseID string, e streamevent.Event) error
}

// State is the per-response runtime state owned by the Event Processor (§3.3).
type State struct {
	Status         message.Status
	Parts          []message.Part
	Metadata       map[string]any
	Usage          map[string]any
	ModelName      string
	ModelID        string
	Timestamp      time.Time
	ToolUseByBlock map[int]*streamevent.ToolUseBinding

	mu       sync.Mutex
	sequence int
	dedup    map[string]struct{}
}

func newState() *State {
	return &State{
		Status:         message.StatusInProgress,
		Metadata:       map[string]any{},
		Usage:          map[string]any{},
		ToolUseByBlock: map[int]*streamevent.ToolUseBinding{},
		dedup:          map[string]struct{}{},
	}
}

// Processor is the Event Processor.
type Processor struct {
	publisher Publisher
	terminal  TerminalHandler
	telemetry telemetry.Provider

	mu        sync.Mutex
	responses map[string]*State
}

// New constructs a Processor. terminal may be nil if the caller drives
// durable writes through some other path (tests commonly do).
func New(publisher Publisher, terminal TerminalHandler, provider telemetry.Provider) *Processor {
	return &Processor{
		publisher: publisher,
		terminal:  terminal,
		telemetry: provider,
		responses: map[string]*State{},
	}
}

// State returns the current runtime state for a response_id, or nil if none
// exists (no event has been processed for it yet, or it was cleaned up).
func (p *Processor) State(responseID string) *State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.responses[responseID]
}

func (p *Processor) stateFor(responseID string) *State {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.responses[responseID]
	if !ok {
		s = newState()
		p.responses[responseID] = s
	}
	return s
}

// Cleanup releases the per-response state for responseID. Called after the
// terminal event has been delivered and durably written.
func (p *Processor) Cleanup(responseID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.responses, responseID)
}

// Process accepts either a canonical streamevent.Event or a map-shaped raw
// payload for responseID, and runs it through the full per-event algorithm:
// sequence/timestamp assignment, classification, dedup, reduction, and
// (if emittable) publish.
func (p *Processor) Process(ctx context.Context, responseID string, raw any) error {
	if responseID == "" {
		p.telemetry.Logger.Warn(ctx, "event missing response_id, dropping")
		return nil
	}

	state := p.stateFor(responseID)

	ev, err := p.canonicalize(responseID, raw, state)
	if err != nil {
		return err
	}
	if ev == nil {
		// Non-emitting internal signal (init/metrics/tool-use binding).
		return nil
	}

	accepted, toPublish := p.applyUnderLock(ctx, state, ev)
	if !accepted {
		return nil
	}

	if toPublish != nil && p.publisher != nil {
		if err := p.publisher.Publish(ctx, responseID, toPublish); err != nil {
			p.telemetry.Logger.Error(ctx, "broker publish failed", "response_id", responseID, "error", err.Error())
			return err
		}
	}

	if isTerminal(ev) && p.terminal != nil {
		if err := p.terminal.HandleTerminal(ctx, responseID, ev); err != nil {
			p.telemetry.Logger.Error(ctx, "terminal handler failed, state preserved for retry", "response_id", responseID, "error", err.Error())
			return err
		}
	}

	return nil
}

func (p *Processor) canonicalize(responseID string, raw any, state *State) (streamevent.Event, error) {
	switch v := raw.(type) {
	case streamevent.Event:
		return v, nil
	case map[string]any:
		state.mu.Lock()
		defer state.mu.Unlock()
		return streamevent.ClassifyMap(responseID, v, state.ToolUseByBlock), nil
	default:
		return nil, fmt.Errorf("eventproc: unsupported raw event type %T", raw)
	}
}

// applyUnderLock performs steps 2-6 of the algorithm (sequence/timestamp
// assignment, dedup, reduction) under the per-response mutex, returning
// whether the event was accepted and, if so, the event to publish (nil if it
// should not be emitted). Publish (I/O) happens after the caller releases the
// lock, per the concurrency model's "no I/O under the per-response mutex"
// rule.
func (p *Processor) applyUnderLock(ctx context.Context, state *State, ev streamevent.Event) (accepted bool, toPublish streamevent.Event) {
	state.mu.Lock()
	defer state.mu.Unlock()

	if !ev.HasSequence() {
		ev.SetSequence(state.sequence)
		state.sequence++
	}
	if ev.Timestamp().IsZero() {
		ev.SetTimestamp(time.Now().UTC())
	}

	key := streamevent.DedupKey(ev)
	if _, seen := state.dedup[key]; seen {
		p.telemetry.Logger.Warn(ctx, "duplicate event suppressed", "response_id", ev.ResponseID(), "dedup_key", key)
		return false, nil
	}
	state.dedup[key] = struct{}{}

	p.reduce(ctx, state, ev)

	if ev.Emit() {
		return true, ev
	}
	return true, nil
}

// reduce dispatches ev to its variant-specific state mutation (§4.1.2). Any
// panic is recovered and recorded in state as StatusError plus an
// internal_error entry under Metadata["error"], so one response's malformed
// event can never take down the processor. No error event is published for a
// recovered panic; only the original event is published.
func (p *Processor) reduce(ctx context.Context, state *State, ev streamevent.Event) {
	defer func() {
		if r := recover(); r != nil {
			p.telemetry.Logger.Error(ctx, "reducer panic recovered", "response_id", ev.ResponseID(), "panic", fmt.Sprintf("%v", r))
			state.Status = message.StatusError
			state.Metadata["error"] = map[string]any{
				"type":    "internal_error",
				"message": fmt.Sprintf("reducer panic: %v", r),
				"details": map[string]any{"event_type": string(ev.Kind())},
			}
		}
	}()

	switch e := ev.(type) {
	case *streamevent.ResponseStartEvent:
		state.Status = message.StatusInProgress
		state.ModelID = e.ModelID
	case *streamevent.ContentEvent:
		if trimmedNonEmpty(e.Content) {
			state.Parts = append(state.Parts, message.NewTextPart(e.Content, nil, ev.Timestamp()))
		}
	case *streamevent.ReasoningEvent:
		if trimmedNonEmpty(e.Text) {
			state.Parts = append(state.Parts, message.NewReasoningPart(e.Text, e.Signature, e.Redacted, nil, ev.Timestamp()))
		}
	case *streamevent.ToolCallEvent:
		state.Parts = append(state.Parts, message.NewToolCallPart(e.ToolName, e.ToolID, e.ToolArgs, nil, ev.Timestamp()))
	case *streamevent.ToolReturnEvent:
		state.Parts = append(state.Parts, message.NewToolReturnPart(e.ToolName, e.ToolID, e.Result, nil, ev.Timestamp()))
	case *streamevent.DocumentEvent:
		state.Parts = append(state.Parts, message.NewDocumentPart(e.DocumentID, e.Title, e.Pointer, e.MimeType, nil, ev.Timestamp()))
	case *streamevent.CitationEvent:
		state.Parts = append(state.Parts, message.NewCitationPart(e.DocumentID, e.Text, "", e.Page, e.Section, e.CitationID, nil, ev.Timestamp()))
	case *streamevent.MetadataEvent:
		mergeMetadata(state.Metadata, e.Data)
		if name, ok := e.Data["model_name"].(string); ok && name != "" {
			state.ModelName = name
		}
	case *streamevent.StatusEvent:
		state.Status = message.Status(e.Status)
		state.Metadata["status_message"] = e.Message
	case *streamevent.ResponseEndEvent:
		switch e.Status {
		case "error":
			state.Status = message.StatusError
		case "user_stopped":
			state.Status = message.StatusUserStopped
		default:
			state.Status = message.StatusComplete
		}
		mergeMetadata(state.Usage, e.Usage)
	case *streamevent.ErrorEvent:
		state.Status = message.StatusError
		state.Metadata["error"] = map[string]any{
			"type":    e.ErrorType,
			"message": e.Message,
			"details": e.Details,
		}
	}
}

func mergeMetadata(dst map[string]any, src map[string]any) {
	for k, v := range src {
		dst[k] = v
	}
}

func trimmedNonEmpty(s string) bool {
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return true
		}
	}
	return false
}

func isTerminal(e streamevent.Event) bool {
	switch e.Kind() {
	case streamevent.KindResponseEnd, streamevent.KindError:
		return true
	default:
		return false
	}
}

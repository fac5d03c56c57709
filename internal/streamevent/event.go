// Package streamevent defines the canonical tagged-union wire event that
// flows from the agent event source through the Event Processor, the Broker
// Bridge, and finally to WebSocket clients.
//
// The shape follows a common Go streaming-event pattern: an unexported Base
// struct carrying the fields common to every variant, embedded by each
// concrete event type, with accessor methods satisfying the Event interface.
package streamevent

import "time"

// Kind identifies an event variant. The wire discriminator field is
// "__event_type__"; Kind values are its literal strings.
type Kind string

const (
	KindResponseStart Kind = "response_start"
	KindContent       Kind = "content"
	KindReasoning     Kind = "reasoning"
	KindToolCall      Kind = "tool_call"
	KindToolReturn    Kind = "tool_return"
	KindDocument      Kind = "document"
	KindCitation      Kind = "citation"
	KindStatus        Kind = "status"
	KindMetadata      Kind = "metadata"
	KindResponseEnd   Kind = "response_end"
	KindError         Kind = "error"
)

// Event is satisfied by every streaming event variant. Implementations embed
// Base and add variant-specific payload fields.
type Event interface {
	Kind() Kind
	ResponseID() string
	Sequence() int
	SetSequence(n int)
	Timestamp() time.Time
	SetTimestamp(t time.Time)
	Emit() bool
	Persist() bool
	ContentBlockIndex() *int
	BlockSequence() *int
	SetBlock(contentBlockIndex, blockSequence *int)
	HasSequence() bool
}

// Base carries the fields shared by every event variant. Fields are
// unexported; callers interact with them through the Event interface methods,
// mirroring the embedding pattern used for the agent runtime's stream events.
type Base struct {
	kind              Kind
	responseID        string
	sequence          int
	timestamp         time.Time
	emit              bool
	persist           bool
	contentBlockIndex *int
	blockSequence     *int
}

// NewBase constructs a Base. emit/persist default to true: most variants both
// fan out to clients and contribute to the stored message; callers that need
// streaming-only or storage-only behavior (e.g. status events) override after
// construction via the setters below.
func NewBase(kind Kind, responseID string) Base {
	return Base{
		kind:       kind,
		responseID: responseID,
		sequence:   -1, // unset; assigned by the Event Processor
		emit:       true,
		persist:    true,
	}
}

func (b Base) Kind() Kind                 { return b.kind }
func (b Base) ResponseID() string         { return b.responseID }
func (b Base) Sequence() int              { return b.sequence }
func (b *Base) SetSequence(n int)         { b.sequence = n }
func (b Base) Timestamp() time.Time       { return b.timestamp }
func (b *Base) SetTimestamp(t time.Time)  { b.timestamp = t }
func (b Base) Emit() bool                 { return b.emit }
func (b Base) Persist() bool              { return b.persist }
func (b Base) ContentBlockIndex() *int    { return b.contentBlockIndex }
func (b Base) BlockSequence() *int        { return b.blockSequence }

// SetEmit overrides the default emit flag (e.g. status events are
// streaming-only and set Persist(false) instead).
func (b *Base) SetEmit(v bool) { b.emit = v }

// SetPersist overrides the default persist flag.
func (b *Base) SetPersist(v bool) { b.persist = v }

// SetBlock sets the content-block grouping fields.
func (b *Base) SetBlock(contentBlockIndex, blockSequence *int) {
	b.contentBlockIndex = contentBlockIndex
	b.blockSequence = blockSequence
}

// HasSequence reports whether the Event Processor has already assigned a
// sequence number (Sequence() != -1).
func (b Base) HasSequence() bool { return b.sequence >= 0 }

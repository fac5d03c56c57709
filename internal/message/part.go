// Package message defines the stored Message and its discriminated-union Part
// types, the wire/storage contract shared by the Aggregation layer and the
// Durable Writer.
//
// The discriminated-union encode/decode follows a common Kind-tagged wrapper
// pattern (here "part_kind") with a hand-written dispatcher over a small,
// enumerated set of shapes.
package message

import "time"

// PartKind identifies a part variant.
type PartKind string

const (
	PartText       PartKind = "text"
	PartReasoning  PartKind = "reasoning"
	PartToolCall   PartKind = "tool_call"
	PartToolReturn PartKind = "tool_return"
	PartImage      PartKind = "image"
	PartDocument   PartKind = "document"
	PartCitation   PartKind = "citation"
)

// Part is satisfied by every stored message part variant. Every part carries
// display Content, a free-form Metadata map, and a Timestamp. Content is
// empty for tool_call and tool_return parts built by their constructors.
type Part interface {
	Kind() PartKind
	Content() string
	Metadata() map[string]any
	Timestamp() time.Time
}

// PartBase holds the fields common to every part. Concrete variants embed it.
type PartBase struct {
	kind      PartKind
	content   string
	metadata  map[string]any
	timestamp time.Time
}

func newPartBase(kind PartKind, content string, metadata map[string]any, ts time.Time) PartBase {
	if metadata == nil {
		metadata = map[string]any{}
	}
	return PartBase{kind: kind, content: content, metadata: metadata, timestamp: ts}
}

func (p PartBase) Kind() PartKind            { return p.kind }
func (p PartBase) Content() string           { return p.content }
func (p PartBase) Metadata() map[string]any  { return p.metadata }
func (p PartBase) Timestamp() time.Time      { return p.timestamp }

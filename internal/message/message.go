package message

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind distinguishes a request message (the user turn) from a response
// message (the assistant turn produced by the pipeline).
type Kind string

const (
	KindRequest  Kind = "request"
	KindResponse Kind = "response"
)

// Status is the lifecycle status of a stored Message.
type Status string

const (
	StatusPending     Status = "pending"
	StatusInProgress  Status = "in_progress"
	StatusComplete    Status = "complete"
	StatusError       Status = "error"
	StatusUserStopped Status = "user_stopped"
)

// Message is the stored unit written by the Durable Writer.
type Message struct {
	MessageID string         `json:"message_id"`
	ChatID    string         `json:"chat_id"`
	ParentID  string         `json:"parent_id,omitempty"`
	Kind      Kind           `json:"kind"`
	Parts     []Part         `json:"parts"`
	Status    Status         `json:"status"`
	Metadata  map[string]any `json:"metadata"`
	Timestamp time.Time      `json:"timestamp"`
	ModelName string         `json:"model_name,omitempty"`
	Usage     map[string]any `json:"usage,omitempty"`
}

// messageWire is the JSON-on-the-wire shape: Parts must be encoded through
// MarshalPart/UnmarshalPart individually since Part is an interface.
type messageWire struct {
	MessageID string            `json:"message_id"`
	ChatID    string            `json:"chat_id"`
	ParentID  string            `json:"parent_id,omitempty"`
	Kind      Kind              `json:"kind"`
	Parts     []json.RawMessage `json:"parts"`
	Status    Status            `json:"status"`
	Metadata  map[string]any    `json:"metadata"`
	Timestamp time.Time         `json:"timestamp"`
	ModelName string            `json:"model_name,omitempty"`
	Usage     map[string]any    `json:"usage,omitempty"`
}

// MarshalJSON encodes the message, encoding each Part through the
// discriminated-union codec.
func (m Message) MarshalJSON() ([]byte, error) {
	wire := messageWire{
		MessageID: m.MessageID,
		ChatID:    m.ChatID,
		ParentID:  m.ParentID,
		Kind:      m.Kind,
		Status:    m.Status,
		Metadata:  m.Metadata,
		Timestamp: m.Timestamp,
		ModelName: m.ModelName,
		Usage:     m.Usage,
	}
	for _, p := range m.Parts {
		raw, err := MarshalPart(p)
		if err != nil {
			return nil, fmt.Errorf("message: encode part: %w", err)
		}
		wire.Parts = append(wire.Parts, raw)
	}
	return json.Marshal(wire)
}

// UnmarshalJSON decodes the message, decoding each Part through the
// discriminated-union codec.
func (m *Message) UnmarshalJSON(data []byte) error {
	var wire messageWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	m.MessageID = wire.MessageID
	m.ChatID = wire.ChatID
	m.ParentID = wire.ParentID
	m.Kind = wire.Kind
	m.Status = wire.Status
	m.Metadata = wire.Metadata
	m.Timestamp = wire.Timestamp
	m.ModelName = wire.ModelName
	m.Usage = wire.Usage

	m.Parts = make([]Part, 0, len(wire.Parts))
	for _, raw := range wire.Parts {
		p, err := UnmarshalPart(raw)
		if err != nil {
			return fmt.Errorf("message: decode part: %w", err)
		}
		m.Parts = append(m.Parts, p)
	}
	return nil
}

package streamevent

import (
	"encoding/json"
	"fmt"
	"time"
)

// wireCommon holds the fields shared by every event variant on the wire,
// keyed by the "__event_type__" discriminator tag per the broker channel
// contract (see the message serialization contract).
type wireCommon struct {
	EventType         Kind           `json:"__event_type__"`
	ResponseID        string         `json:"response_id"`
	Sequence          int            `json:"sequence"`
	Timestamp         time.Time      `json:"timestamp"`
	Emit              bool           `json:"emit"`
	Persist           bool           `json:"persist"`
	ContentBlockIndex *int           `json:"content_block_index,omitempty"`
	BlockSequence     *int           `json:"block_sequence,omitempty"`
}

func commonOf(e Event) wireCommon {
	return wireCommon{
		EventType:         e.Kind(),
		ResponseID:        e.ResponseID(),
		Sequence:          e.Sequence(),
		Timestamp:         e.Timestamp(),
		Emit:              e.Emit(),
		Persist:           e.Persist(),
		ContentBlockIndex: e.ContentBlockIndex(),
		BlockSequence:     e.BlockSequence(),
	}
}

// Marshal encodes an Event as a discriminated-union JSON document carrying the
// "__event_type__" tag required by the broker channel wire format.
func Marshal(e Event) (json.RawMessage, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("streamevent: marshal payload: %w", err)
	}
	var payloadMap map[string]json.RawMessage
	if err := json.Unmarshal(payload, &payloadMap); err != nil {
		return nil, fmt.Errorf("streamevent: decode payload fields: %w", err)
	}

	common, err := json.Marshal(commonOf(e))
	if err != nil {
		return nil, fmt.Errorf("streamevent: marshal common fields: %w", err)
	}
	var commonMap map[string]json.RawMessage
	if err := json.Unmarshal(common, &commonMap); err != nil {
		return nil, fmt.Errorf("streamevent: decode common fields: %w", err)
	}

	for k, v := range payloadMap {
		commonMap[k] = v
	}
	return json.Marshal(commonMap)
}

// Unmarshal decodes a discriminated-union JSON document back into its
// canonical Event variant using the "__event_type__" tag. Unknown tags return
// an error.
func Unmarshal(data []byte) (Event, error) {
	var common wireCommon
	if err := json.Unmarshal(data, &common); err != nil {
		return nil, fmt.Errorf("streamevent: decode common fields: %w", err)
	}

	var e Event
	switch common.EventType {
	case KindResponseStart:
		e = &ResponseStartEvent{}
	case KindContent:
		e = &ContentEvent{}
	case KindReasoning:
		e = &ReasoningEvent{}
	case KindToolCall:
		e = &ToolCallEvent{}
	case KindToolReturn:
		e = &ToolReturnEvent{}
	case KindDocument:
		e = &DocumentEvent{}
	case KindCitation:
		e = &CitationEvent{}
	case KindStatus:
		e = &StatusEvent{}
	case KindMetadata:
		e = &MetadataEvent{}
	case KindResponseEnd:
		e = &ResponseEndEvent{}
	case KindError:
		e = &ErrorEvent{}
	default:
		return nil, fmt.Errorf("streamevent: unknown event type %q", common.EventType)
	}

	if err := json.Unmarshal(data, e); err != nil {
		return nil, fmt.Errorf("streamevent: decode %s payload: %w", common.EventType, err)
	}

	applyCommon(e, common)
	return e, nil
}

// applyCommon backfills the unexported Base fields on a freshly decoded
// variant, since json.Unmarshal cannot reach them directly.
func applyCommon(e Event, common wireCommon) {
	base := baseOf(e)
	*base = NewBase(common.EventType, common.ResponseID)
	base.SetSequence(common.Sequence)
	base.SetTimestamp(common.Timestamp)
	base.SetEmit(common.Emit)
	base.SetPersist(common.Persist)
	base.SetBlock(common.ContentBlockIndex, common.BlockSequence)
}

// baseOf returns a pointer to the embedded Base of a concrete event variant.
func baseOf(e Event) *Base {
	switch v := e.(type) {
	case *ResponseStartEvent:
		return &v.Base
	case *ContentEvent:
		return &v.Base
	case *ReasoningEvent:
		return &v.Base
	case *ToolCallEvent:
		return &v.Base
	case *ToolReturnEvent:
		return &v.Base
	case *DocumentEvent:
		return &v.Base
	case *CitationEvent:
		return &v.Base
	case *StatusEvent:
		return &v.Base
	case *MetadataEvent:
		return &v.Base
	case *ResponseEndEvent:
		return &v.Base
	case *ErrorEvent:
		return &v.Base
	default:
		panic(fmt.Sprintf("streamevent: unhandled event variant %T", e))
	}
}

package message

import (
	"encoding/json"
	"fmt"
	"time"
)

// wireCommon holds the fields every part carries on the wire, keyed by the
// "part_kind" discriminator required by the message serialization contract.
type wireCommon struct {
	PartKind  PartKind       `json:"part_kind"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata"`
	Timestamp time.Time      `json:"timestamp"`
}

func commonOf(p Part) wireCommon {
	return wireCommon{PartKind: p.Kind(), Content: p.Content(), Metadata: p.Metadata(), Timestamp: p.Timestamp()}
}

// MarshalPart encodes a Part as a discriminated-union JSON document.
func MarshalPart(p Part) (json.RawMessage, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("message: marshal payload: %w", err)
	}
	var payloadMap map[string]json.RawMessage
	if err := json.Unmarshal(payload, &payloadMap); err != nil {
		return nil, fmt.Errorf("message: decode payload fields: %w", err)
	}

	common, err := json.Marshal(commonOf(p))
	if err != nil {
		return nil, fmt.Errorf("message: marshal common fields: %w", err)
	}
	var commonMap map[string]json.RawMessage
	if err := json.Unmarshal(common, &commonMap); err != nil {
		return nil, fmt.Errorf("message: decode common fields: %w", err)
	}

	for k, v := range payloadMap {
		commonMap[k] = v
	}
	return json.Marshal(commonMap)
}

// UnmarshalPart decodes a discriminated-union JSON document back into its
// canonical Part variant using the "part_kind" tag. Unknown tags degrade to a
// text part carrying an error note in metadata, rather than failing — this is
// the "reconstructing legacy data" tolerance required by the serialization
// contract.
func UnmarshalPart(data []byte) (Part, error) {
	var common wireCommon
	if err := json.Unmarshal(data, &common); err != nil {
		return nil, fmt.Errorf("message: decode common fields: %w", err)
	}

	switch common.PartKind {
	case PartText:
		var p TextPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		p.PartBase = newPartBase(PartText, common.Content, common.Metadata, common.Timestamp)
		return &p, nil
	case PartReasoning:
		var p ReasoningPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		p.PartBase = newPartBase(PartReasoning, common.Content, common.Metadata, common.Timestamp)
		return &p, nil
	case PartToolCall:
		var p ToolCallPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		p.PartBase = newPartBase(PartToolCall, common.Content, common.Metadata, common.Timestamp)
		return &p, nil
	case PartToolReturn:
		var p ToolReturnPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		p.PartBase = newPartBase(PartToolReturn, common.Content, common.Metadata, common.Timestamp)
		return &p, nil
	case PartImage:
		var p ImagePart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		p.PartBase = newPartBase(PartImage, common.Content, common.Metadata, common.Timestamp)
		return &p, nil
	case PartDocument:
		var p DocumentPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		p.PartBase = newPartBase(PartDocument, common.Content, common.Metadata, common.Timestamp)
		return &p, nil
	case PartCitation:
		var p CitationPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		// Route through the constructor so text/content resynchronize even
		// when decoding legacy rows that only carried one of the two fields.
		return NewCitationPart(p.DocumentID, p.Text, common.Content, p.Page, p.Section, p.CitationID, common.Metadata, common.Timestamp), nil
	default:
		meta := map[string]any{}
		for k, v := range common.Metadata {
			meta[k] = v
		}
		meta["decode_error"] = fmt.Sprintf("unknown part_kind %q", common.PartKind)
		return NewTextPart(common.Content, meta, common.Timestamp), nil
	}
}

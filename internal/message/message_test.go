package message_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/chatworkbench/streampipe/internal/message"
	"github.com/stretchr/testify/require"
)

func TestMessageRoundTripWithAllPartKinds(t *testing.T) {
	ts := time.Now().UTC().Truncate(time.Second)
	page := 2
	original := message.Message{
		MessageID: "R1",
		ChatID:    "C1",
		ParentID:  "Q1",
		Kind:      message.KindResponse,
		Status:    message.StatusComplete,
		Metadata:  map[string]any{"usage_info": "3/2"},
		Timestamp: ts,
		ModelName: "claude",
		Parts: []message.Part{
			message.NewTextPart("Hello", nil, ts),
			message.NewReasoningPart("thinking", "sig", nil, nil, ts),
			message.NewToolCallPart("calc", "t1", map[string]any{"expression": "1+1"}, nil, ts),
			message.NewToolReturnPart("calc", "t1", map[string]any{"result": 2}, nil, ts),
			message.NewImagePart("img1", "u1", "image/png", nil, ts),
			message.NewDocumentPart("doc1", "Title", "", "application/pdf", nil, ts),
			message.NewCitationPart("D1", "cited", "", &page, "", "", nil, ts),
		},
	}

	encoded, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded message.Message
	require.NoError(t, json.Unmarshal(encoded, &decoded))

	require.Equal(t, original.MessageID, decoded.MessageID)
	require.Len(t, decoded.Parts, len(original.Parts))
	for i, p := range decoded.Parts {
		require.Equal(t, original.Parts[i].Kind(), p.Kind())
		require.Equal(t, original.Parts[i].Content(), p.Content())
	}
}

func TestUnmarshalPartUnknownKindDegradesToText(t *testing.T) {
	raw := []byte(`{"part_kind":"unknown_future_kind","content":"fallback text","metadata":{}}`)
	p, err := message.UnmarshalPart(raw)
	require.NoError(t, err)
	require.Equal(t, message.PartText, p.Kind())
	require.Equal(t, "fallback text", p.Content())
	require.Contains(t, p.Metadata(), "decode_error")
}

func TestImagePartDefaultContent(t *testing.T) {
	p := message.NewImagePart("f1", "u1", "image/png", nil, time.Now())
	require.Equal(t, "[Image: f1]", p.Content())
}

func TestDocumentPartDefaultContentPrefersTitle(t *testing.T) {
	p := message.NewDocumentPart("f1", "My Title", "", "application/pdf", nil, time.Now())
	require.Equal(t, "[Document: My Title]", p.Content())

	withoutTitle := message.NewDocumentPart("f1", "", "", "application/pdf", nil, time.Now())
	require.Equal(t, "[Document: f1]", withoutTitle.Content())
}

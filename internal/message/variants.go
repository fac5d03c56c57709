package message

import "time"

// TextPart: content is the text itself.
type TextPart struct {
	PartBase
}

// NewTextPart builds a text part. Empty text is allowed by the constructor
// (callers filter empty fragments before this point, per the boundary
// behavior "empty content fragments are dropped before part creation") but the
// aggregation layer never persists an all-empty text part.
func NewTextPart(text string, metadata map[string]any, ts time.Time) *TextPart {
	return &TextPart{PartBase: newPartBase(PartText, text, metadata, ts)}
}

// ReasoningPart: content is the reasoning text; signature/redacted are
// provider-specific opaque fields used for round-tripping thinking blocks.
type ReasoningPart struct {
	PartBase
	Signature string `json:"signature,omitempty"`
	Redacted  []byte `json:"redacted_content,omitempty"`
}

func NewReasoningPart(text, signature string, redacted []byte, metadata map[string]any, ts time.Time) *ReasoningPart {
	return &ReasoningPart{
		PartBase:  newPartBase(PartReasoning, text, metadata, ts),
		Signature: signature,
		Redacted:  redacted,
	}
}

// ToolCallPart: content is optional (callers may leave it empty; the field
// exists for UI rendering convenience only).
type ToolCallPart struct {
	PartBase
	ToolName string `json:"tool_name"`
	ToolID   string `json:"tool_id"`
	ToolArgs any    `json:"tool_args"`
}

func NewToolCallPart(toolName, toolID string, toolArgs any, metadata map[string]any, ts time.Time) *ToolCallPart {
	return &ToolCallPart{
		PartBase: newPartBase(PartToolCall, "", metadata, ts),
		ToolName: toolName,
		ToolID:   toolID,
		ToolArgs: toolArgs,
	}
}

// ToolReturnPart: content is optional.
type ToolReturnPart struct {
	PartBase
	ToolName string `json:"tool_name"`
	ToolID   string `json:"tool_id"`
	Result   any    `json:"result"`
}

func NewToolReturnPart(toolName, toolID string, result any, metadata map[string]any, ts time.Time) *ToolReturnPart {
	return &ToolReturnPart{
		PartBase: newPartBase(PartToolReturn, "", metadata, ts),
		ToolName: toolName,
		ToolID:   toolID,
		Result:   result,
	}
}

// ImagePart: content defaults to "[Image: {file_id}]" if not supplied.
type ImagePart struct {
	PartBase
	FileID   string `json:"file_id"`
	UserID   string `json:"user_id,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Width    *int   `json:"width,omitempty"`
	Height   *int   `json:"height,omitempty"`
}

func NewImagePart(fileID, userID, mimeType string, metadata map[string]any, ts time.Time) *ImagePart {
	return &ImagePart{
		PartBase: newPartBase(PartImage, "[Image: "+fileID+"]", metadata, ts),
		FileID:   fileID,
		UserID:   userID,
		MimeType: mimeType,
	}
}

// DocumentPart: content defaults to "[Document: {title or file_id}]" if not supplied.
type DocumentPart struct {
	PartBase
	FileID    string `json:"file_id"`
	MimeType  string `json:"mime_type,omitempty"`
	Pointer   string `json:"pointer,omitempty"`
	Title     string `json:"title,omitempty"`
	PageCount *int   `json:"page_count,omitempty"`
	WordCount *int   `json:"word_count,omitempty"`
}

func NewDocumentPart(fileID, title, pointer, mimeType string, metadata map[string]any, ts time.Time) *DocumentPart {
	display := title
	if display == "" {
		display = fileID
	}
	return &DocumentPart{
		PartBase: newPartBase(PartDocument, "[Document: "+display+"]", metadata, ts),
		FileID:   fileID,
		MimeType: mimeType,
		Pointer:  pointer,
		Title:    title,
	}
}

// CitationPart keeps Text (raw cited passage) and Content (display-formatted)
// synchronized per invariant I4. Construction always goes through
// NewCitationPart so the sync happens exactly once; changing Text or Content
// on an existing part does not re-derive the other field.
type CitationPart struct {
	PartBase
	DocumentID      string `json:"document_id"`
	Text            string `json:"text"`
	Page            *int   `json:"page,omitempty"`
	Section         string `json:"section,omitempty"`
	CitationID      string `json:"citation_id,omitempty"`
	ReferenceNumber *int   `json:"reference_number,omitempty"`
	DocumentTitle   string `json:"document_title,omitempty"`
	DocumentPointer string `json:"document_pointer,omitempty"`
}

package streamevent

import "encoding/json"

// ResponseStartEvent marks the beginning of a response.
type ResponseStartEvent struct {
	Base
	RequestID string `json:"request_id"`
	ChatID    string `json:"chat_id"`
	ModelID   string `json:"model_id"`
	ParentID  string `json:"parent_id,omitempty"`
	Task      string `json:"task,omitempty"`
}

// NewResponseStart builds a response_start event.
func NewResponseStart(responseID, requestID, chatID, modelID, parentID, task string) *ResponseStartEvent {
	return &ResponseStartEvent{
		Base:      NewBase(KindResponseStart, responseID),
		RequestID: requestID,
		ChatID:    chatID,
		ModelID:   modelID,
		ParentID:  parentID,
		Task:      task,
	}
}

// ContentEvent carries a streaming text delta.
type ContentEvent struct {
	Base
	Content string `json:"content"`
}

// NewContent builds a content event.
func NewContent(responseID, content string) *ContentEvent {
	return &ContentEvent{Base: NewBase(KindContent, responseID), Content: content}
}

// ReasoningEvent carries a model chain-of-thought fragment.
type ReasoningEvent struct {
	Base
	Text      string `json:"text"`
	Signature string `json:"signature,omitempty"`
	Redacted  []byte `json:"redacted_content,omitempty"`
}

// NewReasoning builds a reasoning event.
func NewReasoning(responseID, text string) *ReasoningEvent {
	return &ReasoningEvent{Base: NewBase(KindReasoning, responseID), Text: text}
}

// ToolCallEvent carries a (possibly partial) tool invocation.
// ToolArgs is either a complete object (map[string]any) or a raw
// string/partial-JSON fragment; the Aggregation layer merges fragments.
type ToolCallEvent struct {
	Base
	ToolName string `json:"tool_name"`
	ToolID   string `json:"tool_id"`
	ToolArgs any    `json:"tool_args"`
}

// NewToolCall builds a tool_call event.
func NewToolCall(responseID, toolName, toolID string, toolArgs any) *ToolCallEvent {
	return &ToolCallEvent{Base: NewBase(KindToolCall, responseID), ToolName: toolName, ToolID: toolID, ToolArgs: toolArgs}
}

// ToolReturnEvent carries the result of a tool call.
type ToolReturnEvent struct {
	Base
	ToolName string `json:"tool_name"`
	ToolID   string `json:"tool_id"`
	Result   any    `json:"result"`
}

// NewToolReturn builds a tool_return event.
func NewToolReturn(responseID, toolName, toolID string, result any) *ToolReturnEvent {
	return &ToolReturnEvent{Base: NewBase(KindToolReturn, responseID), ToolName: toolName, ToolID: toolID, Result: result}
}

// DocumentEvent references a retrieved document.
type DocumentEvent struct {
	Base
	DocumentID string `json:"document_id"`
	Title      string `json:"title,omitempty"`
	Pointer    string `json:"pointer,omitempty"`
	MimeType   string `json:"mime_type,omitempty"`
	PageCount  *int   `json:"page_count,omitempty"`
	WordCount  *int   `json:"word_count,omitempty"`
}

// NewDocument builds a document event.
func NewDocument(responseID, documentID string) *DocumentEvent {
	return &DocumentEvent{Base: NewBase(KindDocument, responseID), DocumentID: documentID}
}

// CitationEvent carries a passage citation.
type CitationEvent struct {
	Base
	DocumentID       string `json:"document_id"`
	Text             string `json:"text"`
	Page             *int   `json:"page,omitempty"`
	Section          string `json:"section,omitempty"`
	CitationID       string `json:"citation_id,omitempty"`
	ReferenceNumber  *int   `json:"reference_number,omitempty"`
	DocumentTitle    string `json:"document_title,omitempty"`
	DocumentPointer  string `json:"document_pointer,omitempty"`
}

// NewCitation builds a citation event.
func NewCitation(responseID, documentID, text string) *CitationEvent {
	return &CitationEvent{Base: NewBase(KindCitation, responseID), DocumentID: documentID, Text: text}
}

// StatusEvent is a streaming-only progress notification; it is never persisted.
type StatusEvent struct {
	Base
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// NewStatus builds a status event. Status events are emit-only.
func NewStatus(responseID, status, message string) *StatusEvent {
	e := &StatusEvent{Base: NewBase(KindStatus, responseID), Status: status, Message: message}
	e.SetPersist(false)
	return e
}

// MetadataEvent carries out-of-band information (including usage counters)
// that is merged into the response's running state, never emitted as a part.
type MetadataEvent struct {
	Base
	Data map[string]any `json:"data"`
}

// NewMetadata builds a metadata event.
func NewMetadata(responseID string, data map[string]any) *MetadataEvent {
	e := &MetadataEvent{Base: NewBase(KindMetadata, responseID), Data: data}
	e.SetPersist(false)
	return e
}

// ResponseEndEvent is terminal for a response_id.
type ResponseEndEvent struct {
	Base
	Status string         `json:"status"` // "completed" | "error" | "user_stopped"
	Usage  map[string]any `json:"usage,omitempty"`
}

// NewResponseEnd builds a response_end event.
func NewResponseEnd(responseID, status string, usage map[string]any) *ResponseEndEvent {
	return &ResponseEndEvent{Base: NewBase(KindResponseEnd, responseID), Status: status, Usage: usage}
}

// ErrorEvent is terminal for a response_id; it signals a fault.
type ErrorEvent struct {
	Base
	ErrorType string         `json:"error_type"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
}

// NewError builds an error event.
func NewError(responseID, errorType, message string) *ErrorEvent {
	return &ErrorEvent{Base: NewBase(KindError, responseID), ErrorType: errorType, Message: message}
}

// ToWebsocket renders the event's payload as the JSON value the WebSocket
// Session Manager nests under the "event" frame's "data" field.
func ToWebsocket(e Event) json.RawMessage {
	b, err := Marshal(e)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}

package session

import (
	"strings"
	"sync"
)

// contentBuffer accumulates content deltas for one in-flight response, so a
// reconnecting client can be shown what has streamed so far without
// replaying the full broker history.
type contentBuffer struct {
	mu sync.Mutex
	b  strings.Builder
}

// TrackContent appends delta to responseID's accumulated content buffer.
// response_id already uniquely identifies the message being generated in
// this pipeline, so the cache is keyed directly by it.
func (m *Manager) TrackContent(responseID, delta string) {
	m.trackContentForResponse(responseID, delta)
}

func (m *Manager) trackContentForResponse(responseID, delta string) {
	if delta == "" {
		return
	}
	m.contentMu.Lock()
	buf, ok := m.content[responseID]
	if !ok {
		buf = &contentBuffer{}
		m.content[responseID] = buf
	}
	m.contentMu.Unlock()

	buf.mu.Lock()
	buf.b.WriteString(delta)
	buf.mu.Unlock()
}

// GetAccumulatedContent returns everything tracked so far for responseID.
func (m *Manager) GetAccumulatedContent(responseID string) string {
	m.contentMu.Lock()
	buf, ok := m.content[responseID]
	m.contentMu.Unlock()
	if !ok {
		return ""
	}
	buf.mu.Lock()
	defer buf.mu.Unlock()
	return buf.b.String()
}

// ClearAccumulatedContent discards responseID's buffer, called once the
// response reaches a terminal state.
func (m *Manager) ClearAccumulatedContent(responseID string) {
	m.contentMu.Lock()
	delete(m.content, responseID)
	m.contentMu.Unlock()
}

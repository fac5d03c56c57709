package streamevent

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// DedupKey computes a stable deduplication key for an event, scoped to its
// response_id. The key is built only from structurally stable fields
// (event type, content block position, sequence, tool id) so that replaying
// the same logical event yields the same key regardless of object identity —
// the source language's dict-identity fallback is deliberately not
// reproduced here (see the dedup open question).
func DedupKey(e Event) string {
	cbi := -1
	if p := e.ContentBlockIndex(); p != nil {
		cbi = *p
	}
	bs := -1
	if p := e.BlockSequence(); p != nil {
		bs = *p
	}

	toolID := ""
	switch v := e.(type) {
	case *ToolCallEvent:
		toolID = v.ToolID
	case *ToolReturnEvent:
		toolID = v.ToolID
	}

	key := fmt.Sprintf("%s|%s|%d|%d|%d|%s", e.Kind(), e.ResponseID(), cbi, bs, e.Sequence(), toolID)

	// Fall back to a content hash only when every structural field above is
	// at its zero/unset value (e.g. a bare metadata event with no sequence
	// assigned yet) — otherwise the structural fields alone are sufficient
	// and stable.
	if cbi == -1 && bs == -1 && e.Sequence() < 0 && toolID == "" {
		key += "|" + contentHash(e)
	}

	return key
}

func contentHash(e Event) string {
	b, err := json.Marshal(e)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:8])
}

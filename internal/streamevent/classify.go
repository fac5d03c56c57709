package streamevent

import "strings"

// ToolUseBinding records the (tool_id -> tool_name) binding observed from a
// contentBlockStart.start.toolUse shape, so that subsequent contentBlockDelta
// fragments for the same content_block_index can be attributed to a tool
// name. The Event Processor keeps one of these per response, keyed by
// content_block_index.
type ToolUseBinding struct {
	ToolID   string
	ToolName string
}

// ClassifyMap performs the structural classification of a loosely shaped
// vendor streaming payload, recognizing it by the presence of well-known
// nested keys (the agent SDK does not tag its payloads with a discriminator).
// toolUseByBlock supplies (and is updated with) the content-block -> tool
// binding accumulated across the response, since a toolUse binding observed at
// contentBlockStart must be remembered for later contentBlockDelta fragments.
//
// Returns the canonical Event, or nil if the shape carries no user-visible
// event (e.g. a bare contentBlockStart binding, or an init/metrics signal).
func ClassifyMap(responseID string, raw map[string]any, toolUseByBlock map[int]*ToolUseBinding) Event {
	if _, ok := raw["init_event_loop"]; ok {
		return nil
	}
	if _, ok := raw["event_loop_metrics"]; ok {
		return nil
	}

	if key, ok := exceptionKey(raw); ok {
		return NewError(responseID, key, "agent exception: "+key)
	}

	if ev, ok := raw["event"].(map[string]any); ok {
		if start, ok := ev["messageStop"].(map[string]any); ok {
			if reason, _ := start["stopReason"].(string); reason != "" {
				switch reason {
				case "end_turn", "stop_sequence", "max_tokens", "content_filtered":
					return NewResponseEnd(responseID, "completed", nil)
				}
			}
		}

		if blockStart, ok := ev["contentBlockStart"].(map[string]any); ok {
			idx := intField(blockStart, "contentBlockIndex")
			if start, ok := blockStart["start"].(map[string]any); ok {
				if toolUse, ok := start["toolUse"].(map[string]any); ok && idx != nil {
					toolID, _ := toolUse["toolUseId"].(string)
					toolName, _ := toolUse["name"].(string)
					toolUseByBlock[*idx] = &ToolUseBinding{ToolID: toolID, ToolName: toolName}
					return nil
				}
			}
		}

		if blockDelta, ok := ev["contentBlockDelta"].(map[string]any); ok {
			idx := intField(blockDelta, "contentBlockIndex")
			delta, _ := blockDelta["delta"].(map[string]any)
			if delta != nil {
				if text, ok := delta["text"].(string); ok {
					e := NewContent(responseID, text)
					e.SetBlock(idx, nil)
					return e
				}
				if toolUse, ok := delta["toolUse"].(map[string]any); ok {
					input := toolUse["input"]
					var binding *ToolUseBinding
					if idx != nil {
						binding = toolUseByBlock[*idx]
					}
					toolName, toolID := "", ""
					if binding != nil {
						toolName, toolID = binding.ToolName, binding.ToolID
					}
					e := NewToolCall(responseID, toolName, toolID, input)
					e.SetBlock(idx, nil)
					return e
				}
				if reasoning, ok := delta["reasoningContent"]; ok {
					text := reasoningText(reasoning)
					e := NewReasoning(responseID, text)
					e.SetBlock(idx, nil)
					return e
				}
			}
		}
	}

	return nil
}

// exceptionKey reports whether raw carries a top-level key ending in
// "Exception", returning it if so.
func exceptionKey(raw map[string]any) (string, bool) {
	for k := range raw {
		if strings.HasSuffix(k, "Exception") {
			return k, true
		}
	}
	return "", false
}

func intField(m map[string]any, key string) *int {
	v, ok := m[key]
	if !ok {
		return nil
	}
	switch n := v.(type) {
	case int:
		return &n
	case float64:
		i := int(n)
		return &i
	default:
		return nil
	}
}

func reasoningText(v any) string {
	switch r := v.(type) {
	case string:
		return r
	case map[string]any:
		if t, ok := r["text"].(string); ok {
			return t
		}
	}
	return ""
}

// Package aggregate converts the possibly-fragmented per-variant events
// observed during a response into the final, compacted set of message parts
// written by the Durable Writer.
//
// The block-accumulate-then-reduce shape generalizes a transcript-ledger
// pattern from "thinking/text/tool-use/tool-result" parts to this pipeline's
// seven persisted variants.
package aggregate

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/chatworkbench/streampipe/internal/message"
	"github.com/chatworkbench/streampipe/internal/streamevent"
	"github.com/google/uuid"
)

// looseBlock is the synthetic content_block_index used to bucket events that
// did not carry one, so they can be reduced with the same per-variant logic
// as a real block.
const looseBlock = -1

// Aggregate groups events by content_block_index, reduces each
// (block, variant) group into a single message.Part via the variant-specific
// rule, and returns the parts in block order. Unknown variants and status
// events are dropped, per the aggregation core rule.
func Aggregate(events []streamevent.Event) []message.Part {
	blocks := map[int]map[streamevent.Kind][]streamevent.Event{}
	var blockOrder []int

	for _, e := range events {
		block := looseBlock
		if p := e.ContentBlockIndex(); p != nil {
			block = *p
		}
		if _, ok := blocks[block]; !ok {
			blocks[block] = map[streamevent.Kind][]streamevent.Event{}
			blockOrder = append(blockOrder, block)
		}
		blocks[block][e.Kind()] = append(blocks[block][e.Kind()], e)
	}
	sort.Ints(blockOrder)

	var parts []message.Part
	for _, block := range blockOrder {
		variantOrder := []streamevent.Kind{
			streamevent.KindContent,
			streamevent.KindReasoning,
			streamevent.KindToolCall,
			streamevent.KindCitation,
			streamevent.KindDocument,
			streamevent.KindToolReturn,
		}
		for _, kind := range variantOrder {
			group, ok := blocks[block][kind]
			if !ok || len(group) == 0 {
				continue
			}
			sortByOrderKey(group)
			if p := reduce(kind, group); p != nil {
				parts = append(parts, p)
			}
		}
	}
	return parts
}

// sortByOrderKey sorts a group by (sequence, block_sequence), the order key
// used by every reducer except document/tool_return (which take the first
// event and are insensitive to tie-breaking beyond "first observed").
func sortByOrderKey(events []streamevent.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Sequence() != events[j].Sequence() {
			return events[i].Sequence() < events[j].Sequence()
		}
		bi, bj := 0, 0
		if p := events[i].BlockSequence(); p != nil {
			bi = *p
		}
		if p := events[j].BlockSequence(); p != nil {
			bj = *p
		}
		return bi < bj
	})
}

func reduce(kind streamevent.Kind, events []streamevent.Event) message.Part {
	switch kind {
	case streamevent.KindContent:
		return reduceContent(events)
	case streamevent.KindReasoning:
		return reduceReasoning(events)
	case streamevent.KindToolCall:
		return reduceToolCall(events)
	case streamevent.KindCitation:
		return reduceCitation(events)
	case streamevent.KindDocument:
		return reduceDocument(events)
	case streamevent.KindToolReturn:
		return reduceToolReturn(events)
	default:
		return nil
	}
}

func reduceContent(events []streamevent.Event) message.Part {
	var b strings.Builder
	for _, e := range events {
		ce, ok := e.(*streamevent.ContentEvent)
		if !ok {
			continue
		}
		b.WriteString(ce.Content)
	}
	text := b.String()
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return message.NewTextPart(text, blockMetadata(events[0]), events[len(events)-1].Timestamp())
}

func reduceReasoning(events []streamevent.Event) message.Part {
	var fragments []string
	signature := ""
	for _, e := range events {
		re, ok := e.(*streamevent.ReasoningEvent)
		if !ok {
			continue
		}
		if strings.TrimSpace(re.Text) != "" {
			fragments = append(fragments, re.Text)
		}
		if re.Signature != "" {
			signature = re.Signature
		}
	}
	if len(fragments) == 0 {
		return nil
	}
	return message.NewReasoningPart(strings.Join(fragments, "\n"), signature, nil, blockMetadata(events[0]), events[len(events)-1].Timestamp())
}

func reduceToolCall(events []streamevent.Event) message.Part {
	first, ok := events[0].(*streamevent.ToolCallEvent)
	if !ok {
		return nil
	}
	toolName, toolID := first.ToolName, first.ToolID

	var rawFragments strings.Builder
	var lastObject map[string]any
	sawFragment := false

	for _, e := range events {
		tc, ok := e.(*streamevent.ToolCallEvent)
		if !ok {
			continue
		}
		switch args := tc.ToolArgs.(type) {
		case string:
			rawFragments.WriteString(args)
			sawFragment = true
		case map[string]any:
			if delta, ok := args["delta"].(string); ok {
				rawFragments.WriteString(delta)
				sawFragment = true
			} else {
				lastObject = args
			}
		}
	}

	var combinedArgs any
	switch {
	case sawFragment:
		raw := rawFragments.String()
		combinedArgs = parseToolArgsFragment(raw)
	case lastObject != nil:
		combinedArgs = lastObject
	default:
		combinedArgs = map[string]any{}
	}

	return message.NewToolCallPart(toolName, toolID, combinedArgs, blockMetadata(events[0]), events[len(events)-1].Timestamp())
}

// parseToolArgsFragment implements the tool_args merge rule: concatenate
// string/raw fragments, then try to parse the result as a JSON object; if
// parsing fails or the content isn't object-shaped, wrap it as {"input": raw}.
func parseToolArgsFragment(raw string) any {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "{") {
		var obj map[string]any
		if err := json.Unmarshal([]byte(trimmed), &obj); err == nil {
			return obj
		}
	}
	return map[string]any{"input": raw}
}

func reduceCitation(events []streamevent.Event) message.Part {
	first, ok := events[0].(*streamevent.CitationEvent)
	if !ok {
		return nil
	}

	var fragments []string
	for _, e := range events {
		ce, ok := e.(*streamevent.CitationEvent)
		if !ok {
			continue
		}
		if ce.Text != "" {
			fragments = append(fragments, ce.Text)
		}
	}
	combinedText := strings.Join(fragments, " ")

	citationID := first.CitationID
	if citationID == "" {
		citationID = uuid.NewString()
	}

	return message.NewCitationPart(
		first.DocumentID,
		combinedText,
		"",
		first.Page,
		first.Section,
		citationID,
		blockMetadata(events[0]),
		events[len(events)-1].Timestamp(),
	)
}

func reduceDocument(events []streamevent.Event) message.Part {
	first, ok := events[0].(*streamevent.DocumentEvent)
	if !ok {
		return nil
	}
	return message.NewDocumentPart(first.DocumentID, first.Title, first.Pointer, first.MimeType, blockMetadata(events[0]), first.Timestamp())
}

func reduceToolReturn(events []streamevent.Event) message.Part {
	first, ok := events[0].(*streamevent.ToolReturnEvent)
	if !ok {
		return nil
	}
	return message.NewToolReturnPart(first.ToolName, first.ToolID, first.Result, blockMetadata(events[0]), first.Timestamp())
}

func blockMetadata(e streamevent.Event) map[string]any {
	if p := e.ContentBlockIndex(); p != nil {
		return map[string]any{"content_block_index": fmt.Sprintf("%d", *p)}
	}
	return map[string]any{}
}

package aggregate_test

import (
	"testing"

	"github.com/chatworkbench/streampipe/internal/aggregate"
	"github.com/chatworkbench/streampipe/internal/message"
	"github.com/chatworkbench/streampipe/internal/streamevent"
	"github.com/stretchr/testify/require"
)

func withBlock(e streamevent.Event, block, blockSeq int) streamevent.Event {
	e.SetBlock(&block, &blockSeq)
	return e
}

// TestAggregateConcatenatesTextFragments checks that two content fragments
// in one block become one text part with the concatenated content.
func TestAggregateConcatenatesTextFragments(t *testing.T) {
	e1 := streamevent.NewContent("R1", "Hel")
	e1.SetSequence(1)
	e2 := streamevent.NewContent("R1", "lo")
	e2.SetSequence(2)

	events := []streamevent.Event{
		withBlock(e1, 0, 0),
		withBlock(e2, 0, 1),
	}

	parts := aggregate.Aggregate(events)
	require.Len(t, parts, 1)
	require.Equal(t, message.PartText, parts[0].Kind())
	require.Equal(t, "Hello", parts[0].Content())
}

// TestAggregateMergesStreamedToolArgs checks that three tool_call fragments
// carrying partial JSON merge into one valid tool_args object.
func TestAggregateMergesStreamedToolArgs(t *testing.T) {
	mk := func(seq, blockSeq int, args any) streamevent.Event {
		e := streamevent.NewToolCall("R2", "calc", "t1", args)
		e.SetSequence(seq)
		return withBlock(e, 0, blockSeq)
	}

	events := []streamevent.Event{
		mk(1, 0, `{"expr`),
		mk(2, 1, `ession": "1`),
		mk(3, 2, `+1"}`),
	}

	parts := aggregate.Aggregate(events)
	require.Len(t, parts, 1)
	tc, ok := parts[0].(*message.ToolCallPart)
	require.True(t, ok)
	require.Equal(t, "calc", tc.ToolName)
	require.Equal(t, "t1", tc.ToolID)
	args, ok := tc.ToolArgs.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "1+1", args["expression"])
}

func TestAggregateCitationJoinsTextAndSyncsContent(t *testing.T) {
	e1 := streamevent.NewCitation("R3", "D1", "hello")
	e1.SetSequence(1)
	e2 := streamevent.NewCitation("R3", "D1", "world")
	e2.SetSequence(2)

	events := []streamevent.Event{withBlock(e1, 0, 0), withBlock(e2, 0, 1)}
	parts := aggregate.Aggregate(events)
	require.Len(t, parts, 1)
	cp, ok := parts[0].(*message.CitationPart)
	require.True(t, ok)
	require.Equal(t, "hello world", cp.Text)
	require.NotEmpty(t, cp.Content())
	require.NotEmpty(t, cp.CitationID)
}

func TestAggregateCitationDefaultsMissingDocumentID(t *testing.T) {
	e := streamevent.NewCitation("R4", "", "hello")
	e.SetSequence(1)
	events := []streamevent.Event{withBlock(e, 0, 0)}
	parts := aggregate.Aggregate(events)
	require.Len(t, parts, 1)
	cp := parts[0].(*message.CitationPart)
	require.Equal(t, "cd4739en", cp.DocumentID)
}

func TestAggregateDropsStatusEvents(t *testing.T) {
	e := streamevent.NewStatus("R5", "thinking", "working")
	e.SetSequence(1)
	events := []streamevent.Event{withBlock(e, 0, 0)}
	require.Empty(t, aggregate.Aggregate(events))
}

func TestAggregateDropsEmptyContentFragment(t *testing.T) {
	e := streamevent.NewContent("R6", "")
	e.SetSequence(1)
	events := []streamevent.Event{withBlock(e, 0, 0)}
	require.Empty(t, aggregate.Aggregate(events))
}

// TestAggregateOneNonTerminalPartPerBlockVariant verifies invariant 2: no two
// stored parts share the same (content_block_index, variant).
func TestAggregateOneNonTerminalPartPerBlockVariant(t *testing.T) {
	var events []streamevent.Event
	for i := 0; i < 5; i++ {
		e := streamevent.NewContent("R7", "x")
		e.SetSequence(i)
		events = append(events, withBlock(e, 0, i))
	}
	parts := aggregate.Aggregate(events)
	require.Len(t, parts, 1)
}

func TestAggregateIsIdempotentOnAlreadyAggregatedOutput(t *testing.T) {
	e1 := streamevent.NewContent("R8", "Hello")
	e1.SetSequence(1)
	first := aggregate.Aggregate([]streamevent.Event{withBlock(e1, 0, 0)})

	e2 := streamevent.NewContent("R8", first[0].Content())
	e2.SetSequence(1)
	second := aggregate.Aggregate([]streamevent.Event{withBlock(e2, 0, 0)})

	require.Equal(t, first[0].Content(), second[0].Content())
}

func TestAggregateLooseEventsGroupedSeparatelyFromBlocks(t *testing.T) {
	blocked := streamevent.NewContent("R9", "blocked")
	blocked.SetSequence(1)
	loose := streamevent.NewContent("R9", "loose")
	loose.SetSequence(2)

	events := []streamevent.Event{withBlock(blocked, 0, 0), loose}
	parts := aggregate.Aggregate(events)
	require.Len(t, parts, 2)
}

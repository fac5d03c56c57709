package message

import (
	"fmt"
	"strings"
	"time"
)

const defaultDocumentID = "cd4739en" // preserved for behavioral parity, see spec DESIGN NOTES; almost certainly a leaked test artifact in the original source.

// NewCitationPart constructs a CitationPart, synchronizing text (the raw
// cited passage) and content (the display-formatted citation) per invariant
// I4: both must be non-empty and consistent. Four cases, mirroring the
// source's constructor-time sync logic exactly:
//
//  1. text given, content empty: content is derived as
//     "[Citation from {document_id}{page}]: {text}", with text cut to its
//     first 100 bytes and followed by "..." when it is longer than that.
//  2. content given, text empty: text is extracted from content after the
//     first "]:" occurrence, or the content verbatim if no "]:" is present.
//  3. both empty: defaults are inserted so construction never fails.
//  4. both given: used as-is, no derivation.
//
// A missing document_id defaults to defaultDocumentID rather than failing
// construction.
func NewCitationPart(documentID, text, content string, page *int, section, citationID string, metadata map[string]any, ts time.Time) *CitationPart {
	if documentID == "" {
		documentID = defaultDocumentID
	}

	switch {
	case text != "" && content == "":
		content = formatCitationContent(documentID, text, page)
	case text == "" && content != "":
		text = extractCitationText(content)
	case text == "" && content == "":
		text = "No citation text available"
		content = "[Citation: No content available]"
	}

	return &CitationPart{
		PartBase:   newPartBase(PartCitation, content, metadata, ts),
		DocumentID: documentID,
		Text:       text,
		Page:       page,
		Section:    section,
		CitationID: citationID,
	}
}

func formatCitationContent(documentID, text string, page *int) string {
	pageInfo := ""
	if page != nil {
		pageInfo = fmt.Sprintf(" (page %d)", *page)
	}
	preview := text
	suffix := ""
	if len(text) > 100 {
		preview = text[:100]
		suffix = "..."
	}
	return fmt.Sprintf("[Citation from %s%s]: %s%s", documentID, pageInfo, preview, suffix)
}

func extractCitationText(content string) string {
	if idx := strings.Index(content, "]:"); idx != -1 {
		extracted := strings.TrimSpace(content[idx+2:])
		if extracted != "" {
			return extracted
		}
	}
	return content
}

// Copyright (C) 2025 COSMOS Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package assembler renders retrieved passages into the context block fed
// to the generation prompt.
package assembler

import (
	"fmt"
	"strings"

	"github.com/abdullah-a8/cosmos-engine/services/orchestrator/datatypes"
)

// EmptyContext is the neutral context used when retrieval returns nothing.
// It must never be the empty string: the prompt template requires a
// non-empty context slot.
const EmptyContext = "No relevant context found."

// Assemble renders passages into a single source-annotated context string.
//
// # Description
//
// Each passage i (1-indexed) becomes a delimited extract block followed by
// a SOURCE INFO block naming TYPE, NAME, and the source-type-specific
// citation fields. The explicit per-extract delimiters let the model
// attribute claims to individual sources.
//
//	--- BEGIN EXTRACT #1 ---
//	<passage content>
//	--- END EXTRACT #1 ---
//	SOURCE INFO FOR EXTRACT #1:
//	TYPE: web
//	NAME: example.com
//	DOMAIN: example.com
//	URL: https://example.com/page
//
// # Inputs
//
//   - passages: Ordered retrieval results. Never mutated.
//
// # Outputs
//
//   - string: The assembled context, or EmptyContext when passages is empty.
func Assemble(passages []datatypes.RetrievedPassage) string {
	if len(passages) == 0 {
		return EmptyContext
	}

	var sb strings.Builder
	for i, p := range passages {
		n := i + 1
		fmt.Fprintf(&sb, "\n--- BEGIN EXTRACT #%d ---\n", n)
		sb.WriteString(p.Content)
		fmt.Fprintf(&sb, "\n--- END EXTRACT #%d ---\n", n)
		fmt.Fprintf(&sb, "SOURCE INFO FOR EXTRACT #%d:\n", n)
		fmt.Fprintf(&sb, "TYPE: %s\n", p.SourceType)
		fmt.Fprintf(&sb, "NAME: %s\n", p.DisplayName)
		sb.WriteString(sourceDetails(p))
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String())
}

// sourceDetails returns the type-specific citation lines for one passage.
func sourceDetails(p datatypes.RetrievedPassage) string {
	switch p.SourceType {
	case datatypes.SourceWeb:
		return fmt.Sprintf("DOMAIN: %s\nURL: %s", p.Extra["domain"], p.Extra["url"])
	case datatypes.SourceVideo:
		// Video source ids carry a "video_" prefix in the index.
		videoID := strings.TrimPrefix(p.SourceID, "video_")
		return fmt.Sprintf("VIDEO_ID: %s\nURL: %s", videoID, p.Extra["url"])
	case datatypes.SourceDocument:
		return fmt.Sprintf("DOC_ID: %s", p.SourceID)
	case datatypes.SourceImage:
		details := fmt.Sprintf("IMAGE_ID: %s", p.SourceID)
		if format, ok := p.Extra["format"]; ok && format != "" {
			details += fmt.Sprintf("\nFORMAT: %s", format)
		}
		if p.Extra["ocr_processed"] == "true" {
			details += "\nEXTRACTION: OCR"
		}
		return details
	default:
		return fmt.Sprintf("SOURCE_ID: %s", p.SourceID)
	}
}

// Copyright (C) 2025 COSMOS Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package services

import (
	"fmt"
	"strings"

	"github.com/abdullah-a8/cosmos-engine/services/orchestrator/datatypes"
	"github.com/abdullah-a8/cosmos-engine/services/orchestrator/memory"
)

// ragPromptTemplate is the generation prompt. The context slot receives
// the assembled extract blocks, never an empty string.
const ragPromptTemplate = `
Answer the question based on the context below.

Important instructions:
1. If you can't answer the question based on the provided context, reply "I need more context".
2. Whenever you use information from the context, you MUST cite the original source properly.
3. CITATION FORMAT INSTRUCTIONS:
   - For websites: Use only the domain name as the citation text (e.g., [Source: Wccftech])
   - For documents: Use "document" followed by the ID (e.g., [Source: document e1f2...])
   - For videos: Use "video" followed by the ID in parentheses (e.g., [Source: video (abc123)])
   - For images: Use "image" followed by the ID (e.g., [Source: image img_7])
   - DO NOT include long URLs or section numbers in the visible citation
4. Each extract has a "SOURCE INFO FOR EXTRACT #N" block following it - use that information to create your citation.
5. If multiple sources support your answer, cite all relevant sources.
6. Don't make up information that isn't in the context.

Context:
%s

Question: %s
`

// latexHint is appended to math-flavored questions so the model emits
// renderable notation.
const latexHint = " Please format any mathematical expressions or equations using LaTeX syntax with $ for inline math and $$ for display math."

// latexKeywords trigger the hint. Matching is substring on the lowercased
// query.
var latexKeywords = []string{
	"math",
	"equation",
	"formula",
	"recurrence",
	"time complexity",
	"big o",
	"complexity",
}

// systemAckAnswer is the fixed response to a topic-reset system message.
const systemAckAnswer = "Conversation context updated."

// BuildPrompt fills the generation template.
func BuildPrompt(context, question string) string {
	return fmt.Sprintf(ragPromptTemplate, context, question)
}

// WithLatexHint appends the LaTeX formatting instruction when the query
// looks mathematical.
func WithLatexHint(query string) string {
	lowered := strings.ToLower(query)
	for _, kw := range latexKeywords {
		if strings.Contains(lowered, kw) {
			return query + latexHint
		}
	}
	return query
}

// AugmentQuery folds prior conversation turns into the question.
//
// The framing instructs the model to treat history as background only, so
// an old topic cannot hijack the current question.
func AugmentQuery(query string, history []datatypes.ConversationTurn) string {
	if len(history) == 0 {
		return query
	}

	var sb strings.Builder
	sb.WriteString("Prior conversation (for background only; answer the current question, using this history when the question refers back to it):\n")
	sb.WriteString(memory.FormatTranscript(history))
	sb.WriteString("\n\nCurrent question: ")
	sb.WriteString(query)
	return sb.String()
}

// Copyright (C) 2025 COSMOS Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package assembler

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdullah-a8/cosmos-engine/services/orchestrator/datatypes"
)

func TestAssemble_EmptyInput(t *testing.T) {
	got := Assemble(nil)
	assert.Equal(t, "No relevant context found.", got)

	got = Assemble([]datatypes.RetrievedPassage{})
	assert.Equal(t, "No relevant context found.", got)
	assert.NotEmpty(t, got, "empty retrieval must still yield a non-empty context slot")
}

func TestAssemble_WebPassage(t *testing.T) {
	got := Assemble([]datatypes.RetrievedPassage{
		{
			Content:     "Rust is a systems language.",
			SourceType:  datatypes.SourceWeb,
			DisplayName: "example.com",
			SourceID:    "web_abc",
			Extra:       map[string]string{"domain": "example.com", "url": "https://example.com/rust"},
		},
	})

	assert.True(t, strings.HasPrefix(got, "--- BEGIN EXTRACT #1 ---"), "assembled context is trimmed")
	assert.Contains(t, got, "Rust is a systems language.")
	assert.Contains(t, got, "--- END EXTRACT #1 ---")
	assert.Contains(t, got, "SOURCE INFO FOR EXTRACT #1:")
	assert.Contains(t, got, "TYPE: web")
	assert.Contains(t, got, "NAME: example.com")
	assert.Contains(t, got, "DOMAIN: example.com")
	assert.Contains(t, got, "URL: https://example.com/rust")
}

func TestAssemble_VideoStripsIDPrefix(t *testing.T) {
	got := Assemble([]datatypes.RetrievedPassage{
		{
			Content:     "transcript text",
			SourceType:  datatypes.SourceVideo,
			DisplayName: "Intro to Go",
			SourceID:    "video_dQw4w9WgXcQ",
			Extra:       map[string]string{"url": "https://video.example/watch?v=dQw4w9WgXcQ"},
		},
	})

	assert.Contains(t, got, "VIDEO_ID: dQw4w9WgXcQ")
	assert.NotContains(t, got, "VIDEO_ID: video_")
	assert.Contains(t, got, "URL: https://video.example/watch?v=dQw4w9WgXcQ")
}

func TestAssemble_DocumentAndUnknown(t *testing.T) {
	got := Assemble([]datatypes.RetrievedPassage{
		{
			Content:     "chapter one",
			SourceType:  datatypes.SourceDocument,
			DisplayName: "handbook.pdf",
			SourceID:    "doc_9f2",
		},
		{
			Content:     "mystery text",
			SourceType:  datatypes.SourceUnknown,
			DisplayName: "Unknown source",
			SourceID:    "src_17",
		},
	})

	assert.Contains(t, got, "DOC_ID: doc_9f2")
	assert.Contains(t, got, "SOURCE_ID: src_17")
	assert.Contains(t, got, "--- BEGIN EXTRACT #2 ---")
	assert.Contains(t, got, "SOURCE INFO FOR EXTRACT #2:")
}

func TestAssemble_ImageWithOCR(t *testing.T) {
	got := Assemble([]datatypes.RetrievedPassage{
		{
			Content:     "text lifted from a screenshot",
			SourceType:  datatypes.SourceImage,
			DisplayName: "diagram.png",
			SourceID:    "img_3",
			Extra:       map[string]string{"format": "image/png", "ocr_processed": "true"},
		},
	})

	assert.Contains(t, got, "IMAGE_ID: img_3")
	assert.Contains(t, got, "FORMAT: image/png")
	assert.Contains(t, got, "EXTRACTION: OCR")
}

func TestAssemble_ImageWithoutOCR(t *testing.T) {
	got := Assemble([]datatypes.RetrievedPassage{
		{
			Content:    "alt text",
			SourceType: datatypes.SourceImage,
			SourceID:   "img_4",
		},
	})

	assert.Contains(t, got, "IMAGE_ID: img_4")
	assert.NotContains(t, got, "FORMAT:")
	assert.NotContains(t, got, "EXTRACTION:")
}

func TestAssemble_PreservesOrderAndNumbering(t *testing.T) {
	passages := []datatypes.RetrievedPassage{
		{Content: "first", SourceType: datatypes.SourceUnknown, SourceID: "a"},
		{Content: "second", SourceType: datatypes.SourceUnknown, SourceID: "b"},
		{Content: "third", SourceType: datatypes.SourceUnknown, SourceID: "c"},
	}
	got := Assemble(passages)

	i1 := strings.Index(got, "--- BEGIN EXTRACT #1 ---")
	i2 := strings.Index(got, "--- BEGIN EXTRACT #2 ---")
	i3 := strings.Index(got, "--- BEGIN EXTRACT #3 ---")
	require.NotEqual(t, -1, i1)
	require.NotEqual(t, -1, i2)
	require.NotEqual(t, -1, i3)
	assert.Less(t, i1, i2)
	assert.Less(t, i2, i3)

	assert.Less(t, strings.Index(got, "first"), strings.Index(got, "second"))
	assert.Less(t, strings.Index(got, "second"), strings.Index(got, "third"))
}

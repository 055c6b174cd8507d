// Copyright (C) 2025 COSMOS Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// PassageClass is the Weaviate class holding retrievable text chunks.
const PassageClass = "Passage"

// ChatTurnClass is the Weaviate class holding conversation transcripts.
const ChatTurnClass = "ChatTurn"

func GetPassageSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       PassageClass,
		Description: "A text chunk with citation metadata for retrieval.",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexNullState:  true,
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			{
				Name:         "content",
				DataType:     []string{"text"},
				Description:  "The chunk text presented to the LLM.",
				Tokenization: "word",
			},
			{
				Name:            "source_type",
				DataType:        []string{"text"},
				Description:     "Origin class of the chunk: web, video, document, image, unknown.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "display_name",
				DataType:     []string{"text"},
				Description:  "Human-readable citation name (domain, title, filename).",
				Tokenization: "field",
			},
			{
				Name:            "source_id",
				DataType:        []string{"text"},
				Description:     "Stable identifier of the source (URL, video id, document id).",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "document_id",
				DataType:        []string{"text"},
				Description:     "Groups the chunks of one ingested document.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "chunk_index",
				DataType:        []string{"int"},
				Description:     "Position of the chunk within its document (0-indexed).",
				IndexFilterable: indexFilterable,
			},
			{
				Name:         "extra",
				DataType:     []string{"text"},
				Description:  "JSON-encoded per-type citation metadata (url, format).",
				Tokenization: "field",
			},
			{
				Name:            "ingested_at",
				DataType:        []string{"number"},
				Description:     "Unix milliseconds when the chunk was ingested.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

func GetChatTurnSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:               ChatTurnClass,
		Description:         "A single persisted turn of a conversation session.",
		Vectorizer:          "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{IndexTimestamps: true},
		Properties: []*models.Property{
			{
				Name:            "session_id",
				DataType:        []string{"text"},
				Description:     "The unique ID for the conversation session.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "role",
				DataType:        []string{"text"},
				Description:     "Author of the turn: user, assistant, or system.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "content",
				DataType:     []string{"text"},
				Description:  "The message text.",
				Tokenization: "word",
			},
			{
				Name:            "topic_reset",
				DataType:        []string{"boolean"},
				Description:     "True when this turn marks a topic change boundary.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "turn_index",
				DataType:        []string{"int"},
				Description:     "The sequential turn number within the session (1-indexed).",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "timestamp",
				DataType:        []string{"number"},
				Description:     "Unix milliseconds when the turn was recorded.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

// EnsureWeaviateSchema creates the Passage and ChatTurn classes when they do
// not exist yet. Existing classes are left untouched.
func EnsureWeaviateSchema(ctx context.Context, client *weaviate.Client) error {
	schemaGetters := []func() *models.Class{
		GetPassageSchema,
		GetChatTurnSchema,
	}

	for _, getSchema := range schemaGetters {
		class := getSchema()
		slog.Info("Checking schema", "class", class.Class)

		// The class getter errors when the class does not exist yet.
		_, err := client.Schema().ClassGetter().WithClassName(class.Class).Do(ctx)
		if err != nil {
			slog.Info("Schema not found, creating it...", "class", class.Class)
			if err := client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
				return fmt.Errorf("failed to create schema for class %s: %w", class.Class, err)
			}
			slog.Info("Successfully created schema", "class", class.Class)
		} else {
			slog.Info("Schema already exists", "class", class.Class)
		}
	}
	return nil
}

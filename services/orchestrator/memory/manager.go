// Copyright (C) 2025 COSMOS Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package memory

import (
	"context"
	"log/slog"
	"strings"

	"github.com/abdullah-a8/cosmos-engine/services/orchestrator/datatypes"
)

// DefaultWindow is the number of recent turns included in the prompt when
// nothing overrides it.
const DefaultWindow = 20

// referencePhrases trigger full-transcript context. Matching is substring
// on the lowercased query.
var referencePhrases = []string{
	"what we just talked about",
	"what we talked about",
	"you mentioned",
	"earlier you said",
	"as i said",
	"refer back",
	"expand on",
	"tell me more",
	"go on",
	"continue",
}

// Manager computes the bounded history window for new queries and writes
// completed exchanges back to the transcript store.
type Manager struct {
	store  MessageStore
	window int
}

// NewManager creates a Manager over the given store.
// Panics if store is nil. Non-positive window falls back to DefaultWindow.
func NewManager(store MessageStore, window int) *Manager {
	if store == nil {
		panic("memory: message store is required")
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Manager{store: store, window: window}
}

// Window returns the configured window size.
func (m *Manager) Window() int { return m.window }

// AppendExchange persists a completed user/assistant pair. Both turns go
// in one store call so a partial pair is never written.
func (m *Manager) AppendExchange(ctx context.Context, sessionID, userText, assistantText string) error {
	if sessionID == "" {
		slog.Debug("No session id, skipping transcript write")
		return nil
	}
	return m.store.AppendTurns(ctx, sessionID, []datatypes.ConversationTurn{
		{Role: datatypes.RoleUser, Content: userText},
		{Role: datatypes.RoleAssistant, Content: assistantText},
	})
}

// AppendSystemMarker persists a single system turn, optionally flagged as
// a topic reset boundary.
func (m *Manager) AppendSystemMarker(ctx context.Context, sessionID, text string, topicReset bool) error {
	if sessionID == "" {
		return nil
	}
	return m.store.AppendTurns(ctx, sessionID, []datatypes.ConversationTurn{
		{Role: datatypes.RoleSystem, Content: text, TopicReset: topicReset},
	})
}

// SelectContext returns the history slice to include in the prompt for
// query.
//
// # Description
//
// Reference queries ("tell me more", "you mentioned...") pull the entire
// transcript, since their meaning depends on arbitrarily old turns.
// Otherwise the adaptive window applies: a transcript at or under the
// window size passes through whole; a topic reset marker hard-cuts
// everything before it; and for long reset-free transcripts the most
// recent window is prepended with well-formed user/assistant pairs
// salvaged from the older region.
//
// A store failure degrades to empty history and is logged, never
// propagated: missing context weakens the answer but must not fail the
// request.
func (m *Manager) SelectContext(ctx context.Context, sessionID, query string) []datatypes.ConversationTurn {
	if sessionID == "" {
		return nil
	}

	all, err := m.store.LoadAll(ctx, sessionID)
	if err != nil {
		slog.Warn("Failed to load session history, continuing without it",
			"sessionId", sessionID,
			"error", err)
		return nil
	}
	if len(all) == 0 {
		return nil
	}

	if IsReferenceQuery(query) {
		slog.Debug("Reference query detected, using full transcript",
			"sessionId", sessionID,
			"turns", len(all))
		return all
	}

	selected := windowTurns(all, m.window)
	slog.Debug("Selected history window",
		"sessionId", sessionID,
		"total", len(all),
		"selected", len(selected))
	return selected
}

// windowTurns applies the adaptive windowing algorithm to a full
// transcript.
func windowTurns(all []datatypes.ConversationTurn, window int) []datatypes.ConversationTurn {
	if len(all) <= window {
		return all
	}

	// A topic reset hard-cuts history: nothing before the last marker may
	// inform the prompt.
	lastReset := -1
	for i, turn := range all {
		if turn.Role == datatypes.RoleSystem && turn.TopicReset {
			lastReset = i
		}
	}
	if lastReset >= 0 {
		if lastReset+1 >= len(all) {
			// The reset is the final turn; fall back to the recent window.
			return all[len(all)-window:]
		}
		postReset := all[lastReset+1:]
		if len(postReset) > window {
			return postReset[len(postReset)-window:]
		}
		return postReset
	}

	recent := all[len(all)-window:]
	older := all[:len(all)-window]

	// Walk the older region on an even stride collecting intact
	// user/assistant pairs. A misaligned pair (same-role runs, dangling
	// half-pair) is skipped rather than resynced.
	var olderPairs []datatypes.ConversationTurn
	for i := 0; i+1 < len(older); i += 2 {
		if older[i].Role == datatypes.RoleUser && older[i+1].Role == datatypes.RoleAssistant {
			olderPairs = append(olderPairs, older[i], older[i+1])
		}
	}
	if len(olderPairs) > window {
		olderPairs = olderPairs[len(olderPairs)-window:]
	}
	if len(olderPairs) == 0 {
		return recent
	}

	out := make([]datatypes.ConversationTurn, 0, len(olderPairs)+len(recent))
	out = append(out, olderPairs...)
	out = append(out, recent...)
	return out
}

// IsReferenceQuery reports whether the query's phrasing implies it depends
// on the full prior conversation.
func IsReferenceQuery(text string) bool {
	lowered := strings.ToLower(text)
	for _, phrase := range referencePhrases {
		if strings.Contains(lowered, phrase) {
			return true
		}
	}
	return false
}

// FormatTranscript renders turns as alternating speaker-labeled lines for
// inclusion in the augmented prompt.
func FormatTranscript(turns []datatypes.ConversationTurn) string {
	if len(turns) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, t := range turns {
		switch t.Role {
		case datatypes.RoleUser:
			sb.WriteString("User: ")
		case datatypes.RoleAssistant:
			sb.WriteString("Assistant: ")
		case datatypes.RoleSystem:
			sb.WriteString("System: ")
		}
		sb.WriteString(t.Content)
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

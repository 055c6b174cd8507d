// Copyright (C) 2025 COSMOS Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ttl

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRetention struct {
	mu      sync.Mutex
	expired map[string][]ExpiredObject
	finds   []string
	deletes []ExpiredObject
}

func (f *fakeRetention) FindExpired(_ context.Context, class, _ string, _ time.Time) ([]ExpiredObject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finds = append(f.finds, class)
	return f.expired[class], nil
}

func (f *fakeRetention) Delete(_ context.Context, objects []ExpiredObject) (int, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, objects...)
	return len(objects), nil
}

type captureSink struct {
	mu      sync.Mutex
	records []SweepResult
}

func (c *captureSink) Record(_ string, result SweepResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, result)
	return nil
}

func (c *captureSink) Close() error { return nil }

func TestScheduler_SweepDeletesExpiredTurns(t *testing.T) {
	retention := &fakeRetention{expired: map[string][]ExpiredObject{
		"ChatTurn": {
			{Class: "ChatTurn", WeaviateID: "id-1"},
			{Class: "ChatTurn", WeaviateID: "id-2"},
		},
	}}
	sink := &captureSink{}
	s := NewScheduler(retention, sink, SchedulerConfig{
		Interval:      time.Hour,
		TurnRetention: 24 * time.Hour,
	}).(*scheduler)

	s.sweep(context.Background())

	assert.Equal(t, []string{"ChatTurn"}, retention.finds)
	assert.Len(t, retention.deletes, 2)
	require.Len(t, sink.records, 1)
	assert.Equal(t, 2, sink.records[0].Found)
	assert.Equal(t, 2, sink.records[0].Deleted)
}

func TestScheduler_PassageSweepOnlyWhenConfigured(t *testing.T) {
	retention := &fakeRetention{expired: map[string][]ExpiredObject{}}
	s := NewScheduler(retention, nil, SchedulerConfig{
		Interval:         time.Hour,
		TurnRetention:    24 * time.Hour,
		PassageRetention: 48 * time.Hour,
	}).(*scheduler)

	s.sweep(context.Background())
	assert.Equal(t, []string{"ChatTurn", "Passage"}, retention.finds)
}

func TestScheduler_StartStop(t *testing.T) {
	retention := &fakeRetention{expired: map[string][]ExpiredObject{}}
	s := NewScheduler(retention, nil, SchedulerConfig{
		Interval:      10 * time.Millisecond,
		TurnRetention: time.Hour,
	})

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, s.Stop())

	retention.mu.Lock()
	sweeps := len(retention.finds)
	retention.mu.Unlock()
	assert.Positive(t, sweeps)

	// Stop is idempotent.
	require.NoError(t, s.Stop())
}

func TestFileAuditSink_WritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "retention.log")
	sink, err := NewFileAuditSink(path)
	require.NoError(t, err)

	result := SweepResult{StartTime: time.Now(), Found: 3, Deleted: 3}
	require.NoError(t, sink.Record("ChatTurn", result))
	require.NoError(t, sink.Record("Passage", SweepResult{Found: 1, Deleted: 0, Errors: []string{"gone"}}))
	require.NoError(t, sink.Close())

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	var lines []auditRecord
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var rec auditRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		lines = append(lines, rec)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "ChatTurn", lines[0].Class)
	assert.Equal(t, 3, lines[0].Result.Deleted)
	assert.Equal(t, []string{"gone"}, lines[1].Result.Errors)
}

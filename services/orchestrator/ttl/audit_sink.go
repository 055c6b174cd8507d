// Copyright (C) 2025 COSMOS Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ttl

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditSink records the outcome of retention sweeps for compliance review.
type AuditSink interface {
	Record(class string, result SweepResult) error
	Close() error
}

// NopAuditSink discards audit records.
type NopAuditSink struct{}

func (NopAuditSink) Record(string, SweepResult) error { return nil }
func (NopAuditSink) Close() error                     { return nil }

// =============================================================================
// File Sink
// =============================================================================

// fileAuditSink appends one JSON line per sweep to a log file.
type fileAuditSink struct {
	mu   sync.Mutex
	file *os.File
}

// auditRecord is the on-disk shape of one sweep entry.
type auditRecord struct {
	RecordedAt time.Time   `json:"recorded_at"`
	Class      string      `json:"class"`
	Result     SweepResult `json:"result"`
}

// NewFileAuditSink opens (or creates) the audit log at path, creating
// parent directories as needed.
func NewFileAuditSink(path string) (AuditSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	return &fileAuditSink{file: file}, nil
}

func (s *fileAuditSink) Record(class string, result SweepResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	line, err := json.Marshal(auditRecord{
		RecordedAt: time.Now(),
		Class:      class,
		Result:     result,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal audit record: %w", err)
	}
	if _, err := s.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write audit record: %w", err)
	}
	return nil
}

func (s *fileAuditSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

var (
	_ AuditSink = (*fileAuditSink)(nil)
	_ AuditSink = NopAuditSink{}
)

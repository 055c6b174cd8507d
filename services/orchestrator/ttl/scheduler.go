// Copyright (C) 2025 COSMOS Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ttl

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/abdullah-a8/cosmos-engine/services/orchestrator/datatypes"
)

// SchedulerConfig tunes the background sweeper.
type SchedulerConfig struct {
	// Interval between sweeps.
	Interval time.Duration

	// TurnRetention keeps conversation turns this long. Zero disables
	// turn cleanup.
	TurnRetention time.Duration

	// PassageRetention keeps ingested passages this long. Zero disables
	// passage cleanup, which is the default: documents usually outlive
	// conversations.
	PassageRetention time.Duration
}

// DefaultSchedulerConfig sweeps hourly and keeps conversation turns for
// thirty days.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:      time.Hour,
		TurnRetention: 30 * 24 * time.Hour,
	}
}

// Scheduler runs retention sweeps on an interval.
type Scheduler interface {
	// Start launches the background sweeper. Fails if already started.
	Start(ctx context.Context) error

	// Stop halts the sweeper and waits for an in-flight sweep.
	Stop() error
}

type scheduler struct {
	service RetentionService
	sink    AuditSink
	clock   Clock
	cfg     SchedulerConfig

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// NewScheduler creates a retention scheduler. A nil sink disables audit
// logging; slog output is always produced.
func NewScheduler(service RetentionService, sink AuditSink, cfg SchedulerConfig) Scheduler {
	if service == nil {
		panic("ttl: retention service is required")
	}
	if sink == nil {
		sink = NopAuditSink{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	return &scheduler{
		service: service,
		sink:    sink,
		clock:   SystemClock{},
		cfg:     cfg,
	}
}

func (s *scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("ttl scheduler already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.started = true

	go s.loop(ctx)
	slog.Info("Retention scheduler started",
		"interval", s.cfg.Interval.String(),
		"turn_retention", s.cfg.TurnRetention.String())
	return nil
}

func (s *scheduler) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.cancel()
	done := s.done
	s.started = false
	s.mu.Unlock()

	<-done
	slog.Info("Retention scheduler stopped")
	return nil
}

func (s *scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep runs one retention pass over both classes.
func (s *scheduler) sweep(ctx context.Context) {
	if s.cfg.TurnRetention > 0 {
		s.sweepClass(ctx, datatypes.ChatTurnClass, "timestamp", s.cfg.TurnRetention)
	}
	if s.cfg.PassageRetention > 0 {
		s.sweepClass(ctx, datatypes.PassageClass, "ingested_at", s.cfg.PassageRetention)
	}
}

func (s *scheduler) sweepClass(ctx context.Context, class, field string, retention time.Duration) {
	start := s.clock.Now()
	cutoff := start.Add(-retention)

	expired, err := s.service.FindExpired(ctx, class, field, cutoff)
	if err != nil {
		slog.Error("Retention sweep query failed", "class", class, "error", err)
		return
	}
	if len(expired) == 0 {
		slog.Debug("Retention sweep found nothing", "class", class)
		return
	}

	deleted, errs := s.service.Delete(ctx, expired)
	result := SweepResult{
		StartTime: start,
		Duration:  s.clock.Now().Sub(start),
		Found:     len(expired),
		Deleted:   deleted,
		Errors:    errs,
	}

	slog.Info("Retention sweep complete",
		"class", class,
		"found", result.Found,
		"deleted", result.Deleted,
		"errors", len(result.Errors))
	if err := s.sink.Record(class, result); err != nil {
		slog.Warn("Retention audit write failed", "error", err)
	}
}

var _ Scheduler = (*scheduler)(nil)

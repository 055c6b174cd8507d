// Copyright (C) 2025 COSMOS Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package accumulator collects streamed response fragments before they are
// persisted to conversation memory.
//
// Fragments are stored in mlocked memory so a full response never swaps to
// disk, and are incrementally SHA-256 hashed for integrity logging. On
// systems without sufficient mlock limits the accumulator falls back to
// plain memory when COSMOS_INSECURE_MEMORY=true.
package accumulator

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

const (
	// BufferSize bounds one accumulated response. 512 KB holds roughly
	// 131k tokens at 4 bytes per token.
	BufferSize = 512 * 1024

	// minMlockLimitKB is the minimum mlock limit required for secure mode.
	minMlockLimitKB = 512
)

var (
	initOnce         sync.Once
	mlockSufficient  bool
	mlockLimitKB     int64
)

// TokenAccumulator collects streamed fragments and yields the full answer
// with its hash. Implementations are safe for concurrent use and are
// single-shot: after Finalize or Destroy the accumulator is dead.
type TokenAccumulator interface {
	// Write appends one fragment. Fails on overflow or after the
	// accumulator was finalized or destroyed.
	Write(token string) error

	// Finalize returns the accumulated answer and its SHA-256 hex hash,
	// then wipes the buffer.
	Finalize() (answer string, hash string, err error)

	// Destroy wipes the buffer without returning data. Idempotent.
	Destroy()

	// ID identifies this accumulator instance for logging.
	ID() string

	// CreatedAt returns when the accumulator was created.
	CreatedAt() time.Time
}

// New creates an accumulator, secure when the system allows it.
//
// With insufficient mlock limits, New returns an error unless
// COSMOS_INSECURE_MEMORY=true requests the plain-memory fallback.
func New() (TokenAccumulator, error) {
	initOnce.Do(func() {
		memguard.CatchInterrupt()
		mlockSufficient, mlockLimitKB = checkMlockLimit()
		if mlockSufficient {
			slog.Info("Secure memory initialized", "mlock_limit_kb", mlockLimitKB)
		}
	})

	if !mlockSufficient {
		if os.Getenv("COSMOS_INSECURE_MEMORY") == "true" {
			slog.Warn("SECURITY: using insecure accumulator, data may swap to disk",
				"mlock_limit_kb", mlockLimitKB,
				"required_kb", minMlockLimitKB)
			return newInsecure(), nil
		}
		return nil, fmt.Errorf(
			"mlock limit insufficient: have %d KB, need %d KB; raise the limit or set COSMOS_INSECURE_MEMORY=true",
			mlockLimitKB, minMlockLimitKB)
	}

	buf := memguard.NewBuffer(BufferSize)
	if buf == nil {
		return nil, fmt.Errorf("failed to allocate secure buffer of %d bytes", BufferSize)
	}
	buf.Melt()

	return &secureAccumulator{
		id:        uuid.New().String(),
		createdAt: time.Now(),
		buffer:    buf,
		hasher:    sha256.New(),
	}, nil
}

// checkMlockLimit queries the kernel mlock limit. Unlimited reports -1.
func checkMlockLimit() (bool, int64) {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rlimit); err != nil {
		slog.Warn("Could not determine mlock limit", "error", err)
		return true, -1
	}
	if rlimit.Cur == unix.RLIM_INFINITY {
		return true, -1
	}
	limitKB := int64(rlimit.Cur / 1024)
	return limitKB >= minMlockLimitKB, limitKB
}

// PurgeAll wipes all memguard-allocated memory. Call on shutdown.
func PurgeAll() {
	memguard.Purge()
	slog.Info("Purged all secure memory")
}

// =============================================================================
// Secure Implementation
// =============================================================================

type secureAccumulator struct {
	id        string
	createdAt time.Time
	mu        sync.Mutex
	buffer    *memguard.LockedBuffer
	offset    int
	hasher    hash.Hash
	overflow  bool
	destroyed bool
}

func (a *secureAccumulator) Write(token string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		return fmt.Errorf("secure buffer overflow, response too large")
	}
	if a.offset+len(token) > BufferSize {
		a.overflow = true
		return fmt.Errorf("secure buffer overflow: need %d bytes, have %d remaining",
			len(token), BufferSize-a.offset)
	}

	copy(a.buffer.Bytes()[a.offset:], token)
	a.offset += len(token)
	a.hasher.Write([]byte(token))
	return nil
}

func (a *secureAccumulator) Finalize() (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return "", "", fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		a.wipe()
		return "", "", fmt.Errorf("buffer overflowed during accumulation")
	}

	answer := string(a.buffer.Bytes()[:a.offset])
	hashStr := hex.EncodeToString(a.hasher.Sum(nil))
	a.wipe()
	return answer, hashStr, nil
}

func (a *secureAccumulator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.destroyed {
		a.wipe()
	}
}

func (a *secureAccumulator) wipe() {
	if a.buffer != nil {
		a.buffer.Destroy()
	}
	a.destroyed = true
}

func (a *secureAccumulator) ID() string           { return a.id }
func (a *secureAccumulator) CreatedAt() time.Time { return a.createdAt }

// =============================================================================
// Insecure Fallback
// =============================================================================

type insecureAccumulator struct {
	id        string
	createdAt time.Time
	mu        sync.Mutex
	data      []byte
	hasher    hash.Hash
	overflow  bool
	destroyed bool
}

func newInsecure() TokenAccumulator {
	return &insecureAccumulator{
		id:        uuid.New().String(),
		createdAt: time.Now(),
		data:      make([]byte, 0, 4096),
		hasher:    sha256.New(),
	}
}

func (a *insecureAccumulator) Write(token string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		return fmt.Errorf("buffer overflow, response too large")
	}
	if len(a.data)+len(token) > BufferSize {
		a.overflow = true
		return fmt.Errorf("buffer overflow: need %d bytes, have %d remaining",
			len(token), BufferSize-len(a.data))
	}

	a.data = append(a.data, token...)
	a.hasher.Write([]byte(token))
	return nil
}

func (a *insecureAccumulator) Finalize() (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return "", "", fmt.Errorf("accumulator already destroyed")
	}
	if a.overflow {
		a.wipe()
		return "", "", fmt.Errorf("buffer overflowed during accumulation")
	}

	answer := string(a.data)
	hashStr := hex.EncodeToString(a.hasher.Sum(nil))
	a.wipe()
	return answer, hashStr, nil
}

func (a *insecureAccumulator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.destroyed {
		a.wipe()
	}
}

// wipe zeros the slice best-effort; the GC may have made copies.
func (a *insecureAccumulator) wipe() {
	for i := range a.data {
		a.data[i] = 0
	}
	a.data = nil
	a.destroyed = true
}

func (a *insecureAccumulator) ID() string           { return a.id }
func (a *insecureAccumulator) CreatedAt() time.Time { return a.createdAt }

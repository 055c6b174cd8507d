// Copyright (C) 2025 COSMOS Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation provides input validation for security-critical values.
//
// Validators here cover user-provided inputs that end up in database
// queries or log lines. Rejecting malformed values early prevents filter
// injection and log forgery.
package validation

import (
	"fmt"
	"regexp"
)

// sessionIDPattern matches session identifiers: letters, digits, hyphens,
// underscores, up to 64 characters. Covers UUIDs and client-chosen names.
var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_\-]{1,64}$`)

// ValidateSessionID validates a session identifier before it reaches a
// Weaviate filter or a log line.
//
// An empty session ID is valid and means a stateless request.
func ValidateSessionID(sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if !sessionIDPattern.MatchString(sessionID) {
		return fmt.Errorf("invalid session id: must be 1-64 characters of [A-Za-z0-9_-]")
	}
	return nil
}

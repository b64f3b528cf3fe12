// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for operator-provided inputs that end up in
// registry file paths, object-store keys, or structured logs. Using these
// validators prevents path traversal and log injection.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// aliasPattern matches valid model registry aliases and version labels.
// Allows: lowercase letters, digits, dots, underscores, hyphens.
// Max length: 64 characters. Must start with an alphanumeric.
var aliasPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._\-]{0,63}$`)

// ValidateAlias validates a model registry alias or version label.
//
// Aliases are used to build filesystem and object-store paths, so anything
// outside the allowed character set is rejected before a path is formed.
//
// Valid aliases:
//   - 1-64 characters
//   - Lowercase letters a-z, digits 0-9
//   - Dots (.), underscores (_), hyphens (-) after the first character
//
// Example:
//
//	if err := validation.ValidateAlias(alias); err != nil {
//	    return nil, fmt.Errorf("invalid alias: %w", err)
//	}
//	// Safe to join into a registry path
func ValidateAlias(alias string) error {
	if alias == "" {
		return fmt.Errorf("alias cannot be empty")
	}

	if !aliasPattern.MatchString(alias) {
		return fmt.Errorf("invalid alias format: %q (must be 1-64 lowercase alphanumeric chars, dots, underscores, or hyphens)", alias)
	}

	return nil
}

// SanitizeAlias normalizes and validates a model alias.
// Returns the lowercase alias if valid, or an error if invalid.
//
//	safeAlias, err := validation.SanitizeAlias(userInput)
//	if err != nil {
//	    return err
//	}
//	// safeAlias is lowercase and validated
func SanitizeAlias(alias string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(alias))
	if err := ValidateAlias(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}

// ValidateRole checks that a slot role is one of the known values.
//
// Roles select which model slot an administrative operation targets.
// Only "champion" and "challenger" exist.
func ValidateRole(role string) error {
	switch role {
	case "champion", "challenger":
		return nil
	default:
		return fmt.Errorf("unknown role: %q (must be champion or challenger)", role)
	}
}

// SanitizeLogValue strips characters that would let request-controlled
// strings forge extra log lines or terminal escapes.
//
// Newlines, carriage returns, and other control characters are replaced
// with spaces; the result is truncated to maxLen runes. Use this for any
// caller-supplied value echoed into a log field.
func SanitizeLogValue(s string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = 256
	}

	cleaned := strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return ' '
		}
		return r
	}, s)

	runes := []rune(cleaned)
	if len(runes) > maxLen {
		return string(runes[:maxLen]) + "..."
	}
	return cleaned
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"sync"

	"github.com/awnumar/memguard"
	"golang.org/x/sys/unix"
)

// ErrUnauthorized is returned when credential verification fails.
// Enterprise implementations should wrap this error with additional context.
//
// Example:
//
//	if !validKey {
//	    return nil, fmt.Errorf("key not recognized: %w", extensions.ErrUnauthorized)
//	}
var ErrUnauthorized = errors.New("unauthorized")

// Scope is the privilege level attached to a verified credential.
type Scope string

const (
	// ScopeStandard permits prediction and read-only monitoring calls.
	ScopeStandard Scope = "standard"

	// ScopePrivileged permits administrative operations: model reload,
	// challenger unload, traffic-split reconfiguration, forced analysis.
	ScopePrivileged Scope = "privileged"
)

// Credential is the identity returned after successful key verification.
//
// The serving middleware consumes this to decide whether a request may
// reach an administrative route. Subject feeds the audit log.
type Credential struct {
	// Subject identifies the credential holder. Never empty on success.
	Subject string

	// Scopes lists the privilege levels this credential grants.
	Scopes []Scope
}

// HasScope checks if the credential grants a specific scope.
//
//	if !cred.HasScope(extensions.ScopePrivileged) {
//	    return ErrUnauthorized
//	}
func (c *Credential) HasScope(scope Scope) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// KeyProvider verifies API keys and returns the holder's credential.
//
// Implementations must be safe for concurrent use by multiple goroutines.
//
// # Open Source Behavior
//
// The default StaticKeyProvider compares against keys configured at boot,
// held in locked memory. NopKeyProvider accepts anything and is intended
// for tests and single-user local runs.
//
// # Enterprise Implementation
//
// Enterprise versions implement this interface to verify keys against an
// external credential service or identity provider; this repository only
// defines the boundary.
type KeyProvider interface {
	// Verify checks the presented key and returns the holder's credential.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - key: The presented API key (from the X-API-Key header)
	//
	// Returns:
	//   - *Credential: Holder identity and scopes if valid
	//   - error: ErrUnauthorized (or wrapped) if invalid, other errors for failures
	Verify(ctx context.Context, key string) (*Credential, error)
}

// NopKeyProvider is the default provider for local single-user runs.
//
// It accepts any key, including an empty one, and grants both scopes.
// Thread-safe: this implementation has no mutable state.
type NopKeyProvider struct{}

// Verify always returns a local operator credential with both scopes.
//
// The key parameter is ignored. This is intentional for local deployments
// with no credential infrastructure.
func (p *NopKeyProvider) Verify(_ context.Context, _ string) (*Credential, error) {
	return &Credential{
		Subject: "local-operator",
		Scopes:  []Scope{ScopeStandard, ScopePrivileged},
	}, nil
}

// minMlockKB is the smallest RLIMIT_MEMLOCK (in KB) under which the locked
// key buffers are expected to fit alongside memguard's own allocations.
const minMlockKB = 64

var mlockCheckOnce sync.Once

// StaticKeyProvider verifies presented keys against keys configured at boot.
//
// Keys are sealed in memguard enclaves so they never sit in plain heap
// memory between requests. Comparison is constant-time.
//
// Thread-safe: enclaves are immutable after construction.
type StaticKeyProvider struct {
	standard   *memguard.Enclave
	privileged *memguard.Enclave
}

// NewStaticKeyProvider seals the configured keys into locked memory.
//
// # Inputs
//
//   - standardKey: key granting ScopeStandard. Required.
//   - privilegedKey: key granting both scopes. Optional; when empty, every
//     privileged-scope verification fails and administrative routes are
//     effectively disabled.
//
// # Outputs
//
//   - *StaticKeyProvider: ready provider.
//   - error: non-nil if standardKey is empty.
func NewStaticKeyProvider(standardKey, privilegedKey string) (*StaticKeyProvider, error) {
	if standardKey == "" {
		return nil, errors.New("standard API key must not be empty")
	}

	mlockCheckOnce.Do(func() {
		memguard.CatchInterrupt()
		if ok, limitKB := checkMlockLimit(); !ok {
			slog.Warn("mlock limit is low; locked key buffers may fail to pin",
				"current_limit_kb", limitKB,
				"recommended_kb", minMlockKB,
			)
		}
	})

	p := &StaticKeyProvider{
		standard: memguard.NewEnclave([]byte(standardKey)),
	}
	if privilegedKey != "" {
		p.privileged = memguard.NewEnclave([]byte(privilegedKey))
	}
	return p, nil
}

// Verify compares the presented key against the sealed keys.
//
// The privileged key implies standard scope, so one header works on every
// route. Returns ErrUnauthorized when neither key matches.
func (p *StaticKeyProvider) Verify(_ context.Context, key string) (*Credential, error) {
	if key == "" {
		return nil, ErrUnauthorized
	}

	if p.privileged != nil {
		match, err := p.compare(p.privileged, key)
		if err != nil {
			return nil, err
		}
		if match {
			return &Credential{
				Subject: "privileged-operator",
				Scopes:  []Scope{ScopeStandard, ScopePrivileged},
			}, nil
		}
	}

	match, err := p.compare(p.standard, key)
	if err != nil {
		return nil, err
	}
	if match {
		return &Credential{
			Subject: "api-client",
			Scopes:  []Scope{ScopeStandard},
		}, nil
	}

	return nil, ErrUnauthorized
}

// compare opens the enclave just long enough for a constant-time check.
func (p *StaticKeyProvider) compare(enclave *memguard.Enclave, key string) (bool, error) {
	buf, err := enclave.Open()
	if err != nil {
		return false, err
	}
	defer buf.Destroy()

	return subtle.ConstantTimeCompare(buf.Bytes(), []byte(key)) == 1, nil
}

// checkMlockLimit reports whether RLIMIT_MEMLOCK leaves room for the
// locked buffers. Returns (true, -1) when the limit is unlimited or
// cannot be determined.
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
	return limitKB >= minMlockKB, limitKB
}

// Compile-time interface compliance checks.
var (
	_ KeyProvider = (*NopKeyProvider)(nil)
	_ KeyProvider = (*StaticKeyProvider)(nil)
)

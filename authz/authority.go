// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package authz holds the reset credential and mints the proofs that gate
// plasma state resets.
//
// The credential lives in mlocked memguard memory for the process
// lifetime so it cannot swap to disk; comparison is constant-time; the
// buffer is wiped on Close. Systems without enough mlock headroom refuse
// to start unless PLASMABUS_INSECURE_MEMORY=true explicitly accepts an
// in-heap fallback.
package authz

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/awnumar/memguard"
)

const (
	// TokenLength is the byte length of generated reset tokens.
	TokenLength = 32

	// MinTokenLength is the shortest credential NewAuthority accepts.
	MinTokenLength = 16

	// MinMlockKB is the mlock limit (in KB) required for secure custody:
	// the token buffer plus memguard's guard pages and canary.
	MinMlockKB = 64
)

var (
	// ErrUnauthorized is the loud failure for a wrong or missing token.
	// Callers must propagate it; state is guaranteed untouched.
	ErrUnauthorized = errors.New("authz: unauthorized")

	// ErrAuthorityClosed means Grant was called after Close.
	ErrAuthorityClosed = errors.New("authz: authority closed")

	// ErrTokenLength means the supplied credential is too short.
	ErrTokenLength = errors.New("authz: token too short")

	// ErrSecureMemoryUnavailable means the mlock limit is below MinMlockKB
	// and the insecure fallback was not explicitly enabled.
	ErrSecureMemoryUnavailable = errors.New("authz: insufficient mlock limit for secure custody")
)

// insecureEnv is the opt-in for running without mlocked custody.
const insecureEnv = "PLASMABUS_INSECURE_MEMORY"

var (
	probeOnce    sync.Once
	mlockOK      bool
	mlockLimitKB int64
)

// Proof is the capability minted by a successful Grant. Only this package
// can construct a valid Proof; the zero value is invalid, so a forged or
// defaulted proof never authorizes anything.
type Proof struct {
	ok bool
}

// Valid reports whether the proof was minted by a Grant.
func (p Proof) Valid() bool {
	return p.ok
}

// Authority validates reset tokens and mints proofs.
//
// # Thread Safety
//
// Implementations are safe for concurrent use.
type Authority interface {
	// Grant checks the supplied token in constant time. A wrong token
	// returns ErrUnauthorized and an invalid proof.
	Grant(token []byte) (Proof, error)

	// Secure reports whether the credential is held in mlocked memory.
	Secure() bool

	// Close wipes the credential. Further grants fail with
	// ErrAuthorityClosed. Idempotent.
	Close()
}

// -----------------------------------------------------------------------------
// Constructors
// -----------------------------------------------------------------------------

// NewAuthority builds an authority around the given credential.
//
// # Description
//
// Probes the mlock limit once per process. With sufficient headroom the
// credential moves into a memguard locked buffer (the input slice is
// wiped by memguard). Without it, construction fails unless
// PLASMABUS_INSECURE_MEMORY=true, in which case an in-heap holder is used
// and a warning is logged.
//
// # Inputs
//
//   - token: Credential bytes, at least MinTokenLength. Ownership
//     transfers to the authority.
//
// # Outputs
//
//   - Authority: Ready for Grant calls.
//   - error: ErrTokenLength or ErrSecureMemoryUnavailable.
func NewAuthority(token []byte) (Authority, error) {
	if len(token) < MinTokenLength {
		return nil, fmt.Errorf("%w: %d < %d bytes", ErrTokenLength, len(token), MinTokenLength)
	}

	probeOnce.Do(func() {
		mlockOK, mlockLimitKB = probeMlockLimit(MinMlockKB)
	})

	if !mlockOK {
		if os.Getenv(insecureEnv) != "true" {
			return nil, fmt.Errorf("%w: limit %d KB, need %d KB (set %s=true to accept heap custody)",
				ErrSecureMemoryUnavailable, mlockLimitKB, MinMlockKB, insecureEnv)
		}
		slog.Warn("reset credential held in UNLOCKED heap memory - may swap to disk",
			"mlock_limit_kb", mlockLimitKB)
		cp := make([]byte, len(token))
		copy(cp, token)
		wipe(token)
		return &insecureAuthority{token: cp}, nil
	}

	// NewBufferFromBytes wipes the source slice after copying it into
	// locked memory.
	return &secureAuthority{buf: memguard.NewBufferFromBytes(token)}, nil
}

// NewRandomAuthority generates a fresh credential and returns its hex
// encoding alongside the authority. The hex string is the operator's one
// chance to capture the token; it is never logged.
func NewRandomAuthority() (Authority, string, error) {
	token := make([]byte, TokenLength)
	if _, err := rand.Read(token); err != nil {
		return nil, "", fmt.Errorf("authz: generate token: %w", err)
	}
	encoded := hex.EncodeToString(token)

	a, err := NewAuthority(token)
	if err != nil {
		return nil, "", err
	}
	return a, encoded, nil
}

// ParseToken decodes an operator-supplied hex token.
func ParseToken(encoded string) ([]byte, error) {
	raw, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("authz: malformed token: %w", err)
	}
	if len(raw) < MinTokenLength {
		return nil, fmt.Errorf("%w: %d < %d bytes", ErrTokenLength, len(raw), MinTokenLength)
	}
	return raw, nil
}

// -----------------------------------------------------------------------------
// Secure implementation
// -----------------------------------------------------------------------------

// secureAuthority keeps the credential in an mlocked memguard buffer with
// guard pages and canary, wiped on Close.
type secureAuthority struct {
	mu     sync.Mutex
	buf    *memguard.LockedBuffer
	closed bool
}

func (a *secureAuthority) Grant(token []byte) (Proof, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return Proof{}, ErrAuthorityClosed
	}
	if subtle.ConstantTimeCompare(a.buf.Bytes(), token) != 1 {
		return Proof{}, ErrUnauthorized
	}
	return Proof{ok: true}, nil
}

func (a *secureAuthority) Secure() bool {
	return true
}

func (a *secureAuthority) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.closed {
		a.buf.Destroy()
		a.closed = true
	}
}

// -----------------------------------------------------------------------------
// Insecure fallback
// -----------------------------------------------------------------------------

// insecureAuthority holds the credential in ordinary heap memory. Only
// reachable through the explicit environment opt-in.
type insecureAuthority struct {
	mu     sync.Mutex
	token  []byte
	closed bool
}

func (a *insecureAuthority) Grant(token []byte) (Proof, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return Proof{}, ErrAuthorityClosed
	}
	if subtle.ConstantTimeCompare(a.token, token) != 1 {
		return Proof{}, ErrUnauthorized
	}
	return Proof{ok: true}, nil
}

func (a *insecureAuthority) Secure() bool {
	return false
}

func (a *insecureAuthority) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.closed {
		wipe(a.token)
		a.closed = true
	}
}

// wipe zeroes a byte slice in place.
func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

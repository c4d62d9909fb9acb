// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package secrets keeps API keys in mlocked memory for their lifetime.
//
// Keys are read once from the environment or a secret file, sealed into a
// memguard enclave, and handed to consumers only through short-lived
// unsealed buffers. The plaintext never sits in ordinary heap memory
// between uses, and memguard wipes everything on SIGINT/SIGTERM.
package secrets

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/awnumar/memguard"
	"golang.org/x/sys/unix"
)

// MinMlockLimitKB is the minimum mlock limit the package wants before it
// reports secure memory as healthy. Keys are tiny; the floor exists so a
// pathological 0 limit is surfaced at startup rather than on first use.
const MinMlockLimitKB = 64

var (
	// ErrNoKey indicates no key material was found in any source.
	ErrNoKey = errors.New("secrets: no key material found")

	// ErrDestroyed indicates the provider's enclave was already wiped.
	ErrDestroyed = errors.New("secrets: provider destroyed")
)

var (
	initOnce       sync.Once
	mlockOK        bool
	mlockLimitKB   int64
	packageLogger  = slog.Default()
	packageLoggerM sync.Mutex
)

// Init prepares memguard exactly once: interrupt signals purge secure
// memory, and the mlock limit is checked and logged. Provider
// constructors call it implicitly.
func Init() {
	initOnce.Do(func() {
		memguard.CatchInterrupt()
		mlockOK, mlockLimitKB = checkMlockLimit()
		logger := getLogger()
		if mlockOK {
			logger.Info("secure key memory initialized",
				slog.Int64("mlock_limit_kb", mlockLimitKB))
		} else {
			logger.Warn("mlock limit is low; key enclaves may page",
				slog.Int64("mlock_limit_kb", mlockLimitKB),
				slog.Int("wanted_kb", MinMlockLimitKB))
		}
	})
}

// MlockStatus reports whether the mlock limit met the floor and the
// observed limit in KB (-1 when unlimited).
func MlockStatus() (bool, int64) {
	Init()
	return mlockOK, mlockLimitKB
}

func checkMlockLimit() (bool, int64) {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rlimit); err != nil {
		getLogger().Warn("could not determine mlock limit", slog.Any("error", err))
		return true, -1
	}
	if rlimit.Cur == unix.RLIM_INFINITY {
		return true, -1
	}
	limitKB := int64(rlimit.Cur / 1024)
	return limitKB >= MinMlockLimitKB, limitKB
}

// SetLogger replaces the package logger. Nil restores slog.Default().
func SetLogger(logger *slog.Logger) {
	packageLoggerM.Lock()
	defer packageLoggerM.Unlock()
	if logger == nil {
		logger = slog.Default()
	}
	packageLogger = logger
}

func getLogger() *slog.Logger {
	packageLoggerM.Lock()
	defer packageLoggerM.Unlock()
	return packageLogger
}

// Provider holds one sealed key and the name of the source it came from.
//
// Thread Safety:
//
//	All methods are safe for concurrent use.
type Provider struct {
	mu      sync.Mutex
	enclave *memguard.Enclave
	source  string
}

// NewProvider seals key material into an enclave. The caller's slice is
// wiped as a side effect; the provider owns the only remaining copy.
func NewProvider(key []byte, source string) (*Provider, error) {
	Init()
	if len(key) == 0 {
		return nil, ErrNoKey
	}
	// NewEnclave wipes the source slice after sealing.
	return &Provider{
		enclave: memguard.NewEnclave(key),
		source:  source,
	}, nil
}

// FromEnv builds a provider from the first source that yields a key:
// the named environment variable, then the file named by fileEnvVar,
// then defaultFile. The environment variable is cleared after reading
// so the key does not linger in the process environment.
//
// Outputs:
//
//	*Provider - Sealed key provider.
//	error - ErrNoKey when every source is empty or missing.
func FromEnv(envVar, fileEnvVar, defaultFile string) (*Provider, error) {
	Init()

	if value := os.Getenv(envVar); value != "" {
		os.Unsetenv(envVar)
		return NewProvider([]byte(value), "env:"+envVar)
	}

	path := os.Getenv(fileEnvVar)
	if path == "" {
		path = defaultFile
	}
	if path == "" {
		return nil, ErrNoKey
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoKey
		}
		return nil, fmt.Errorf("secrets: reading key file %s: %w", path, err)
	}
	trimmed := []byte(strings.TrimSpace(string(data)))
	wipe(data)
	if len(trimmed) == 0 {
		return nil, ErrNoKey
	}
	return NewProvider(trimmed, "file:"+path)
}

// Source names where the key came from ("env:NAME" or "file:/path").
func (p *Provider) Source() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.source
}

// Use unseals the key for the duration of fn and wipes the plaintext
// buffer afterwards. fn must not retain the string beyond its return.
func (p *Provider) Use(fn func(key string) error) error {
	p.mu.Lock()
	enclave := p.enclave
	p.mu.Unlock()
	if enclave == nil {
		return ErrDestroyed
	}

	buf, err := enclave.Open()
	if err != nil {
		return fmt.Errorf("secrets: opening enclave: %w", err)
	}
	defer buf.Destroy()

	return fn(buf.String())
}

// Destroy drops the enclave reference. Subsequent Use calls fail with
// ErrDestroyed. Safe to call more than once.
func (p *Provider) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enclave = nil
}

// Purge wipes all memguard-managed memory. Call during shutdown after
// every provider is done.
func Purge() {
	memguard.Purge()
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

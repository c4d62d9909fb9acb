// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Config holds configuration for the BadgerDB conversation store.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Required unless InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal log output.
	// If nil, BadgerDB's internal logging is disabled.
	Logger *slog.Logger

	// NumVersionsToKeep is the number of versions to keep per key.
	// Default: 1 (turns are never rewritten).
	NumVersionsToKeep int

	// GCInterval is how often to run value log garbage collection.
	// Set to 0 to disable.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum ratio of discardable data before GC.
	GCDiscardRatio float64
}

// DefaultConfig returns durable defaults for production use.
func DefaultConfig() Config {
	return Config{
		SyncWrites:        true,
		NumVersionsToKeep: 1,
		GCInterval:        5 * time.Minute,
		GCDiscardRatio:    0.5,
	}
}

// InMemoryConfig returns configuration optimized for testing: in-memory
// mode, no sync writes, GC disabled.
func InMemoryConfig() Config {
	return Config{
		InMemory:          true,
		SyncWrites:        false,
		NumVersionsToKeep: 1,
	}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// gcRunner runs periodic value log garbage collection.
type gcRunner struct {
	db       *badger.DB
	interval time.Duration
	ratio    float64
	stopCh   chan struct{}
	doneCh   chan struct{}
	logger   *slog.Logger
}

func newGCRunner(db *badger.DB, interval time.Duration, ratio float64, logger *slog.Logger) *gcRunner {
	return &gcRunner{
		db:       db,
		interval: interval,
		ratio:    ratio,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		logger:   logger,
	}
}

func (r *gcRunner) start() {
	go r.run()
}

func (r *gcRunner) stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *gcRunner) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.runGC()
		}
	}
}

func (r *gcRunner) runGC() {
	// ErrNoRewrite means no GC was needed, not an error
	err := r.db.RunValueLogGC(r.ratio)
	if err == nil {
		if r.logger != nil {
			r.logger.Debug("badger value log GC completed")
		}
	} else if !errors.Is(err, badger.ErrNoRewrite) {
		if r.logger != nil {
			r.logger.Warn("badger value log GC error", slog.String("error", err.Error()))
		}
	}
}

// DB wraps a BadgerDB instance with lifecycle management.
type DB struct {
	*badger.DB
	gc       *gcRunner
	inMemory bool
}

// OpenDB opens a BadgerDB with full lifecycle management.
//
// Description:
//
//	Opens a BadgerDB at the configured path, or in memory if InMemory
//	is set. Creates the directory if it doesn't exist and starts a GC
//	runner when GCInterval is configured.
//
// Inputs:
//
//	cfg - Database configuration. Path is required unless InMemory is true.
//
// Outputs:
//
//	*DB - The managed database. Call Close() when done.
//	error - Non-nil if the path is invalid or the database cannot open.
//
// Thread Safety: The returned *DB is safe for concurrent use.
func OpenDB(cfg Config) (*DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites)
	if cfg.NumVersionsToKeep > 0 {
		opts = opts.WithNumVersionsToKeep(cfg.NumVersionsToKeep)
	}

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil) // Disable BadgerDB's internal logging
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	wrapped := &DB{DB: db, inMemory: cfg.InMemory}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		wrapped.gc = newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
		wrapped.gc.start()
	}

	return wrapped, nil
}

// Close stops the GC runner (if running) and closes the database.
func (d *DB) Close() error {
	if d.gc != nil {
		d.gc.stop()
	}
	return d.DB.Close()
}

// WithTxn executes a function within a read-write transaction.
//
// Description:
//
//	Opens a read-write transaction, executes the function, and commits
//	if the function returns nil. Discards on error.
//
// Inputs:
//
//	ctx - Context for cancellation (checked before the transaction starts).
//	fn - Function to execute within the transaction.
//
// Outputs:
//
//	error - Non-nil if the transaction fails or the function returns error.
//
// Thread Safety: Safe for concurrent use.
func (d *DB) WithTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	txn := d.DB.NewTransaction(true)
	defer txn.Discard()

	if err := fn(txn); err != nil {
		return err
	}

	return txn.Commit()
}

// WithReadTxn executes a function within a read-only transaction.
//
// Thread Safety: Safe for concurrent use.
func (d *DB) WithReadTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	txn := d.DB.NewTransaction(false)
	defer txn.Discard()

	return fn(txn)
}

// Key layout: session/<id>/turn/<seq>, with the sequence number zero padded
// so lexicographic key order matches append order.
const (
	turnKeyRoot    = "session/"
	turnKeySegment = "/turn/"
)

func turnPrefix(session string) []byte {
	return []byte(turnKeyRoot + session + turnKeySegment)
}

func turnKey(session string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s%s%016d", turnKeyRoot, session, turnKeySegment, seq))
}

// BadgerStore persists conversation turns in BadgerDB.
//
// Turns are stored as JSON values under zero-padded sequence keys, so a
// forward prefix scan yields a session's history in append order.
type BadgerStore struct {
	db *DB

	// mu serializes appends so sequence numbers are assigned exactly once.
	mu   sync.Mutex
	seqs map[string]uint64 // next sequence number per session
}

var _ Store = (*BadgerStore)(nil)

// NewBadgerStore opens a conversation store with the given configuration.
//
// Description:
//
//	Opens the underlying BadgerDB and prepares the per-session sequence
//	cache. Sequence numbers for existing sessions are recovered lazily
//	from the highest stored key on first append.
//
// Inputs:
//
//	cfg - Database configuration. Path is required unless InMemory is true.
//
// Outputs:
//
//	*BadgerStore - The opened store. Call Close() when done.
//	error - Non-nil if the database cannot open.
//
// Thread Safety: Safe for concurrent use.
func NewBadgerStore(cfg Config) (*BadgerStore, error) {
	db, err := OpenDB(cfg)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{
		db:   db,
		seqs: make(map[string]uint64),
	}, nil
}

// AppendTurn assigns the next sequence number for the turn's session and
// persists the turn.
//
// Description:
//
//	Validates the turn, stamps CreatedAt if unset, assigns the session's
//	next sequence number, and writes the JSON-encoded turn. The sequence
//	cache is only advanced after a successful commit.
//
// Inputs:
//
//	ctx - Context for cancellation
//	turn - The turn to store. Session and Role are required; Seq is ignored.
//
// Outputs:
//
//	Turn - The stored turn with Seq and CreatedAt populated
//	error - Non-nil if validation or the write fails
//
// Thread Safety: Safe for concurrent use. Appends are serialized.
func (s *BadgerStore) AppendTurn(ctx context.Context, turn Turn) (Turn, error) {
	if err := turn.Validate(); err != nil {
		return Turn{}, err
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seq, err := s.nextSeq(ctx, turn.Session)
	if err != nil {
		return Turn{}, err
	}
	turn.Seq = seq

	data, err := json.Marshal(turn)
	if err != nil {
		return Turn{}, fmt.Errorf("encoding turn: %w", err)
	}

	err = s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(turnKey(turn.Session, seq), data)
	})
	if err != nil {
		return Turn{}, fmt.Errorf("writing turn: %w", err)
	}

	s.seqs[turn.Session] = seq + 1
	return turn, nil
}

// nextSeq returns the next sequence number for a session, recovering it
// from the highest stored key when the session is not yet cached.
// Caller must hold s.mu.
func (s *BadgerStore) nextSeq(ctx context.Context, session string) (uint64, error) {
	if next, ok := s.seqs[session]; ok {
		return next, nil
	}

	var next uint64
	prefix := turnPrefix(session)

	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true // Start from highest key
		it := txn.NewIterator(opts)
		defer it.Close()

		// Seek to the last key with this session's prefix
		seekKey := append(append([]byte{}, prefix...), 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
		it.Seek(seekKey)

		if it.ValidForPrefix(prefix) {
			seqStr := string(it.Item().Key()[len(prefix):])
			var seq uint64
			if _, err := fmt.Sscanf(seqStr, "%016d", &seq); err == nil {
				next = seq + 1
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("recovering sequence for session %s: %w", session, err)
	}

	return next, nil
}

// History returns a session's turns in append order.
//
// Description:
//
//	Scans the session's key range forward and decodes each stored turn.
//	Undecodable values are skipped with a warning rather than failing the
//	whole read. A positive limit keeps only the most recent turns.
//
// Inputs:
//
//	ctx - Context for cancellation
//	session - The session id. Must be non-empty.
//	limit - Maximum turns to return; 0 or negative returns all.
//
// Outputs:
//
//	[]Turn - The session's turns, oldest first
//	error - Non-nil if the session id is invalid or the read fails
//
// Thread Safety: Safe for concurrent use.
func (s *BadgerStore) History(ctx context.Context, session string, limit int) ([]Turn, error) {
	if session == "" {
		return nil, ErrEmptySession
	}
	if strings.ContainsRune(session, '/') {
		return nil, ErrInvalidSession
	}

	turns := make([]Turn, 0)
	prefix := turnPrefix(session)

	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var turn Turn
				if err := json.Unmarshal(val, &turn); err != nil {
					slog.Warn("Skipping undecodable turn",
						"key", string(item.Key()),
						"error", err)
					return nil
				}
				turns = append(turns, turn)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}

	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns, nil
}

// Sessions lists the ids of all sessions with at least one turn.
//
// Description:
//
//	Performs a key-only scan over the session key space and collects the
//	distinct session ids. Ids come back in lexicographic order.
//
// Inputs:
//
//	ctx - Context for cancellation
//
// Outputs:
//
//	[]string - Distinct session ids
//	error - Non-nil if the scan fails
//
// Thread Safety: Safe for concurrent use.
func (s *BadgerStore) Sessions(ctx context.Context) ([]string, error) {
	prefix := []byte(turnKeyRoot)
	seen := make(map[string]bool)
	sessions := make([]string, 0)

	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			rest := string(it.Item().Key()[len(prefix):]) // <id>/turn/<seq>
			idx := strings.IndexByte(rest, '/')
			if idx <= 0 {
				continue
			}
			id := rest[:idx]
			if !seen[id] {
				seen[id] = true
				sessions = append(sessions, id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}

	return sessions, nil
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

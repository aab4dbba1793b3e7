// Package storetest provides an in-memory fake of store.DataStore for
// tests that exercise a caller (the ingest driver, cmd commands) without
// a real backend connection. It is not a Engine replacement: it has no
// pipeline, no UTXO cache, no recovery truncator — only enough state to
// make the DataStore contract observable, the way the teacher's
// internal/storage/memory package fakes its storage interface for
// command-level tests.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/relaychain/chainidx/internal/types"
)

// Call records a single method invocation, for assertions that care
// about call order (e.g. "ReorgAtHeight must run before WipeToHeight").
type Call struct {
	Method string
	Height uint64
}

// Store is a DataStore fake backed by an in-memory map of height to
// hash. Insert is applied synchronously: there is no batching or
// threshold, since the fake exists to observe what the caller asked for,
// not to model the aggregator's buffering.
type Store struct {
	mu sync.Mutex

	blocks    map[uint64]types.Hash
	mode      string
	wiped     bool
	closed    bool
	flushErr  error
	insertErr error
	Calls     []Call
}

// New constructs an empty Store in bulk mode.
func New() *Store {
	return &Store{blocks: make(map[uint64]types.Hash), mode: "bulk"}
}

// SetFlushErr makes the next Flush call return err, then clears it.
func (s *Store) SetFlushErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushErr = err
}

// SetInsertErr makes every subsequent Insert call return err.
func (s *Store) SetInsertErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertErr = err
}

func (s *Store) record(method string, height uint64) {
	s.Calls = append(s.Calls, Call{Method: method, Height: height})
}

func (s *Store) Wipe(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Wipe", 0)
	s.blocks = make(map[uint64]types.Hash)
	s.wiped = true
	return nil
}

func (s *Store) ModeBulk(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("ModeBulk", 0)
	s.mode = "bulk"
	return nil
}

func (s *Store) ModeFresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("ModeFresh", 0)
	s.mode = "bulk"
	return nil
}

func (s *Store) ModeNormal(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("ModeNormal", 0)
	s.mode = "normal"
	return nil
}

// Mode reports the last mode transition applied, for test assertions.
func (s *Store) Mode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

func (s *Store) GetMaxHeight(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("GetMaxHeight", 0)
	if len(s.blocks) == 0 {
		return 0, nil
	}
	heights := make([]uint64, 0, len(s.blocks))
	for h := range s.blocks {
		heights = append(heights, h)
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] > heights[j] })
	return heights[0], nil
}

func (s *Store) GetHashByHeight(ctx context.Context, h uint64) (types.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("GetHashByHeight", h)
	hash, ok := s.blocks[h]
	if !ok {
		return types.Hash{}, fmt.Errorf("storetest: no block at height %d", h)
	}
	return hash, nil
}

func (s *Store) ReorgAtHeight(ctx context.Context, h uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("ReorgAtHeight", h)
	for height := range s.blocks {
		if height >= h {
			delete(s.blocks, height)
		}
	}
	return nil
}

func (s *Store) Insert(ctx context.Context, info types.BlockInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Insert", info.Height)
	if s.insertErr != nil {
		return s.insertErr
	}
	s.blocks[info.Height] = info.Hash
	return nil
}

func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Flush", 0)
	err := s.flushErr
	s.flushErr = nil
	return err
}

func (s *Store) WipeToHeight(ctx context.Context, h uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("WipeToHeight", h)
	for height := range s.blocks {
		if height > h {
			delete(s.blocks, height)
		}
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("Close", 0)
	s.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (s *Store) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Wiped reports whether Wipe has been called.
func (s *Store) Wiped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wiped
}

// Package inflight implements the shared registry of blocks handed to
// the pipeline but not yet committed, used for quiescence detection.
package inflight

import (
	"fmt"
	"sync"

	"github.com/relaychain/chainidx/internal/chainerr"
	"github.com/relaychain/chainidx/internal/types"
)

// Registry is a mutex-guarded height -> hash map. A height enters at
// aggregator dispatch and leaves at BlocksStage commit.
type Registry struct {
	mu sync.Mutex
	m  map[uint64]types.Hash
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{m: make(map[uint64]types.Hash)}
}

// InsertBatch adds every block in a dispatched batch.
func (r *Registry) InsertBatch(blocks []types.ParsedBlock) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range blocks {
		r.m[b.Height] = b.Hash
	}
}

// Remove deletes a single committed height. It is a fatal invariant
// violation for the height to be absent: BlocksStage must only remove
// heights it itself dispatched.
func (r *Registry) Remove(height uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[height]; !ok {
		return fmt.Errorf("inflight: height %d not present on commit: %w", height, chainerr.Invariant)
	}
	delete(r.m, height)
	return nil
}

// RemoveBatch removes every height in a committed batch, asserting each
// one was present, matching BlocksStage's "asserts every expected height
// was present" behavior (spec.md §4.3).
func (r *Registry) RemoveBatch(heights []uint64) error {
	for _, h := range heights {
		if err := r.Remove(h); err != nil {
			return err
		}
	}
	return nil
}

// Quiescent reports whether no batch is currently in flight.
func (r *Registry) Quiescent() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.m) == 0
}

// Len reports the number of in-flight heights, for diagnostics.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.m)
}

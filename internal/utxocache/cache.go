// Package utxocache implements the process-local UTXO-resolution cache:
// a map from output reference to (storage id, value) that lets the
// inputs pipeline stage resolve spent outputs without a per-input
// database round trip.
package utxocache

import (
	"context"
	"fmt"
	"sync"

	"github.com/relaychain/chainidx/internal/chainerr"
	"github.com/relaychain/chainidx/internal/querybuilder"
	"github.com/relaychain/chainidx/internal/types"
)

// Entry is a resolved output's storage id and value.
type Entry struct {
	ID    int64
	Value uint64
}

// Fetcher issues the fetch-outputs query against the backend and returns
// rows as (outpoint, id, value, stored tx hash bytes as read back). The
// concrete implementation is internal/pipeline's fetcherAdapter; this
// interface keeps the cache free of any SQL-execution dependency.
type Fetcher interface {
	FetchOutputs(ctx context.Context, stmt string) (map[types.OutPoint]Entry, error)
}

// Cache is a mutex-guarded map from OutPoint to Entry. The lock is held
// only for the duration of insertion or consumption, never across
// backend I/O — fetch_missing runs unlocked so it can never block the
// outputs stage.
type Cache struct {
	mu sync.Mutex
	m  map[types.OutPoint]Entry
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{m: make(map[types.OutPoint]Entry)}
}

// Insert records an output that the outputs stage has just committed (or
// queued, in atomic mode). It overwrites any prior entry, though none is
// expected for correct input.
func (c *Cache) Insert(op types.OutPoint, id int64, value uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[op] = Entry{ID: id, Value: value}
}

// InsertBatch inserts every output produced by a batch in one locked
// pass, narrowing the lock window compared to one Insert call per row.
func (c *Cache) InsertBatch(outputs []types.Output) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, o := range outputs {
		c.m[o.Outpoint()] = Entry{ID: o.ID, Value: o.Value}
	}
}

// Consume removes each found outpoint from the cache and partitions the
// input set into what was found and what was missing. Removal keeps the
// cache's size proportional to the in-flight UTXO footprint rather than
// the whole chain.
func (c *Cache) Consume(outpoints []types.OutPoint) (found map[types.OutPoint]Entry, missing []types.OutPoint) {
	c.mu.Lock()
	defer c.mu.Unlock()

	found = make(map[types.OutPoint]Entry, len(outpoints))
	for _, op := range outpoints {
		if e, ok := c.m[op]; ok {
			found[op] = e
			delete(c.m, op)
		} else {
			missing = append(missing, op)
		}
	}
	return found, missing
}

// FetchMissing issues the fetch-outputs query for every outpoint Consume
// could not resolve from the cache, using the backend's configured
// select row cap. It is fatal if any outpoint in missing has no matching
// row: that indicates an inconsistent upstream (spec.md §4.2).
func FetchMissing(ctx context.Context, f Fetcher, missing []types.OutPoint, selectRowCap int) (map[types.OutPoint]Entry, error) {
	resolved := make(map[types.OutPoint]Entry, len(missing))
	if len(missing) == 0 {
		return resolved, nil
	}

	for _, stmt := range querybuilder.BuildFetchOutputsQuery(missing, selectRowCap) {
		rows, err := f.FetchOutputs(ctx, stmt)
		if err != nil {
			return nil, fmt.Errorf("utxocache: fetch missing outputs: %w", err)
		}
		for op, e := range rows {
			resolved[op] = e
		}
	}

	for _, op := range missing {
		if _, ok := resolved[op]; !ok {
			return nil, fmt.Errorf("utxocache: outpoint %s:%d not found in fetch_missing: %w", op.TxHash, op.Vout, chainerr.Invariant)
		}
	}
	return resolved, nil
}

// Len reports the current cache size, for diagnostics/metrics.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}

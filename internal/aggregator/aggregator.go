// Package aggregator implements the batch aggregator: the front-end that
// collects incoming blocks until a transaction-count threshold is
// reached, then parses and dispatches the batch through the pipeline.
package aggregator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/relaychain/chainidx/internal/chainerr"
	"github.com/relaychain/chainidx/internal/inflight"
	"github.com/relaychain/chainidx/internal/pipeline"
	"github.com/relaychain/chainidx/internal/types"
)

// Dispatcher is the subset of *pipeline.Pipeline the aggregator depends
// on, narrowed for testability.
type Dispatcher interface {
	Dispatch(ctx context.Context, batchID uint64, blocks []types.ParsedBlock) error
}

// FlushThreshold is the default cumulative-tx-count flush trigger
// (spec.md §4.4).
const FlushThreshold = 100_000

// Aggregator accumulates raw blocks and flushes them through the
// pipeline once their cumulative transaction count crosses the
// configured threshold or Flush is called explicitly. It is not safe
// for concurrent use from multiple goroutines calling Insert/Flush
// simultaneously — spec.md §5 names it "one aggregator thread (the
// caller's thread)".
type Aggregator struct {
	mu sync.Mutex

	parser         types.Parser
	dispatcher     Dispatcher
	registry       *inflight.Registry
	logger         *slog.Logger
	flushThreshold int

	pending    []types.BlockInfo
	pendingTxC int // cumulative BlockInfo.TxCount across pending, the spec'd flush trigger
	batchID    uint64

	maxHeight      uint64
	maxHeightKnown bool
}

// New constructs an Aggregator. flushThreshold <= 0 uses FlushThreshold.
func New(parser types.Parser, dispatcher Dispatcher, registry *inflight.Registry, logger *slog.Logger, flushThreshold int) *Aggregator {
	if flushThreshold <= 0 {
		flushThreshold = FlushThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		parser:         parser,
		dispatcher:     dispatcher,
		registry:       registry,
		logger:         logger,
		flushThreshold: flushThreshold,
	}
}

// Insert accumulates a raw block and updates the running transaction
// count used for the flush threshold (spec.md §4.4). Parsing is deferred
// to dispatch time, so the per-insert path never touches the parser or
// the backend.
func (a *Aggregator) Insert(ctx context.Context, info types.BlockInfo) error {
	a.mu.Lock()
	if info.Height > a.maxHeight || !a.maxHeightKnown {
		a.maxHeight = info.Height
		a.maxHeightKnown = true
	}
	a.pending = append(a.pending, info)
	a.pendingTxC += info.TxCount
	shouldFlush := a.pendingTxC > a.flushThreshold
	a.mu.Unlock()

	if shouldFlush {
		return a.Flush(ctx)
	}
	return nil
}

// MaxKnownHeight returns the highest height seen via any Insert call, or
// ok=false if none has been seen. This serves height lookups for
// heights the caller already knows about without touching the backend,
// per spec.md §4.4.
func (a *Aggregator) MaxKnownHeight() (height uint64, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.maxHeight, a.maxHeightKnown
}

// Flush forces dispatch of the accumulated batch, parsing every pending
// block in parallel across available CPU cores. A parse failure in any
// block fails the whole batch: nothing is dispatched.
func (a *Aggregator) Flush(ctx context.Context) error {
	a.mu.Lock()
	pending := a.pending
	a.pending = nil
	a.pendingTxC = 0
	batchID := a.batchID
	a.batchID++
	a.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	parsed, err := a.parseParallel(ctx, pending)
	if err != nil {
		return fmt.Errorf("aggregator: batch %d: %w", batchID, err)
	}

	a.registry.InsertBatch(parsed)

	if err := a.dispatcher.Dispatch(ctx, batchID, parsed); err != nil {
		return fmt.Errorf("aggregator: batch %d: dispatch: %w", batchID, err)
	}

	a.logger.Info("batch dispatched", "batch_id", batchID, "block_count", len(parsed))
	return nil
}

// parseParallel decodes every raw block across available CPU cores using
// an errgroup: the first parse error cancels the remaining work and is
// returned, failing the whole batch with no partial dispatch.
func (a *Aggregator) parseParallel(ctx context.Context, pending []types.BlockInfo) ([]types.ParsedBlock, error) {
	results := make([]types.ParsedBlock, len(pending))
	g, gctx := errgroup.WithContext(ctx)

	for i, info := range pending {
		i, info := i, info
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			pb, err := a.parser.Parse(info)
			if err != nil {
				return fmt.Errorf("height %d: %w: %v", info.Height, chainerr.Parse, err)
			}
			results[i] = *pb
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

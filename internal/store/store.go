// Package store defines the DataStore contract consumed by the ingest
// driver (spec.md §6) and Engine, the backend-agnostic implementation
// wiring the batch aggregator, pipeline stages, UTXO cache, in-flight
// registry, and recovery truncator over a set of backend connections.
// Concrete backends (sqlstore, doltstore) only differ in how those
// connections are opened.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/metric"

	"github.com/relaychain/chainidx/internal/aggregator"
	"github.com/relaychain/chainidx/internal/chainerr"
	"github.com/relaychain/chainidx/internal/inflight"
	"github.com/relaychain/chainidx/internal/pipeline"
	"github.com/relaychain/chainidx/internal/querybuilder"
	"github.com/relaychain/chainidx/internal/recovery"
	"github.com/relaychain/chainidx/internal/types"
	"github.com/relaychain/chainidx/internal/utxocache"
)

// DataStore is the contract consumed by the ingest driver (spec.md §6).
type DataStore interface {
	// Wipe drops and recreates all tables.
	Wipe(ctx context.Context) error
	// ModeBulk reduces indices to the minimum required for ingestion;
	// the pipeline stays in bulk mode.
	ModeBulk(ctx context.Context) error
	// ModeFresh drops all indices; the pipeline stays in bulk mode.
	ModeFresh(ctx context.Context) error
	// ModeNormal flushes, restarts the pipeline in atomic mode, and
	// recreates all indices.
	ModeNormal(ctx context.Context) error
	// GetMaxHeight returns the highest block height currently committed.
	GetMaxHeight(ctx context.Context) (uint64, error)
	// GetHashByHeight returns the hash stored for height h, flushing
	// first if necessary.
	GetHashByHeight(ctx context.Context, h uint64) (types.Hash, error)
	// ReorgAtHeight switches to atomic mode and deletes all rows with
	// height >= h.
	ReorgAtHeight(ctx context.Context, h uint64) error
	// Insert enqueues a block for ingestion.
	Insert(ctx context.Context, info types.BlockInfo) error
	// Flush forces dispatch of the accumulated batch.
	Flush(ctx context.Context) error
	// WipeToHeight truncates to height h (recovery).
	WipeToHeight(ctx context.Context, h uint64) error
	// Close releases all backend connections.
	Close() error
}

// DDL encapsulates the backend-specific schema operations. Both shipped
// backends (sqlstore, doltstore) speak MySQL-compatible SQL, so they
// share one DDL implementation (sqlddl.go); a future non-MySQL-wire
// backend would supply its own.
type DDL interface {
	CreateTables(ctx context.Context, db *sql.DB) error
	DropTables(ctx context.Context, db *sql.DB) error
	MinimalIndices(ctx context.Context, db *sql.DB) error
	DropIndices(ctx context.Context, db *sql.DB) error
	FullIndices(ctx context.Context, db *sql.DB) error
}

// Conns bundles the five connections spec.md §6 calls for: one per
// pipeline stage plus one for the front-end (DDL, height/hash reads,
// recovery).
type Conns struct {
	Tx       *sql.DB
	Outputs  *sql.DB
	Inputs   *sql.DB
	Blocks   *sql.DB
	Frontend *sql.DB
}

// EngineConfig carries the row caps and flush threshold the query
// builders and aggregator use.
type EngineConfig struct {
	InsertRowCap   int
	SelectRowCap   int
	FlushThreshold int
	InitialMode    pipeline.Mode
	// Meter is optional; when nil, pipeline stages run without recording
	// metrics.
	Meter metric.Meter
}

// Engine is the shared DataStore implementation. Concrete backends
// construct one via NewEngine after opening their connections.
type Engine struct {
	conns  Conns
	ddl    DDL
	cfg    EngineConfig
	logger *slog.Logger

	mu sync.Mutex // guards mode transitions and pipeline (re)construction

	cache     *utxocache.Cache
	registry  *inflight.Registry
	pipe      *pipeline.Pipeline
	agg       *aggregator.Aggregator
	truncator *recovery.Truncator
}

// NewEngine wires an Engine from already-opened connections. parser
// decodes raw blocks for the aggregator; ddl supplies the concrete
// schema operations.
func NewEngine(conns Conns, ddl DDL, cfg EngineConfig, parser types.Parser, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		conns:    conns,
		ddl:      ddl,
		cfg:      cfg,
		logger:   logger,
		cache:    utxocache.New(),
		registry: inflight.New(),
	}
	e.pipe = e.newPipeline(cfg.InitialMode)
	// pipelineRef indirects through e.pipe rather than capturing it by
	// value, so the aggregator keeps dispatching to whichever pipeline
	// is current after a mode-transition restart (spec.md §4.5). Safe
	// without extra locking because spec.md §5 names a single
	// aggregator thread driving all of Insert/Flush/mode-transition
	// calls; there is no concurrent writer to race against.
	e.agg = aggregator.New(parser, pipelineRef{e}, e.registry, logger, cfg.FlushThreshold)
	e.truncator = recovery.New(frontendExecer{e.conns.Frontend}, frontendWitness{e.conns.Frontend}, logger)
	return e
}

type pipelineRef struct{ e *Engine }

func (r pipelineRef) Dispatch(ctx context.Context, batchID uint64, blocks []types.ParsedBlock) error {
	return r.e.pipe.Dispatch(ctx, batchID, blocks)
}

func (e *Engine) newPipeline(mode pipeline.Mode) *pipeline.Pipeline {
	return pipeline.New(
		pipeline.Config{InsertRowCap: e.cfg.InsertRowCap, SelectRowCap: e.cfg.SelectRowCap},
		mode,
		pipeline.Conns{Tx: e.conns.Tx, Outputs: e.conns.Outputs, Inputs: e.conns.Inputs, Blocks: e.conns.Blocks},
		e.cache,
		e.registry,
		e.logger,
		e.cfg.Meter,
	)
}

// restartPipeline flushes the aggregator, closes the current pipeline
// (draining all channels), waits for quiescence, and starts a fresh
// pipeline in the given mode. This is the only way the pipeline's mode
// ever changes (spec.md §4.5).
func (e *Engine) restartPipeline(ctx context.Context, mode pipeline.Mode) error {
	if err := e.agg.Flush(ctx); err != nil {
		return err
	}
	if err := e.pipe.Close(); err != nil {
		return err
	}
	if !e.registry.Quiescent() {
		return fmt.Errorf("store: registry not quiescent after pipeline close: %w", chainerr.Invariant)
	}
	e.pipe = e.newPipeline(mode)
	return nil
}

func (e *Engine) Wipe(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ddl.DropTables(ctx, e.conns.Frontend); err != nil {
		return fmt.Errorf("store: wipe: drop tables: %w", chainerr.Connectivity)
	}
	if err := e.ddl.CreateTables(ctx, e.conns.Frontend); err != nil {
		return fmt.Errorf("store: wipe: create tables: %w", chainerr.Connectivity)
	}
	return nil
}

func (e *Engine) ModeBulk(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ddl.MinimalIndices(ctx, e.conns.Frontend); err != nil {
		return fmt.Errorf("store: mode_bulk: %w", chainerr.Connectivity)
	}
	return e.restartPipeline(ctx, pipeline.Bulk)
}

func (e *Engine) ModeFresh(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ddl.DropIndices(ctx, e.conns.Frontend); err != nil {
		return fmt.Errorf("store: mode_fresh: %w", chainerr.Connectivity)
	}
	return e.restartPipeline(ctx, pipeline.Bulk)
}

func (e *Engine) ModeNormal(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.restartPipeline(ctx, pipeline.Atomic); err != nil {
		return err
	}
	if err := e.ddl.FullIndices(ctx, e.conns.Frontend); err != nil {
		return fmt.Errorf("store: mode_normal: %w", chainerr.Connectivity)
	}
	return nil
}

func (e *Engine) GetMaxHeight(ctx context.Context) (uint64, error) {
	var h sql.NullInt64
	row := e.conns.Frontend.QueryRowContext(ctx, "SELECT MAX(height) FROM blocks")
	if err := row.Scan(&h); err != nil {
		return 0, fmt.Errorf("store: get_max_height: %w", chainerr.Connectivity)
	}
	if !h.Valid {
		return 0, nil
	}
	return uint64(h.Int64), nil
}

func (e *Engine) GetHashByHeight(ctx context.Context, h uint64) (types.Hash, error) {
	e.mu.Lock()
	if err := e.agg.Flush(ctx); err != nil {
		e.mu.Unlock()
		return types.Hash{}, err
	}
	e.mu.Unlock()

	var raw []byte
	row := e.conns.Frontend.QueryRowContext(ctx, fmt.Sprintf("SELECT hash FROM blocks WHERE height = %d", h))
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return types.Hash{}, fmt.Errorf("store: no block at height %d", h)
		}
		return types.Hash{}, fmt.Errorf("store: get_hash_by_height: %w", chainerr.Connectivity)
	}
	var hash types.Hash
	copy(hash[:], raw)
	return hash, nil
}

func (e *Engine) ReorgAtHeight(ctx context.Context, h uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.restartPipeline(ctx, pipeline.Atomic); err != nil {
		return err
	}
	return e.truncator.ReorgAtHeight(ctx, h)
}

func (e *Engine) Insert(ctx context.Context, info types.BlockInfo) error {
	return e.agg.Insert(ctx, info)
}

func (e *Engine) Flush(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.agg.Flush(ctx)
}

func (e *Engine) WipeToHeight(ctx context.Context, h uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	// Block rows above h go first, so no block row outlives the dependent
	// rows the truncation below removes.
	if _, err := e.conns.Frontend.ExecContext(ctx, querybuilder.BuildDeleteByHeight("blocks", h+1)); err != nil {
		return fmt.Errorf("store: wipe_to_height: %w", chainerr.Connectivity)
	}
	return e.truncator.TruncateAboveHeight(ctx, h)
}

func (e *Engine) Close() error {
	if err := e.pipe.Close(); err != nil {
		return err
	}
	for _, db := range []*sql.DB{e.conns.Tx, e.conns.Outputs, e.conns.Inputs, e.conns.Blocks, e.conns.Frontend} {
		if err := db.Close(); err != nil {
			return err
		}
	}
	return nil
}

// RunRecovery runs the recovery truncator once at startup, before
// accepting inserts (spec.md §4.6).
func (e *Engine) RunRecovery(ctx context.Context) error {
	return e.truncator.RecoverAtStartup(ctx)
}

type frontendExecer struct{ db *sql.DB }

func (f frontendExecer) ExecContext(ctx context.Context, query string) (int64, error) {
	res, err := f.db.ExecContext(ctx, query)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type frontendWitness struct{ db *sql.DB }

func (f frontendWitness) MaxCommittedHeight(ctx context.Context) (uint64, bool, error) {
	var h sql.NullInt64
	row := f.db.QueryRowContext(ctx, "SELECT MAX(height) FROM blocks")
	if err := row.Scan(&h); err != nil {
		return 0, false, err
	}
	if !h.Valid {
		return 0, false, nil
	}
	return uint64(h.Int64), true, nil
}

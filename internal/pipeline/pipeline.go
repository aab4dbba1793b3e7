// Package pipeline implements the four sequential writer stages
// (txs -> outputs -> inputs -> blocks), each owning exactly one target
// table and one backend connection, connected by rendezvous channels.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/relaychain/chainidx/internal/chainerr"
	"github.com/relaychain/chainidx/internal/inflight"
	"github.com/relaychain/chainidx/internal/logging"
	"github.com/relaychain/chainidx/internal/querybuilder"
	"github.com/relaychain/chainidx/internal/telemetry"
	"github.com/relaychain/chainidx/internal/types"
	"github.com/relaychain/chainidx/internal/utxocache"
)

// stage indices into Pipeline.instruments and Pipeline.stageErr, in
// pipeline order.
const (
	stageTx = iota
	stageOutputs
	stageInputs
	stageBlocks
)

var stageNames = [4]string{stageTx: "txs", stageOutputs: "outputs", stageInputs: "inputs", stageBlocks: "blocks"}

// Mode is the pipeline's write-durability mode (spec.md §4.3).
type Mode int

const (
	// Bulk commits each stage independently per batch: maximum
	// throughput, windowed inconsistency on crash.
	Bulk Mode = iota
	// Atomic defers all four tables' statements to one transaction
	// committed by BlocksStage: lower throughput, no visible partial
	// batches.
	Atomic
)

// Conns bundles the four per-stage connections. Each
// connection belongs to exactly one stage; stages never share a
// connection with one another.
type Conns struct {
	Tx      TxConn
	Outputs TxConn
	Inputs  TxConn
	Blocks  TxConn
}

// Config carries the row caps the query builders bisect against.
type Config struct {
	InsertRowCap int
	SelectRowCap int
}

// Pipeline owns the four stage goroutines and the channels between them.
// A Pipeline is single-use: once started, its Mode is fixed for its
// lifetime. A mode change means draining and discarding this Pipeline
// and constructing a new one (spec.md §4.5).
type Pipeline struct {
	cfg   Config
	mode  Mode
	conns Conns

	cache    *utxocache.Cache
	registry *inflight.Registry
	logger   *slog.Logger

	ingress chan ingressMsg
	toOut   chan txToOutputsMsg
	toIn    chan outputsToInputsMsg
	toBlk   chan inputsToBlocksMsg

	done     chan struct{}
	stageErr [4]error // tx, outputs, inputs, blocks, in that declaration order

	instruments [4]*telemetry.StageInstruments
}

// New constructs a Pipeline and starts its four worker goroutines. The
// caller dispatches batches with Dispatch and must call Close to drain
// and join the workers. meter may be nil, in which case the pipeline
// runs without recording metrics (as in tests).
func New(cfg Config, mode Mode, conns Conns, cache *utxocache.Cache, registry *inflight.Registry, logger *slog.Logger, meter metric.Meter) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		cfg:      cfg,
		mode:     mode,
		conns:    conns,
		cache:    cache,
		registry: registry,
		logger:   logger,
		ingress:  make(chan ingressMsg),
		toOut:    make(chan txToOutputsMsg),
		toIn:     make(chan outputsToInputsMsg),
		toBlk:    make(chan inputsToBlocksMsg),
		done:     make(chan struct{}),
	}
	if meter != nil {
		for i, name := range stageNames {
			inst, err := telemetry.NewStageInstruments(meter, name)
			if err != nil {
				logger.Warn("stage instruments unavailable", "stage", name, "error", err)
				continue
			}
			p.instruments[i] = inst
		}
	}
	go p.runTxStage()
	go p.runOutputsStage()
	go p.runInputsStage()
	go p.runBlocksStage()
	return p
}

// recordCommit records rows and elapsed commit latency for stage, a
// no-op when that stage's instruments weren't installed (nil meter).
func (p *Pipeline) recordCommit(stage int, rows int, start time.Time) {
	inst := p.instruments[stage]
	if inst == nil {
		return
	}
	ctx := context.Background()
	inst.RowsWritten.Add(ctx, int64(rows))
	inst.CommitLatency.Record(ctx, float64(time.Since(start).Milliseconds()))
}

// Dispatch sends a batch into the pipeline, blocking on the zero-buffer
// ingress channel until TxStage is ready to receive it (spec.md §4.3:
// rendezvous channels, deliberately unbuffered). It does not wait for
// the batch to commit; use the in-flight registry to observe quiescence.
func (p *Pipeline) Dispatch(ctx context.Context, batchID uint64, blocks []types.ParsedBlock) error {
	select {
	case p.ingress <- ingressMsg{batchID: batchID, blocks: blocks}:
		return nil
	case <-p.done:
		return fmt.Errorf("pipeline: dispatch to closed pipeline: %w", chainerr.Shutdown)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the ingress channel, which cascades closure down the
// pipeline as each stage drains, and joins the four workers in
// declaration order (tx, outputs, inputs, blocks), returning the first
// error seen.
func (p *Pipeline) Close() error {
	close(p.ingress)
	<-p.done // set by the last stage to exit; see runBlocksStage
	for _, err := range p.stageErr {
		if err != nil {
			return err
		}
	}
	return nil
}

func wrapConnErr(stage string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("pipeline: %s stage: %w: %v", stage, chainerr.Connectivity, err)
}

func (p *Pipeline) runTxStage() {
	log := logging.Stage(p.logger, "tx")
	nextID, err := primeNextID(context.Background(), p.conns.Tx, "txs")
	if err != nil {
		p.stageErr[0] = wrapConnErr("tx", err)
		close(p.toOut)
		return
	}

	for msg := range p.ingress {
		if err := p.handleTxBatch(log, &nextID, msg); err != nil {
			p.stageErr[0] = err
			break
		}
	}
	close(p.toOut)
}

func (p *Pipeline) handleTxBatch(log *slog.Logger, nextID *int64, msg ingressMsg) error {
	ctx := context.Background()

	if p.mode == Bulk {
		current, err := primeNextID(ctx, p.conns.Tx, "txs")
		if err != nil {
			return wrapConnErr("tx", err)
		}
		if current != *nextID {
			return fmt.Errorf("pipeline: tx stage: cached next id %d does not match backend %d: %w", *nextID, current, chainerr.Invariant)
		}
	}

	var txs []types.Tx
	var outputs []types.Output
	var inputs []types.Input
	txIDMap := make(map[types.Hash]int64)

	for _, blk := range msg.blocks {
		for _, ptx := range blk.Txs {
			id := *nextID
			*nextID++
			txs = append(txs, types.Tx{ID: id, Height: blk.Height, Hash: ptx.Hash, Coinbase: ptx.Coinbase})
			txIDMap[ptx.Hash] = id

			for _, po := range ptx.Outputs {
				outputs = append(outputs, types.Output{
					Height:   blk.Height,
					TxHash:   ptx.Hash,
					Index:    po.Index,
					Value:    po.Value,
					Address:  po.Address,
					Coinbase: po.Coinbase,
				})
			}
			// Coinbase transactions carry no real spent outputs; see
			// SPEC_FULL.md §3.
			for _, op := range ptx.Inputs {
				inputs = append(inputs, types.Input{Height: blk.Height, Spends: op})
			}
		}
	}

	stmts := querybuilder.BuildTxInserts(txs, p.cfg.InsertRowCap)

	var pending []string
	if p.mode == Bulk {
		start := time.Now()
		if err := execStatements(ctx, p.conns.Tx, stmts); err != nil {
			return wrapConnErr("tx", err)
		}
		p.recordCommit(stageTx, len(txs), start)
	} else {
		pending = append(pending, stmts...)
	}

	log.Debug("tx batch processed", "batch_id", msg.batchID, "tx_count", len(txs))

	select {
	case p.toOut <- txToOutputsMsg{
		batchID: msg.batchID,
		blocks:  msg.blocks,
		outputs: outputs,
		inputs:  inputs,
		txIDMap: txIDMap,
		pending: pending,
	}:
	case <-p.done:
	}
	return nil
}

func (p *Pipeline) runOutputsStage() {
	log := logging.Stage(p.logger, "outputs")
	nextID, err := primeNextID(context.Background(), p.conns.Outputs, "outputs")
	if err != nil {
		p.stageErr[1] = wrapConnErr("outputs", err)
		close(p.toIn)
		return
	}

	for msg := range p.toOut {
		if err := p.handleOutputsBatch(log, &nextID, msg); err != nil {
			p.stageErr[1] = err
			break
		}
	}
	close(p.toIn)
}

func (p *Pipeline) handleOutputsBatch(log *slog.Logger, nextID *int64, msg txToOutputsMsg) error {
	ctx := context.Background()

	for i := range msg.outputs {
		txID, ok := msg.txIDMap[msg.outputs[i].TxHash]
		if !ok {
			return fmt.Errorf("pipeline: outputs stage: no tx id for output's tx hash %s: %w", msg.outputs[i].TxHash, chainerr.Invariant)
		}
		msg.outputs[i].TxID = txID
		msg.outputs[i].ID = *nextID + int64(i)
	}
	*nextID += int64(len(msg.outputs))

	stmts := querybuilder.BuildOutputInserts(msg.outputs, p.cfg.InsertRowCap)

	pending := msg.pending
	if p.mode == Bulk {
		start := time.Now()
		if err := execStatements(ctx, p.conns.Outputs, stmts); err != nil {
			return wrapConnErr("outputs", err)
		}
		p.recordCommit(stageOutputs, len(msg.outputs), start)
	} else {
		pending = append(pending, stmts...)
	}

	p.cache.InsertBatch(msg.outputs)
	log.Debug("outputs batch processed", "batch_id", msg.batchID, "output_count", len(msg.outputs))

	select {
	case p.toIn <- outputsToInputsMsg{
		batchID: msg.batchID,
		blocks:  msg.blocks,
		inputs:  msg.inputs,
		pending: pending,
	}:
	case <-p.done:
	}
	return nil
}

// fetcherAdapter adapts a DBConn to utxocache.Fetcher by scanning the
// fetch-outputs query's rows into an OutPoint-keyed map.
type fetcherAdapter struct {
	conn DBConn
}

func (f fetcherAdapter) FetchOutputs(ctx context.Context, stmt string) (map[types.OutPoint]utxocache.Entry, error) {
	rows, err := f.conn.QueryContext(ctx, stmt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[types.OutPoint]utxocache.Entry)
	for rows.Next() {
		var id int64
		var value uint64
		var hashBytes []byte
		var vout uint32
		if err := rows.Scan(&id, &value, &hashBytes, &vout); err != nil {
			return nil, err
		}
		var h types.Hash
		// hashBytes is already in storage orientation, same as every
		// other hash read back from the backend (e.g. store.Engine's
		// GetHashByHeight) — no reversal here.
		copy(h[:], hashBytes)
		out[types.OutPoint{TxHash: h, Vout: vout}] = utxocache.Entry{ID: id, Value: value}
	}
	return out, rows.Err()
}

func (p *Pipeline) runInputsStage() {
	log := logging.Stage(p.logger, "inputs")
	nextID, err := primeNextID(context.Background(), p.conns.Inputs, "inputs")
	if err != nil {
		p.stageErr[2] = wrapConnErr("inputs", err)
		close(p.toBlk)
		return
	}

	for msg := range p.toIn {
		if err := p.handleInputsBatch(log, &nextID, msg); err != nil {
			p.stageErr[2] = err
			break
		}
	}
	close(p.toBlk)
}

func (p *Pipeline) handleInputsBatch(log *slog.Logger, nextID *int64, msg outputsToInputsMsg) error {
	ctx := context.Background()

	outpoints := make([]types.OutPoint, len(msg.inputs))
	for i, in := range msg.inputs {
		outpoints[i] = in.Spends
	}

	found, missing := p.cache.Consume(outpoints)
	fetched, err := utxocache.FetchMissing(ctx, fetcherAdapter{conn: p.conns.Inputs}, missing, p.cfg.SelectRowCap)
	if err != nil {
		return fmt.Errorf("pipeline: inputs stage: %w", err)
	}

	for i := range msg.inputs {
		entry, ok := found[msg.inputs[i].Spends]
		if !ok {
			entry, ok = fetched[msg.inputs[i].Spends]
		}
		if !ok {
			return fmt.Errorf("pipeline: inputs stage: unresolved outpoint %s:%d: %w",
				msg.inputs[i].Spends.TxHash, msg.inputs[i].Spends.Vout, chainerr.Invariant)
		}
		msg.inputs[i].OutputID = entry.ID
		msg.inputs[i].ID = *nextID + int64(i)
	}
	*nextID += int64(len(msg.inputs))

	stmts := querybuilder.BuildInputInserts(msg.inputs, p.cfg.InsertRowCap)

	pending := msg.pending
	if p.mode == Bulk {
		start := time.Now()
		if err := execStatements(ctx, p.conns.Inputs, stmts); err != nil {
			return wrapConnErr("inputs", err)
		}
		p.recordCommit(stageInputs, len(msg.inputs), start)
	} else {
		pending = append(pending, stmts...)
	}

	log.Debug("inputs batch processed", "batch_id", msg.batchID, "input_count", len(msg.inputs), "fetched", len(fetched))

	select {
	case p.toBlk <- inputsToBlocksMsg{batchID: msg.batchID, blocks: msg.blocks, pending: pending}:
	case <-p.done:
	}
	return nil
}

func (p *Pipeline) runBlocksStage() {
	log := logging.Stage(p.logger, "blocks")
	defer close(p.done)

	nextID, err := primeNextID(context.Background(), p.conns.Blocks, "blocks")
	if err != nil {
		p.stageErr[3] = wrapConnErr("blocks", err)
		return
	}

	for msg := range p.toBlk {
		if err := p.handleBlocksBatch(log, &nextID, msg); err != nil {
			p.stageErr[3] = err
			return
		}
	}
}

func (p *Pipeline) handleBlocksBatch(log *slog.Logger, nextID *int64, msg inputsToBlocksMsg) error {
	ctx := context.Background()

	blocks := make([]types.Block, len(msg.blocks))
	heights := make([]uint64, len(msg.blocks))
	var maxHeight uint64
	for i, pb := range msg.blocks {
		blocks[i] = types.Block{ID: *nextID + int64(i), Height: pb.Height, Hash: pb.Hash, PrevHash: pb.PrevHash}
		heights[i] = pb.Height
		if pb.Height > maxHeight || i == 0 {
			maxHeight = pb.Height
		}
	}
	*nextID += int64(len(blocks))

	stmts := querybuilder.BuildBlockInserts(blocks, p.cfg.InsertRowCap)

	start := time.Now()
	if p.mode == Bulk {
		if err := execStatements(ctx, p.conns.Blocks, stmts); err != nil {
			return wrapConnErr("blocks", err)
		}
	} else {
		all := append(append([]string{}, msg.pending...), stmts...)
		if err := execStatements(ctx, p.conns.Blocks, all); err != nil {
			return wrapConnErr("blocks", err)
		}
	}
	p.recordCommit(stageBlocks, len(blocks), start)

	if err := p.registry.RemoveBatch(heights); err != nil {
		return err
	}

	log.Info("batch committed", "batch_id", msg.batchID, "max_height", maxHeight, "block_count", len(blocks))
	return nil
}

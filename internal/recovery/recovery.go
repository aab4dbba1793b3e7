// Package recovery implements the startup truncator that removes orphan
// rows above the highest committed block height, and the reorganization
// operation that rewinds the chain to a given height.
package recovery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/relaychain/chainidx/internal/chainerr"
	"github.com/relaychain/chainidx/internal/querybuilder"
)

// IDWindow bounds the truncator's tail-window delete to the most
// recently inserted rows by id, avoiding a secondary index on height
// (spec.md §4.6).
const IDWindow = 100_000

// dependentTables lists the three subordinate tables truncated relative
// to the blocks witness, in the order the reorg path deletes them
// (blocks first to re-establish the durability witness, then these).
var dependentTables = []string{"txs", "outputs", "inputs"}

// Execer runs a single self-contained statement against the backend. Both
// concrete DataStore backends satisfy this directly via *sql.DB.
type Execer interface {
	ExecContext(ctx context.Context, query string) (int64, error) // returns rows affected
}

// WitnessReader reports the highest committed block height, the
// durability witness (spec.md §3).
type WitnessReader interface {
	MaxCommittedHeight(ctx context.Context) (height uint64, ok bool, err error)
}

// Truncator removes orphan rows left behind by a crash between stage
// commits, and performs height-based reorgs.
type Truncator struct {
	exec   Execer
	reader WitnessReader
	logger *slog.Logger
}

// New constructs a Truncator.
func New(exec Execer, reader WitnessReader, logger *slog.Logger) *Truncator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Truncator{exec: exec, reader: reader, logger: logger}
}

// RecoverAtStartup deletes orphan txs/outputs/inputs rows whose height
// exceeds the blocks table's durability witness, looping until a pass
// deletes zero rows (spec.md §4.6). It must run before any insert is
// accepted. Running it twice is idempotent: the second run's passes all
// delete zero rows immediately.
func (t *Truncator) RecoverAtStartup(ctx context.Context) error {
	witness, ok, err := t.reader.MaxCommittedHeight(ctx)
	if err != nil {
		return fmt.Errorf("recovery: reading witness height: %w", chainerr.Connectivity)
	}
	if !ok {
		// No committed blocks at all: nothing above a witness to orphan.
		// Still truncate everything, since height(0)-exceeding rows with
		// no block row present anywhere are orphans too.
		return t.truncateAll(ctx, 0, true)
	}
	return t.truncateAll(ctx, witness, false)
}

// truncateAll runs the tail-window delete loop against each dependent
// table. When fromZero is true there is no witness at all, so every row
// with height >= 0 (i.e. every row) above the id window is an orphan.
func (t *Truncator) truncateAll(ctx context.Context, witness uint64, fromZero bool) error {
	threshold := witness
	if fromZero {
		// No block has ever committed, so every dependent row is an
		// orphan. The fromZero statement below deletes by id window
		// alone and does not compare against threshold.
		threshold = 0
	}

	for _, table := range dependentTables {
		for {
			var stmt string
			if fromZero {
				stmt = fmt.Sprintf(
					"DELETE FROM %s WHERE id IN (SELECT id FROM (SELECT id FROM %s ORDER BY id DESC LIMIT %d) AS recent);",
					table, table, IDWindow,
				)
			} else {
				stmt = querybuilder.BuildDeleteOrphansByID(table, threshold, IDWindow)
			}

			n, err := t.exec.ExecContext(ctx, stmt)
			if err != nil {
				return fmt.Errorf("recovery: truncating %s: %w", table, chainerr.Connectivity)
			}
			t.logger.Debug("truncation pass", "table", table, "deleted", n, "witness_height", witness)
			if n == 0 {
				break
			}
		}
	}
	return nil
}

// TruncateAboveHeight deletes orphan txs/outputs/inputs rows whose
// height exceeds an explicitly supplied witness h, the same tail-window
// delete RecoverAtStartup runs against the blocks table's own witness,
// parameterized for the wipe_to_height(h) operation (spec.md §6). It
// never touches the blocks table: store.Engine.WipeToHeight deletes the
// block rows above h itself before calling this.
func (t *Truncator) TruncateAboveHeight(ctx context.Context, h uint64) error {
	return t.truncateAll(ctx, h, false)
}

// ReorgAtHeight deletes all rows with height >= h, blocks first to
// re-establish the durability witness at a lower point, then the three
// dependent tables (spec.md §4.6). The caller is responsible for forcing
// atomic mode and flushing/restarting the pipeline before calling this;
// Truncator itself has no pipeline-mode awareness.
func (t *Truncator) ReorgAtHeight(ctx context.Context, h uint64) error {
	tables := append([]string{"blocks"}, dependentTables...)
	for _, table := range tables {
		stmt := querybuilder.BuildDeleteByHeight(table, h)
		if _, err := t.exec.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("recovery: reorg deleting from %s: %w", table, chainerr.Connectivity)
		}
	}
	t.logger.Info("reorg complete", "height", h)
	return nil
}

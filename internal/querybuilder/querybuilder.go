// Package querybuilder turns batches of records into self-contained,
// parameter-free backend statements, bisecting any batch larger than the
// backend's per-statement row cap. Builders here produce statement text
// only; they never execute anything.
package querybuilder

import (
	"fmt"
	"strings"

	"github.com/relaychain/chainidx/internal/types"
)

// InsertRowCap is the default per-statement row cap for multi-row
// inserts (spec.md §4.1).
const InsertRowCap = 9000

// SelectRowCap is the default per-statement row cap for the
// fetch-outputs select (spec.md §4.1).
const SelectRowCap = 1500

// split bisects items at its midpoint whenever it exceeds cap, emitting
// one statement per leaf chunk via build. Order is preserved and empty
// input produces no statements.
func split[T any](items []T, cap int, build func([]T) string) []string {
	if len(items) == 0 {
		return nil
	}
	if len(items) <= cap {
		return []string{build(items)}
	}
	mid := len(items) / 2
	left := split(items[:mid], cap, build)
	right := split(items[mid:], cap, build)
	return append(left, right...)
}

func sqlNullableString(s *string) string {
	if s == nil {
		return "NULL"
	}
	return "'" + strings.ReplaceAll(*s, "'", "''") + "'"
}

func sqlBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// BuildBlockInserts builds INSERT statements for the blocks table,
// bisecting at cap rows per statement.
func BuildBlockInserts(blocks []types.Block, cap int) []string {
	return split(blocks, cap, func(chunk []types.Block) string {
		var b strings.Builder
		b.WriteString("INSERT INTO blocks (id, height, hash, prev_hash) VALUES\n")
		for i, blk := range chunk {
			if i > 0 {
				b.WriteString(",\n")
			}
			fmt.Fprintf(&b, "(%d, %d, %s, %s)", blk.ID, blk.Height, blk.Hash.HexLiteral(), blk.PrevHash.HexLiteral())
		}
		b.WriteString(";")
		return b.String()
	})
}

// BuildTxInserts builds INSERT statements for the txs table.
func BuildTxInserts(txs []types.Tx, cap int) []string {
	return split(txs, cap, func(chunk []types.Tx) string {
		var b strings.Builder
		b.WriteString("INSERT INTO txs (id, height, hash, coinbase) VALUES\n")
		for i, tx := range chunk {
			if i > 0 {
				b.WriteString(",\n")
			}
			fmt.Fprintf(&b, "(%d, %d, %s, %s)", tx.ID, tx.Height, tx.Hash.HexLiteral(), sqlBool(tx.Coinbase))
		}
		b.WriteString(";")
		return b.String()
	})
}

// BuildOutputInserts builds INSERT statements for the outputs table.
// Each output's TxID must already be resolved via the tx id map built by
// the tx writer stage.
func BuildOutputInserts(outputs []types.Output, cap int) []string {
	return split(outputs, cap, func(chunk []types.Output) string {
		var b strings.Builder
		b.WriteString("INSERT INTO outputs (id, height, tx_id, tx_idx, value, address, coinbase) VALUES\n")
		for i, o := range chunk {
			if i > 0 {
				b.WriteString(",\n")
			}
			fmt.Fprintf(&b, "(%d, %d, %d, %d, %d, %s, %s)",
				o.ID, o.Height, o.TxID, o.Index, o.Value, sqlNullableString(o.Address), sqlBool(o.Coinbase))
		}
		b.WriteString(";")
		return b.String()
	})
}

// BuildInputInserts builds INSERT statements for the inputs table. Each
// input's OutputID must already be resolved via the UTXO cache or
// fetch-missing query.
func BuildInputInserts(inputs []types.Input, cap int) []string {
	return split(inputs, cap, func(chunk []types.Input) string {
		var b strings.Builder
		b.WriteString("INSERT INTO inputs (id, height, output_id) VALUES\n")
		for i, in := range chunk {
			if i > 0 {
				b.WriteString(",\n")
			}
			fmt.Fprintf(&b, "(%d, %d, %d)", in.ID, in.Height, in.OutputID)
		}
		b.WriteString(";")
		return b.String()
	})
}

// BuildFetchOutputsQuery builds a SELECT joining outputs and txs on the
// natural key (tx hash, vout), for the missing-outpoint resolution path.
// Hashes are compared and returned in storage orientation, the same
// orientation types.Hash holds in memory, so the returned tx hash bytes
// need no reversal to serve as an OutPoint key; this package only emits
// statement text.
func BuildFetchOutputsQuery(missing []types.OutPoint, cap int) []string {
	return split(missing, cap, func(chunk []types.OutPoint) string {
		var b strings.Builder
		b.WriteString("SELECT o.id, o.value, t.hash, o.tx_idx FROM outputs o ")
		b.WriteString("JOIN txs t ON o.tx_id = t.id WHERE ")
		for i, op := range chunk {
			if i > 0 {
				b.WriteString(" OR ")
			}
			fmt.Fprintf(&b, "(t.hash = %s AND o.tx_idx = %d)", op.TxHash.HexLiteral(), op.Vout)
		}
		b.WriteString(";")
		return b.String()
	})
}

// BuildDeleteByHeight builds a standard DELETE statement removing all
// rows from table with height >= h (spec.md §9's second open question:
// the reorg path uses portable delete-by-height syntax, not a
// backend-specific construct).
func BuildDeleteByHeight(table string, h uint64) string {
	return fmt.Sprintf("DELETE FROM %s WHERE height >= %d;", table, h)
}

// BuildDeleteOrphansByID builds the recovery truncator's tail-window
// delete: rows whose id is within the most recent idWindow ids AND whose
// height exceeds witnessHeight. This avoids a secondary index on height
// by bounding the scan to the tail (spec.md §4.6, §9).
func BuildDeleteOrphansByID(table string, witnessHeight uint64, idWindow int) string {
	// The inner SELECT is wrapped in a derived table (aliased "recent")
	// because MySQL-family engines reject selecting from the same table
	// being deleted from directly in a subquery.
	return fmt.Sprintf(
		"DELETE FROM %s WHERE height > %d AND id IN "+
			"(SELECT id FROM (SELECT id FROM %s ORDER BY id DESC LIMIT %d) AS recent);",
		table, witnessHeight, table, idWindow,
	)
}

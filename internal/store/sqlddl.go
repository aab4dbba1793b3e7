package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/relaychain/chainidx/internal/chainerr"
)

// createStatements and the index statement groups below are shared by
// every MySQL-wire-compatible backend (sqlstore, doltstore): both speak
// the same dialect, so there is exactly one DDL implementation.
var createStatements = []string{
	`CREATE TABLE IF NOT EXISTS blocks (
		id BIGINT NOT NULL PRIMARY KEY,
		height BIGINT UNSIGNED NOT NULL,
		hash BINARY(32) NOT NULL,
		prev_hash BINARY(32) NOT NULL,
		UNIQUE KEY uq_blocks_hash (hash)
	)`,
	`CREATE TABLE IF NOT EXISTS txs (
		id BIGINT NOT NULL PRIMARY KEY,
		height BIGINT UNSIGNED NOT NULL,
		hash BINARY(32) NOT NULL,
		coinbase TINYINT(1) NOT NULL,
		UNIQUE KEY uq_txs_hash (hash)
	)`,
	`CREATE TABLE IF NOT EXISTS outputs (
		id BIGINT NOT NULL PRIMARY KEY,
		height BIGINT UNSIGNED NOT NULL,
		tx_id BIGINT NOT NULL,
		tx_idx INT UNSIGNED NOT NULL,
		value BIGINT UNSIGNED NOT NULL,
		address VARCHAR(128) NULL,
		coinbase TINYINT(1) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS inputs (
		id BIGINT NOT NULL PRIMARY KEY,
		height BIGINT UNSIGNED NOT NULL,
		output_id BIGINT NOT NULL
	)`,
}

var dropStatements = []string{
	"DROP TABLE IF EXISTS inputs",
	"DROP TABLE IF EXISTS outputs",
	"DROP TABLE IF EXISTS txs",
	"DROP TABLE IF EXISTS blocks",
}

// minimalIndexStatements is everything ingestion needs and nothing more:
// a plain (non-unique) index on the natural key the fetch-outputs join
// looks up, (tx_id, tx_idx). Bulk mode runs with only this in place —
// blocks.hash and txs.hash are already indexed by the CREATE TABLE-time
// UNIQUE KEY, needing nothing further in minimal mode.
var minimalIndexStatements = []string{
	"CREATE INDEX idx_outputs_tx_lookup ON outputs (tx_id, tx_idx)",
}

var minimalIndexNames = []struct{ table, name string }{
	{"outputs", "idx_outputs_tx_lookup"},
}

// fullIndexStatements adds the read-path indices ModeNormal restores once
// bulk ingestion is caught up: height range scans, address lookups, and
// the outputs natural-key uniqueness constraint the spec defers out of
// bulk mode ("no unique constraint across the natural key of outputs in
// bulk mode (restored in normal mode)").
var fullIndexStatements = []string{
	"CREATE INDEX idx_blocks_height ON blocks (height)",
	"CREATE INDEX idx_txs_height ON txs (height)",
	"CREATE INDEX idx_outputs_height ON outputs (height)",
	"CREATE INDEX idx_outputs_address ON outputs (address)",
	"CREATE INDEX idx_inputs_height ON inputs (height)",
	"CREATE INDEX idx_inputs_output_id ON inputs (output_id)",
	"CREATE UNIQUE INDEX uq_outputs_natural_key ON outputs (tx_id, tx_idx)",
}

var fullIndexNames = []struct{ table, name string }{
	{"blocks", "idx_blocks_height"},
	{"txs", "idx_txs_height"},
	{"outputs", "idx_outputs_height"},
	{"outputs", "idx_outputs_address"},
	{"inputs", "idx_inputs_height"},
	{"inputs", "idx_inputs_output_id"},
	{"outputs", "uq_outputs_natural_key"},
}

// mysqlDDL implements DDL against any MySQL-wire-compatible *sql.DB: the
// server driver (sqlstore) and the embedded Dolt driver (doltstore) both
// qualify, so they share this one type.
type mysqlDDL struct{}

// NewMySQLDDL returns the DDL implementation shared by every
// MySQL-wire-compatible backend.
func NewMySQLDDL() DDL {
	return mysqlDDL{}
}

func (mysqlDDL) CreateTables(ctx context.Context, db *sql.DB) error {
	for _, stmt := range createStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlddl: create tables: %w: %v", chainerr.Connectivity, err)
		}
	}
	return nil
}

func (mysqlDDL) DropTables(ctx context.Context, db *sql.DB) error {
	for _, stmt := range dropStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlddl: drop tables: %w: %v", chainerr.Connectivity, err)
		}
	}
	return nil
}

func (mysqlDDL) MinimalIndices(ctx context.Context, db *sql.DB) error {
	if err := dropIndicesIfExist(ctx, db, fullIndexNames); err != nil {
		return err
	}
	return createIndicesIfMissing(ctx, db, minimalIndexNames, minimalIndexStatements)
}

func (mysqlDDL) DropIndices(ctx context.Context, db *sql.DB) error {
	if err := dropIndicesIfExist(ctx, db, fullIndexNames); err != nil {
		return err
	}
	return dropIndicesIfExist(ctx, db, minimalIndexNames)
}

func (mysqlDDL) FullIndices(ctx context.Context, db *sql.DB) error {
	// The unique natural-key index in fullIndexStatements supersedes the
	// plain lookup index minimal mode uses; drop it rather than carry
	// both on the same columns.
	if err := dropIndicesIfExist(ctx, db, minimalIndexNames); err != nil {
		return err
	}
	return createIndicesIfMissing(ctx, db, fullIndexNames, fullIndexStatements)
}

// createIndicesIfMissing issues each CREATE INDEX statement, tolerating
// "already exists" failures so the index transitions are idempotent
// across repeated mode switches.
func createIndicesIfMissing(ctx context.Context, db *sql.DB, names []struct{ table, name string }, stmts []string) error {
	for i, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			if indexExists(ctx, db, names[i].table, names[i].name) {
				continue
			}
			return fmt.Errorf("sqlddl: create index %s: %w: %v", names[i].name, chainerr.Connectivity, err)
		}
	}
	return nil
}

func dropIndicesIfExist(ctx context.Context, db *sql.DB, names []struct{ table, name string }) error {
	for _, n := range names {
		if !indexExists(ctx, db, n.table, n.name) {
			continue
		}
		stmt := fmt.Sprintf("DROP INDEX %s ON %s", n.name, n.table)
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlddl: drop index %s: %w: %v", n.name, chainerr.Connectivity, err)
		}
	}
	return nil
}

// indexExists checks information_schema rather than trusting driver error
// text, since the two backends (MySQL, Dolt) don't format "duplicate key
// name" identically.
func indexExists(ctx context.Context, db *sql.DB, table, name string) bool {
	var count int
	row := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM information_schema.statistics WHERE table_name = ? AND index_name = ?",
		table, name)
	if err := row.Scan(&count); err != nil {
		return false
	}
	return count > 0
}

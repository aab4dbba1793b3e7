//go:build cgo

// Package doltstore opens the embedded-Dolt DataStore backend: a
// single-process, single-writer MySQL-compatible engine reached through
// github.com/dolthub/driver, with no server process required.
package doltstore

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	embedded "github.com/dolthub/driver"

	"github.com/relaychain/chainidx/internal/chainerr"
	"github.com/relaychain/chainidx/internal/store"
)

// Config locates and names the embedded Dolt database.
type Config struct {
	Path           string // directory holding the Dolt database
	Database       string // database name within the engine
	CommitterName  string
	CommitterEmail string
}

const openMaxElapsed = 30 * time.Second

func newOpenBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = openMaxElapsed
	return bo
}

func applyDefaults(cfg *Config) {
	if cfg.Database == "" {
		cfg.Database = "chainidx"
	}
	if cfg.CommitterName == "" {
		cfg.CommitterName = "chainidx"
	}
	if cfg.CommitterEmail == "" {
		cfg.CommitterEmail = "chainidx@local"
	}
}

// Open dials the embedded engine and returns a store.Conns with all five
// slots pointing at the same *sql.DB. Dolt embedded is single-writer
// engine-wide regardless of how many *sql.DB handles are opened against
// it, so there is nothing to gain — and a filesystem lock conflict to
// risk — from opening five separate connectors the way sqlstore opens
// five independent server connections; the pipeline's rendezvous
// channels already serialize access to any one stage's transaction.
//
// The returned io.Closer must be closed after the Engine built from
// these Conns is closed, to release the embedded driver's filesystem
// lock (grounded on the teacher's embeddedConnector pattern).
func Open(ctx context.Context, cfg Config) (store.Conns, io.Closer, error) {
	applyDefaults(&cfg)

	if info, err := os.Stat(cfg.Path); err == nil && !info.IsDir() {
		return store.Conns{}, nil, fmt.Errorf("doltstore: path %q is a file, not a directory: %w", cfg.Path, chainerr.Configuration)
	}
	if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
		return store.Conns{}, nil, fmt.Errorf("doltstore: creating %q: %w: %v", cfg.Path, chainerr.Configuration, err)
	}
	absPath, err := filepath.Abs(cfg.Path)
	if err != nil {
		return store.Conns{}, nil, fmt.Errorf("doltstore: resolving absolute path: %w: %v", chainerr.Configuration, err)
	}

	initDSN := fmt.Sprintf("file://%s?commitname=%s&commitemail=%s", absPath, cfg.CommitterName, cfg.CommitterEmail)
	dbDSN := fmt.Sprintf("file://%s?commitname=%s&commitemail=%s&database=%s", absPath, cfg.CommitterName, cfg.CommitterEmail, cfg.Database)

	if err := withTempConnection(initDSN, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", cfg.Database))
		return err
	}); err != nil {
		return store.Conns{}, nil, fmt.Errorf("doltstore: creating database %q: %w: %v", cfg.Database, chainerr.Connectivity, err)
	}

	db, connector, err := openConnection(dbDSN)
	if err != nil {
		return store.Conns{}, nil, err
	}
	// A canceled caller context must not poison the pooled connection the
	// driver derives its session from; the initial ping always uses a
	// background context, matching the teacher's embedded-mode comment.
	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		connector.Close()
		return store.Conns{}, nil, fmt.Errorf("doltstore: pinging embedded engine: %w: %v", chainerr.Connectivity, err)
	}

	conns := store.Conns{Tx: db, Outputs: db, Inputs: db, Blocks: db, Frontend: db}
	return conns, connector, nil
}

func openConnection(dsn string) (*sql.DB, *embedded.Connector, error) {
	openCfg, err := embedded.ParseDSN(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("doltstore: parsing dsn: %w: %v", chainerr.Configuration, err)
	}
	openCfg.BackOff = newOpenBackoff()

	connector, err := embedded.NewConnector(openCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("doltstore: creating connector: %w: %v", chainerr.Connectivity, err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	return db, connector, nil
}

// withTempConnection opens a short-lived connector for a single
// one-off statement (database creation) and always releases it,
// independent of the long-lived connection Open ultimately returns.
func withTempConnection(dsn string, fn func(db *sql.DB) error) error {
	openCfg, err := embedded.ParseDSN(dsn)
	if err != nil {
		return err
	}
	openCfg.BackOff = newOpenBackoff()
	connector, err := embedded.NewConnector(openCfg)
	if err != nil {
		return err
	}
	defer connector.Close()

	db := sql.OpenDB(connector)
	defer db.Close()
	return fn(db)
}

// Package sqlstore opens the MySQL-wire-protocol DataStore backend: one
// *sql.DB per pipeline stage connection slot, dialed through
// github.com/go-sql-driver/mysql with retry around connection
// establishment only (spec.md §7 forbids retrying statement execution
// inside a pipeline stage).
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/go-sql-driver/mysql"

	"github.com/relaychain/chainidx/internal/chainerr"
	"github.com/relaychain/chainidx/internal/store"
)

// dialMaxElapsed bounds how long Open retries a transient connection
// failure before giving up.
const dialMaxElapsed = 30 * time.Second

func newDialBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = dialMaxElapsed
	return bo
}

// isRetryableDialErr reports whether err looks like a transient
// connection-establishment failure worth retrying, as opposed to a
// configuration problem (bad DSN, auth failure) that will never
// resolve on its own.
func isRetryableDialErr(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	switch {
	case strings.Contains(s, "connection refused"),
		strings.Contains(s, "i/o timeout"),
		strings.Contains(s, "broken pipe"),
		strings.Contains(s, "connection reset"),
		strings.Contains(s, "no such host"),
		strings.Contains(s, "driver: bad connection"):
		return true
	}
	return false
}

// dialWithRetry opens a single connection slot and retries the initial
// Ping against transient network errors, the only place this backend
// applies backoff (spec.md §7).
func dialWithRetry(ctx context.Context, dsn string) (*sql.DB, error) {
	var db *sql.DB
	attempt := func() error {
		var err error
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("sqlstore: opening dsn: %w: %v", chainerr.Configuration, err))
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			if isRetryableDialErr(err) {
				return err
			}
			return backoff.Permanent(fmt.Errorf("sqlstore: connecting: %w: %v", chainerr.Connectivity, err))
		}
		return nil
	}
	if err := backoff.Retry(attempt, backoff.WithContext(newDialBackoff(), ctx)); err != nil {
		return nil, err
	}
	// Each pipeline stage owns exactly one connection (spec.md §2's
	// "one target table and one database connection" per stage); a pool
	// larger than one would let statements from the same stage interleave
	// on different physical connections, defeating the single-writer
	// ordering the pipeline stages assume.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, nil
}

// OpenConns dials the five connections store.Conns bundles: one per
// pipeline stage plus the front-end connection used for DDL, height/hash
// reads, and recovery.
func OpenConns(ctx context.Context, dsn string) (store.Conns, error) {
	var conns store.Conns
	slots := []**sql.DB{&conns.Tx, &conns.Outputs, &conns.Inputs, &conns.Blocks, &conns.Frontend}
	for _, slot := range slots {
		db, err := dialWithRetry(ctx, dsn)
		if err != nil {
			closeOpened(conns)
			return store.Conns{}, err
		}
		*slot = db
	}
	return conns, nil
}

func closeOpened(conns store.Conns) {
	for _, db := range []*sql.DB{conns.Tx, conns.Outputs, conns.Inputs, conns.Blocks, conns.Frontend} {
		if db != nil {
			db.Close()
		}
	}
}

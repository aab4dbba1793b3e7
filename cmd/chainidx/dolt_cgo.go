//go:build cgo

package main

import (
	"context"
	"io"

	"github.com/relaychain/chainidx/internal/store"
	"github.com/relaychain/chainidx/internal/store/doltstore"
)

func openDolt(ctx context.Context, path string) (store.Conns, io.Closer, error) {
	return doltstore.Open(ctx, doltstore.Config{Path: path})
}

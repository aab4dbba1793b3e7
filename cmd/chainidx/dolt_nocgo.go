//go:build !cgo

package main

import (
	"context"
	"fmt"
	"io"

	"github.com/relaychain/chainidx/internal/store"
)

// openDolt is unavailable in binaries built without CGO: the embedded
// Dolt driver requires it.
func openDolt(ctx context.Context, path string) (store.Conns, io.Closer, error) {
	return store.Conns{}, nil, fmt.Errorf("chainidx: database.driver \"dolt\" requires a CGO-enabled build")
}

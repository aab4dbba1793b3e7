package utxocache_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaychain/chainidx/internal/chainerr"
	"github.com/relaychain/chainidx/internal/types"
	"github.com/relaychain/chainidx/internal/utxocache"
)

func op(n byte) types.OutPoint {
	var h types.Hash
	h[0] = n
	return types.OutPoint{TxHash: h, Vout: uint32(n)}
}

func TestInsertConsume_FullHit(t *testing.T) {
	c := utxocache.New()
	c.Insert(op(1), 10, 5000)
	c.Insert(op(2), 11, 6000)

	found, missing := c.Consume([]types.OutPoint{op(1), op(2)})
	require.Empty(t, missing)
	require.Equal(t, utxocache.Entry{ID: 10, Value: 5000}, found[op(1)])
	require.Equal(t, utxocache.Entry{ID: 11, Value: 6000}, found[op(2)])
	require.Equal(t, 0, c.Len(), "consumed entries must be removed")
}

func TestConsume_PartialMiss(t *testing.T) {
	c := utxocache.New()
	c.Insert(op(1), 10, 5000)

	found, missing := c.Consume([]types.OutPoint{op(1), op(2)})
	require.Len(t, found, 1)
	require.Equal(t, []types.OutPoint{op(2)}, missing)
}

type fakeFetcher struct {
	rows map[types.OutPoint]utxocache.Entry
	err  error
}

func (f *fakeFetcher) FetchOutputs(ctx context.Context, stmt string) (map[types.OutPoint]utxocache.Entry, error) {
	return f.rows, f.err
}

func TestFetchMissing_Resolves(t *testing.T) {
	f := &fakeFetcher{rows: map[types.OutPoint]utxocache.Entry{op(3): {ID: 99, Value: 42}}}
	resolved, err := utxocache.FetchMissing(context.Background(), f, []types.OutPoint{op(3)}, 1500)
	require.NoError(t, err)
	require.Equal(t, utxocache.Entry{ID: 99, Value: 42}, resolved[op(3)])
}

func TestFetchMissing_GapIsFatal(t *testing.T) {
	f := &fakeFetcher{rows: map[types.OutPoint]utxocache.Entry{}}
	_, err := utxocache.FetchMissing(context.Background(), f, []types.OutPoint{op(4)}, 1500)
	require.Error(t, err)
	require.True(t, errors.Is(err, chainerr.Invariant))
}

func TestFetchMissing_EmptyIsNoop(t *testing.T) {
	f := &fakeFetcher{}
	resolved, err := utxocache.FetchMissing(context.Background(), f, nil, 1500)
	require.NoError(t, err)
	require.Empty(t, resolved)
}

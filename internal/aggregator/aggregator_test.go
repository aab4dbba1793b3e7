package aggregator_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaychain/chainidx/internal/aggregator"
	"github.com/relaychain/chainidx/internal/chainerr"
	"github.com/relaychain/chainidx/internal/inflight"
	"github.com/relaychain/chainidx/internal/types"
)

type fakeParser struct {
	failHeight uint64
}

func (p fakeParser) Parse(info types.BlockInfo) (*types.ParsedBlock, error) {
	if p.failHeight != 0 && info.Height == p.failHeight {
		return nil, errors.New("boom")
	}
	return &types.ParsedBlock{Height: info.Height, Hash: info.Hash}, nil
}

type recordingDispatcher struct {
	mu      sync.Mutex
	batches [][]types.ParsedBlock
	ids     []uint64

	// registry, when set, is sampled on every Dispatch call.
	registry         *inflight.Registry
	registryLenAtDsp []int
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, batchID uint64, blocks []types.ParsedBlock) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.registry != nil {
		d.registryLenAtDsp = append(d.registryLenAtDsp, d.registry.Len())
	}
	d.ids = append(d.ids, batchID)
	d.batches = append(d.batches, blocks)
	return nil
}

func TestFlush_DispatchesAndResets(t *testing.T) {
	reg := inflight.New()
	disp := &recordingDispatcher{}
	agg := aggregator.New(fakeParser{}, disp, reg, nil, 100)

	require.NoError(t, agg.Insert(context.Background(), types.BlockInfo{Height: 0, TxCount: 1}))
	require.NoError(t, agg.Flush(context.Background()))

	require.Len(t, disp.batches, 1)
	require.Len(t, disp.batches[0], 1)
	require.Equal(t, uint64(0), disp.batches[0][0].Height)
}

func TestInsert_AutoFlushesAtThreshold(t *testing.T) {
	reg := inflight.New()
	disp := &recordingDispatcher{}
	agg := aggregator.New(fakeParser{}, disp, reg, nil, 10)

	for i := 0; i < 3; i++ {
		require.NoError(t, agg.Insert(context.Background(), types.BlockInfo{Height: uint64(i), TxCount: 4}))
	}
	// cumulative tx count now 12 > 10, should have auto-flushed on the last insert
	require.Len(t, disp.batches, 1)
	require.Len(t, disp.batches[0], 3)
}

func TestFlush_EmptyIsNoop(t *testing.T) {
	reg := inflight.New()
	disp := &recordingDispatcher{}
	agg := aggregator.New(fakeParser{}, disp, reg, nil, 10)
	require.NoError(t, agg.Flush(context.Background()))
	require.Empty(t, disp.batches)
}

func TestFlush_ParseFailureFailsWholeBatch(t *testing.T) {
	reg := inflight.New()
	disp := &recordingDispatcher{}
	agg := aggregator.New(fakeParser{failHeight: 1}, disp, reg, nil, 10)

	require.NoError(t, agg.Insert(context.Background(), types.BlockInfo{Height: 0, TxCount: 1}))
	require.NoError(t, agg.Insert(context.Background(), types.BlockInfo{Height: 1, TxCount: 1}))

	err := agg.Flush(context.Background())
	require.Error(t, err)
	require.True(t, errors.Is(err, chainerr.Parse))
	require.Empty(t, disp.batches, "no partial dispatch on parse failure")
}

func TestFlush_RegistersBatchBeforeDispatch(t *testing.T) {
	reg := inflight.New()
	disp := &recordingDispatcher{registry: reg}
	agg := aggregator.New(fakeParser{}, disp, reg, nil, 100)

	require.NoError(t, agg.Insert(context.Background(), types.BlockInfo{Height: 9, TxCount: 1}))
	require.NoError(t, agg.Flush(context.Background()))

	// Dispatch only ever observes heights the registry already knows
	// about: InsertBatch must run before the dispatcher is invoked, not
	// after, so a stage committing mid-dispatch can always resolve its
	// batch's heights against the registry.
	require.Equal(t, []int{1}, disp.registryLenAtDsp)
	require.False(t, reg.Quiescent())
}

func TestMaxKnownHeight(t *testing.T) {
	reg := inflight.New()
	disp := &recordingDispatcher{}
	agg := aggregator.New(fakeParser{}, disp, reg, nil, 1000)

	_, ok := agg.MaxKnownHeight()
	require.False(t, ok)

	require.NoError(t, agg.Insert(context.Background(), types.BlockInfo{Height: 5, TxCount: 1}))
	require.NoError(t, agg.Insert(context.Background(), types.BlockInfo{Height: 3, TxCount: 1}))

	h, ok := agg.MaxKnownHeight()
	require.True(t, ok)
	require.Equal(t, uint64(5), h)
}

//go:build cgo

package store_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaychain/chainidx/internal/pipeline"
	"github.com/relaychain/chainidx/internal/store"
	"github.com/relaychain/chainidx/internal/store/doltstore"
	"github.com/relaychain/chainidx/internal/types"
)

// testTimeout bounds every integration operation; the embedded Dolt
// engine is slow relative to an in-memory fake.
const testTimeout = 30 * time.Second

func testContext(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(context.Background(), testTimeout)
}

type wireTx struct {
	Hash     string `json:"hash"`
	Coinbase bool   `json:"coinbase"`
}

type wireBlock struct {
	Height   uint64   `json:"height"`
	Hash     string   `json:"hash"`
	PrevHash string   `json:"prev_hash"`
	Txs      []wireTx `json:"txs"`
}

// testParser decodes the minimal wire format into a ParsedBlock with no
// outputs or inputs, enough to exercise the blocks/txs round trip
// without needing a full UTXO graph.
type testParser struct{}

func (testParser) Parse(info types.BlockInfo) (*types.ParsedBlock, error) {
	var wb wireBlock
	if err := json.Unmarshal(info.Raw, &wb); err != nil {
		return nil, err
	}
	hash, err := types.HashFromDisplay(wb.Hash)
	if err != nil {
		return nil, err
	}
	prevHash, err := types.HashFromDisplay(wb.PrevHash)
	if err != nil {
		return nil, err
	}
	pb := &types.ParsedBlock{Height: wb.Height, Hash: hash, PrevHash: prevHash}
	for _, wt := range wb.Txs {
		txHash, err := types.HashFromDisplay(wt.Hash)
		if err != nil {
			return nil, err
		}
		pb.Txs = append(pb.Txs, types.ParsedTx{Hash: txHash, Coinbase: wt.Coinbase})
	}
	return pb, nil
}

func blockInfo(t *testing.T, height uint64, hash, prevHash string, txHash string) types.BlockInfo {
	t.Helper()
	wb := wireBlock{
		Height:   height,
		Hash:     hash,
		PrevHash: prevHash,
		Txs:      []wireTx{{Hash: txHash, Coinbase: true}},
	}
	raw, err := json.Marshal(wb)
	require.NoError(t, err)
	h, err := types.HashFromDisplay(hash)
	require.NoError(t, err)
	return types.BlockInfo{Height: height, Hash: h, TxCount: 1, Raw: raw}
}

func hash64(b byte) string {
	buf := make([]byte, 64)
	for i := range buf {
		buf[i] = "0123456789abcdef"[b%16]
	}
	return string(buf)
}

// newTestEngine opens a throwaway embedded Dolt database under t.TempDir,
// the same per-test isolation setupTestStore uses in the teacher, and
// wires it into a fresh store.Engine with tables created and bulk mode
// active.
func newTestEngine(t *testing.T) *store.Engine {
	t.Helper()
	ctx, cancel := testContext(t)
	defer cancel()

	conns, closer, err := doltstore.Open(ctx, doltstore.Config{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = closer.Close() })

	// The Engine's pipeline stages prime their next ids as soon as it is
	// constructed, so the tables must exist first.
	require.NoError(t, store.NewMySQLDDL().CreateTables(ctx, conns.Frontend))

	engine := store.NewEngine(conns, store.NewMySQLDDL(), store.EngineConfig{
		InsertRowCap:   100,
		SelectRowCap:   100,
		FlushThreshold: 1,
		InitialMode:    pipeline.Bulk,
	}, testParser{}, nil)
	t.Cleanup(func() { _ = engine.Close() })

	require.NoError(t, engine.Wipe(ctx))
	require.NoError(t, engine.ModeBulk(ctx))
	return engine
}

func TestEngine_InsertFlushRoundTrip(t *testing.T) {
	engine := newTestEngine(t)
	ctx, cancel := testContext(t)
	defer cancel()

	info := blockInfo(t, 1, hash64(1), hash64(0), hash64(2))
	require.NoError(t, engine.Insert(ctx, info))
	require.NoError(t, engine.Flush(ctx))

	maxHeight, err := engine.GetMaxHeight(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), maxHeight)

	gotHash, err := engine.GetHashByHeight(ctx, 1)
	require.NoError(t, err)
	wantHash, err := types.HashFromDisplay(hash64(1))
	require.NoError(t, err)
	require.Equal(t, wantHash, gotHash)
}

func TestEngine_ReorgAtHeightDeletesTail(t *testing.T) {
	engine := newTestEngine(t)
	ctx, cancel := testContext(t)
	defer cancel()

	require.NoError(t, engine.Insert(ctx, blockInfo(t, 1, hash64(1), hash64(0), hash64(2))))
	require.NoError(t, engine.Insert(ctx, blockInfo(t, 2, hash64(3), hash64(1), hash64(4))))
	require.NoError(t, engine.Flush(ctx))

	require.NoError(t, engine.ReorgAtHeight(ctx, 2))

	maxHeight, err := engine.GetMaxHeight(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), maxHeight)
}

func TestEngine_ModeNormalRestoresIndices(t *testing.T) {
	engine := newTestEngine(t)
	ctx, cancel := testContext(t)
	defer cancel()

	require.NoError(t, engine.Insert(ctx, blockInfo(t, 1, hash64(1), hash64(0), hash64(2))))
	require.NoError(t, engine.ModeNormal(ctx))

	maxHeight, err := engine.GetMaxHeight(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), maxHeight)
}

func TestEngine_WipeToHeightIsRecoveryTruncation(t *testing.T) {
	engine := newTestEngine(t)
	ctx, cancel := testContext(t)
	defer cancel()

	require.NoError(t, engine.Insert(ctx, blockInfo(t, 1, hash64(1), hash64(0), hash64(2))))
	require.NoError(t, engine.Insert(ctx, blockInfo(t, 2, hash64(3), hash64(1), hash64(4))))
	require.NoError(t, engine.Flush(ctx))

	require.NoError(t, engine.WipeToHeight(ctx, 1))

	maxHeight, err := engine.GetMaxHeight(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), maxHeight)
}

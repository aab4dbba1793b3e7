package querybuilder_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaychain/chainidx/internal/querybuilder"
	"github.com/relaychain/chainidx/internal/types"
)

func TestBuildBlockInserts_Empty(t *testing.T) {
	stmts := querybuilder.BuildBlockInserts(nil, querybuilder.InsertRowCap)
	require.Empty(t, stmts)
}

func TestBuildBlockInserts_SingleStatement(t *testing.T) {
	blocks := make([]types.Block, 10)
	for i := range blocks {
		blocks[i] = types.Block{ID: int64(i + 1), Height: uint64(i)}
	}
	stmts := querybuilder.BuildBlockInserts(blocks, querybuilder.InsertRowCap)
	require.Len(t, stmts, 1)
	require.Contains(t, stmts[0], "INSERT INTO blocks")
	require.Equal(t, 10, strings.Count(stmts[0], "\n("))
}

func TestBuildBlockInserts_BisectsAtCap(t *testing.T) {
	blocks := make([]types.Block, querybuilder.InsertRowCap+1)
	for i := range blocks {
		blocks[i] = types.Block{ID: int64(i + 1), Height: uint64(i)}
	}
	stmts := querybuilder.BuildBlockInserts(blocks, querybuilder.InsertRowCap)
	require.Len(t, stmts, 2)

	total := 0
	for _, s := range stmts {
		total += strings.Count(s, "\n(")
	}
	require.Equal(t, querybuilder.InsertRowCap+1, total)
}

func TestBuildBlockInserts_ExactlyAtCap(t *testing.T) {
	blocks := make([]types.Block, querybuilder.InsertRowCap)
	stmts := querybuilder.BuildBlockInserts(blocks, querybuilder.InsertRowCap)
	require.Len(t, stmts, 1)
}

func TestBuildFetchOutputsQuery_BisectsAtSelectCap(t *testing.T) {
	missing := make([]types.OutPoint, querybuilder.SelectRowCap+1)
	stmts := querybuilder.BuildFetchOutputsQuery(missing, querybuilder.SelectRowCap)
	require.Len(t, stmts, 2)
	for _, s := range stmts {
		require.Contains(t, s, "SELECT o.id, o.value, t.hash, o.tx_idx")
	}
}

func TestBuildOutputInserts_NullAddress(t *testing.T) {
	outputs := []types.Output{{ID: 1, Height: 0, TxID: 1, Index: 0, Value: 5000000000, Address: nil}}
	stmts := querybuilder.BuildOutputInserts(outputs, querybuilder.InsertRowCap)
	require.Len(t, stmts, 1)
	require.Contains(t, stmts[0], "NULL")
}

func TestBuildOutputInserts_AddressEscaping(t *testing.T) {
	addr := "it's-an-address"
	outputs := []types.Output{{ID: 1, Address: &addr}}
	stmts := querybuilder.BuildOutputInserts(outputs, querybuilder.InsertRowCap)
	require.Contains(t, stmts[0], "it''s-an-address")
}

func TestBuildDeleteByHeight(t *testing.T) {
	stmt := querybuilder.BuildDeleteByHeight("blocks", 50)
	require.Equal(t, "DELETE FROM blocks WHERE height >= 50;", stmt)
}

func TestBuildDeleteOrphansByID(t *testing.T) {
	stmt := querybuilder.BuildDeleteOrphansByID("txs", 50, 1000)
	require.Equal(t, "DELETE FROM txs WHERE height > 50 AND id IN "+
		"(SELECT id FROM (SELECT id FROM txs ORDER BY id DESC LIMIT 1000) AS recent);", stmt)

	// Distinct from BuildDeleteByHeight's reorg semantics: the orphan
	// sweep keeps the witness height itself (">") while a reorg deletes
	// it too (">=").
	require.NotContains(t, stmt, ">= 50")
}

func TestLargeBatchRoundTripCount(t *testing.T) {
	outputs := make([]types.Output, 18001)
	stmts := querybuilder.BuildOutputInserts(outputs, querybuilder.InsertRowCap)
	require.Len(t, stmts, 3)

	total := 0
	for _, s := range stmts {
		total += strings.Count(s, "\n(")
	}
	require.Equal(t, 18001, total)
}

package recovery_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaychain/chainidx/internal/recovery"
)

type fakeExecer struct {
	// queued[table] is a list of "rows affected" results returned in
	// order for successive calls against that table.
	queued map[string][]int64
	calls  []string
}

func (f *fakeExecer) ExecContext(ctx context.Context, query string) (int64, error) {
	f.calls = append(f.calls, query)
	for table, results := range f.queued {
		if strings.Contains(query, "FROM "+table+" WHERE") || strings.HasPrefix(query, "DELETE FROM "+table+" ") {
			if len(results) == 0 {
				return 0, nil
			}
			n := results[0]
			f.queued[table] = results[1:]
			return n, nil
		}
	}
	return 0, nil
}

type fakeWitness struct {
	height uint64
	ok     bool
}

func (f fakeWitness) MaxCommittedHeight(ctx context.Context) (uint64, bool, error) {
	return f.height, f.ok, nil
}

func TestRecoverAtStartup_LoopsUntilZero(t *testing.T) {
	exec := &fakeExecer{queued: map[string][]int64{
		"txs":     {5, 0},
		"outputs": {5, 0},
		"inputs":  {5, 0},
	}}
	tr := recovery.New(exec, fakeWitness{height: 98, ok: true}, nil)

	require.NoError(t, tr.RecoverAtStartup(context.Background()))
	// two passes per table (one deleting 5 rows, one deleting 0 and stopping)
	require.Len(t, exec.calls, 6)
}

func TestRecoverAtStartup_IdempotentOnSecondRun(t *testing.T) {
	exec := &fakeExecer{queued: map[string][]int64{
		"txs":     {0},
		"outputs": {0},
		"inputs":  {0},
	}}
	tr := recovery.New(exec, fakeWitness{height: 98, ok: true}, nil)
	require.NoError(t, tr.RecoverAtStartup(context.Background()))
	require.Len(t, exec.calls, 3)
}

func TestReorgAtHeight_DeletesBlocksFirst(t *testing.T) {
	exec := &fakeExecer{queued: map[string][]int64{}}
	tr := recovery.New(exec, fakeWitness{}, nil)

	require.NoError(t, tr.ReorgAtHeight(context.Background(), 50))
	require.Len(t, exec.calls, 4)
	require.Contains(t, exec.calls[0], "blocks")
	require.Contains(t, exec.calls[0], ">= 50")
}

func TestTruncateAboveHeight_NeverTouchesBlocks(t *testing.T) {
	exec := &fakeExecer{queued: map[string][]int64{
		"txs":     {0},
		"outputs": {0},
		"inputs":  {0},
	}}
	tr := recovery.New(exec, fakeWitness{}, nil)

	require.NoError(t, tr.TruncateAboveHeight(context.Background(), 10))
	require.Len(t, exec.calls, 3)
	for _, call := range exec.calls {
		require.NotContains(t, call, "FROM blocks")
	}
}

package inflight_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaychain/chainidx/internal/chainerr"
	"github.com/relaychain/chainidx/internal/inflight"
	"github.com/relaychain/chainidx/internal/types"
)

func TestQuiescence(t *testing.T) {
	r := inflight.New()
	require.True(t, r.Quiescent())

	r.InsertBatch([]types.ParsedBlock{{Height: 0}, {Height: 1}})
	require.False(t, r.Quiescent())
	require.Equal(t, 2, r.Len())

	require.NoError(t, r.RemoveBatch([]uint64{0, 1}))
	require.True(t, r.Quiescent())
}

func TestRemove_MissingHeightIsFatal(t *testing.T) {
	r := inflight.New()
	err := r.Remove(5)
	require.Error(t, err)
	require.True(t, errors.Is(err, chainerr.Invariant))
}

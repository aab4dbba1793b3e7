package storetest_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaychain/chainidx/internal/store"
	"github.com/relaychain/chainidx/internal/store/storetest"
	"github.com/relaychain/chainidx/internal/types"
)

var _ store.DataStore = (*storetest.Store)(nil)

func TestInsertAndGetHashByHeight(t *testing.T) {
	s := storetest.New()
	ctx := context.Background()

	var hash types.Hash
	hash[0] = 0xaa
	require.NoError(t, s.Insert(ctx, types.BlockInfo{Height: 5, Hash: hash}))

	got, err := s.GetHashByHeight(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, hash, got)

	max, err := s.GetMaxHeight(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(5), max)
}

func TestReorgAtHeight_DropsAtAndAbove(t *testing.T) {
	s := storetest.New()
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, types.BlockInfo{Height: 1}))
	require.NoError(t, s.Insert(ctx, types.BlockInfo{Height: 2}))
	require.NoError(t, s.Insert(ctx, types.BlockInfo{Height: 3}))

	require.NoError(t, s.ReorgAtHeight(ctx, 2))

	_, err := s.GetHashByHeight(ctx, 2)
	require.Error(t, err)
	_, err = s.GetHashByHeight(ctx, 1)
	require.NoError(t, err)
}

func TestWipeToHeight_KeepsHeightItself(t *testing.T) {
	s := storetest.New()
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, types.BlockInfo{Height: 1}))
	require.NoError(t, s.Insert(ctx, types.BlockInfo{Height: 2}))
	require.NoError(t, s.Insert(ctx, types.BlockInfo{Height: 3}))

	require.NoError(t, s.WipeToHeight(ctx, 2))

	_, err := s.GetHashByHeight(ctx, 2)
	require.NoError(t, err)
	_, err = s.GetHashByHeight(ctx, 3)
	require.Error(t, err)
}

func TestWipe_ClearsState(t *testing.T) {
	s := storetest.New()
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, types.BlockInfo{Height: 1}))
	require.NoError(t, s.Wipe(ctx))
	require.True(t, s.Wiped())

	max, err := s.GetMaxHeight(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(0), max)
}

func TestClose_Marks(t *testing.T) {
	s := storetest.New()
	require.NoError(t, s.Close())
	require.True(t, s.Closed())
}

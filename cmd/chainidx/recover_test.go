package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaychain/chainidx/internal/store/storetest"
)

type recoveringStore struct {
	*storetest.Store
	recovered bool
}

func (r *recoveringStore) RunRecovery(ctx context.Context) error {
	r.recovered = true
	return nil
}

func TestRunStartupRecovery_UnsupportedBackendErrors(t *testing.T) {
	err := runStartupRecovery(context.Background(), storetest.New())
	require.Error(t, err)
}

func TestRunStartupRecovery_InvokesRunRecovery(t *testing.T) {
	rs := &recoveringStore{Store: storetest.New()}
	require.NoError(t, runStartupRecovery(context.Background(), rs))
	require.True(t, rs.recovered)
}

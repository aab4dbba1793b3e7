package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relaychain/chainidx/internal/store"
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Run the recovery truncator standalone",
	Long: `recover removes orphan transaction, output, and input rows above the
highest committed block height — the same pass serve runs automatically
before accepting its first insert.`,
	RunE: runRecover,
}

func init() {
	rootCmd.AddCommand(recoverCmd)
}

// startupRecoverer is the slice of store.Engine's API the recovery pass
// needs; it is intentionally not part of store.DataStore (spec.md §6's
// contract table), since recovery is a startup routine the ingest
// driver invokes directly, not an operation the pipeline dispatches
// through.
type startupRecoverer interface {
	RunRecovery(ctx context.Context) error
}

func runStartupRecovery(ctx context.Context, ds store.DataStore) error {
	r, ok := ds.(startupRecoverer)
	if !ok {
		return fmt.Errorf("chainidx: backend does not support startup recovery")
	}
	return r.RunRecovery(ctx)
}

func runRecover(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.closeFn()

	if err := runStartupRecovery(ctx, a.store); err != nil {
		return err
	}
	fmt.Println("recovery complete")
	return nil
}

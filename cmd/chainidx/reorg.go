package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var reorgCmd = &cobra.Command{
	Use:   "reorg <height>",
	Short: "Switch to atomic mode and delete all rows with height >= h",
	Args:  cobra.ExactArgs(1),
	RunE:  runReorg,
}

func init() {
	rootCmd.AddCommand(reorgCmd)
}

func runReorg(cmd *cobra.Command, args []string) error {
	h, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("chainidx: invalid height %q: %w", args[0], err)
	}

	ctx := cmd.Context()
	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.closeFn()

	if err := a.store.ReorgAtHeight(ctx, h); err != nil {
		return err
	}
	fmt.Printf("reorged to height %d\n", h)
	return nil
}

package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var hashCmd = &cobra.Command{
	Use:   "hash <height>",
	Short: "Print the hash stored for a height, flushing first if necessary",
	Args:  cobra.ExactArgs(1),
	RunE:  runHash,
}

func init() {
	rootCmd.AddCommand(hashCmd)
}

func runHash(cmd *cobra.Command, args []string) error {
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

	hash, err := a.store.GetHashByHeight(ctx, h)
	if err != nil {
		return err
	}
	fmt.Println(hash.String())
	return nil
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var wipeCmd = &cobra.Command{
	Use:   "wipe",
	Short: "Drop and recreate all tables",
	RunE:  runWipe,
}

func init() {
	rootCmd.AddCommand(wipeCmd)
}

func runWipe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.closeFn()

	if err := a.store.Wipe(ctx); err != nil {
		return err
	}
	fmt.Println("wiped")
	return nil
}

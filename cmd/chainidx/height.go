package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var heightCmd = &cobra.Command{
	Use:   "height",
	Short: "Print the highest committed block height",
	RunE:  runHeight,
}

func init() {
	rootCmd.AddCommand(heightCmd)
}

func runHeight(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.closeFn()

	h, err := a.store.GetMaxHeight(ctx)
	if err != nil {
		return err
	}
	fmt.Println(h)
	return nil
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var modeCmd = &cobra.Command{
	Use:       "mode {bulk|fresh|normal}",
	Short:     "Switch the pipeline's write-durability mode",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"bulk", "fresh", "normal"},
	RunE:      runMode,
}

func init() {
	rootCmd.AddCommand(modeCmd)
}

func runMode(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.closeFn()

	var transition error
	switch args[0] {
	case "bulk":
		transition = a.store.ModeBulk(ctx)
	case "fresh":
		transition = a.store.ModeFresh(ctx)
	case "normal":
		transition = a.store.ModeNormal(ctx)
	}
	if transition != nil {
		return transition
	}
	fmt.Printf("mode: %s\n", args[0])
	return nil
}

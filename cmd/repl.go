package cmd

import (
	"github.com/spf13/cobra"

	"github.com/tansudb/tansu/repl"
)

func init() {
	tansuCmd.AddCommand(
		&cobra.Command{
			Use:   "repl",
			Short: "Interactively drive a tuple store table",
			Run: func(cmd *cobra.Command, args []string) {
				tbl := demoTable()
				defer tbl.Close()

				repl.Interact(tbl)
			},
		})
}

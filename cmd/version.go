package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tansudb/tansu/sql"
)

func init() {
	tansuCmd.AddCommand(
		&cobra.Command{
			Use:   "version",
			Short: "Print the version number of Tansu",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Println(sql.Version())
			},
		})
}

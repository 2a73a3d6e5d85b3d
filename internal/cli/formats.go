package cli

import (
	"github.com/spf13/cobra"

	"docqa/internal/extract"
)

var formatsCmd = &cobra.Command{
	Use:   "formats",
	Short: "List supported document formats",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		for _, mt := range extract.NewRegistry().MediaTypes() {
			cmd.Println(mt)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(formatsCmd)
}

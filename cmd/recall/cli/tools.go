package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve [identifier]",
	Short: "Resolve a loose tool identifier to a canonical slug",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		eng := newEngine()
		defer eng.Close()

		res, ok := eng.ResolveTool(context.Background(), args[0])
		if !ok {
			fmt.Println("No matching tool.")
			os.Exit(1)
		}
		fmt.Printf("Resolved: %s\n", res.Slug)
		fmt.Printf("  tier:    %s\n", res.Tier)
		fmt.Printf("  trusted: %v\n", res.Trusted)
	},
}

func init() {
	RootCmd.AddCommand(resolveCmd)
}

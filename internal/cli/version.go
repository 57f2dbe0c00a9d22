package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/c2store/pkg/c2store"
)

const modulePath = "github.com/mesh-intelligence/c2store"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the c2store version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "c2store v%s\nmodule: %s\n", c2store.Version, modulePath)
			return nil
		},
	}
}

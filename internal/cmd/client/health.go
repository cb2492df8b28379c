package client

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rzbill/flobus/internal/runtime"
)

// NewHealthCommand constructs the `health` command, which pings both
// Redis connections.
func NewHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the command and observer connections",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, func(rt *runtime.Runtime) error {
				if err := rt.CheckHealth(cmd.Context()); err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "status:", "OK")
				return nil
			})
		},
	}
}

package client

import (
	"fmt"

	"github.com/juju/errors"
	"github.com/spf13/cobra"

	"github.com/rzbill/flobus/internal/runtime"
)

// NewIDSeqCommand constructs the `idseq` command group.
func NewIDSeqCommand() *cobra.Command {
	idseqCmd := &cobra.Command{Use: "idseq", Short: "Sequence number allocation"}
	idseqCmd.AddCommand(
		newIDSeqAllocateCommand(),
		newIDSeqReleaseCommand(),
	)
	return idseqCmd
}

func newIDSeqAllocateCommand() *cobra.Command {
	allocateCmd := &cobra.Command{
		Use:   "allocate",
		Short: "Allocate the lowest free sequence number for an identifier",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, _ := cmd.Flags().GetString("id")
			if id == "" {
				return errors.New("--id is required")
			}
			return withRuntime(cmd, func(rt *runtime.Runtime) error {
				seq, err := rt.IDSeq().Allocate(cmd.Context(), id)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), seq)
				return nil
			})
		},
	}
	allocateCmd.Flags().String("id", "", "Identifier")
	return allocateCmd
}

func newIDSeqReleaseCommand() *cobra.Command {
	releaseCmd := &cobra.Command{
		Use:   "release",
		Short: "Release a sequence number",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, _ := cmd.Flags().GetString("id")
			seq, _ := cmd.Flags().GetInt64("seq")
			if id == "" {
				return errors.New("--id is required")
			}
			return withRuntime(cmd, func(rt *runtime.Runtime) error {
				if err := rt.IDSeq().Release(cmd.Context(), id, seq); err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "status:", "OK")
				return nil
			})
		},
	}
	releaseCmd.Flags().String("id", "", "Identifier")
	releaseCmd.Flags().Int64("seq", -1, "Sequence number to release")
	return releaseCmd
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	clientcmd "github.com/rzbill/flobus/internal/cmd/client"
	serverrun "github.com/rzbill/flobus/internal/cmd/server"
)

func main() {
	rootCmd := clientcmd.NewRoot()
	rootCmd.Long = "flobus relays JSON messages between processes over Redis pub/sub and hands out per-identifier sequence numbers."

	// serve
	serveCmd := &cobra.Command{
		Use:     "serve",
		Short:   "Run flobus and expose /metrics and /healthz",
		Aliases: []string{"server"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := clientcmd.ResolveConfig(cmd)
			if err != nil {
				return err
			}
			if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
				cfg.MetricsAddr = addr
			}
			if err := serverrun.Run(cmd.Context(), serverrun.Options{Config: cfg}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}
	serveCmd.Flags().String("metrics-addr", "", "Metrics listen address (default "+serverrun.DefaultAddr+")")
	rootCmd.AddCommand(serveCmd)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "flobus:", err)
		cancel()
		os.Exit(1)
	}
}

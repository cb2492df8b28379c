package client

import "github.com/spf13/cobra"

func newResolveCommand(fn func(addr, prefix string)) *cobra.Command {
	return &cobra.Command{
		Use: "show-config",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ResolveConfig(cmd)
			if err != nil {
				return err
			}
			fn(cfg.Redis.Addr, cfg.Prefix)
			return nil
		},
	}
}

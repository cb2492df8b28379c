package client

import (
	"github.com/juju/errors"
	"github.com/spf13/cobra"

	cfgpkg "github.com/rzbill/flobus/internal/config"
	"github.com/rzbill/flobus/internal/runtime"
	redisstore "github.com/rzbill/flobus/internal/storage/redis"
	logpkg "github.com/rzbill/flobus/pkg/log"
)

// NewRoot constructs the root Cobra command with the global flags and the
// channel, idseq and health command groups.
func NewRoot() *cobra.Command {
	root := &cobra.Command{
		Use:           "flobus",
		Short:         "Redis pub/sub transport and sequence allocator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	AddGlobalFlags(root)
	root.AddCommand(
		NewChannelCommand(),
		NewIDSeqCommand(),
		NewHealthCommand(),
	)
	return root
}

// AddGlobalFlags registers the configuration flags shared by all commands.
func AddGlobalFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.String("config", "", "Config file (.json, .yaml or .yml)")
	f.String("redis", "", "Redis address (overrides config and FLOBUS_REDIS_ADDR)")
	f.String("prefix", "", "Channel and key prefix")
	f.String("log-level", "", "Log level: debug|info|warn|error")
	f.String("log-format", "", "Log format: text|json")
}

// ResolveConfig loads the config file, overlays the environment and then
// any flags set on the command line.
func ResolveConfig(cmd *cobra.Command) (cfgpkg.Config, error) {
	flags := cmd.Flags()
	path, _ := flags.GetString("config")
	cfg, err := cfgpkg.Load(path)
	if err != nil {
		return cfgpkg.Config{}, errors.Trace(err)
	}
	cfgpkg.FromEnv(&cfg)
	if flags.Changed("redis") {
		cfg.Redis.Addr, _ = flags.GetString("redis")
	}
	if flags.Changed("prefix") {
		cfg.Prefix, _ = flags.GetString("prefix")
	}
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		cfg.Log.Format, _ = flags.GetString("log-format")
	}
	if err := cfg.Validate(); err != nil {
		return cfgpkg.Config{}, errors.Trace(err)
	}
	return cfg, nil
}

// withRuntime opens a runtime for cmd, runs fn and closes the runtime.
func withRuntime(cmd *cobra.Command, fn func(*runtime.Runtime) error) (err error) {
	cfg, err := ResolveConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := logpkg.ApplyConfig(&cfg.Log)
	if err != nil {
		return errors.Annotate(err, "build logger")
	}
	redisstore.UseLogger(logger)
	cmd.SetContext(logpkg.ContextWith(cmd.Context(), logpkg.Operation(cmd.CommandPath())))
	rt, err := runtime.Open(runtime.Options{Config: cfg, Logger: logger})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(rt)
}

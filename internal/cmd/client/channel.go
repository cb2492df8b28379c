package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/juju/errors"
	"github.com/spf13/cobra"

	"github.com/rzbill/flobus/internal/pubsub"
	"github.com/rzbill/flobus/internal/runtime"
)

// NewChannelCommand constructs the `channel` command group.
func NewChannelCommand() *cobra.Command {
	channelCmd := &cobra.Command{Use: "channel", Short: "Channel operations"}
	channelCmd.AddCommand(
		newChannelPublishCommand(),
		newChannelSubscribeCommand(),
	)
	return channelCmd
}

func newChannelPublishCommand() *cobra.Command {
	publishCmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish one JSON message to one or more channels",
		RunE: func(cmd *cobra.Command, _ []string) error {
			channels, _ := cmd.Flags().GetStringArray("channel")
			data, _ := cmd.Flags().GetString("data")
			if len(channels) == 0 {
				return errors.New("at least one --channel is required")
			}
			var msg any
			if err := json.Unmarshal([]byte(data), &msg); err != nil {
				return errors.Annotate(err, "invalid --data; expected JSON")
			}
			return withRuntime(cmd, func(rt *runtime.Runtime) error {
				if err := rt.Hub().Publish(cmd.Context(), channels, msg); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "published to %d channels\n", len(channels))
				return nil
			})
		},
	}
	publishCmd.Flags().StringArray("channel", nil, "Channel (repeatable)")
	publishCmd.Flags().String("data", "null", "Message as JSON")
	return publishCmd
}

func newChannelSubscribeCommand() *cobra.Command {
	subscribeCmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Print messages from channels as JSON lines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			channels, _ := cmd.Flags().GetStringArray("channel")
			filter, _ := cmd.Flags().GetString("filter")
			limit, _ := cmd.Flags().GetInt("limit")
			timeout, _ := cmd.Flags().GetDuration("timeout")
			if len(channels) == 0 {
				return errors.New("at least one --channel is required")
			}
			return withRuntime(cmd, func(rt *runtime.Runtime) error {
				ctx := cmd.Context()
				var cancel context.CancelFunc
				if timeout > 0 {
					ctx, cancel = context.WithTimeout(ctx, timeout)
				} else {
					ctx, cancel = context.WithCancel(ctx)
				}
				defer cancel()

				out := make(chan pubsub.Message)
				for _, ch := range channels {
					var opts []pubsub.StreamOption
					if filter != "" {
						opts = append(opts, pubsub.WithFilter(filter))
					}
					s, err := rt.Hub().Subscribe(ctx, ch, opts...)
					if err != nil {
						return err
					}
					go forward(ctx, s, out)
				}

				enc := json.NewEncoder(cmd.OutOrStdout())
				n := 0
				for {
					select {
					case <-ctx.Done():
						return nil
					case m := <-out:
						if err := enc.Encode(map[string]any{"channel": m.Channel, "data": m.Data}); err != nil {
							return err
						}
						n++
						if limit > 0 && n >= limit {
							return nil
						}
					}
				}
			})
		},
	}
	subscribeCmd.Flags().StringArray("channel", nil, "Channel (repeatable)")
	subscribeCmd.Flags().String("filter", "", "CEL filter over `channel` and `data`")
	subscribeCmd.Flags().Int("limit", 0, "Stop after N messages (0 = infinite)")
	subscribeCmd.Flags().Duration("timeout", 0, "Stop after this long (0 = until interrupted)")
	return subscribeCmd
}

// forward copies a stream into out until the stream closes or ctx is done.
func forward(ctx context.Context, s *pubsub.Stream, out chan<- pubsub.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-s.C():
			if !ok {
				return
			}
			select {
			case out <- m:
			case <-ctx.Done():
				return
			}
		}
	}
}

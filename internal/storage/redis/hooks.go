package redisstore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"

	logpkg "github.com/rzbill/flobus/pkg/log"
)

// metricsHook reports command timings to a MetricsHook. redis.Nil is a
// normal reply, not a failure.
type metricsHook struct{ m MetricsHook }

func (h metricsHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h metricsHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)
		h.m.ObserveCommand(cmd.Name(), time.Since(start), replyErr(err))
		return err
	}
}

func (h metricsHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmds)
		h.m.ObservePipeline(len(cmds), time.Since(start), replyErr(err))
		return err
	}
}

func replyErr(err error) error {
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

// redisLogger routes go-redis internal logs through the flobus logger.
type redisLogger struct{ l logpkg.Logger }

func (r redisLogger) Printf(_ context.Context, format string, v ...interface{}) {
	r.l.Warn(fmt.Sprintf(format, v...))
}

// UseLogger installs l as the go-redis internal logger. go-redis keeps a
// single process-wide logger.
func UseLogger(l logpkg.Logger) {
	redis.SetLogger(redisLogger{l: l.With(logpkg.Component("go-redis"))})
}

package serverrun

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	cfgpkg "github.com/rzbill/flobus/internal/config"
	"github.com/rzbill/flobus/internal/runtime"
	redisstore "github.com/rzbill/flobus/internal/storage/redis"
	logpkg "github.com/rzbill/flobus/pkg/log"
)

// DefaultAddr is used when neither Options.Listener nor Config.MetricsAddr
// is set.
const DefaultAddr = ":9108"

const shutdownGrace = 5 * time.Second

// Options configures Run.
type Options struct {
	Config cfgpkg.Config
	// Logger defaults to one built from Config.Log.
	Logger logpkg.Logger
	// Listener overrides Config.MetricsAddr.
	Listener net.Listener
}

// Run opens the runtime and serves /metrics and /healthz until ctx is done.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := opts.Logger
	if logger == nil {
		l, err := logpkg.ApplyConfig(&opts.Config.Log)
		if err != nil {
			return errors.Annotate(err, "build logger")
		}
		logger = l
	}
	logpkg.RedirectStdLog(logger)
	redisstore.UseLogger(logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rt, err := runtime.Open(runtime.Options{Config: opts.Config, Logger: logger, Registry: reg})
	if err != nil {
		return errors.Trace(err)
	}

	ln := opts.Listener
	if ln == nil {
		addr := opts.Config.MetricsAddr
		if addr == "" {
			addr = DefaultAddr
		}
		if ln, err = net.Listen("tcp", addr); err != nil {
			_ = rt.Close()
			return errors.Annotatef(err, "listen %s", addr)
		}
	}

	srv := &http.Server{Handler: newMux(rt), ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	logger.Info("flobus serving",
		logpkg.Str("addr", ln.Addr().String()),
		logpkg.Str("redis", opts.Config.Redis.Addr),
		logpkg.Str("prefix", opts.Config.Prefix),
		logpkg.Str("level", opts.Config.Log.Level),
		logpkg.Str("format", opts.Config.Log.Format),
	)

	var serveErr error
	select {
	case <-sctx.Done():
	case serveErr = <-errc:
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", logpkg.Err(err))
	}
	closeErr := rt.Close()
	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return errors.Annotate(serveErr, "serve")
	}
	return errors.Trace(closeErr)
}

func newMux(rt *runtime.Runtime) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", rt.Metrics().Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := rt.CheckHealth(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

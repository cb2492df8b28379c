package metrics

import (
	"net/http"
	"time"

	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "flobus"

// pipelineLabel is the cmd label used for pipelines and MULTI/EXEC blocks.
const pipelineLabel = "pipeline"

// Recorder is a prometheus.Collector that also implements the observation
// hooks of the store, transport, registry and allocator.
type Recorder struct {
	commandDuration *prometheus.HistogramVec
	commandErrors   *prometheus.CounterVec
	published       prometheus.Counter
	received        prometheus.Counter
	decodeErrors    prometheus.Counter
	delivered       prometheus.Counter
	dropped         prometheus.Counter
	allocations     prometheus.Counter
	allocAttempts   prometheus.Histogram
	races           prometheus.Counter
	releases        prometheus.Counter
	collected       prometheus.Counter

	gatherer prometheus.Gatherer
}

func counter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      name,
		Help:      help,
	})
}

// NewRecorder returns an unregistered Recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		commandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "redis_command_duration_seconds",
				Help:      "Latency of Redis commands on the command connection.",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			}, []string{"cmd"},
		),
		commandErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "redis_command_errors_total",
				Help:      "Redis commands that failed.",
			}, []string{"cmd"},
		),
		allocAttempts: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "idseq_allocation_attempts",
				Help:      "Claims needed per successful allocation.",
				Buckets:   []float64{1, 2, 3, 5, 10, 20},
			},
		),
		published:    counter("published_messages_total", "Messages published, counted once per channel."),
		received:     counter("received_messages_total", "Messages received on the observer connection."),
		decodeErrors: counter("decode_errors_total", "Inbound messages that could not be decoded."),
		delivered:    counter("delivered_messages_total", "Messages queued on local streams."),
		dropped:      counter("dropped_messages_total", "Messages dropped because a local stream was full."),
		allocations:  counter("idseq_allocations_total", "Sequence numbers allocated."),
		races:        counter("idseq_races_total", "Allocation claims lost to a concurrent allocator."),
		releases:     counter("idseq_releases_total", "Sequence numbers released."),
		collected:    counter("idseq_gc_total", "Empty sequence bitmaps deleted."),
	}
}

// Register creates a Recorder and registers it on reg. A nil reg gets a
// fresh registry.
func Register(reg *prometheus.Registry) (*Recorder, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	r := NewRecorder()
	if err := reg.Register(r); err != nil {
		return nil, errors.Annotate(err, "register flobus metrics")
	}
	r.gatherer = reg
	return r, nil
}

// Handler serves the metrics of the registry the Recorder was registered on.
func (r *Recorder) Handler() http.Handler {
	g := r.gatherer
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Describe is part of the prometheus.Collector interface.
func (r *Recorder) Describe(ch chan<- *prometheus.Desc) {
	r.commandDuration.Describe(ch)
	r.commandErrors.Describe(ch)
	for _, c := range r.counters() {
		c.Describe(ch)
	}
	r.allocAttempts.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (r *Recorder) Collect(ch chan<- prometheus.Metric) {
	r.commandDuration.Collect(ch)
	r.commandErrors.Collect(ch)
	for _, c := range r.counters() {
		c.Collect(ch)
	}
	r.allocAttempts.Collect(ch)
}

func (r *Recorder) counters() []prometheus.Counter {
	return []prometheus.Counter{
		r.published, r.received, r.decodeErrors, r.delivered, r.dropped,
		r.allocations, r.races, r.releases, r.collected,
	}
}

// ObserveCommand implements redisstore.MetricsHook.
func (r *Recorder) ObserveCommand(name string, elapsed time.Duration, err error) {
	r.commandDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	if err != nil {
		r.commandErrors.WithLabelValues(name).Inc()
	}
}

// ObservePipeline implements redisstore.MetricsHook.
func (r *Recorder) ObservePipeline(_ int, elapsed time.Duration, err error) {
	r.ObserveCommand(pipelineLabel, elapsed, err)
}

// ObservePublish implements redispubsub.Hooks.
func (r *Recorder) ObservePublish(channels int, _ int64) {
	r.published.Add(float64(channels))
}

// ObserveReceived implements redispubsub.Hooks.
func (r *Recorder) ObserveReceived(string) { r.received.Inc() }

// ObserveDecodeError implements redispubsub.Hooks.
func (r *Recorder) ObserveDecodeError(string) { r.decodeErrors.Inc() }

// ObserveDelivered implements pubsub.Hooks.
func (r *Recorder) ObserveDelivered(string) { r.delivered.Inc() }

// ObserveDropped implements pubsub.Hooks.
func (r *Recorder) ObserveDropped(string) { r.dropped.Inc() }

// ObserveAllocate implements idseq.Hooks.
func (r *Recorder) ObserveAllocate(attempts int) {
	r.allocations.Inc()
	r.allocAttempts.Observe(float64(attempts))
}

// ObserveRace implements idseq.Hooks.
func (r *Recorder) ObserveRace() { r.races.Inc() }

// ObserveRelease implements idseq.Hooks.
func (r *Recorder) ObserveRelease() { r.releases.Inc() }

// ObserveGC implements idseq.Hooks.
func (r *Recorder) ObserveGC() { r.collected.Inc() }

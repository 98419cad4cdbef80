// Package metrics exports command queue and spectrometer metrics to
// Prometheus.
package metrics

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	fx "github.com/robotalks/retrospex/pkg/framework"
	"github.com/robotalks/retrospex/pkg/l0/comm"
	"github.com/robotalks/retrospex/pkg/spex"
)

const namespace = "spex"

// Completion results.
const (
	ResultOK           = "ok"
	ResultDropped      = "dropped"
	ResultTimeout      = "timeout"
	ResultUnrecognized = "unrecognized"
	ResultClosed       = "closed"
	ResultFailed       = "failed"
)

// Collector implements comm.Observer and spex.Listener.
type Collector struct {
	SentTotal         *prometheus.CounterVec
	RetriedTotal      prometheus.Counter
	CompletedTotal    *prometheus.CounterVec
	UnsolicitedTotal  *prometheus.CounterVec
	UnrecognizedTotal prometheus.Counter
	Online            prometheus.Gauge
	ScannerState      *prometheus.GaugeVec
	Volts             *prometheus.GaugeVec
	Counts            *prometheus.GaugeVec
	StateChanges      prometheus.Counter
	LinkFailures      prometheus.Counter
	QueueDepth        prometheus.Gauge
}

// NewCollector creates the metrics and registers them.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		SentTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_sent_total",
			Help:      "Commands transmitted, by opcode.",
		}, []string{"opcode"}),
		RetriedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_retried_total",
			Help:      "Commands retransmitted after the error token.",
		}),
		CompletedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_completed_total",
			Help:      "Commands leaving the queue, by result.",
		}, []string{"result"}),
		UnsolicitedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lines_unsolicited_total",
			Help:      "Button and alert lines received.",
		}, []string{"kind"}),
		UnrecognizedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lines_unrecognized_total",
			Help:      "Lines matching no expectation.",
		}),
		Online: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online",
			Help:      "1 when a spectrometer is bound.",
		}),
		ScannerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scanner_state",
			Help:      "1 for the current scanner state.",
		}, []string{"state"}),
		Volts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hv_volts",
			Help:      "High voltage readback.",
		}, []string{"supply"}),
		Counts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "photon_counts",
			Help:      "Last photon counter readback.",
		}, []string{"counter"}),
		StateChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_changes_total",
			Help:      "Scanner state transitions.",
		}),
		LinkFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "link_failures_total",
			Help:      "Fatal serial link failures.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Commands queued or in flight.",
		}),
	}
	reg.MustRegister(c.SentTotal, c.RetriedTotal, c.CompletedTotal,
		c.UnsolicitedTotal, c.UnrecognizedTotal, c.Online, c.ScannerState,
		c.Volts, c.Counts, c.StateChanges, c.LinkFailures, c.QueueDepth)
	c.setState(spex.Stopped)
	return c
}

// Opcode is the first token of a command.
func Opcode(text string) string {
	if n := strings.IndexByte(text, ' '); n >= 0 {
		return text[:n]
	}
	return text
}

// ResultOf classifies a completion error.
func ResultOf(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case err == comm.ErrDropped:
		return ResultDropped
	case err == comm.ErrUnrecognized:
		return ResultUnrecognized
	case err == comm.ErrClosed:
		return ResultClosed
	case comm.IsTimeout(err):
		return ResultTimeout
	}
	return ResultFailed
}

// Sent implements comm.Observer.
func (c *Collector) Sent(cmd *comm.Command, retry bool) {
	c.SentTotal.WithLabelValues(Opcode(cmd.Text)).Inc()
	if retry {
		c.RetriedTotal.Inc()
	}
}

// Completed implements comm.Observer.
func (c *Collector) Completed(cmd *comm.Command, err error) {
	c.CompletedTotal.WithLabelValues(ResultOf(err)).Inc()
}

// Unsolicited implements comm.Observer.
func (c *Collector) Unsolicited(line string) {
	kind := "alert"
	if strings.HasPrefix(line, comm.ButtonPrefix) {
		kind = "button"
	}
	c.UnsolicitedTotal.WithLabelValues(kind).Inc()
}

// Unrecognized implements comm.Observer.
func (c *Collector) Unrecognized(line string) {
	c.UnrecognizedTotal.Inc()
}

// HandleEvent implements spex.Listener.
func (c *Collector) HandleEvent(e spex.Event) {
	switch e.Kind {
	case spex.EventConnected:
		c.Online.Set(1)
	case spex.EventFatal:
		c.Online.Set(0)
		c.LinkFailures.Inc()
	case spex.EventStateChanged:
		c.StateChanges.Inc()
		c.setState(e.To)
	case spex.EventTelemetry:
		c.setVolts("em", e.Telemetry.EMVolts)
		c.setVolts("ref", e.Telemetry.REFVolts)
		for n, count := range e.Telemetry.Counters {
			c.Counts.WithLabelValues(strconv.Itoa(n)).Set(float64(count))
		}
	}
}

// Sample reads the queue depth. It must run on the spectrometer
// goroutine.
func (c *Collector) Sample(s *spex.Spectrometer) {
	depth := s.Pending()
	if s.Busy() {
		depth++
	}
	c.QueueDepth.Set(float64(depth))
}

// Sampler samples a spectrometer after each loop iteration.
type Sampler struct {
	Collector *Collector
	Spex      *spex.Spectrometer
}

// AddToLoop implements LoopAdder.
func (s *Sampler) AddToLoop(loop *fx.Loop) {
	loop.AddController(fx.PrLvPostProc, fx.ControlFunc(func(fx.ControlContext) error {
		s.Collector.Sample(s.Spex)
		return nil
	}))
}

func (c *Collector) setState(state spex.State) {
	for _, st := range []spex.State{spex.Stopped, spex.Scanning, spex.Paused} {
		val := 0.0
		if st == state {
			val = 1
		}
		c.ScannerState.WithLabelValues(st.String()).Set(val)
	}
}

func (c *Collector) setVolts(supply, str string) {
	if str == "" {
		return
	}
	v, err := strconv.ParseFloat(str, 64)
	if err != nil {
		glog.Warningf("%s volts %q: %v", supply, str, err)
		return
	}
	c.Volts.WithLabelValues(supply).Set(v)
}

// Config provides the metrics endpoint options.
type Config struct {
	// Addr to serve /metrics on, empty disables the endpoint.
	Addr string
}

var defaultConfig Config

func init() {
	if val := os.Getenv("SPEX_METRICS_ADDR"); val != "" {
		defaultConfig.Addr = val
	}
}

// SetupFlags sets up command line flags.
func SetupFlags() {
	flag.StringVar(&defaultConfig.Addr, "metrics-addr", defaultConfig.Addr, "Address to serve Prometheus metrics, e.g. :9120.")
}

// NewConfig creates a Config with default configurations.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// Server serves the registry over HTTP.
type Server struct {
	Addr     string
	Gatherer prometheus.Gatherer
}

// NewServer creates a Server, nil when disabled.
func (c *Config) NewServer(g prometheus.Gatherer) *Server {
	if c.Addr == "" {
		return nil
	}
	return &Server{Addr: c.Addr, Gatherer: g}
}

// Handler returns the HTTP handler of the metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))
	return mux
}

// AddToLoop implements LoopAdder.
func (s *Server) AddToLoop(loop *fx.Loop) {
	loop.AddRunnable(fx.NamedRun("metrics", s))
}

// Run implements Runnable.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.Addr, Handler: s.Handler()}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	glog.Infof("metrics on %s", s.Addr)
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

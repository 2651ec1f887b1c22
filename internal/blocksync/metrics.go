package blocksync

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "blocksync"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of tracked peers.
	Peers metrics.Gauge
	// Height of the active tip.
	ActiveTipHeight metrics.Gauge
	// Headers in the header tree.
	Headers metrics.Gauge
	// Block bodies in the cache.
	CachedBlocks metrics.Gauge
	// Outstanding block fetches.
	PendingFetches metrics.Gauge
	// Items waiting to be fetched.
	FrontierSize metrics.Gauge

	// Headers newly added from peers.
	HeadersAccepted metrics.Counter
	// Block bodies accepted from peers.
	BlocksReceived metrics.Counter
	// Items requested via getdata.
	GetDataSent metrics.Counter
	// Block fetches that expired.
	FetchTimeouts metrics.Counter
	// Header requests that expired.
	HeaderRequestTimeouts metrics.Counter
	// Messages rejected by the coordinator.
	InvalidMessages metrics.Counter
}

// PrometheusMetrics returns Metrics built using the Prometheus client
// library. Optionally, labels can be provided along with their values
// ("foo", "fooValue").
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}
	gauge := func(name, help string) metrics.Gauge {
		return prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      name,
			Help:      help,
		}, labels).With(labelsAndValues...)
	}
	counter := func(name, help string) metrics.Counter {
		return prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      name,
			Help:      help,
		}, labels).With(labelsAndValues...)
	}
	return &Metrics{
		Peers:           gauge("peers", "Number of tracked peers."),
		ActiveTipHeight: gauge("active_tip_height", "Height of the active tip."),
		Headers:         gauge("headers", "Headers in the header tree."),
		CachedBlocks:    gauge("cached_blocks", "Block bodies in the cache."),
		PendingFetches:  gauge("pending_fetches", "Outstanding block fetches."),
		FrontierSize:    gauge("frontier_size", "Items waiting to be fetched."),

		HeadersAccepted:       counter("headers_accepted_total", "Headers newly added from peers."),
		BlocksReceived:        counter("blocks_received_total", "Block bodies accepted from peers."),
		GetDataSent:           counter("getdata_items_total", "Items requested via getdata."),
		FetchTimeouts:         counter("fetch_timeouts_total", "Block fetches that expired."),
		HeaderRequestTimeouts: counter("header_request_timeouts_total", "Header requests that expired."),
		InvalidMessages:       counter("invalid_messages_total", "Messages rejected by the coordinator."),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		Peers:                 discard.NewGauge(),
		ActiveTipHeight:       discard.NewGauge(),
		Headers:               discard.NewGauge(),
		CachedBlocks:          discard.NewGauge(),
		PendingFetches:        discard.NewGauge(),
		FrontierSize:          discard.NewGauge(),
		HeadersAccepted:       discard.NewCounter(),
		BlocksReceived:        discard.NewCounter(),
		GetDataSent:           discard.NewCounter(),
		FetchTimeouts:         discard.NewCounter(),
		HeaderRequestTimeouts: discard.NewCounter(),
		InvalidMessages:       discard.NewCounter(),
	}
}

func (c *Coordinator) reportState() {
	tip := c.store.ActiveTip()
	c.metrics.Peers.Set(float64(len(c.peers)))
	c.metrics.ActiveTipHeight.Set(float64(tip.Height))
	c.metrics.Headers.Set(float64(c.store.HeaderCount()))
	c.metrics.CachedBlocks.Set(float64(c.store.BlockCount()))
	c.metrics.PendingFetches.Set(float64(len(c.pending)))
	c.metrics.FrontierSize.Set(float64(len(c.frontier)))
}

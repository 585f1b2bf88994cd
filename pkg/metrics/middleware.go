package metrics

import (
	"time"

	"github.com/panjf2000/gnet/v2"
	"github.com/zekkrron/db-connection-pooler/pkg/sqlverb"
)

// ProxyMetricsMiddleWare provides metrics collection for the proxy server
type ProxyMetricsMiddleWare struct {
	collector ProxyMetricsCollector
}

// NewProxyMetricsMiddleware creates a new proxy metrics middleware
func NewProxyMetricsMiddleware(collector ProxyMetricsCollector) *ProxyMetricsMiddleWare {
	return &ProxyMetricsMiddleWare{
		collector: collector,
	}
}

func (m *ProxyMetricsMiddleWare) GetCollector() ProxyMetricsCollector {
	return m.collector
}

// OnSessionOpen tracks metrics when a client connection is opened
func (m *ProxyMetricsMiddleWare) OnSessionOpen() {
	m.collector.IncrementActiveSessions()
}

// OnSessionClose tracks metrics when a client connection is closed
func (m *ProxyMetricsMiddleWare) OnSessionClose() {
	m.collector.DecrementActiveSessions()
}

// TrackQuery counts one routed statement
func (m *ProxyMetricsMiddleWare) TrackQuery(class sqlverb.Class) {
	m.collector.IncrementQueryCounter(class.String())
}

// TrackError increments the error counter for a specific error type
func (m *ProxyMetricsMiddleWare) TrackError(errorType string) {
	m.collector.IncrementErrorCounter(errorType)
}

// TrackReplacement counts one janitor connection replacement
func (m *ProxyMetricsMiddleWare) TrackReplacement(addr string) {
	m.collector.IncrementReplacementCounter(addr)
}

// WrapTraffic wraps the entire traffic handling process with metrics.
// This captures the true end-to-end latency including all processing.
func (m *ProxyMetricsMiddleWare) WrapTraffic(fn func() gnet.Action) gnet.Action {
	start := time.Now()

	rs := fn()

	m.collector.RecordOverallLatency(time.Since(start))

	return rs
}

// WrapForwarding wraps the backend round trip with metrics
func (m *ProxyMetricsMiddleWare) WrapForwarding(class sqlverb.Class, fn func() error) error {
	start := time.Now()

	err := fn()

	m.collector.RecordForwardingLatency(class.String(), time.Since(start))

	if err != nil {
		m.TrackError("forwarding_error")
	}

	return err
}

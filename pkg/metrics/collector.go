package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/zekkrron/db-connection-pooler/pkg/common"

	"github.com/gin-gonic/gin"
	gometrics "github.com/hashicorp/go-metrics"
	"github.com/hashicorp/go-metrics/prometheus"
)

type ExposeMetricSink string

const (
	InMemorySink    ExposeMetricSink = "in-memory"
	PrometheusSink  ExposeMetricSink = "prometheus"
	AllMetricsSink  ExposeMetricSink = "all"
	ExposeMetricURL                  = "/metrics"
)

var (
	logger = common.InitLogger().WithName("proxy-metrics")

	instance      ProxyMetricsCollector
	collectorOnce sync.Once
)

// labelPool is a simple object pool for label slices to reduce allocations
type labelPool struct {
	pool sync.Pool
}

func newLabelPool() *labelPool {
	return &labelPool{
		pool: sync.Pool{
			New: func() interface{} {
				slice := make([]gometrics.Label, 0, 3)
				return &slice
			},
		},
	}
}

func (p *labelPool) get() []gometrics.Label {
	slicePtr := p.pool.Get().(*[]gometrics.Label)
	*slicePtr = (*slicePtr)[:0]
	return *slicePtr
}

func (p *labelPool) put(labels []gometrics.Label) {
	p.pool.Put(&labels)
}

// ProxyMetricsCollector defines the interface for collecting metrics
type ProxyMetricsCollector interface {
	// RecordForwardingLatency records the proxy <-> backend round-trip time
	// for one statement class.
	RecordForwardingLatency(class string, duration time.Duration)

	// RecordOverallLatency records end-to-end latency without distinguishing classes
	RecordOverallLatency(duration time.Duration)

	// IncrementActiveSessions Concurrency metrics
	IncrementActiveSessions()
	DecrementActiveSessions()

	// IncrementQueryCounter counts routed statements per class
	IncrementQueryCounter(class string)

	// IncrementReplacementCounter counts janitor connection replacements
	IncrementReplacementCounter(addr string)

	// IncrementErrorCounter Error metrics
	IncrementErrorCounter(errorType string)

	// Shutdown the metrics collector
	Shutdown()

	// Handler returns a Gin handler function for exposing metrics
	Handler() gin.HandlerFunc
}

// Config holds configuration for metrics
type Config struct {
	ServiceName string

	// Time interval for in-memory metrics aggregation
	AggregationInterval time.Duration

	// Retention period for metrics
	RetentionPeriod time.Duration

	// ExposeSink determines which metrics sink to expose
	ExposeSink ExposeMetricSink

	// MetricsEndpoint is the HTTP path for metrics
	MetricsEndpoint string
}

func NewPrometheusConfig(serviceName string) *Config {
	config := DefaultConfig()
	config.ServiceName = serviceName
	config.ExposeSink = PrometheusSink
	return config
}

func NewInMemoryConfig(serviceName string) *Config {
	config := DefaultConfig()
	config.ServiceName = serviceName
	config.ExposeSink = InMemorySink
	return config
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		AggregationInterval: 5 * time.Second,
		RetentionPeriod:     10 * time.Minute,
		MetricsEndpoint:     ExposeMetricURL,
		ExposeSink:          InMemorySink,
	}
}

func newInMemSink(config *Config) *gometrics.InmemSink {
	return gometrics.NewInmemSink(
		config.AggregationInterval,
		config.RetentionPeriod,
	)
}

// NewMetricsCollector creates a new metrics collector based on the provided config
func NewMetricsCollector(config *Config) (ProxyMetricsCollector, error) {
	var initErr error
	collectorOnce.Do(func() {
		if config == nil {
			config = DefaultConfig()
		}
		metricsConf := gometrics.DefaultConfig(config.ServiceName)
		sink := &fanoutSink{sinks: make([]gometrics.MetricSink, 0)}
		var inm *gometrics.InmemSink
		var promSink *prometheus.PrometheusSink
		var err error
		switch config.ExposeSink {
		case InMemorySink:
			inm = newInMemSink(config)
			sink.sinks = append(sink.sinks, inm)
		case PrometheusSink:
			promSink, err = prometheus.NewPrometheusSink()
			if err != nil {
				initErr = err
				return
			}
			sink.sinks = append(sink.sinks, promSink)
		case AllMetricsSink:
			inm = newInMemSink(config)
			promSink, err = prometheus.NewPrometheusSink()
			if err != nil {
				initErr = err
				return
			}
			sink.sinks = append(sink.sinks, inm, promSink)
		}

		metricsImpl, err := gometrics.New(metricsConf, sink)
		if err != nil {
			initErr = err
			return
		}
		instance = &hashicorpMetricsCollector{
			metrics:         metricsImpl,
			inm:             inm,
			promSink:        promSink,
			exposeSink:      config.ExposeSink,
			metricsEndpoint: config.MetricsEndpoint,
			serviceName:     config.ServiceName,
			serviceLabel:    gometrics.Label{Name: "service", Value: config.ServiceName},
			classLabel:      "class",
			errorLabel:      "type",
			addrLabel:       "addr",
			labelPool:       newLabelPool(),
		}

		logger.Info("Metrics collector initialized",
			"serviceName", config.ServiceName,
			"sink", config.ExposeSink,
			"endpoint", config.MetricsEndpoint)
	})

	return instance, initErr
}

// hashicorpMetricsCollector implements ProxyMetricsCollector using hashicorp/go-metrics
type hashicorpMetricsCollector struct {
	metrics         *gometrics.Metrics
	inm             *gometrics.InmemSink
	promSink        *prometheus.PrometheusSink
	exposeSink      ExposeMetricSink
	metricsEndpoint string
	serviceName     string

	// Pre-created labels for better performance
	serviceLabel gometrics.Label
	classLabel   string
	errorLabel   string
	addrLabel    string

	// Object pool for label slices
	labelPool *labelPool
}

func (h *hashicorpMetricsCollector) RecordForwardingLatency(class string, duration time.Duration) {
	labels := h.labelPool.get()
	labels = append(labels, h.serviceLabel, gometrics.Label{Name: h.classLabel, Value: class})

	h.metrics.AddSampleWithLabels([]string{"query", "forwarding_latency"}, float32(duration.Microseconds()), labels)

	h.labelPool.put(labels)
}

func (h *hashicorpMetricsCollector) RecordOverallLatency(duration time.Duration) {
	labels := h.labelPool.get()
	labels = append(labels, h.serviceLabel)

	h.metrics.AddSampleWithLabels([]string{"overall", "end_to_end_latency"}, float32(duration.Microseconds()), labels)

	h.labelPool.put(labels)
}

func (h *hashicorpMetricsCollector) IncrementActiveSessions() {
	labels := h.labelPool.get()
	labels = append(labels, h.serviceLabel)

	h.metrics.IncrCounterWithLabels([]string{"sessions", "active"}, 1, labels)

	h.labelPool.put(labels)
}

func (h *hashicorpMetricsCollector) DecrementActiveSessions() {
	labels := h.labelPool.get()
	labels = append(labels, h.serviceLabel)

	h.metrics.IncrCounterWithLabels([]string{"sessions", "active"}, -1, labels)

	h.labelPool.put(labels)
}

func (h *hashicorpMetricsCollector) IncrementQueryCounter(class string) {
	labels := h.labelPool.get()
	labels = append(labels, h.serviceLabel, gometrics.Label{Name: h.classLabel, Value: class})

	h.metrics.IncrCounterWithLabels([]string{"query", "count"}, 1, labels)

	h.labelPool.put(labels)
}

func (h *hashicorpMetricsCollector) IncrementReplacementCounter(addr string) {
	labels := h.labelPool.get()
	labels = append(labels, h.serviceLabel, gometrics.Label{Name: h.addrLabel, Value: addr})

	h.metrics.IncrCounterWithLabels([]string{"janitor", "replacements"}, 1, labels)

	h.labelPool.put(labels)
}

func (h *hashicorpMetricsCollector) IncrementErrorCounter(errorType string) {
	labels := h.labelPool.get()
	labels = append(labels, h.serviceLabel, gometrics.Label{Name: h.errorLabel, Value: errorType})

	h.metrics.IncrCounterWithLabels([]string{"errors"}, 1, labels)

	h.labelPool.put(labels)
}

// CollectorHandler returns an HTTP handler for metrics based on the configured sink
func (h *hashicorpMetricsCollector) CollectorHandler() http.Handler {
	logger.Info("Creating metrics handler", "sink", h.exposeSink)
	switch h.exposeSink {
	case PrometheusSink, AllMetricsSink:
		return promHandler()
	case InMemorySink:
		return h.InMemoryHandler()
	default:
		return http.NotFoundHandler()
	}
}

// InMemoryHandler returns an HTTP handler for in-memory metrics
func (h *hashicorpMetricsCollector) InMemoryHandler() http.Handler {
	if h.inm == nil {
		logger.Error(nil, "In-memory sink is nil, cannot serve metrics")
		return http.NotFoundHandler()
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		data, err := h.inm.DisplayMetrics(w, r)
		if err != nil {
			logger.Error(err, "Failed to display metrics")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		// DisplayMetrics returns the summary without writing it; marshal it
		// to the response ourselves.
		if data != nil {
			jsonData, err := json.Marshal(data)
			if err != nil {
				logger.Error(err, "Failed to marshal metrics data to JSON")
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.Write(jsonData)
		} else {
			w.Write([]byte("{}"))
		}
	})
}

// fanoutSink implements a sink that forwards to multiple sinks
type fanoutSink struct {
	sinks []gometrics.MetricSink
}

func (f *fanoutSink) SetGauge(key []string, val float32) {
	for _, s := range f.sinks {
		s.SetGauge(key, val)
	}
}

func (f *fanoutSink) SetGaugeWithLabels(key []string, val float32, labels []gometrics.Label) {
	for _, s := range f.sinks {
		s.SetGaugeWithLabels(key, val, labels)
	}
}

func (f *fanoutSink) EmitKey(key []string, val float32) {
	for _, s := range f.sinks {
		s.EmitKey(key, val)
	}
}

func (f *fanoutSink) IncrCounter(key []string, val float32) {
	for _, s := range f.sinks {
		s.IncrCounter(key, val)
	}
}

func (f *fanoutSink) IncrCounterWithLabels(key []string, val float32, labels []gometrics.Label) {
	for _, s := range f.sinks {
		s.IncrCounterWithLabels(key, val, labels)
	}
}

func (f *fanoutSink) AddSample(key []string, val float32) {
	for _, s := range f.sinks {
		s.AddSample(key, val)
	}
}

func (f *fanoutSink) AddSampleWithLabels(key []string, val float32, labels []gometrics.Label) {
	for _, s := range f.sinks {
		s.AddSampleWithLabels(key, val, labels)
	}
}

// promHandler returns the Prometheus HTTP handler
func promHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The Prometheus sink registers with the default registry, which the
		// default mux serves.
		http.DefaultServeMux.ServeHTTP(w, r)
	})
}

// Shutdown stops the metrics collector
func (h *hashicorpMetricsCollector) Shutdown() {
}

// Handler returns a Gin handler function for exposing metrics
func (h *hashicorpMetricsCollector) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		handler := h.CollectorHandler()
		handler.ServeHTTP(c.Writer, c.Request)
	}
}

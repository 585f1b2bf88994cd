package web_service

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zekkrron/db-connection-pooler/pkg/backend"
	"github.com/zekkrron/db-connection-pooler/pkg/metrics"
)

// PoolEntry ties one pool to the endpoint and role it serves, for reporting.
type PoolEntry struct {
	Role string
	Addr string
	Pool backend.ConnPool
}

type poolStatus struct {
	Role     string `json:"role"`
	Addr     string `json:"addr"`
	Variant  string `json:"variant"`
	Size     int    `json:"size"`
	Capacity int    `json:"capacity"`
}

type janitorStatus struct {
	Addr     string `json:"addr"`
	Sweeps   uint64 `json:"sweeps"`
	Replaced uint64 `json:"replaced"`
}

var _ WebHandler = &PoolStatusHandler{}

// PoolStatusHandler reports live pool occupancy and janitor activity.
type PoolStatusHandler struct {
	entries  []PoolEntry
	janitors []*backend.Janitor
}

func NewPoolStatusHandler(entries []PoolEntry, janitors []*backend.Janitor) *PoolStatusHandler {
	return &PoolStatusHandler{
		entries:  entries,
		janitors: janitors,
	}
}

func (h *PoolStatusHandler) Path() string {
	return "/pools"
}

func (h *PoolStatusHandler) Method() HttpMethod {
	return GET
}

func (h *PoolStatusHandler) Handler(ctx *gin.Context) {
	pools := make([]poolStatus, 0, len(h.entries))
	for _, e := range h.entries {
		pools = append(pools, poolStatus{
			Role:     e.Role,
			Addr:     e.Addr,
			Variant:  e.Pool.Variant(),
			Size:     e.Pool.Size(),
			Capacity: e.Pool.Capacity(),
		})
	}
	janitors := make([]janitorStatus, 0, len(h.janitors))
	for _, j := range h.janitors {
		janitors = append(janitors, janitorStatus{
			Addr:     j.Factory().Addr(),
			Sweeps:   j.Sweeps(),
			Replaced: j.Replaced(),
		})
	}
	ctx.JSON(http.StatusOK, ApiResponse{
		Code:    http.StatusOK,
		Message: "ok",
		Data: gin.H{
			"pools":    pools,
			"janitors": janitors,
		},
	})
}

var _ WebHandler = &MetricsHandler{}

// MetricsHandler exposes the collector at the configured metrics path.
type MetricsHandler struct {
	path      string
	collector metrics.ProxyMetricsCollector
}

func NewMetricsHandler(path string, collector metrics.ProxyMetricsCollector) *MetricsHandler {
	if path == "" {
		path = metrics.ExposeMetricURL
	}
	return &MetricsHandler{
		path:      path,
		collector: collector,
	}
}

func (h *MetricsHandler) Path() string {
	return h.path
}

func (h *MetricsHandler) Method() HttpMethod {
	return GET
}

func (h *MetricsHandler) Handler(ctx *gin.Context) {
	h.collector.Handler()(ctx)
}

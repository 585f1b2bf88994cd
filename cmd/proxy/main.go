package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	cmux2 "github.com/soheilhy/cmux"
	"github.com/zekkrron/db-connection-pooler/pkg/backend"
	"github.com/zekkrron/db-connection-pooler/pkg/bufpool"
	"github.com/zekkrron/db-connection-pooler/pkg/common"
	"github.com/zekkrron/db-connection-pooler/pkg/metrics"
	"github.com/zekkrron/db-connection-pooler/pkg/proxy"
	"github.com/zekkrron/db-connection-pooler/pkg/web_service"
)

var (
	logger   = common.InitLogger().WithName("main")
	proxyCfg common.ProxyConfig
)

func main() {
	ctx := kong.Parse(&proxyCfg)
	if err := proxyCfg.Validate(); err != nil {
		ctx.FatalIfErrorf(err)
	}
	fmt.Print(proxy.Banner)
	logger.Info("DB proxy", "Config", proxyCfg)
	SetupAllServer()
}

// buildPools opens the master and replica pools, pre-filled to capacity.
func buildPools(variant string) (backend.ConnPool, []backend.ConnPool, []web_service.PoolEntry, []*backend.Janitor) {
	fillCtx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
	defer cancel()

	newPool := func(role, addr string) (backend.ConnPool, *backend.Janitor, web_service.PoolEntry) {
		pool, err := backend.NewConnPool(variant, proxyCfg.BeConnPool.Capacity)
		if err != nil {
			logger.Error(err, "Failed to build pool", "role", role)
			os.Exit(1)
		}
		factory := backend.NewFactory(addr)
		if fillErr := backend.FillPool(fillCtx, pool, factory); fillErr != nil {
			logger.Error(fillErr, "Failed to fill pool", "role", role, "addr", addr)
			os.Exit(1)
		}
		jan := backend.NewJanitor(pool, factory, proxyCfg.Janitor.Interval, proxyCfg.BeConnPool.MaxIdle)
		return pool, jan, web_service.PoolEntry{Role: role, Addr: addr, Pool: pool}
	}

	masterPool, masterJan, masterEntry := newPool("master", proxyCfg.MasterAddr())
	entries := []web_service.PoolEntry{masterEntry}
	janitors := []*backend.Janitor{masterJan}

	var replicas []backend.ConnPool
	for i, addr := range proxyCfg.ReplicaAddrs() {
		pool, jan, entry := newPool(fmt.Sprintf("replica-%d", i), addr)
		replicas = append(replicas, pool)
		entries = append(entries, entry)
		janitors = append(janitors, jan)
	}
	return masterPool, replicas, entries, janitors
}

func SetupAllServer() {
	variant, known := proxyCfg.PoolVariant()
	if !known {
		logger.Info("WARN: unknown pool type, falling back", "requested", proxyCfg.PoolType, "using", variant)
	}

	buffers, err := bufpool.NewBufferPool(proxyCfg.Buffers.Count, proxyCfg.Buffers.Size)
	if err != nil {
		logger.Error(err, "Failed to allocate buffer arena")
		os.Exit(1)
	}

	masterPool, replicas, poolEntries, janitors := buildPools(variant)
	balancer := backend.NewBalancer(proxyCfg.Replica.Balancer, len(replicas))
	router := backend.NewQueryRouter(masterPool, replicas, balancer)

	proxySrv := proxy.NewProxyServer(&proxyCfg, router, buffers)

	webHandlers := []web_service.WebHandler{
		web_service.NewPoolStatusHandler(poolEntries, janitors),
	}
	if proxyCfg.Metrics.EnableMetrics {
		collector, metricsErr := metrics.NewMetricsCollector(&metrics.Config{
			ServiceName:         "db-proxy",
			AggregationInterval: 5 * time.Second,
			RetentionPeriod:     10 * time.Minute,
			ExposeSink:          metrics.ExposeMetricSink(proxyCfg.Metrics.MetricsSinkType),
			MetricsEndpoint:     proxyCfg.Metrics.MetricsPath,
		})
		if metricsErr != nil {
			logger.Error(metricsErr, "Failed to initialize metrics collector")
			os.Exit(1)
		}
		middleware := metrics.NewProxyMetricsMiddleware(collector)
		proxySrv.SetMetricsMiddleware(middleware)
		for _, jan := range janitors {
			jan.SetOnReplace(middleware.TrackReplacement)
		}
		webHandlers = append(webHandlers, web_service.NewMetricsHandler(proxyCfg.Metrics.MetricsPath, collector))
	}
	httpSrv := web_service.NewWebServer(&proxyCfg, webHandlers...)

	for _, jan := range janitors {
		jan.Start()
	}

	srvListener := proxyCfg.ServiceListener()
	m := cmux2.New(srvListener)

	signChan := make(chan os.Signal, 1)
	signal.Notify(signChan, os.Interrupt, syscall.SIGQUIT, syscall.SIGTERM)
	errChan := make(chan error, 1)
	// start the tcp proxy
	go func() {
		if err := proxySrv.Start(); err != nil {
			errChan <- err
		}
	}()
	// start the admin http server
	go func() {
		if err := httpSrv.Start(m); err != nil {
			errChan <- err
		}
	}()

	go func() {
		logger.Info("Starting cmux server...", "ServiceAddr", srvListener.Addr())
		if err := m.Serve(); err != nil {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		logger.Error(err, "An error occurred when the proxy started.")
		os.Exit(1)
	case sig := <-signChan:
		logger.Info("Received signal, shutting down...", "Sigs", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		proxySrv.Shutdown(ctx)
		for _, jan := range janitors {
			jan.Stop(ctx)
		}
		for _, p := range router.AllPools() {
			p.Close()
		}
		httpSrv.Shutdown(ctx)
		if closeErr := buffers.Close(); closeErr != nil {
			logger.Error(closeErr, "Failed to release buffer arena")
		}
		logger.Info("Proxy shutdown complete")
	}
}

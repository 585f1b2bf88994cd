package common

import (
	"fmt"
	"net"
	"runtime"
	"strings"
	"time"

	"github.com/panjf2000/gnet/v2"
)

const (
	PoolTypeCas  = "cas"
	PoolTypeRing = "ring"
)

type WebServerConfig struct {
	EnablePprof bool `help:"Enable pprof for the web server" name:"pprof" default:"true"`
}

type BackendPoolConfig struct {
	Capacity int           `help:"Number of pooled connections per backend" default:"128"`
	MaxIdle  time.Duration `help:"Age after which an idle backend connection is recycled" name:"max-idle" default:"300s"`
}

type BufferPoolConfig struct {
	Count int `help:"Number of pre-allocated read buffers" default:"16384"`
	Size  int `help:"Capacity of each read buffer in bytes" default:"8192"`
}

type JanitorConfig struct {
	Interval time.Duration `help:"Delay between janitor sweeps" default:"30s"`
}

type ReplicaConfig struct {
	Addrs    []string `help:"Replica endpoints (host:port). Defaults to the master endpoint." name:"addr"`
	Balancer string   `help:"Replica selection strategy (random, round-robin, consistent)" default:"random"`
}

type MetricsConfig struct {
	EnableMetrics   bool   `help:"Enable metrics collection" name:"enable" default:"false"`
	MetricsPath     string `help:"Metrics path" name:"path" default:"/metrics"`
	MetricsSinkType string `help:"Metrics sink type: prometheus, in-memory or all." name:"sink" default:"prometheus"`
}

type ProxyConfig struct {
	ListenPort  int    `arg:"" optional:"" help:"Port the proxy listens on" default:"3307"`
	PoolType    string `arg:"" optional:"" help:"Connection pool variant (cas, ring)" default:"cas"`
	BackendHost string `arg:"" optional:"" help:"Master backend host" default:"127.0.0.1"`
	BackendPort int    `arg:"" optional:"" help:"Master backend port" default:"5432"`

	ServicePort int  `help:"Port for the admin web server" name:"service-port" default:"7080"`
	MultiCore   bool `help:"Enable multi-core support" default:"true"`
	Workers     int  `help:"Number of event loops. 0 means one per CPU." default:"0"`

	BeConnPool BackendPoolConfig `embed:"" prefix:"backend-pool."`
	Buffers    BufferPoolConfig  `embed:"" prefix:"buffer-pool."`
	Janitor    JanitorConfig     `embed:"" prefix:"janitor."`
	Replica    ReplicaConfig     `embed:"" prefix:"replica."`
	WebServer  WebServerConfig   `embed:"" prefix:"web-server."`
	Metrics    MetricsConfig     `embed:"" prefix:"metrics."`
}

func (c *ProxyConfig) MasterAddr() string {
	return net.JoinHostPort(c.BackendHost, fmt.Sprintf("%d", c.BackendPort))
}

// ReplicaAddrs returns the configured replica endpoints, falling back to the
// master endpoint when none were given.
func (c *ProxyConfig) ReplicaAddrs() []string {
	if len(c.Replica.Addrs) == 0 {
		return []string{c.MasterAddr()}
	}
	return c.Replica.Addrs
}

// PoolVariant normalizes the pool_type argument. The second return value is
// false when the requested variant was unknown and "cas" was substituted.
func (c *ProxyConfig) PoolVariant() (string, bool) {
	switch strings.ToLower(c.PoolType) {
	case PoolTypeCas:
		return PoolTypeCas, true
	case PoolTypeRing:
		return PoolTypeRing, true
	default:
		return PoolTypeCas, false
	}
}

func (c *ProxyConfig) WorkerCount() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.NumCPU()
}

func (c *ProxyConfig) ServiceListener() net.Listener {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", c.ServicePort))
	if err != nil {
		panic(err)
	}
	return lis
}

func (c *ProxyConfig) Validate() error {
	if c.ListenPort <= 0 {
		return fmt.Errorf("invalid port number: %d", c.ListenPort)
	}
	if c.BackendPort <= 0 {
		return fmt.Errorf("invalid backend port number: %d", c.BackendPort)
	}
	if c.BeConnPool.Capacity <= 0 {
		return fmt.Errorf("invalid backend pool capacity: %d", c.BeConnPool.Capacity)
	}
	if c.Buffers.Count <= 0 || c.Buffers.Size <= 0 {
		return fmt.Errorf("invalid buffer pool sizing: %d x %d", c.Buffers.Count, c.Buffers.Size)
	}
	switch strings.ToLower(c.Replica.Balancer) {
	case "random", "round-robin", "consistent":
	default:
		return fmt.Errorf("invalid replica balancer: %s", c.Replica.Balancer)
	}
	return nil
}

func (c *ProxyConfig) GNetOptions() []gnet.Option {
	ops := []gnet.Option{
		gnet.WithLoadBalancing(gnet.RoundRobin),
	}
	if c.MultiCore {
		ops = append(ops, gnet.WithMulticore(true))
	}
	if wc := c.WorkerCount(); wc > 0 {
		ops = append(ops, gnet.WithNumEventLoop(wc))
	}
	return ops
}

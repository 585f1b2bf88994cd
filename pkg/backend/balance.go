package backend

import (
	"math/rand"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/buraksezer/consistent"
	"github.com/cespare/xxhash/v2"
)

type BalancerType int

const (
	BalanceTypeRoundRobin BalancerType = 1 << 4
	BalanceTypeConsistent BalancerType = 1 << 5
	BalanceTypeRandom     BalancerType = 1 << 6
)

// Balancer picks one of n replica pools for a request. The key is the client
// address; only the consistent balancer looks at it.
type Balancer interface {
	Next(key []byte, n int) int
}

var _ Balancer = &RandomBalancer{}

type RandomBalancer struct {
	random *rand.Rand
}

func (r *RandomBalancer) Next(_ []byte, n int) int {
	return r.random.Intn(n)
}

func NewRandomBalancer() *RandomBalancer {
	return &RandomBalancer{
		random: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

var _ Balancer = &RoundRobinBalancer{}

type RoundRobinBalancer struct {
	next atomic.Uint64
}

func (r *RoundRobinBalancer) Next(_ []byte, n int) int {
	return int((r.next.Add(1) - 1) % uint64(n))
}

type replicaMember struct {
	key string
	idx int
}

func (m replicaMember) String() string {
	return m.key
}

type memberHash struct{}

func (h memberHash) Sum64(key []byte) uint64 {
	return xxhash.Sum64(key)
}

var consistentCfg = consistent.Config{
	PartitionCount: 256,
	Load:           1.25,
	Hasher:         memberHash{},
}

var _ Balancer = &ConsistentBalancer{}

// ConsistentBalancer pins a client to one replica across its requests by
// hashing the client address onto a ring of replica members.
type ConsistentBalancer struct {
	cHasher *consistent.Consistent
}

func NewConsistentBalancer(n int) *ConsistentBalancer {
	members := make([]consistent.Member, 0, n)
	for i := 0; i < n; i++ {
		members = append(members, replicaMember{key: "replica-" + strconv.Itoa(i), idx: i})
	}
	return &ConsistentBalancer{
		cHasher: consistent.New(members, consistentCfg),
	}
}

func (c *ConsistentBalancer) Next(key []byte, n int) int {
	member := c.cHasher.LocateKey(key)
	rm, ok := member.(replicaMember)
	if !ok || rm.idx >= n {
		return 0
	}
	return rm.idx
}

func NewBalancer(name string, replicaCount int) Balancer {
	switch strings.ToLower(name) {
	case "round-robin":
		return &RoundRobinBalancer{}
	case "consistent":
		return NewConsistentBalancer(replicaCount)
	default:
		return NewRandomBalancer()
	}
}

package backend

import (
	"github.com/zekkrron/db-connection-pooler/pkg/sqlverb"
)

// QueryRouter maps a statement class to a pool: reads go to a
// balancer-selected replica, writes to the master. An unknown leading
// keyword also goes to the master, the safe choice for anything that might
// mutate.
type QueryRouter struct {
	master   ConnPool
	replicas []ConnPool
	balancer Balancer
}

func NewQueryRouter(master ConnPool, replicas []ConnPool, balancer Balancer) *QueryRouter {
	if len(replicas) == 0 {
		replicas = []ConnPool{master}
	}
	return &QueryRouter{
		master:   master,
		replicas: replicas,
		balancer: balancer,
	}
}

// Pick returns the pool the request should borrow from. The key is the
// client address, used only for replica affinity. The caller releases the
// borrowed connection back to the same pool.
func (r *QueryRouter) Pick(class sqlverb.Class, key []byte) ConnPool {
	if class == sqlverb.ClassRead {
		return r.replicas[r.balancer.Next(key, len(r.replicas))]
	}
	return r.master
}

func (r *QueryRouter) Master() ConnPool {
	return r.master
}

func (r *QueryRouter) Replicas() []ConnPool {
	return r.replicas
}

// AllPools returns every distinct pool the router can hand out.
func (r *QueryRouter) AllPools() []ConnPool {
	pools := []ConnPool{r.master}
	for _, rp := range r.replicas {
		if rp != r.master {
			pools = append(pools, rp)
		}
	}
	return pools
}

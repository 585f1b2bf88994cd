package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zekkrron/db-connection-pooler/pkg/sqlverb"
)

func newTestRouter(t *testing.T) (*QueryRouter, ConnPool, ConnPool) {
	t.Helper()
	master := NewScanCasPool(4)
	replica := NewScanCasPool(4)
	fillTestPool(t, master, 4)
	fillTestPool(t, replica, 4)
	router := NewQueryRouter(master, []ConnPool{replica}, NewRandomBalancer())
	return router, master, replica
}

func TestRouterSelectGoesToReplica(t *testing.T) {
	router, _, replica := newTestRouter(t)

	class := sqlverb.Classify([]byte("   SELECT 1;"))
	require.Equal(t, sqlverb.ClassRead, class)

	pool := router.Pick(class, []byte("client-1"))
	assert.Same(t, replica, pool)

	c := pool.Acquire()
	require.NotNil(t, c)
	assert.Equal(t, 3, pool.Size())
	pool.Release(c)
	assert.Equal(t, 4, pool.Size())
}

func TestRouterInsertGoesToMaster(t *testing.T) {
	router, master, _ := newTestRouter(t)

	class := sqlverb.Classify([]byte("INSERT INTO t VALUES(1)"))
	require.Equal(t, sqlverb.ClassWrite, class)
	assert.Same(t, master, router.Pick(class, []byte("client-1")))
}

func TestRouterWritesDrainMaster(t *testing.T) {
	router, master, _ := newTestRouter(t)

	update := sqlverb.Classify([]byte("UPDATE t SET a = 1"))
	del := sqlverb.Classify([]byte("DELETE FROM t"))
	require.Equal(t, sqlverb.ClassWrite, update)
	require.Equal(t, sqlverb.ClassWrite, del)

	c1 := router.Pick(update, nil).Acquire()
	c2 := router.Pick(del, nil).Acquire()
	require.NotNil(t, c1)
	require.NotNil(t, c2)
	assert.Equal(t, 2, master.Size())
}

func TestRouterUnknownDefaultsToMaster(t *testing.T) {
	router, master, _ := newTestRouter(t)

	class := sqlverb.Classify([]byte("BEGIN;"))
	require.Equal(t, sqlverb.ClassUnknown, class)
	assert.Same(t, master, router.Pick(class, []byte("client-1")))
}

func TestRouterFallsBackToMasterWithoutReplicas(t *testing.T) {
	master := NewScanCasPool(2)
	router := NewQueryRouter(master, nil, NewRandomBalancer())
	assert.Same(t, ConnPool(master), router.Pick(sqlverb.ClassRead, nil))
	assert.Len(t, router.AllPools(), 1)
}

func TestRouterAllPools(t *testing.T) {
	router, master, replica := newTestRouter(t)
	pools := router.AllPools()
	assert.Len(t, pools, 2)
	assert.Contains(t, pools, ConnPool(master))
	assert.Contains(t, pools, ConnPool(replica))
}

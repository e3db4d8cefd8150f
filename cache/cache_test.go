package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dianpeng/xtab/query"
	"github.com/dianpeng/xtab/table"
)

func result(v string) *table.Memory {
	return table.NewMemory(table.Schema{{Name: "v"}}, []table.Row{{v}})
}

func TestKey(t *testing.T) {
	assert := assert.New(t)
	a := Key{Query: "q", Mode: query.ModeLive, Vars: map[string]interface{}{"x": 1, "y": "z"}}
	b := Key{Query: "q", Mode: query.ModeLive, Vars: map[string]interface{}{"y": "z", "x": int64(1)}}
	assert.Equal(a.Hash(), b.Hash())

	c := a
	c.Mode = query.ModeRuntime
	assert.NotEqual(a.Hash(), c.Hash())

	d := Key{Query: "q", Mode: query.ModeLive, Vars: map[string]interface{}{"x": 2, "y": "z"}}
	assert.NotEqual(a.Hash(), d.Hash())
}

func TestGetOrExecuteOnce(t *testing.T) {
	assert := assert.New(t)
	c := New(0)
	key := Key{Query: "q"}

	var runs int32
	start := make(chan struct{})
	wg := sync.WaitGroup{}
	out := make([]*table.Memory, 8)
	for i := range out {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			m, err := c.GetOrExecute(context.Background(), key, func(context.Context) (*table.Memory, error) {
				atomic.AddInt32(&runs, 1)
				time.Sleep(10 * time.Millisecond)
				return result("a"), nil
			})
			assert.NoError(err)
			out[i] = m
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(int32(1), runs)
	for _, m := range out {
		assert.Same(out[0], m)
	}
	assert.False(c.Executing(key))
	assert.Equal(float64(1), testutil.ToFloat64(c.metrics.misses))
	assert.Equal(float64(7), testutil.ToFloat64(c.metrics.hits))
}

func TestAbandon(t *testing.T) {
	assert := assert.New(t)
	c := New(0)
	key := Key{Query: "q"}
	boom := errors.New("boom")

	_, err := c.GetOrExecute(context.Background(), key, func(context.Context) (*table.Memory, error) {
		return nil, boom
	})
	assert.Equal(boom, err)
	assert.False(c.Executing(key))
	_, ok := c.Lookup(key)
	assert.False(ok)

	m, err := c.GetOrExecute(context.Background(), key, func(context.Context) (*table.Memory, error) {
		return result("b"), nil
	})
	assert.NoError(err)
	assert.Equal("b", m.Rows()[0][0])
}

func TestWaiterCancel(t *testing.T) {
	assert := assert.New(t)
	c := New(0)
	key := Key{Query: "q"}

	tok, mem, err := c.MarkExecuting(context.Background(), key)
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.Nil(mem)
	assert.True(c.Executing(key))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, _, err = c.MarkExecuting(ctx, key)
	assert.True(query.IsCancelled(err))
	// the executor still owns the key
	assert.True(c.Executing(key))

	// a waiter released by an abandon becomes the next executor
	got := make(chan *Token)
	go func() {
		tok, _, _ := c.MarkExecuting(context.Background(), key)
		got <- tok
	}()
	time.Sleep(5 * time.Millisecond)
	c.Abandon(tok)
	next := <-got
	require.NotNil(t, next)
	c.Publish(next, result("c"))
	assert.False(c.Executing(key))

	// abandoning a released token is harmless
	c.Abandon(tok)
	m, ok := c.Lookup(key)
	assert.True(ok)
	assert.Equal("c", m.Rows()[0][0])
}

func TestEviction(t *testing.T) {
	assert := assert.New(t)
	c := New(2)
	ctx := context.Background()

	put := func(q string) {
		_, err := c.GetOrExecute(ctx, Key{Query: q}, func(context.Context) (*table.Memory, error) {
			return result(q), nil
		})
		assert.NoError(err)
	}
	put("a")
	put("b")
	_, ok := c.Lookup(Key{Query: "a"})
	assert.True(ok)
	put("c")

	assert.Equal(2, c.Len())
	_, ok = c.Lookup(Key{Query: "b"})
	assert.False(ok)
	_, ok = c.Lookup(Key{Query: "a"})
	assert.True(ok)
	_, ok = c.Lookup(Key{Query: "c"})
	assert.True(ok)
	assert.Len(c.PrometheusCollectors(), 2)
}

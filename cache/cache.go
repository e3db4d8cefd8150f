// Package cache keeps executed results by query identity, mode and variables.
//
// At most one execution of a key is in flight. The first caller of
// MarkExecuting gets a Token and must either Publish or Abandon it, every
// other caller of the same key blocks until then and either reads the
// published result or, after an abandon, competes to become the next
// executor. A waiter whose context is cancelled stops waiting without
// touching the key.
package cache

import (
	"container/list"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/dianpeng/xtab/query"
	"github.com/dianpeng/xtab/table"
	"github.com/prometheus/client_golang/prometheus"
)

const DefaultMaxEntries = 256

type Key struct {
	Query string // identity of the query
	Mode  int
	Vars  map[string]interface{}
}

// Hash folds the key, variables are hashed in name order
func (self Key) Hash() uint64 {
	names := make([]string, 0, len(self.Vars))
	for n := range self.Vars {
		names = append(names, n)
	}
	sort.Strings(names)

	b := &strings.Builder{}
	fmt.Fprintf(b, "%s\x00%d", self.Query, self.Mode)
	for _, n := range names {
		fmt.Fprintf(b, "\x00%s=%s", n, table.Key(table.Normalize(self.Vars[n])))
	}
	return xxhash.Sum64String(b.String())
}

// Token is held by the single executor of a key
type Token struct {
	key    uint64
	flight *flight
}

type flight struct {
	done chan struct{}
}

type entry struct {
	key uint64
	mem *table.Memory
}

type Cache struct {
	sync.Mutex
	max      int
	lru      *list.List
	entries  map[uint64]*list.Element
	inflight map[uint64]*flight
	metrics  *cacheMetrics
}

func New(max int) *Cache {
	if max <= 0 {
		max = DefaultMaxEntries
	}
	return &Cache{
		max:      max,
		lru:      list.New(),
		entries:  map[uint64]*list.Element{},
		inflight: map[uint64]*flight{},
		metrics:  newCacheMetrics(),
	}
}

func (self *Cache) lookup(h uint64) (*table.Memory, bool) {
	e, ok := self.entries[h]
	if !ok {
		return nil, false
	}
	self.lru.MoveToFront(e)
	return e.Value.(*entry).mem, true
}

// Lookup returns the published result of the key
func (self *Cache) Lookup(key Key) (*table.Memory, bool) {
	self.Lock()
	defer self.Unlock()
	mem, ok := self.lookup(key.Hash())
	if ok {
		self.metrics.hits.Inc()
	}
	return mem, ok
}

// MarkExecuting either returns the published result of the key, or a Token
// making the caller its executor. It blocks while another execution of the
// key is in flight.
func (self *Cache) MarkExecuting(ctx context.Context, key Key) (*Token, *table.Memory, error) {
	h := key.Hash()
	for {
		self.Lock()
		if mem, ok := self.lookup(h); ok {
			self.Unlock()
			self.metrics.hits.Inc()
			return nil, mem, nil
		}
		f, busy := self.inflight[h]
		if !busy {
			f = &flight{done: make(chan struct{})}
			self.inflight[h] = f
			self.Unlock()
			self.metrics.misses.Inc()
			return &Token{key: h, flight: f}, nil, nil
		}
		self.Unlock()

		select {
		case <-ctx.Done():
			return nil, nil, query.Cancelled(ctx.Err())
		case <-f.done:
		}
	}
}

func (self *Cache) release(t *Token) {
	if f, ok := self.inflight[t.key]; ok && f == t.flight {
		delete(self.inflight, t.key)
		close(f.done)
	}
}

// Publish stores the result and wakes up the waiters
func (self *Cache) Publish(t *Token, mem *table.Memory) {
	self.Lock()
	defer self.Unlock()

	if e, ok := self.entries[t.key]; ok {
		e.Value.(*entry).mem = mem
		self.lru.MoveToFront(e)
	} else {
		self.entries[t.key] = self.lru.PushFront(&entry{key: t.key, mem: mem})
	}
	for self.lru.Len() > self.max {
		oldest := self.lru.Back()
		self.lru.Remove(oldest)
		delete(self.entries, oldest.Value.(*entry).key)
	}
	self.release(t)
}

// Abandon gives up the execution, the key is left unmarked
func (self *Cache) Abandon(t *Token) {
	self.Lock()
	defer self.Unlock()
	self.release(t)
}

// GetOrExecute returns the cached result of the key or runs fn once for it.
// Failed and cancelled executions are not cached.
func (self *Cache) GetOrExecute(ctx context.Context, key Key, fn func(context.Context) (*table.Memory, error)) (*table.Memory, error) {
	t, mem, err := self.MarkExecuting(ctx, key)
	if err != nil {
		return nil, err
	}
	if mem != nil {
		return mem, nil
	}
	mem, err = fn(ctx)
	if err != nil {
		self.Abandon(t)
		return nil, err
	}
	self.Publish(t, mem)
	return mem, nil
}

// Executing tells whether an execution of the key is in flight
func (self *Cache) Executing(key Key) bool {
	self.Lock()
	defer self.Unlock()
	_, ok := self.inflight[key.Hash()]
	return ok
}

func (self *Cache) Len() int {
	self.Lock()
	defer self.Unlock()
	return self.lru.Len()
}

/* ----------------------------------------------------------------------------
 * Metrics
 * ---------------------------------------------------------------------------*/

type cacheMetrics struct {
	hits   prometheus.Counter
	misses prometheus.Counter
}

func newCacheMetrics() *cacheMetrics {
	const (
		namespace = "xtab"
		subsystem = "cache"
	)
	return &cacheMetrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "hits_total",
			Help:      "Number of queries answered from the cache",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "misses_total",
			Help:      "Number of queries executed because the cache had no result",
		}),
	}
}

func (self *Cache) PrometheusCollectors() []prometheus.Collector {
	return []prometheus.Collector{self.metrics.hits, self.metrics.misses}
}

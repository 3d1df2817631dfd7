package graph

import (
	"container/list"
	"sync"
)

// Observer receives cache hit/miss notifications for the performance
// monitor. The graph package stays free of a hard dependency on the
// metrics package by depending only on this narrow interface.
type Observer interface {
	RecordCacheHit()
	RecordCacheMiss()
}

type noopObserver struct{}

func (noopObserver) RecordCacheHit()  {}
func (noopObserver) RecordCacheMiss() {}

type entry struct {
	key   string
	graph *Graph
}

// Compiler wraps Compile with a process-local, bounded, LRU-evicted
// cache keyed by the sequence/type/hitl content hash. Equal sequences
// with different graph types produce distinct entries because the hash
// folds in Type and EnableHITL.
type Compiler struct {
	mu       sync.Mutex
	maxEntries int
	ll       *list.List // front = most recently used
	index    map[string]*list.Element
	observer Observer
	catalog  AgentCatalog
}

// NewCompiler creates a Compiler bounded to maxEntries cache entries
// (GRAPH_CACHE_MAX_ENTRIES, default 128).
func NewCompiler(catalog AgentCatalog, maxEntries int, observer Observer) *Compiler {
	if maxEntries <= 0 {
		maxEntries = 128
	}
	if observer == nil {
		observer = noopObserver{}
	}
	return &Compiler{
		maxEntries: maxEntries,
		ll:         list.New(),
		index:      make(map[string]*list.Element),
		observer:   observer,
		catalog:    catalog,
	}
}

// Compile returns the memoized Graph for opts, compiling and caching it
// on first use. Calling Compile twice with equal opts returns the same
// graph identity.
func (c *Compiler) Compile(opts Options) (*Graph, error) {
	key := contentHash(opts.Sequence, opts.Type, opts.EnableHITL)

	c.mu.Lock()
	if el, ok := c.index[key]; ok {
		c.ll.MoveToFront(el)
		g := el.Value.(*entry).graph
		c.mu.Unlock()
		c.observer.RecordCacheHit()
		return g, nil
	}
	c.mu.Unlock()

	c.observer.RecordCacheMiss()

	g, err := Compile(opts, c.catalog)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another goroutine may have raced us to compile the same key;
	// prefer the already-cached graph to preserve identity.
	if el, ok := c.index[key]; ok {
		c.ll.MoveToFront(el)
		return el.Value.(*entry).graph, nil
	}

	el := c.ll.PushFront(&entry{key: key, graph: g})
	c.index[key] = el

	if c.ll.Len() > c.maxEntries {
		oldest := c.ll.Back()
		if oldest != nil {
			c.ll.Remove(oldest)
			delete(c.index, oldest.Value.(*entry).key)
		}
	}

	return g, nil
}

// Len reports the current number of cached graphs, for tests.
func (c *Compiler) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Reset clears the cache. Exposed for tests.
func (c *Compiler) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll = list.New()
	c.index = make(map[string]*list.Element)
}

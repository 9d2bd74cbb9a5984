// Package cache is the tree's page cache: a bounded LRU of clean
// (checkpointed, unmodified) nodes backed by ristretto, plus a separate,
// unbounded set of dirty nodes that are pinned in memory until the next
// checkpoint drains them. Grounded on the teacher's bplustree/buffer_pool.go
// (Get/Put/Pin/Unpin/MarkDirty/Flush shape, read-through to the pager on a
// miss), with the teacher's hand-rolled access-order slice replaced by
// github.com/dgraph-io/ristretto/v2 for the clean half, per SPEC_FULL.md
// §2.1 and §4.3. The dirty half cannot be handed to ristretto: ristretto's
// eviction is cost-based and advisory, and a dirty node must never be
// evicted before its bytes are durable, so it is kept in a plain map
// guarded by the same mutex instead.
package cache

import (
	"sync"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/pkg/errors"

	"bptree/page"
)

// Loader reads a page's on-disk image given its id, for a read-through miss.
type Loader func(id uint64) ([]byte, error)

// Cache is the page cache for one open tree.
type Cache struct {
	layout page.Layout
	load   Loader

	clean *ristretto.Cache[uint64, *page.Node]

	mu     sync.Mutex
	dirty  map[uint64]*page.Node
	pinned map[uint64]int
}

// Options configures the clean-node half of the cache.
type Options struct {
	// MaxCleanNodes bounds the number of unmodified nodes ristretto will
	// keep resident; each node counts as cost 1.
	MaxCleanNodes int64
}

// DefaultOptions mirrors the teacher's default buffer pool capacity.
func DefaultOptions() Options {
	return Options{MaxCleanNodes: 1024}
}

// New builds a Cache over the given page layout, with load used to read a
// page's bytes from the file manager on a cache miss.
func New(layout page.Layout, load Loader, opts Options) (*Cache, error) {
	if opts.MaxCleanNodes <= 0 {
		opts = DefaultOptions()
	}

	clean, err := ristretto.NewCache(&ristretto.Config[uint64, *page.Node]{
		NumCounters: opts.MaxCleanNodes * 10,
		MaxCost:     opts.MaxCleanNodes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, errors.Wrap(err, "cache: construct ristretto cache")
	}

	return &Cache{
		layout: layout,
		load:   load,
		clean:  clean,
		dirty:  make(map[uint64]*page.Node),
		pinned: make(map[uint64]int),
	}, nil
}

// Get returns the node for id, preferring a pinned dirty copy, then the
// clean LRU, then falling through to Loader and Decode on a miss.
func (c *Cache) Get(id uint64) (*page.Node, error) {
	c.mu.Lock()
	if n, ok := c.dirty[id]; ok {
		c.mu.Unlock()
		return n, nil
	}
	c.mu.Unlock()

	if n, ok := c.clean.Get(id); ok {
		return n, nil
	}

	buf, err := c.load(id)
	if err != nil {
		return nil, errors.Wrapf(err, "cache: load page %d", id)
	}
	n, err := page.Decode(buf, id, c.layout)
	if err != nil {
		return nil, err
	}

	c.clean.Set(id, n, 1)
	return n, nil
}

// Put inserts a freshly created or read node into the clean half of the
// cache. Callers that mutate a node immediately after creating it should
// call MarkDirty instead.
func (c *Cache) Put(n *page.Node) {
	c.clean.Set(n.ID, n, 1)
}

// MarkDirty moves n into the pinned dirty set, where it stays resident
// (immune to ristretto eviction) until the next Checkpoint clears it via
// ClearDirty.
func (c *Cache) MarkDirty(n *page.Node) {
	n.Dirty = true
	c.mu.Lock()
	c.dirty[n.ID] = n
	c.mu.Unlock()
	c.clean.Del(n.ID)
}

// DirtyNodes returns a snapshot of every currently pinned dirty node, for
// the tree to encode and stage into the WAL at commit time.
func (c *Cache) DirtyNodes() []*page.Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*page.Node, 0, len(c.dirty))
	for _, n := range c.dirty {
		out = append(out, n)
	}
	return out
}

// ClearDirty unpins every currently dirty node and demotes it into the
// clean LRU, called once the tree has durably checkpointed their bytes.
func (c *Cache) ClearDirty() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, n := range c.dirty {
		n.Dirty = false
		c.clean.Set(id, n, 1)
	}
	c.dirty = make(map[uint64]*page.Node)
}

// Invalidate drops id from both halves of the cache, used when a page is
// deallocated back to the freelist and its in-memory image is now stale.
func (c *Cache) Invalidate(id uint64) {
	c.mu.Lock()
	delete(c.dirty, id)
	c.mu.Unlock()
	c.clean.Del(id)
}

// DirtyCount reports how many nodes are currently pinned dirty, used by
// Tree.Stats().
func (c *Cache) DirtyCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.dirty)
}

// Pin increments id's reference count, a hint that the tree engine is
// holding this node across a multi-step operation (a split walking back up
// through a node it already fetched earlier in the same call). Pinning
// does not move a node between the clean and dirty halves; it only
// prevents the accounting in Unpin from going negative.
func (c *Cache) Pin(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pinned[id]++
}

// Unpin decrements id's reference count.
func (c *Cache) Unpin(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pinned[id] > 0 {
		c.pinned[id]--
		if c.pinned[id] == 0 {
			delete(c.pinned, id)
		}
	}
}

// Close releases ristretto's background goroutines.
func (c *Cache) Close() {
	c.clean.Close()
}

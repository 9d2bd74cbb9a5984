package bptree

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// Stats is a point-in-time snapshot of a tree's resource usage, used by
// logging and by the bptinspect CLI.
type Stats struct {
	Root         uint64
	PageCount    uint64
	FreelistSize uint64
	DirtyNodes   int
	WalBytes     int64
	PageSize     uint32
	Order        uint32
}

// String renders Stats with human-readable byte counts, via the same
// go-humanize dependency the teacher's stack carries as an indirect.
func (s Stats) String() string {
	return fmt.Sprintf(
		"root=%d pages=%d (%s) freelist=%d dirty=%d wal=%s page_size=%d order=%d",
		s.Root, s.PageCount, humanize.Bytes(uint64(s.PageCount)*uint64(s.PageSize)),
		s.FreelistSize, s.DirtyNodes, humanize.Bytes(uint64(s.WalBytes)), s.PageSize, s.Order)
}

// Stats returns a snapshot of the tree's current resource usage.
func (t *Tree) Stats() (Stats, error) {
	if err := t.poisoned(); err != nil {
		return Stats{}, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	return Stats{
		Root:         t.root,
		PageCount:    t.fm.PageCount(),
		FreelistSize: t.fl.Count(),
		DirtyNodes:   t.cache.DirtyCount(),
		WalBytes:     t.fm.WalSize(),
		PageSize:     t.layout.PageSize,
		Order:        t.layout.Order,
	}, nil
}

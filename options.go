package bptree

import (
	"bytes"

	"go.uber.org/zap"
)

// Options configures Open. Unset fields take the defaults documented below,
// following the teacher's disk_pager.go/checkpoint_manager convention of a
// single struct validated once at open.
type Options struct {
	// PageSize is the fixed frame size for every page in the file,
	// including the metadata page. Default 4096.
	PageSize uint32

	// Order bounds internal fan-out and leaf capacity, per SPEC_FULL.md §3.2.
	// Default 128.
	Order uint32

	// KeySize is the fixed width of every key. There is no default: it
	// must be set on first create and must match the persisted value on
	// reopen.
	KeySize uint32

	// ValueSize is the fixed inline value slot width; values longer than
	// this are chained through overflow pages. Must be at least
	// page.MinValueSlot. No default: must be set on first create.
	ValueSize uint32

	// CacheSize bounds the number of clean (checkpointed) nodes the page
	// cache keeps resident. Default 1024.
	CacheSize int64

	// Comparator orders keys. Default bytes.Compare, matching the
	// teacher's BPlusTree.cmp field.
	Comparator func(a, b []byte) int

	// Logger receives structured log events for open/close/checkpoint
	// boundaries, WAL recovery, and poisoning faults. Default a production
	// zap.Logger.
	Logger *zap.Logger

	// CheckpointThreshold is the WAL size in bytes at which Insert/
	// BatchInsert trigger an automatic Checkpoint after committing.
	// Default 16 MiB (used when the field is zero). A negative value
	// disables automatic checkpointing.
	CheckpointThreshold int64
}

func (o Options) withDefaults() Options {
	if o.PageSize == 0 {
		o.PageSize = 4096
	}
	if o.Order == 0 {
		o.Order = 128
	}
	if o.CacheSize == 0 {
		o.CacheSize = 1024
	}
	if o.Comparator == nil {
		o.Comparator = bytes.Compare
	}
	if o.Logger == nil {
		o.Logger, _ = zap.NewProduction()
	}
	if o.CheckpointThreshold == 0 {
		o.CheckpointThreshold = 16 << 20
	}
	return o
}

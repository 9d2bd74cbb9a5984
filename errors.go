package bptree

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Sentinel errors returned by Tree methods. Wrap with github.com/pkg/errors
// at call sites that add context; match with the standard library's
// errors.Is, which pkg/errors preserves compatibility with via Unwrap.
var (
	// ErrNotFound is returned by Get when the key is absent.
	ErrNotFound = errors.New("bptree: key not found")

	// ErrClosed is returned by any method called after Close.
	ErrClosed = errors.New("bptree: tree is closed")

	// ErrCorruptPage is returned (wrapping a *page.ErrCorruptPage) when a
	// decoded page's declared kind or entry count is inconsistent with the
	// tree's layout. Fatal: it poisons the instance.
	ErrCorruptPage = errors.New("bptree: corrupt page")

	// ErrCorruptWal is returned when WAL recovery finds non-tail corruption:
	// a well-formed transaction following a torn one. Fatal.
	ErrCorruptWal = errors.New("bptree: corrupt wal")

	// ErrIO wraps an underlying filesystem error. Fatal.
	ErrIO = errors.New("bptree: io error")

	// ErrInvalidArgument is returned for out-of-range Options or for a
	// value_size too small to hold an overflow pointer.
	ErrInvalidArgument = errors.New("bptree: invalid argument")

	// ErrOutOfOrderBatch is returned by BatchInsert when a key is not
	// strictly greater than or equal to the one before it, per the
	// ascending-order contract resolved in SPEC_FULL.md §4.7.
	ErrOutOfOrderBatch = errors.New("bptree: batch insert requires ascending key order")
)

// poison records the first fatal error seen by the tree; every public
// method checks it before doing any work and, once set, returns it instead
// of touching the (possibly inconsistent) on-disk state again.
func (t *Tree) poison(err error) error {
	t.mu.Lock()
	if t.err == nil {
		t.err = err
		t.log.Error("tree poisoned", zap.Error(err))
	}
	poisoned := t.err
	t.mu.Unlock()
	return poisoned
}

func (t *Tree) poisoned() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.err
}

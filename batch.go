package bptree

import "github.com/pkg/errors"

// KV is one key/value pair for BatchInsert.
type KV struct {
	Key   []byte
	Value []byte
}

// BatchInsert inserts many rows as a single WAL transaction. items must be
// sorted ascending by key per the tree's comparator; a later key sorting
// strictly before an earlier one fails the whole batch with
// ErrOutOfOrderBatch before any page is touched, per SPEC_FULL.md §4.7.
// Duplicate keys within the batch resolve last-occurrence-wins, also
// applied before any page is touched.
func (t *Tree) BatchInsert(items []KV) error {
	if err := t.poisoned(); err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	deduped := make([]KV, 0, len(items))
	for i, item := range items {
		if i > 0 {
			cmp := t.cmp(item.Key, items[i-1].Key)
			if cmp < 0 {
				return errors.Wrapf(ErrOutOfOrderBatch, "item %d key sorts before item %d", i, i-1)
			}
			if cmp == 0 {
				deduped[len(deduped)-1] = item // last occurrence wins
				continue
			}
		}
		deduped = append(deduped, item)
	}

	for _, item := range deduped {
		if err := t.insertLocked(item.Key, item.Value); err != nil {
			return err
		}
	}

	return t.commitTransaction()
}

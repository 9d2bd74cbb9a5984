package bptree

import (
	"github.com/pkg/errors"

	"bptree/page"
)

// writeOverflow chunks value across as many overflow pages as needed and
// returns the id of the first one. Grounded on spec.md §4.8's "chunk into
// page_size-24 byte segments, chain via next, allocate each from the
// freelist" algorithm.
func (t *Tree) writeOverflow(value []byte) (head uint64, err error) {
	chunkSize := int(t.layout.OverflowPayload)

	var firstID uint64
	var prev *page.Node

	for offset := 0; offset < len(value); offset += chunkSize {
		end := offset + chunkSize
		if end > len(value) {
			end = len(value)
		}

		id, err := t.fl.Allocate()
		if err != nil {
			return 0, t.poison(errors.Wrap(ErrIO, err.Error()))
		}

		n := page.NewOverflow(id)
		n.Payload = append([]byte(nil), value[offset:end]...)
		t.cache.MarkDirty(n)

		if prev == nil {
			firstID = id
		} else {
			prev.Next = id
		}
		prev = n
	}

	if prev == nil {
		// Zero-length value: still need a chain so the slot's head is valid.
		id, err := t.fl.Allocate()
		if err != nil {
			return 0, t.poison(errors.Wrap(ErrIO, err.Error()))
		}
		n := page.NewOverflow(id)
		t.cache.MarkDirty(n)
		firstID = id
	}

	return firstID, nil
}

// readOverflow walks the chain starting at head and concatenates up to
// length bytes of payload.
func (t *Tree) readOverflow(head uint64, length uint64) ([]byte, error) {
	out := make([]byte, 0, length)
	id := head
	for id != 0 && uint64(len(out)) < length {
		n, err := t.cache.Get(id)
		if err != nil {
			return nil, t.poison(errors.Wrap(ErrIO, err.Error()))
		}
		if n.Kind != page.KindOverflow {
			return nil, t.poison(errors.Wrap(ErrCorruptPage, "overflow chain references a non-overflow page"))
		}
		remaining := length - uint64(len(out))
		chunk := n.Payload
		if uint64(len(chunk)) > remaining {
			chunk = chunk[:remaining]
		}
		out = append(out, chunk...)
		id = n.Next
	}
	return out, nil
}

// freeOverflowChain returns every page in the chain starting at head to the
// freelist, used when an overflow value is overwritten, per spec.md
// §4.8/§9.
func (t *Tree) freeOverflowChain(head uint64) error {
	id := head
	for id != 0 {
		n, err := t.cache.Get(id)
		if err != nil {
			return t.poison(errors.Wrap(ErrIO, err.Error()))
		}
		next := n.Next
		t.cache.Invalidate(id)
		if err := t.fl.Deallocate(id); err != nil {
			return t.poison(errors.Wrap(ErrIO, err.Error()))
		}
		id = next
	}
	return nil
}

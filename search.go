package bptree

import (
	"github.com/pkg/errors"

	"bptree/page"
)

// Get returns the value stored for key, or ErrNotFound if it's absent.
// Grounded on the teacher's bplustree/find_leaf.go (FindLeaf: follow
// ChildFor at each internal level) and insertion.go's binary-search lookup
// once the leaf is reached.
func (t *Tree) Get(key []byte) ([]byte, error) {
	if err := t.poisoned(); err != nil {
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.root == 0 {
		return nil, ErrNotFound
	}

	leaf, err := t.descendToLeaf(key)
	if err != nil {
		return nil, err
	}

	i := leaf.FindSlot(key, t.cmp)
	if i < 0 {
		return nil, ErrNotFound
	}

	return t.resolveSlot(leaf.Values[i])
}

// resolveSlot returns the actual value bytes a leaf value slot encodes,
// following the overflow chain if necessary.
func (t *Tree) resolveSlot(slot []byte) ([]byte, error) {
	if !page.IsOverflow(slot) {
		return page.DecodeInlineValue(slot), nil
	}
	head, length := page.DecodeOverflowPointer(slot)
	return t.readOverflow(head, length)
}

// descendToLeaf walks from the root to the leaf that should contain key.
// t.mu must be held (read or write) by the caller.
func (t *Tree) descendToLeaf(key []byte) (*page.Node, error) {
	id := t.root
	for {
		n, err := t.cache.Get(id)
		if err != nil {
			return nil, t.poison(errors.Wrap(ErrIO, err.Error()))
		}
		if n.Kind != page.KindInternal {
			return n, nil
		}
		id = n.Children[n.ChildFor(key, t.cmp)]
	}
}

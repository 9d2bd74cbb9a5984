package bptree

import (
	"github.com/pkg/errors"

	"bptree/page"
)

// Range calls fn for every key in [lower, upper) in ascending order,
// stopping early if fn returns false. A nil lower/upper means unbounded on
// that side. Grounded on the teacher's bplustree/iterator.go (SeekGE, Next
// walking the leaf's next pointer).
func (t *Tree) Range(lower, upper []byte, fn func(key, value []byte) bool) error {
	if err := t.poisoned(); err != nil {
		return err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.root == 0 {
		return nil
	}

	leaf, idx, err := t.seekForward(lower)
	if err != nil {
		return err
	}

	for leaf != nil {
		for ; idx < len(leaf.Keys); idx++ {
			key := leaf.Keys[idx]
			if upper != nil && t.cmp(key, upper) >= 0 {
				return nil
			}
			value, err := t.resolveSlot(leaf.Values[idx])
			if err != nil {
				return err
			}
			if !fn(key, value) {
				return nil
			}
		}
		if leaf.Next == 0 {
			return nil
		}
		leaf, err = t.cache.Get(leaf.Next)
		if err != nil {
			return t.poison(errors.Wrap(ErrIO, err.Error()))
		}
		idx = 0
	}
	return nil
}

// RangeDescending calls fn for every key in [lower, upper) in descending
// order, stopping early if fn returns false. Uses the leaf Prev pointer,
// per SPEC_FULL.md §4.9.
func (t *Tree) RangeDescending(lower, upper []byte, fn func(key, value []byte) bool) error {
	if err := t.poisoned(); err != nil {
		return err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.root == 0 {
		return nil
	}

	leaf, idx, err := t.seekBackward(upper)
	if err != nil {
		return err
	}

	for leaf != nil {
		for ; idx >= 0; idx-- {
			key := leaf.Keys[idx]
			if lower != nil && t.cmp(key, lower) < 0 {
				return nil
			}
			value, err := t.resolveSlot(leaf.Values[idx])
			if err != nil {
				return err
			}
			if !fn(key, value) {
				return nil
			}
		}
		if leaf.Prev == 0 {
			return nil
		}
		leaf, err = t.cache.Get(leaf.Prev)
		if err != nil {
			return t.poison(errors.Wrap(ErrIO, err.Error()))
		}
		idx = len(leaf.Keys) - 1
	}
	return nil
}

// seekForward returns the leaf and in-leaf index of the first key >= lower
// (or the leftmost key if lower is nil).
func (t *Tree) seekForward(lower []byte) (*page.Node, int, error) {
	if lower == nil {
		leaf, err := t.leftmostLeaf()
		return leaf, 0, err
	}
	leaf, err := t.descendToLeaf(lower)
	if err != nil {
		return nil, 0, err
	}
	return leaf, leaf.InsertionIndex(lower, t.cmp), nil
}

// seekBackward returns the leaf and in-leaf index of the last key < upper
// (or the rightmost key if upper is nil), stepping to the previous leaf if
// upper's insertion point is the first slot of its leaf.
func (t *Tree) seekBackward(upper []byte) (*page.Node, int, error) {
	if upper == nil {
		leaf, err := t.rightmostLeaf()
		if err != nil {
			return nil, 0, err
		}
		return leaf, len(leaf.Keys) - 1, nil
	}

	leaf, err := t.descendToLeaf(upper)
	if err != nil {
		return nil, 0, err
	}
	idx := leaf.InsertionIndex(upper, t.cmp) - 1

	for idx < 0 {
		if leaf.Prev == 0 {
			return leaf, -1, nil
		}
		leaf, err = t.cache.Get(leaf.Prev)
		if err != nil {
			return nil, 0, t.poison(errors.Wrap(ErrIO, err.Error()))
		}
		idx = len(leaf.Keys) - 1
	}
	return leaf, idx, nil
}

// leftmostLeaf descends via Children[0] at every internal level.
func (t *Tree) leftmostLeaf() (*page.Node, error) {
	id := t.root
	for {
		n, err := t.cache.Get(id)
		if err != nil {
			return nil, t.poison(errors.Wrap(ErrIO, err.Error()))
		}
		if n.Kind != page.KindInternal {
			return n, nil
		}
		id = n.Children[0]
	}
}

// rightmostLeaf descends via the last child at every internal level.
func (t *Tree) rightmostLeaf() (*page.Node, error) {
	id := t.root
	for {
		n, err := t.cache.Get(id)
		if err != nil {
			return nil, t.poison(errors.Wrap(ErrIO, err.Error()))
		}
		if n.Kind != page.KindInternal {
			return n, nil
		}
		id = n.Children[len(n.Children)-1]
	}
}

// Keys returns every key in the tree, ascending.
func (t *Tree) Keys() ([][]byte, error) {
	var out [][]byte
	err := t.Range(nil, nil, func(key, _ []byte) bool {
		out = append(out, key)
		return true
	})
	return out, err
}

// Items returns every key/value pair in the tree, ascending.
func (t *Tree) Items() ([]KV, error) {
	var out []KV
	err := t.Range(nil, nil, func(key, value []byte) bool {
		out = append(out, KV{Key: key, Value: value})
		return true
	})
	return out, err
}

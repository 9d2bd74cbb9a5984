package bptree

import (
	"github.com/pkg/errors"

	"bptree/page"
)

// Insert writes key/value, overwriting any existing value for key. Values
// no wider than Options.ValueSize are stored inline; wider values are
// chunked into an overflow chain per spec.md §4.8. Grounded on the
// teacher's bplustree/insertion.go (root-creation fast path, binary-search
// insertion point, split-on-overflow) and split_internal.go/
// parent_insert.go for upward split propagation.
func (t *Tree) Insert(key, value []byte) error {
	if err := t.poisoned(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.insertLocked(key, value); err != nil {
		return err
	}
	return t.commitTransaction()
}

// insertLocked does the structural work of Insert without committing the
// transaction, so BatchInsert can fold many rows into one WAL commit.
// t.mu must be held for writing by the caller.
func (t *Tree) insertLocked(key, value []byte) error {
	if uint32(len(key)) != t.layout.KeySize {
		return errors.Wrapf(ErrInvalidArgument, "key length %d, want %d", len(key), t.layout.KeySize)
	}

	slot, err := t.encodeValueSlot(value)
	if err != nil {
		return err
	}

	if t.root == 0 {
		id, err := t.fl.Allocate()
		if err != nil {
			return t.poison(errors.Wrap(ErrIO, err.Error()))
		}
		root := page.NewLeaf(id)
		root.Keys = [][]byte{key}
		root.Values = [][]byte{slot}
		t.cache.MarkDirty(root)
		t.root = id
		return nil
	}

	path, err := t.pathToLeaf(key)
	if err != nil {
		return err
	}
	for _, id := range path {
		t.cache.Pin(id)
	}
	defer func() {
		for _, id := range path {
			t.cache.Unpin(id)
		}
	}()

	leaf, err := t.cache.Get(path[len(path)-1])
	if err != nil {
		return t.poison(errors.Wrap(ErrIO, err.Error()))
	}

	if i := leaf.FindSlot(key, t.cmp); i >= 0 {
		if err := t.replaceOverflowIfAny(leaf.Values[i]); err != nil {
			return err
		}
		leaf.Values[i] = slot
		t.cache.MarkDirty(leaf)
		return nil
	}

	i := leaf.InsertionIndex(key, t.cmp)
	leaf.InsertLeafEntry(i, key, slot)
	t.cache.MarkDirty(leaf)

	if uint32(len(leaf.Keys)) > t.layout.LeafCapacity {
		return t.splitLeaf(path, leaf)
	}
	return nil
}

// encodeValueSlot builds the leaf value slot for value, writing an overflow
// chain first if value doesn't fit inline.
func (t *Tree) encodeValueSlot(value []byte) ([]byte, error) {
	if uint32(len(value)) <= t.layout.ValueSize {
		return page.EncodeInlineValue(value, t.layout), nil
	}
	head, err := t.writeOverflow(value)
	if err != nil {
		return nil, err
	}
	return page.EncodeOverflowPointer(head, uint64(len(value)), t.layout), nil
}

// replaceOverflowIfAny frees old's overflow chain (if any) ahead of an
// overwrite, per spec.md §4.8/§9: the old chain's pages go back to the
// freelist inside the same transaction as the overwrite.
func (t *Tree) replaceOverflowIfAny(old []byte) error {
	if !page.IsOverflow(old) {
		return nil
	}
	head, _ := page.DecodeOverflowPointer(old)
	return t.freeOverflowChain(head)
}

// pathToLeaf returns every node id from the root down to the leaf that
// should contain key, inclusive, for use by the split-propagation walk.
// insertLocked pins every id on the path for the duration of the call, since
// splitLeaf/insertIntoParent re-fetch ancestors by id as they walk back up.
func (t *Tree) pathToLeaf(key []byte) ([]uint64, error) {
	var path []uint64
	id := t.root
	for {
		path = append(path, id)
		n, err := t.cache.Get(id)
		if err != nil {
			return nil, t.poison(errors.Wrap(ErrIO, err.Error()))
		}
		if n.Kind != page.KindInternal {
			return path, nil
		}
		id = n.Children[n.ChildFor(key, t.cmp)]
	}
}

// splitLeaf splits an overflowing leaf and propagates the new separator
// into its parent (growing a new root if the leaf was the root).
func (t *Tree) splitLeaf(path []uint64, leaf *page.Node) error {
	rightID, err := t.fl.Allocate()
	if err != nil {
		return t.poison(errors.Wrap(ErrIO, err.Error()))
	}

	right, separator := leaf.SplitLeaf(rightID)
	t.cache.MarkDirty(leaf)
	t.cache.MarkDirty(right)

	if right.Next != 0 {
		next, err := t.cache.Get(right.Next)
		if err != nil {
			return t.poison(errors.Wrap(ErrIO, err.Error()))
		}
		next.Prev = right.ID
		t.cache.MarkDirty(next)
	}

	return t.insertIntoParent(path, len(path)-2, leaf.ID, separator, right.ID)
}

// insertIntoParent inserts sepKey/rightID into the parent at path[parentIdx]
// (creating a new root if parentIdx < 0, meaning leftID was the root),
// splitting and recursing upward if the parent itself overflows. Grounded
// on the teacher's parent_insert.go/split_internal.go recursion.
func (t *Tree) insertIntoParent(path []uint64, parentIdx int, leftID uint64, sepKey []byte, rightID uint64) error {
	if parentIdx < 0 {
		newRootID, err := t.fl.Allocate()
		if err != nil {
			return t.poison(errors.Wrap(ErrIO, err.Error()))
		}
		newRoot := page.NewInternal(newRootID)
		newRoot.Keys = [][]byte{sepKey}
		newRoot.Children = []uint64{leftID, rightID}
		t.cache.MarkDirty(newRoot)
		t.root = newRootID
		return nil
	}

	parent, err := t.cache.Get(path[parentIdx])
	if err != nil {
		return t.poison(errors.Wrap(ErrIO, err.Error()))
	}

	idx := 0
	for idx < len(parent.Children) && parent.Children[idx] != leftID {
		idx++
	}
	parent.InsertInternalEntry(idx, sepKey, rightID)
	t.cache.MarkDirty(parent)

	if uint32(len(parent.Keys)) <= t.layout.InternalCapacity {
		return nil
	}

	rightParentID, err := t.fl.Allocate()
	if err != nil {
		return t.poison(errors.Wrap(ErrIO, err.Error()))
	}
	rightParent, promoted := parent.SplitInternal(rightParentID)
	t.cache.MarkDirty(parent)
	t.cache.MarkDirty(rightParent)

	return t.insertIntoParent(path, parentIdx-1, parent.ID, promoted, rightParent.ID)
}

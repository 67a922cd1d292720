// Package engine implements the copy-on-write B+ tree recursion: descend
// root-to-leaf, rewrite the path, propagate splits up on insert and
// underfull/borrow/merge up on delete, and report what the caller must do
// to commit (write a new root offset, or build a new root over a split).
package engine

import (
	"fmt"

	"cowkv/pkg/page"
)

// Store is the subset of the disk manager the engine needs: load nodes by
// offset, allocate fresh offsets, and try-append a rewritten node.
type Store interface {
	Load(offset uint64) (*page.Node, error)
	AllocateOffset() uint64
	TryAppend(offset uint64, n *page.Node) (bool, error)
	Underfull(n *page.Node) bool
}

// Engine runs the CoW insert/delete recursion against a Store.
type Engine struct {
	store Store
}

// New returns an Engine backed by store.
func New(store Store) *Engine {
	return &Engine{store: store}
}

// InsertResult is what one level of the insert recursion hands to its
// parent: either the node was rewritten at a new offset, or it had
// to split into two siblings separated by a promoted key.
type InsertResult struct {
	Split bool

	// Replaced case.
	Offset uint64

	// Split case.
	PromotedKey []byte
	Left        uint64
	Right       uint64
}

// DeleteResult is what one level of the delete recursion hands to its
// parent: the node was rewritten (possibly unchanged, on a miss), and
// whether it is now underfull and needs the parent to rebalance it.
type DeleteResult struct {
	Offset    uint64
	Underfull bool
	Found     bool
}

// Insert descends from rootOffset, inserts or updates (key, value), and
// returns the result the caller (the store facade) must use to commit: a
// new root offset, or the pieces of a new root built over a split.
func (e *Engine) Insert(rootOffset uint64, key, value []byte) (InsertResult, error) {
	root, err := e.store.Load(rootOffset)
	if err != nil {
		return InsertResult{}, err
	}
	return e.insert(root, key, value)
}

func (e *Engine) insert(n *page.Node, key, value []byte) (InsertResult, error) {
	if n.Leaf {
		return e.insertLeaf(n, key, value)
	}
	return e.insertInternal(n, key, value)
}

func (e *Engine) insertLeaf(n *page.Node, key, value []byte) (InsertResult, error) {
	clone := n.Clone()
	pos, hit := clone.FindLeafSlot(key)
	clone.InsertLeaf(pos, hit, key, value)

	offset := e.store.AllocateOffset()
	ok, err := e.store.TryAppend(offset, clone)
	if err != nil {
		return InsertResult{}, err
	}
	if ok {
		return InsertResult{Offset: offset}, nil
	}

	return e.splitLeaf(clone, offset)
}

// splitLeaf splits clone (already known to overflow) into a left page
// written at leftOffset (already allocated by the caller) and a freshly
// allocated right page.
func (e *Engine) splitLeaf(clone *page.Node, leftOffset uint64) (InsertResult, error) {
	promoted, right := clone.Split()

	if ok, err := e.store.TryAppend(leftOffset, clone); err != nil {
		return InsertResult{}, err
	} else if !ok {
		return InsertResult{}, fmt.Errorf("engine: left half of leaf split still does not fit")
	}

	rightOffset := e.store.AllocateOffset()
	if ok, err := e.store.TryAppend(rightOffset, right); err != nil {
		return InsertResult{}, err
	} else if !ok {
		return InsertResult{}, fmt.Errorf("engine: right half of leaf split does not fit")
	}

	return InsertResult{
		Split:       true,
		PromotedKey: promoted,
		Left:        leftOffset,
		Right:       rightOffset,
	}, nil
}

func (e *Engine) insertInternal(n *page.Node, key, value []byte) (InsertResult, error) {
	pos := n.FindChildSlot(key)
	child, err := e.store.Load(n.Children[pos])
	if err != nil {
		return InsertResult{}, err
	}

	childResult, err := e.insert(child, key, value)
	if err != nil {
		return InsertResult{}, err
	}

	clone := n.Clone()
	if !childResult.Split {
		clone.SetChild(pos, childResult.Offset)
	} else {
		clone.ReplaceChildWithSplit(pos, childResult.PromotedKey, childResult.Left, childResult.Right)
	}

	offset := e.store.AllocateOffset()
	ok, err := e.store.TryAppend(offset, clone)
	if err != nil {
		return InsertResult{}, err
	}
	if ok {
		return InsertResult{Offset: offset}, nil
	}

	return e.splitInternal(clone, offset)
}

func (e *Engine) splitInternal(clone *page.Node, leftOffset uint64) (InsertResult, error) {
	promoted, right := clone.Split()

	if ok, err := e.store.TryAppend(leftOffset, clone); err != nil {
		return InsertResult{}, err
	} else if !ok {
		return InsertResult{}, fmt.Errorf("engine: left half of internal split still does not fit")
	}

	rightOffset := e.store.AllocateOffset()
	if ok, err := e.store.TryAppend(rightOffset, right); err != nil {
		return InsertResult{}, err
	} else if !ok {
		return InsertResult{}, fmt.Errorf("engine: right half of internal split does not fit")
	}

	return InsertResult{
		Split:       true,
		PromotedKey: promoted,
		Left:        leftOffset,
		Right:       rightOffset,
	}, nil
}

// Delete descends from rootOffset and removes key if present. A miss is a
// true no-op: no page anywhere on the path is rewritten and the returned
// Offset is rootOffset unchanged (spec.md §4.4, §8 invariant 8).
func (e *Engine) Delete(rootOffset uint64, key []byte) (DeleteResult, error) {
	return e.delete(rootOffset, key)
}

func (e *Engine) delete(offset uint64, key []byte) (DeleteResult, error) {
	n, err := e.store.Load(offset)
	if err != nil {
		return DeleteResult{}, err
	}
	if n.Leaf {
		return e.deleteLeaf(offset, n, key)
	}
	return e.deleteInternal(offset, n, key)
}

func (e *Engine) deleteLeaf(offset uint64, n *page.Node, key []byte) (DeleteResult, error) {
	pos, hit := n.FindLeafSlot(key)
	if !hit {
		return DeleteResult{Offset: offset, Found: false}, nil
	}

	clone := n.Clone()
	clone.DeleteLeaf(pos)

	newOffset := e.store.AllocateOffset()
	ok, err := e.store.TryAppend(newOffset, clone)
	if err != nil {
		return DeleteResult{}, err
	}
	if !ok {
		return DeleteResult{}, fmt.Errorf("engine: leaf grew on delete")
	}

	return DeleteResult{Offset: newOffset, Found: true, Underfull: e.store.Underfull(clone)}, nil
}

func (e *Engine) deleteInternal(offset uint64, n *page.Node, key []byte) (DeleteResult, error) {
	pos := n.FindChildSlot(key)
	childResult, err := e.delete(n.Children[pos], key)
	if err != nil {
		return DeleteResult{}, err
	}
	if !childResult.Found {
		return DeleteResult{Offset: offset, Found: false}, nil
	}

	clone := n.Clone()
	clone.SetChild(pos, childResult.Offset)

	if !childResult.Underfull {
		return e.commitInternal(clone)
	}

	if err := e.rebalance(clone, pos); err != nil {
		return DeleteResult{}, err
	}
	return e.commitInternal(clone)
}

func (e *Engine) commitInternal(clone *page.Node) (DeleteResult, error) {
	offset := e.store.AllocateOffset()
	ok, err := e.store.TryAppend(offset, clone)
	if err != nil {
		return DeleteResult{}, err
	}
	if !ok {
		return DeleteResult{}, fmt.Errorf("engine: rebalanced internal node does not fit its own page")
	}
	return DeleteResult{Offset: offset, Found: true, Underfull: e.store.Underfull(clone)}, nil
}

// rebalance resolves an underfull child at slot pos in parent, in place, by
// borrowing from a sibling with more than the minimum, or merging with a
// sibling at minimum occupancy. Borrow keeps the same number of children in
// parent and only rewrites the separator key; merge removes one key and
// one child pointer from parent.
func (e *Engine) rebalance(parent *page.Node, pos int) error {
	deficientOffset := parent.Children[pos]
	deficient, err := e.store.Load(deficientOffset)
	if err != nil {
		return err
	}

	if pos > 0 {
		leftOffset := parent.Children[pos-1]
		left, err := e.store.Load(leftOffset)
		if err != nil {
			return err
		}
		if canLendFromLeft(e.store, left) {
			newSep := page.BorrowFromLeft(deficient, left, parent.Keys[pos-1])
			if err := e.writeRebalancedPair(parent, pos-1, left, deficient); err != nil {
				return err
			}
			parent.Keys[pos-1] = newSep
			return nil
		}
	}

	if pos < len(parent.Children)-1 {
		rightOffset := parent.Children[pos+1]
		right, err := e.store.Load(rightOffset)
		if err != nil {
			return err
		}
		if canLendFromRight(e.store, right) {
			newSep := page.BorrowFromRight(deficient, right, parent.Keys[pos])
			if err := e.writeRebalancedPair(parent, pos, deficient, right); err != nil {
				return err
			}
			parent.Keys[pos] = newSep
			return nil
		}
	}

	if pos > 0 {
		leftOffset := parent.Children[pos-1]
		left, err := e.store.Load(leftOffset)
		if err != nil {
			return err
		}
		merged := mergeNodes(left, parent.Keys[pos-1], deficient)
		offset := e.store.AllocateOffset()
		ok, err := e.store.TryAppend(offset, merged)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("engine: merged node does not fit a page")
		}
		removeChildAndSeparator(parent, pos-1, pos, offset)
		return nil
	}

	rightOffset := parent.Children[pos+1]
	right, err := e.store.Load(rightOffset)
	if err != nil {
		return err
	}
	merged := mergeNodes(deficient, parent.Keys[pos], right)
	offset := e.store.AllocateOffset()
	ok, err := e.store.TryAppend(offset, merged)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("engine: merged node does not fit a page")
	}
	removeChildAndSeparator(parent, pos, pos+1, offset)
	return nil
}

// canLendFromLeft reports whether left can give up its last entry (the one
// BorrowFromLeft moves) to a deficient right sibling and still meet the
// minimum-fill threshold afterward. Checking left's pre-borrow size against
// Underfull is not enough: a sibling sitting exactly at the minimum passes
// that check yet drops below it the moment it loses an entry, so the
// simulated post-borrow size is what must clear Underfull (spec.md §4.4:
// the sibling must have "more than the minimum", not merely meet it).
func canLendFromLeft(store Store, left *page.Node) bool {
	if left.Leaf {
		if left.KeyCount() == 0 {
			return false
		}
		trial := left.Clone()
		trial.DeleteLeaf(trial.KeyCount() - 1)
		return !store.Underfull(trial)
	}
	if len(left.Children) == 0 {
		return false
	}
	trial := left.Clone()
	trial.Keys = trial.Keys[:len(trial.Keys)-1]
	trial.Children = trial.Children[:len(trial.Children)-1]
	return !store.Underfull(trial)
}

// canLendFromRight is the mirror of canLendFromLeft: it simulates losing the
// first entry, the one BorrowFromRight moves.
func canLendFromRight(store Store, right *page.Node) bool {
	if right.Leaf {
		if right.KeyCount() == 0 {
			return false
		}
		trial := right.Clone()
		trial.DeleteLeaf(0)
		return !store.Underfull(trial)
	}
	if len(right.Children) == 0 {
		return false
	}
	trial := right.Clone()
	trial.Keys = trial.Keys[1:]
	trial.Children = trial.Children[1:]
	return !store.Underfull(trial)
}

func mergeNodes(left *page.Node, separator []byte, right *page.Node) *page.Node {
	if left.Leaf {
		return page.MergeLeaves(left, right)
	}
	return page.MergeInternal(left, separator, right)
}

// writeRebalancedPair writes the two siblings at leftPos/leftPos+1 back to
// fresh offsets after a borrow, and updates parent's child pointers.
func (e *Engine) writeRebalancedPair(parent *page.Node, leftPos int, left, right *page.Node) error {
	leftOffset := e.store.AllocateOffset()
	if ok, err := e.store.TryAppend(leftOffset, left); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("engine: rebalanced left sibling does not fit a page")
	}
	rightOffset := e.store.AllocateOffset()
	if ok, err := e.store.TryAppend(rightOffset, right); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("engine: rebalanced right sibling does not fit a page")
	}
	parent.Children[leftPos] = leftOffset
	parent.Children[leftPos+1] = rightOffset
	return nil
}

// removeChildAndSeparator collapses children[leftPos] and children[rightPos]
// (rightPos == leftPos+1) into the single merged child at mergedOffset,
// removing the separator key between them.
func removeChildAndSeparator(parent *page.Node, leftPos, rightPos int, mergedOffset uint64) {
	parent.Children[leftPos] = mergedOffset
	parent.Children = append(parent.Children[:rightPos], parent.Children[rightPos+1:]...)
	parent.Keys = append(parent.Keys[:leftPos], parent.Keys[leftPos+1:]...)
}

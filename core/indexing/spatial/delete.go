package spatial

import (
	"fmt"

	"go.uber.org/zap"
)

// traversalFrame is one level of the explicit descent stack used by Delete:
// the node being scanned and the index at which to resume scanning its
// entries after backtracking. For every frame but the deepest, nextIdx-1 is
// the entry pointing at the child frame below it.
type traversalFrame struct {
	node    *Node
	nextIdx int
}

// Delete removes the entry exactly matching (id, r) from the index. It
// returns true and decrements the size if such an entry was found; otherwise
// it returns false and the tree is left unchanged.
func (t *RTree) Delete(r Rect, id int64) (bool, error) {
	if err := t.validateRect(r); err != nil {
		return false, err
	}

	leaf, stack, entryIdx, err := t.findLeaf(r, id)
	if err != nil {
		return false, err
	}
	if leaf == nil {
		return false, nil
	}

	leaf.removeEntryAt(entryIdx)
	if err := t.store.Put(leaf.id, leaf); err != nil {
		return false, fmt.Errorf("failed to store leaf %d after removal: %w", leaf.id, err)
	}

	if err := t.condenseTree(stack); err != nil {
		return false, err
	}
	if err := t.shrinkRoot(); err != nil {
		return false, err
	}

	t.size--
	t.logger.Debug("entry deleted",
		zap.Int64("entry_id", id),
		zap.Int64("size", t.size))
	return true, nil
}

// findLeaf locates the leaf holding the entry (id, r) with a non-recursive
// traversal. At each internal node it scans entries from the frame's resume
// index for one whose MBR contains r and descends into it, backtracking when
// a subtree is exhausted. On a match it returns the leaf, the full ancestor
// stack (root first, leaf last) and the matching entry index; a nil leaf
// means no match exists.
func (t *RTree) findLeaf(r Rect, id int64) (*Node, []traversalFrame, int, error) {
	root, err := t.fetchNode(t.rootID)
	if err != nil {
		return nil, nil, 0, err
	}
	stack := []traversalFrame{{node: root}}

	for len(stack) > 0 {
		top := &stack[len(stack)-1]

		if top.node.IsLeaf() {
			for i := 0; i < top.node.NumEntries(); i++ {
				e := top.node.entries[i]
				if e.ID == id && e.Rect.Equal(r) {
					return top.node, stack, i, nil
				}
			}
			stack = stack[:len(stack)-1]
			continue
		}

		descended := false
		for i := top.nextIdx; i < top.node.NumEntries(); i++ {
			if top.node.entries[i].Rect.Contains(r) {
				top.nextIdx = i + 1
				child, err := t.fetchNode(NodeID(top.node.entries[i].ID))
				if err != nil {
					return nil, nil, 0, err
				}
				stack = append(stack, traversalFrame{node: child})
				descended = true
				break
			}
		}
		if !descended {
			stack = stack[:len(stack)-1]
		}
	}
	return nil, nil, 0, nil
}

// condenseTree walks from the leaf toward the root along the traversal
// stack. Nodes that fell below the minimum fan-out are detached from their
// parent and queued for reinsertion; for all others the parent's entry MBR is
// tightened. Queued nodes are then drained LIFO, reinserting each surviving
// entry at the node's original level so subtree depth is preserved, and the
// emptied node ids return to the free list.
func (t *RTree) condenseTree(stack []traversalFrame) error {
	var eliminated []*Node

	for i := len(stack) - 1; i >= 1; i-- {
		n := stack[i].node
		parent := stack[i-1].node
		parentEntryIdx := stack[i-1].nextIdx - 1

		if n.NumEntries() < t.cfg.MinNodeEntries {
			parent.removeEntryAt(parentEntryIdx)
			eliminated = append(eliminated, n)
		} else {
			mbr, _ := n.MBR()
			parent.setEntryRect(parentEntryIdx, mbr)
		}
		if err := t.store.Put(parent.id, parent); err != nil {
			return fmt.Errorf("failed to store node %d during condensation: %w", parent.id, err)
		}
	}

	for len(eliminated) > 0 {
		n := eliminated[len(eliminated)-1]
		eliminated = eliminated[:len(eliminated)-1]

		t.logger.Debug("reinserting entries of under-full node",
			zap.Int32("node_id", int32(n.id)),
			zap.Int32("level", n.level),
			zap.Int("entries", n.NumEntries()))
		for _, e := range n.entries {
			if err := t.insertEntry(e, n.level); err != nil {
				return fmt.Errorf("failed to reinsert entry from node %d: %w", n.id, err)
			}
		}
		t.freeNodeID(n.id)
	}
	return nil
}

// shrinkRoot promotes the root's only child while the root is an internal
// node with a single entry, decrementing the height each time. The discarded
// root's id returns to the free list.
func (t *RTree) shrinkRoot() error {
	for t.height > 1 {
		root, err := t.fetchNode(t.rootID)
		if err != nil {
			return err
		}
		if root.NumEntries() != 1 {
			return nil
		}
		childID := NodeID(root.entries[0].ID)
		t.freeNodeID(root.id)
		t.rootID = childID
		t.height--
		t.logger.Debug("root collapsed",
			zap.Int32("new_root_id", int32(childID)),
			zap.Int32("height", t.height))
	}
	return nil
}

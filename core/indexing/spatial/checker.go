package spatial

import "fmt"

// CheckConsistency walks the whole tree and verifies its structural
// invariants: every node sits at the level the tree shape implies, every
// non-root node respects the fan-out bounds, and every cached MBR equals the
// recomputed union of its entries. It is a debug aid and deliberately not
// called from any mutation path; failures wrap ErrInconsistent.
func (t *RTree) CheckConsistency() error {
	return t.checkNode(t.rootID, t.height, true)
}

func (t *RTree) checkNode(id NodeID, expectedLevel int32, isRoot bool) error {
	n, err := t.fetchNode(id)
	if err != nil {
		return err
	}

	if n.level != expectedLevel {
		return fmt.Errorf("%w: node %d at level %d, expected %d", ErrInconsistent, id, n.level, expectedLevel)
	}
	if n.NumEntries() > t.cfg.MaxNodeEntries {
		return fmt.Errorf("%w: node %d holds %d entries, max is %d",
			ErrInconsistent, id, n.NumEntries(), t.cfg.MaxNodeEntries)
	}
	if !isRoot && n.NumEntries() < t.cfg.MinNodeEntries {
		return fmt.Errorf("%w: node %d holds %d entries, min is %d",
			ErrInconsistent, id, n.NumEntries(), t.cfg.MinNodeEntries)
	}
	// An empty node is only legal as the root leaf of an empty index.
	if n.NumEntries() == 0 && !(isRoot && n.IsLeaf()) {
		return fmt.Errorf("%w: node %d is empty", ErrInconsistent, id)
	}

	if n.NumEntries() > 0 {
		union := n.entries[0].Rect.Copy()
		for i := 1; i < len(n.entries); i++ {
			union.UnionInPlace(n.entries[i].Rect)
		}
		if !n.mbr.Equal(union) {
			return fmt.Errorf("%w: node %d cached MBR %v differs from computed %v",
				ErrInconsistent, id, n.mbr, union)
		}
	}

	for i, e := range n.entries {
		if e.Rect.Dims() != t.cfg.Dimensions {
			return fmt.Errorf("%w: node %d entry %d has %d dimensions, index has %d",
				ErrInconsistent, id, i, e.Rect.Dims(), t.cfg.Dimensions)
		}
		if !n.IsLeaf() {
			if err := t.checkNode(NodeID(e.ID), expectedLevel-1, false); err != nil {
				return err
			}
		}
	}
	return nil
}

package spatial

import (
	"fmt"
	"math"

	"go.uber.org/zap"
)

// pathStep records one level of a root-to-leaf descent: the node visited and
// the index of the entry chosen within it. The recorded path drives the
// upward MBR adjustment after an insert or split.
type pathStep struct {
	node     *Node
	entryIdx int
}

// Add inserts a data entry with the given id and bounding rectangle.
func (t *RTree) Add(id int64, r Rect) error {
	if err := t.validateRect(r); err != nil {
		return err
	}
	if err := t.insertEntry(Entry{ID: id, Rect: r.Copy()}, 1); err != nil {
		return err
	}
	t.size++
	return nil
}

// insertEntry places an entry into a node at the given level (1 for data
// entries, higher for subtree reinsertion during condensation), splitting and
// adjusting ancestors as needed.
func (t *RTree) insertEntry(e Entry, level int32) error {
	target, path, err := t.chooseNode(e.Rect, level)
	if err != nil {
		return err
	}

	var sibling *Node
	if target.NumEntries() < t.cfg.MaxNodeEntries {
		target.addEntry(e)
		if err := t.store.Put(target.id, target); err != nil {
			return fmt.Errorf("failed to store node %d: %w", target.id, err)
		}
	} else {
		sibling, err = t.splitNode(target, e)
		if err != nil {
			return err
		}
	}

	return t.adjustTree(path, target, sibling)
}

// chooseNode descends from the root to a node at the given level, picking at
// each internal node the entry requiring least enlargement to include r.
// Ties are broken by smaller resulting area, then by first occurrence.
func (t *RTree) chooseNode(r Rect, level int32) (*Node, []pathStep, error) {
	n, err := t.fetchNode(t.rootID)
	if err != nil {
		return nil, nil, err
	}
	path := make([]pathStep, 0, t.height)

	for n.level > level {
		best := 0
		bestEnlargement := math.Inf(1)
		bestArea := math.Inf(1)
		for i := 0; i < n.NumEntries(); i++ {
			er := n.entries[i].Rect
			enlargement := er.Enlargement(r)
			area := er.Area()
			if enlargement < bestEnlargement ||
				(enlargement == bestEnlargement && area < bestArea) {
				best = i
				bestEnlargement = enlargement
				bestArea = area
			}
		}
		path = append(path, pathStep{node: n, entryIdx: best})

		child, err := t.fetchNode(NodeID(n.entries[best].ID))
		if err != nil {
			return nil, nil, err
		}
		n = child
	}
	return n, path, nil
}

// adjustTree walks the recorded descent path toward the root. At each
// ancestor it tightens the entry MBR for the modified child, and if the child
// split it inserts the new sibling's entry, splitting the ancestor too when
// it is full. A split propagating past the root grows the tree by one level.
func (t *RTree) adjustTree(path []pathStep, child, sibling *Node) error {
	for i := len(path) - 1; i >= 0; i-- {
		parent := path[i].node
		idx := path[i].entryIdx

		mbr, ok := child.MBR()
		if !ok {
			return fmt.Errorf("%w: node %d has no entries during adjustment", ErrInconsistent, child.id)
		}
		parent.setEntryRect(idx, mbr)

		var parentSibling *Node
		if sibling != nil {
			smbr, _ := sibling.MBR()
			entry := Entry{ID: int64(sibling.id), Rect: smbr.Copy()}
			if parent.NumEntries() < t.cfg.MaxNodeEntries {
				parent.addEntry(entry)
			} else {
				var err error
				parentSibling, err = t.splitNode(parent, entry)
				if err != nil {
					return err
				}
			}
		}
		if parentSibling == nil {
			// splitNode persists both halves itself.
			if err := t.store.Put(parent.id, parent); err != nil {
				return fmt.Errorf("failed to store node %d: %w", parent.id, err)
			}
		}
		child, sibling = parent, parentSibling
	}

	if sibling != nil {
		return t.growRoot(child, sibling)
	}
	return nil
}

// growRoot creates a new root one level above the old one, containing exactly
// the old root and the sibling produced by its split.
func (t *RTree) growRoot(oldRoot, sibling *Node) error {
	newRoot := NewNode(t.allocateNodeID(), oldRoot.level+1, t.cfg.MaxNodeEntries)
	ombr, _ := oldRoot.MBR()
	smbr, _ := sibling.MBR()
	newRoot.addEntry(Entry{ID: int64(oldRoot.id), Rect: ombr.Copy()})
	newRoot.addEntry(Entry{ID: int64(sibling.id), Rect: smbr.Copy()})
	if err := t.store.Put(newRoot.id, newRoot); err != nil {
		return fmt.Errorf("failed to store new root %d: %w", newRoot.id, err)
	}
	t.rootID = newRoot.id
	t.height++
	t.logger.Debug("root split, tree grew",
		zap.Int32("new_root_id", int32(newRoot.id)),
		zap.Int32("height", t.height))
	return nil
}

// Entry assignment states used during a quadratic split.
const (
	assignNone int8 = iota
	assignOriginal
	assignSibling
)

// splitNode splits a full node that must also absorb extra, using Guttman's
// quadratic algorithm. The original node is mutated in place to hold one
// group and a freshly allocated sibling holds the other. Both halves end with
// at least MinNodeEntries entries and are persisted before returning.
func (t *RTree) splitNode(n *Node, extra Entry) (*Node, error) {
	all := make([]Entry, 0, len(n.entries)+1)
	all = append(all, n.entries...)
	all = append(all, extra)
	status := make([]int8, len(all))

	seedA, seedB := pickSeeds(all)

	sibling := NewNode(t.allocateNodeID(), n.level, t.cfg.MaxNodeEntries)

	mbrA := all[seedA].Rect.Copy()
	mbrB := all[seedB].Rect.Copy()
	status[seedA] = assignOriginal
	status[seedB] = assignSibling
	countA, countB := 1, 1
	remaining := len(all) - 2

	for remaining > 0 {
		// If one group must take every remaining entry to reach the minimum
		// fan-out, assign them en masse.
		if countA+remaining == t.cfg.MinNodeEntries {
			for i := range all {
				if status[i] == assignNone {
					status[i] = assignOriginal
					mbrA.UnionInPlace(all[i].Rect)
					countA++
				}
			}
			remaining = 0
			break
		}
		if countB+remaining == t.cfg.MinNodeEntries {
			for i := range all {
				if status[i] == assignNone {
					status[i] = assignSibling
					mbrB.UnionInPlace(all[i].Rect)
					countB++
				}
			}
			remaining = 0
			break
		}

		// Pick the unassigned entry with the greatest preference for one
		// group over the other.
		next := -1
		nextDiff := math.Inf(-1)
		for i := range all {
			if status[i] != assignNone {
				continue
			}
			diff := math.Abs(mbrA.Enlargement(all[i].Rect) - mbrB.Enlargement(all[i].Rect))
			if diff > nextDiff {
				next = i
				nextDiff = diff
			}
		}

		dA := mbrA.Enlargement(all[next].Rect)
		dB := mbrB.Enlargement(all[next].Rect)
		toA := false
		switch {
		case dA < dB:
			toA = true
		case dB < dA:
			toA = false
		case mbrA.Area() != mbrB.Area():
			toA = mbrA.Area() < mbrB.Area()
		default:
			toA = countA <= countB
		}
		if toA {
			status[next] = assignOriginal
			mbrA.UnionInPlace(all[next].Rect)
			countA++
		} else {
			status[next] = assignSibling
			mbrB.UnionInPlace(all[next].Rect)
			countB++
		}
		remaining--
	}

	n.entries = n.entries[:0]
	for i := range all {
		switch status[i] {
		case assignOriginal:
			n.addEntry(all[i])
		case assignSibling:
			sibling.addEntry(all[i])
		}
	}
	n.recalculateMBR()

	if n.NumEntries() < t.cfg.MinNodeEntries || sibling.NumEntries() < t.cfg.MinNodeEntries {
		return nil, fmt.Errorf("%w: split of node %d produced groups of %d and %d entries",
			ErrInconsistent, n.id, n.NumEntries(), sibling.NumEntries())
	}

	if err := t.store.Put(n.id, n); err != nil {
		return nil, fmt.Errorf("failed to store split node %d: %w", n.id, err)
	}
	if err := t.store.Put(sibling.id, sibling); err != nil {
		return nil, fmt.Errorf("failed to store split sibling %d: %w", sibling.id, err)
	}
	t.logger.Debug("node split",
		zap.Int32("node_id", int32(n.id)),
		zap.Int32("sibling_id", int32(sibling.id)),
		zap.Int32("level", n.level),
		zap.Int("left_entries", n.NumEntries()),
		zap.Int("right_entries", sibling.NumEntries()))
	return sibling, nil
}

// pickSeeds selects the pair of entries that would waste the most area if
// placed in the same group: waste is the area of the pair's union minus both
// individual areas. The running maximum starts at -Inf so a valid, distinct
// pair is chosen even when every pairing has non-positive waste (degenerate
// rectangles, full overlap). Ties resolve to the first pair found.
func pickSeeds(all []Entry) (int, int) {
	seedA, seedB := 0, 1
	worst := math.Inf(-1)
	for i := 0; i < len(all); i++ {
		for j := i + 1; j < len(all); j++ {
			waste := all[i].Rect.union(all[j].Rect).Area() - all[i].Rect.Area() - all[j].Rect.Area()
			if waste > worst {
				worst = waste
				seedA, seedB = i, j
			}
		}
	}
	return seedA, seedB
}

package spatial

import "fmt"

// Intersects returns all data entries whose MBR intersects r. The traversal
// is recursive; depth is bounded by the tree height.
func (t *RTree) Intersects(r Rect) ([]Entry, error) {
	if err := t.validateRect(r); err != nil {
		return nil, err
	}
	return t.intersects(t.rootID, r, nil)
}

func (t *RTree) intersects(id NodeID, r Rect, acc []Entry) ([]Entry, error) {
	n, err := t.fetchNode(id)
	if err != nil {
		return nil, err
	}
	for _, e := range n.entries {
		if !e.Rect.Intersects(r) {
			continue
		}
		if n.IsLeaf() {
			acc = append(acc, Entry{ID: e.ID, Rect: e.Rect.Copy()})
		} else {
			acc, err = t.intersects(NodeID(e.ID), r, acc)
			if err != nil {
				return nil, err
			}
		}
	}
	return acc, nil
}

// Contains returns all data entries whose MBR is fully contained by r. The
// traversal uses an explicit stack, descending only into subtrees whose MBR
// intersects r (a necessary condition for containing any contained entry).
func (t *RTree) Contains(r Rect) ([]Entry, error) {
	if err := t.validateRect(r); err != nil {
		return nil, err
	}

	var results []Entry
	stack := []NodeID{t.rootID}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		n, err := t.fetchNode(id)
		if err != nil {
			return nil, err
		}
		for _, e := range n.entries {
			if n.IsLeaf() {
				if r.Contains(e.Rect) {
					results = append(results, Entry{ID: e.ID, Rect: e.Rect.Copy()})
				}
			} else if e.Rect.Intersects(r) {
				stack = append(stack, NodeID(e.ID))
			}
		}
	}
	return results, nil
}

// Nearest performs a branch-and-bound nearest-neighbour search from p,
// considering only entries within maxDistance. It returns every entry whose
// MBR achieves the minimum distance (ties are all retained), or an empty
// result when nothing lies within the bound.
func (t *RTree) Nearest(p Point, maxDistance float64) ([]Entry, error) {
	if err := t.validatePoint(p); err != nil {
		return nil, err
	}
	best := maxDistance
	var candidates []Entry
	if err := t.nearest(t.rootID, p, &best, &candidates); err != nil {
		return nil, err
	}
	return candidates, nil
}

func (t *RTree) nearest(id NodeID, p Point, best *float64, candidates *[]Entry) error {
	n, err := t.fetchNode(id)
	if err != nil {
		return err
	}
	for _, e := range n.entries {
		d := e.Rect.Distance(p)
		if d > *best {
			continue
		}
		if n.IsLeaf() {
			if d < *best {
				// Strictly closer: the previous candidate set is obsolete.
				*best = d
				*candidates = (*candidates)[:0]
			}
			*candidates = append(*candidates, Entry{ID: e.ID, Rect: e.Rect.Copy()})
		} else {
			if err := t.nearest(NodeID(e.ID), p, best, candidates); err != nil {
				return err
			}
		}
	}
	return nil
}

// LevelIterator walks all nodes at a single tree level in breadth-first
// order, without materializing the whole tree. Level 1 yields the leaves,
// level 2 the parents of leaves.
type LevelIterator struct {
	tree        *RTree
	targetLevel int32
	queue       []NodeID
	err         error
}

// NewLevelIterator creates an iterator over the nodes at the given level.
func (t *RTree) NewLevelIterator(level int32) (*LevelIterator, error) {
	if level < 1 || level > t.height {
		return nil, fmt.Errorf("level %d outside tree of height %d", level, t.height)
	}
	return &LevelIterator{
		tree:        t,
		targetLevel: level,
		queue:       []NodeID{t.rootID},
	}, nil
}

// Next returns the next node at the iterator's level, or nil when the
// traversal is exhausted.
func (it *LevelIterator) Next() (*Node, error) {
	if it.err != nil {
		return nil, it.err
	}
	for len(it.queue) > 0 {
		id := it.queue[0]
		it.queue = it.queue[1:]

		n, err := it.tree.fetchNode(id)
		if err != nil {
			it.err = err
			return nil, err
		}
		if n.level == it.targetLevel {
			return n, nil
		}
		if n.level > it.targetLevel {
			for _, e := range n.entries {
				it.queue = append(it.queue, NodeID(e.ID))
			}
		}
	}
	return nil, nil
}

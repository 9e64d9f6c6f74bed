package spatial

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// NodeID identifies an R-tree node inside a NodeStore. The tree owns id
// allocation: ids grow from 1 and reclaimed ids are reused from a free list.
type NodeID int32

const InvalidNodeID NodeID = 0

// Entry represents a single slot in an R-tree node. In a leaf node ID
// identifies an external data object; in an internal node it identifies a
// child node.
type Entry struct {
	ID   int64
	Rect Rect
}

// Node represents an R-tree node: a fixed-capacity page of entries with a
// cached minimum bounding rectangle. Level 1 nodes are leaves; the root sits
// at level == tree height. The cached MBR must always equal the union of the
// entries' rectangles.
type Node struct {
	id      NodeID
	level   int32
	entries []Entry
	mbr     Rect
}

// NewNode creates an empty node at the given level with capacity for
// maxEntries entries.
func NewNode(id NodeID, level int32, maxEntries int) *Node {
	return &Node{
		id:      id,
		level:   level,
		entries: make([]Entry, 0, maxEntries),
	}
}

func (n *Node) ID() NodeID          { return n.id }
func (n *Node) Level() int32        { return n.level }
func (n *Node) IsLeaf() bool        { return n.level == 1 }
func (n *Node) NumEntries() int     { return len(n.entries) }
func (n *Node) EntryAt(i int) Entry { return n.entries[i] }

// MBR returns the cached minimum bounding rectangle of the node's entries.
// The second return value is false for an empty node.
func (n *Node) MBR() (Rect, bool) {
	if len(n.entries) == 0 {
		return Rect{}, false
	}
	return n.mbr, true
}

// Entries returns a copy of the node's entry slice.
func (n *Node) Entries() []Entry {
	out := make([]Entry, len(n.entries))
	copy(out, n.entries)
	return out
}

// addEntry appends an entry and grows the cached MBR to cover it.
func (n *Node) addEntry(e Entry) {
	if len(n.entries) == 0 {
		n.mbr = e.Rect.Copy()
	} else {
		n.mbr.UnionInPlace(e.Rect)
	}
	n.entries = append(n.entries, e)
}

// removeEntryAt deletes the entry at index i, preserving order, and
// recomputes the cached MBR. Removal can shrink the MBR, so the cheap
// union-only update used by addEntry does not apply here.
func (n *Node) removeEntryAt(i int) {
	n.entries = append(n.entries[:i], n.entries[i+1:]...)
	n.recalculateMBR()
}

// setEntryRect replaces the rectangle of the entry at index i and recomputes
// the cached MBR.
func (n *Node) setEntryRect(i int, r Rect) {
	n.entries[i].Rect = r.Copy()
	n.recalculateMBR()
}

// recalculateMBR rebuilds the cached MBR from scratch.
func (n *Node) recalculateMBR() {
	if len(n.entries) == 0 {
		n.mbr = Rect{}
		return
	}
	n.mbr = n.entries[0].Rect.Copy()
	for i := 1; i < len(n.entries); i++ {
		n.mbr.UnionInPlace(n.entries[i].Rect)
	}
}

// clone returns a deep copy of the node.
func (n *Node) clone() *Node {
	c := &Node{
		id:      n.id,
		level:   n.level,
		entries: make([]Entry, len(n.entries), cap(n.entries)),
	}
	for i, e := range n.entries {
		c.entries[i] = Entry{ID: e.ID, Rect: e.Rect.Copy()}
	}
	if len(n.entries) > 0 {
		c.mbr = n.mbr.Copy()
	}
	return c
}

// serialize converts the node into a byte slice for persistence.
// Format (little-endian):
// - NodeID (int32)
// - Level (int32)
// - Dimensions (int32)
// - Number of Entries (int32)
// - For each entry:
//   - ID (int64)
//   - Min coordinates (Dimensions x float64)
//   - Max coordinates (Dimensions x float64)
func (n *Node) serialize() ([]byte, error) {
	buf := new(bytes.Buffer)

	dims := int32(0)
	if len(n.entries) > 0 {
		dims = int32(n.entries[0].Rect.Dims())
	}

	if err := binary.Write(buf, binary.LittleEndian, int32(n.id)); err != nil {
		return nil, fmt.Errorf("failed to write node id: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, n.level); err != nil {
		return nil, fmt.Errorf("failed to write node level: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, dims); err != nil {
		return nil, fmt.Errorf("failed to write node dimensions: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, int32(len(n.entries))); err != nil {
		return nil, fmt.Errorf("failed to write entry count: %w", err)
	}

	for i, e := range n.entries {
		if err := binary.Write(buf, binary.LittleEndian, e.ID); err != nil {
			return nil, fmt.Errorf("failed to write entry %d id: %w", i, err)
		}
		for d := 0; d < int(dims); d++ {
			if err := binary.Write(buf, binary.LittleEndian, e.Rect.Min[d]); err != nil {
				return nil, fmt.Errorf("failed to write entry %d min[%d]: %w", i, d, err)
			}
		}
		for d := 0; d < int(dims); d++ {
			if err := binary.Write(buf, binary.LittleEndian, e.Rect.Max[d]); err != nil {
				return nil, fmt.Errorf("failed to write entry %d max[%d]: %w", i, d, err)
			}
		}
	}
	return buf.Bytes(), nil
}

// deserializeNode loads a node from its serialized form.
func deserializeNode(data []byte, maxEntries int) (*Node, error) {
	reader := bytes.NewReader(data)

	var id, level, dims, numEntries int32
	if err := binary.Read(reader, binary.LittleEndian, &id); err != nil {
		return nil, fmt.Errorf("failed to read node id: %w", err)
	}
	if err := binary.Read(reader, binary.LittleEndian, &level); err != nil {
		return nil, fmt.Errorf("failed to read node level: %w", err)
	}
	if err := binary.Read(reader, binary.LittleEndian, &dims); err != nil {
		return nil, fmt.Errorf("failed to read node dimensions: %w", err)
	}
	if err := binary.Read(reader, binary.LittleEndian, &numEntries); err != nil {
		return nil, fmt.Errorf("failed to read entry count: %w", err)
	}
	if numEntries < 0 || (maxEntries > 0 && int(numEntries) > maxEntries) {
		return nil, fmt.Errorf("entry count %d out of range", numEntries)
	}

	n := NewNode(NodeID(id), level, maxEntries)
	for i := 0; i < int(numEntries); i++ {
		var e Entry
		if err := binary.Read(reader, binary.LittleEndian, &e.ID); err != nil {
			return nil, fmt.Errorf("failed to read entry %d id: %w", i, err)
		}
		e.Rect = Rect{Min: make([]float64, dims), Max: make([]float64, dims)}
		for d := 0; d < int(dims); d++ {
			if err := binary.Read(reader, binary.LittleEndian, &e.Rect.Min[d]); err != nil {
				return nil, fmt.Errorf("failed to read entry %d min[%d]: %w", i, d, err)
			}
		}
		for d := 0; d < int(dims); d++ {
			if err := binary.Read(reader, binary.LittleEndian, &e.Rect.Max[d]); err != nil {
				return nil, fmt.Errorf("failed to read entry %d max[%d]: %w", i, d, err)
			}
		}
		n.addEntry(e)
	}
	return n, nil
}

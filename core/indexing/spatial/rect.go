package spatial

import (
	"fmt"
	"math"
)

// Point is a coordinate vector. It is used as the query argument for
// nearest-neighbour searches.
type Point []float64

// Rect represents an axis-aligned Minimum Bounding Rectangle (MBR) with one
// min/max pair per dimension. Invariant: Min[i] <= Max[i] for every i.
type Rect struct {
	Min []float64
	Max []float64
}

// NewRect builds a Rect from min/max coordinate slices. The slices are copied.
func NewRect(min, max []float64) (Rect, error) {
	if len(min) != len(max) {
		return Rect{}, fmt.Errorf("min has %d dimensions, max has %d", len(min), len(max))
	}
	if len(min) == 0 {
		return Rect{}, fmt.Errorf("rectangle must have at least one dimension")
	}
	for i := range min {
		if min[i] > max[i] {
			return Rect{}, fmt.Errorf("min[%d]=%g exceeds max[%d]=%g", i, min[i], i, max[i])
		}
	}
	r := Rect{Min: make([]float64, len(min)), Max: make([]float64, len(max))}
	copy(r.Min, min)
	copy(r.Max, max)
	return r, nil
}

// Dims returns the number of dimensions of the rectangle.
func (r Rect) Dims() int { return len(r.Min) }

// Copy returns a rectangle that shares no storage with the receiver.
func (r Rect) Copy() Rect {
	c := Rect{Min: make([]float64, len(r.Min)), Max: make([]float64, len(r.Max))}
	copy(c.Min, r.Min)
	copy(c.Max, r.Max)
	return c
}

// Equal reports whether both rectangles have identical coordinates.
func (r Rect) Equal(other Rect) bool {
	if len(r.Min) != len(other.Min) {
		return false
	}
	for i := range r.Min {
		if r.Min[i] != other.Min[i] || r.Max[i] != other.Max[i] {
			return false
		}
	}
	return true
}

// Area calculates the area (hyper-volume) of the rectangle.
func (r Rect) Area() float64 {
	area := 1.0
	for i := range r.Min {
		area *= r.Max[i] - r.Min[i]
	}
	return area
}

// Enlargement calculates the increase in area required for this rectangle to
// absorb the other rectangle.
func (r Rect) Enlargement(other Rect) float64 {
	union := 1.0
	for i := range r.Min {
		union *= math.Max(r.Max[i], other.Max[i]) - math.Min(r.Min[i], other.Min[i])
	}
	return union - r.Area()
}

// Intersects checks if two rectangles overlap, boundaries included.
func (r Rect) Intersects(other Rect) bool {
	for i := range r.Min {
		if r.Min[i] > other.Max[i] || r.Max[i] < other.Min[i] {
			return false
		}
	}
	return true
}

// Contains checks if the rectangle fully contains the other rectangle.
func (r Rect) Contains(other Rect) bool {
	for i := range r.Min {
		if r.Min[i] > other.Min[i] || r.Max[i] < other.Max[i] {
			return false
		}
	}
	return true
}

// Distance returns the Euclidean distance from the point to the nearest
// boundary of the rectangle, or 0 if the point lies inside it.
func (r Rect) Distance(p Point) float64 {
	sum := 0.0
	for i := range r.Min {
		if p[i] < r.Min[i] {
			d := r.Min[i] - p[i]
			sum += d * d
		} else if p[i] > r.Max[i] {
			d := p[i] - r.Max[i]
			sum += d * d
		}
	}
	return math.Sqrt(sum)
}

// UnionInPlace grows the rectangle to the minimum bounding rectangle of
// itself and the other rectangle.
func (r *Rect) UnionInPlace(other Rect) {
	for i := range r.Min {
		if other.Min[i] < r.Min[i] {
			r.Min[i] = other.Min[i]
		}
		if other.Max[i] > r.Max[i] {
			r.Max[i] = other.Max[i]
		}
	}
}

// union returns the MBR enclosing both rectangles.
func (r Rect) union(other Rect) Rect {
	u := r.Copy()
	u.UnionInPlace(other)
	return u
}

func (r Rect) String() string {
	return fmt.Sprintf("Rect(min=%v, max=%v)", r.Min, r.Max)
}

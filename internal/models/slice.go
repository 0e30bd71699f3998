package models

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"
)

// Point3D is a position in the patient coordinate system (mm), or an
// (i, j, k) triple when working in index space.
type Point3D r3.Vec

// Vec returns the point as a gonum vector for use with the r3 functions
func (p Point3D) Vec() r3.Vec { return r3.Vec(p) }

// FromVec converts a gonum vector back into a point
func FromVec(v r3.Vec) Point3D { return Point3D(v) }

// ApproxEqual reports whether every coordinate of p and q differs by at
// most eps.
func (p Point3D) ApproxEqual(q Point3D, eps float64) bool {
	return math.Abs(p.X-q.X) <= eps && math.Abs(p.Y-q.Y) <= eps && math.Abs(p.Z-q.Z) <= eps
}

// Contour is an ordered polygon of points. It is implicitly closed and never
// stores the closing duplicate of its first point.
type Contour []Point3D

// Clone returns a copy that shares no memory with c
func (c Contour) Clone() Contour {
	out := make(Contour, len(c))
	copy(out, c)
	return out
}

// CanEnclose reports whether the contour has enough points to bound an area
func (c Contour) CanEnclose() bool { return len(c) >= 3 }

// SliceContours maps an imaged slice index to the contours drawn on it.
// Slices without contours may be missing or hold an empty list.
type SliceContours map[int][]Contour

// Indices returns the slice indices holding at least one contour, ascending
func (s SliceContours) Indices() []int {
	inds := make([]int, 0, len(s))
	for k, contours := range s {
		if len(contours) > 0 {
			inds = append(inds, k)
		}
	}
	sort.Ints(inds)
	return inds
}

// Count returns the total number of contours over all slices
func (s SliceContours) Count() int {
	n := 0
	for _, contours := range s {
		n += len(contours)
	}
	return n
}

// Clone deep-copies the slice map and every contour in it
func (s SliceContours) Clone() SliceContours {
	out := make(SliceContours, len(s))
	for k, contours := range s {
		cp := make([]Contour, len(contours))
		for i, c := range contours {
			cp[i] = c.Clone()
		}
		out[k] = cp
	}
	return out
}

// ContourSet is the principal aggregate: ROI number -> slice -> contours
type ContourSet map[int]SliceContours

// ROINumbers returns the ROI numbers of the set in ascending order
func (cs ContourSet) ROINumbers() []int {
	nums := make([]int, 0, len(cs))
	for n := range cs {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums
}

// Clone deep-copies the set
func (cs ContourSet) Clone() ContourSet {
	out := make(ContourSet, len(cs))
	for n, s := range cs {
		out[n] = s.Clone()
	}
	return out
}

// ROI describes a region of interest of a structure set
type ROI struct {
	// Number is the ROI Number used as the ContourSet key
	Number int

	// Name is the user facing ROI Name
	Name string

	// FrameOfReferenceUID is the frame the contours were drawn in
	FrameOfReferenceUID string
}

// ContourType records how the contours of a slice came to exist
type ContourType int

const (
	// NoContour marks a slice without contours
	NoContour ContourType = iota
	// Original marks contours taken from the input ROI Collection
	Original
	// Interpolated marks contours produced between two known slices
	Interpolated
	// Mapped marks contours reconstructed from sweep-curve intersections
	Mapped
	// Projected marks contours built by projecting transformed nodes onto
	// the nearest target plane
	Projected
)

func (t ContourType) String() string {
	switch t {
	case NoContour:
		return "none"
	case Original:
		return "original"
	case Interpolated:
		return "interpolated"
	case Mapped:
		return "mapped"
	case Projected:
		return "projected"
	default:
		return "unknown"
	}
}

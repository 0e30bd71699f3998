// Package sweep reconstructs contours on an arbitrary stack of planes from
// a sequence of node-aligned contours. Node p of every contour is joined
// into a sweep curve; the piecewise-linear sweep curves are then cut by
// each plane of the stack.
package sweep

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/spatial/r3"

	"roitransfer/internal/models"
	"roitransfer/pkg/geometry"
)

// ErrUnequalContourLengths is returned when the contours to sweep do not
// share a node count
var ErrUnequalContourLengths = errors.New("sweep: contours have unequal node counts")

// duplicateEpsilon is the distance below which two hit polygons count as
// the same contour
const duplicateEpsilon = 1e-9

// planeEpsilon is the distance in mm within which a sweep node lies on a
// plane
const planeEpsilon = 1e-6

// PlaneStack is an ordered set of parallel planes sharing one unit normal.
// Plane k passes through Points[k] if Points is set, else through
// Origin + k*Spacing*Normal.
type PlaneStack struct {
	Normal  models.Point3D
	Origin  models.Point3D
	Spacing float64
	Count   int

	Points []models.Point3D
}

// NewPlaneStack returns count evenly spaced planes
func NewPlaneStack(normal, origin models.Point3D, spacing float64, count int) PlaneStack {
	return PlaneStack{
		Normal:  models.FromVec(r3.Unit(normal.Vec())),
		Origin:  origin,
		Spacing: spacing,
		Count:   count,
	}
}

// PlaneStackFromGeometry returns the slice planes of an image series
func PlaneStackFromGeometry(g models.ImageGeometry) PlaneStack {
	s := NewPlaneStack(g.SliceDirection, g.Origin, g.VoxelSize.Z, g.Depth)
	if len(g.SlicePositions) > 0 {
		s.Points = append([]models.Point3D(nil), g.SlicePositions...)
		s.Count = len(s.Points)
	}
	return s
}

// Len returns the number of planes
func (s PlaneStack) Len() int {
	if len(s.Points) > 0 {
		return len(s.Points)
	}
	return s.Count
}

// Plane returns plane k
func (s PlaneStack) Plane(k int) geometry.Plane {
	if len(s.Points) > 0 {
		return geometry.Plane{Normal: s.Normal, Point: s.Points[k]}
	}
	offset := r3.Scale(float64(k)*s.Spacing, s.Normal.Vec())
	return geometry.Plane{Normal: s.Normal, Point: models.FromVec(r3.Add(s.Origin.Vec(), offset))}
}

// Nearest returns the index of the plane closest to p. ok is false when the
// nearest plane index falls outside the stack.
func (s PlaneStack) Nearest(p models.Point3D) (int, bool) {
	n := s.Len()
	if n == 0 {
		return 0, false
	}

	if len(s.Points) == 0 {
		if s.Spacing == 0 {
			return 0, false
		}
		d := r3.Dot(r3.Sub(p.Vec(), s.Origin.Vec()), s.Normal.Vec())
		k := int(math.Round(d / s.Spacing))
		return k, k >= 0 && k < n
	}

	best, bestDist := 0, math.Inf(1)
	for k := range s.Points {
		if d := math.Abs(geometry.DistancePointToPlane(s.Plane(k), p)); d < bestDist {
			best, bestDist = k, d
		}
	}

	if n == 1 {
		return best, true
	}

	// More than half a neighbour gap beyond the outer planes is outside
	switch best {
	case 0:
		gap := math.Abs(geometry.DistancePointToPlane(s.Plane(1), s.Points[0]))
		return best, bestDist <= gap/2
	case n - 1:
		gap := math.Abs(geometry.DistancePointToPlane(s.Plane(n-2), s.Points[n-1]))
		return best, bestDist <= gap/2
	}
	return best, true
}

// Policy decides which line/plane intersections are accepted
type Policy struct {
	// Tolerant also accepts intersections off the segment, provided the
	// plane lies within MaxDistToPts of either endpoint along the normal
	Tolerant     bool
	MaxDistToPts float64
}

// Strict accepts only intersections within the segment
func Strict() Policy {
	return Policy{}
}

// Tolerant accepts intersections within maxDistToPts of either endpoint
func Tolerant(maxDistToPts float64) Policy {
	return Policy{Tolerant: true, MaxDistToPts: maxDistToPts}
}

func (p Policy) String() string {
	if p.Tolerant {
		return fmt.Sprintf("tolerant(%g)", p.MaxDistToPts)
	}
	return "strict"
}

func (p Policy) accepts(plane geometry.Plane, p0, p1 models.Point3D, x geometry.Intersection) bool {
	if x.OnSegment {
		return true
	}
	if !p.Tolerant {
		return false
	}
	return math.Abs(geometry.DistancePointToPlane(plane, p0)) < p.MaxDistToPts ||
		math.Abs(geometry.DistancePointToPlane(plane, p1)) < p.MaxDistToPts
}

// BuildSweepCurves transposes C aligned contours of P nodes each into P
// sweep curves of C nodes: sweeps[p][c] = aligned[c][p]
func BuildSweepCurves(aligned [][]models.Point3D) ([][]models.Point3D, error) {
	if len(aligned) == 0 {
		return nil, nil
	}

	nodes := len(aligned[0])
	for c, contour := range aligned {
		if len(contour) != nodes {
			return nil, fmt.Errorf("%w: contour %d has %d nodes, expected %d",
				ErrUnequalContourLengths, c, len(contour), nodes)
		}
	}

	sweeps := make([][]models.Point3D, nodes)
	for p := range sweeps {
		sweeps[p] = make([]models.Point3D, len(aligned))
		for c := range aligned {
			sweeps[p][c] = aligned[c][p]
		}
	}
	return sweeps, nil
}

// Hit is the polygon cut from one plane by segment Pair of every sweep
// curve. Params[i] is the line parameter of Points[i] along its segment.
type Hit struct {
	Pair   int
	Points models.Contour
	Params []float64
}

// OnSegment reports whether every node lies within its segment
func (h Hit) OnSegment() bool {
	for _, t := range h.Params {
		if t < 0 || t > 1 {
			return false
		}
	}
	return true
}

// AtUpper reports whether every node is the upper end of its segment, so
// the polygon is the upper contour of the pair
func (h Hit) AtUpper() bool {
	for _, t := range h.Params {
		if t != 1 {
			return false
		}
	}
	return len(h.Params) > 0
}

// Reach returns how far, in units of segment length, the furthest node lies
// beyond its segment. It is 0 for on-segment hits.
func (h Hit) Reach() float64 {
	var reach float64
	for _, t := range h.Params {
		reach = math.Max(reach, math.Max(-t, t-1))
	}
	return reach
}

// PlaneHits holds the sweep intersections grouped by plane, then by the
// pair of consecutive contours whose sweep segments produced them
type PlaneHits struct {
	// Hits[k][c] is where segment c of every sweep curve meets plane k
	Hits [][]Hit
}

// Len returns the number of planes
func (h PlaneHits) Len() int {
	return len(h.Hits)
}

// Contours returns the polygons selected on plane k
func (h PlaneHits) Contours(k int) []models.Contour {
	if k < 0 || k >= len(h.Hits) {
		return nil
	}
	return Select(h.Hits[k])
}

// Type returns Mapped for planes holding a contour, NoContour otherwise
func (h PlaneHits) Type(k int) models.ContourType {
	if len(h.Contours(k)) > 0 {
		return models.Mapped
	}
	return models.NoContour
}

// Select picks the contours of one plane from the hits of any number of
// pairs. Hits with fewer than three nodes are ignored. On-segment hits win;
// without any, only the hits reaching least far beyond their segments are
// kept. A contour produced by several pairs, such as a contour lying on the
// plane, is returned once.
func Select(hits []Hit) []models.Contour {
	var exact, near []Hit
	for _, h := range hits {
		if !h.Points.CanEnclose() {
			continue
		}
		if h.OnSegment() {
			exact = append(exact, h)
		} else {
			near = append(near, h)
		}
	}

	chosen := exact
	if len(chosen) == 0 && len(near) > 0 {
		best := math.Inf(1)
		for _, h := range near {
			best = math.Min(best, h.Reach())
		}
		for _, h := range near {
			if h.Reach() <= best+duplicateEpsilon {
				chosen = append(chosen, h)
			}
		}
	}

	var out []models.Contour
	for _, h := range chosen {
		if slices.ContainsFunc(out, func(o models.Contour) bool { return SameContour(o, h.Points) }) {
			continue
		}
		out = append(out, h.Points.Clone())
	}
	return out
}

// SameContour reports whether a and b hold the same nodes in the same order
func SameContour(a, b []models.Point3D) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].ApproxEqual(b[i], duplicateEpsilon) {
			return false
		}
	}
	return true
}

// intersect cuts segment p0-p1 with plane. An endpoint within planeEpsilon
// of the plane is returned as is, with p0 taking precedence.
func intersect(plane geometry.Plane, p0, p1 models.Point3D) (geometry.Intersection, bool, error) {
	if math.Abs(geometry.DistancePointToPlane(plane, p0)) <= planeEpsilon {
		return geometry.Intersection{Point: p0, T: 0, OnSegment: true}, true, nil
	}
	if math.Abs(geometry.DistancePointToPlane(plane, p1)) <= planeEpsilon {
		return geometry.Intersection{Point: p1, T: 1, OnSegment: true}, true, nil
	}
	return geometry.LinePlaneIntersection(plane, p0, p1, false)
}

// IntersectWithPlanes cuts every segment of every sweep curve with every
// plane of the stack. Segments parallel to the planes are skipped.
func IntersectWithPlanes(sweeps [][]models.Point3D, stack PlaneStack, policy Policy) (PlaneHits, error) {
	hits := PlaneHits{Hits: make([][]Hit, stack.Len())}
	if len(sweeps) == 0 {
		return hits, nil
	}

	contours := len(sweeps[0])
	for p, s := range sweeps {
		if len(s) != contours {
			return PlaneHits{}, fmt.Errorf("%w: sweep %d has %d nodes, expected %d",
				ErrUnequalContourLengths, p, len(s), contours)
		}
	}
	if contours < 2 {
		return hits, nil
	}

	for k := range hits.Hits {
		plane := stack.Plane(k)
		hits.Hits[k] = make([]Hit, contours-1)

		for c := 0; c < contours-1; c++ {
			hit := &hits.Hits[k][c]
			hit.Pair = c
			for _, s := range sweeps {
				p0, p1 := s[c], s[c+1]
				x, ok, err := intersect(plane, p0, p1)
				if errors.Is(err, geometry.ErrParallel) {
					continue
				}
				if err != nil {
					return PlaneHits{}, err
				}
				if ok && policy.accepts(plane, p0, p1, x) {
					hit.Points = append(hit.Points, x.Point)
					hit.Params = append(hit.Params, x.T)
				}
			}
		}
	}
	return hits, nil
}

// Package geometry provides the stateless vector and plane primitives used
// by contour resampling, interpolation and sweep reconstruction.
package geometry

import (
	"errors"
	"fmt"
	"math"

	"github.com/mkmik/argsort"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"

	"roitransfer/internal/models"
)

// ParallelEpsilon is the threshold below which a line direction is taken
// to be parallel to a plane
const ParallelEpsilon = 1e-6

// hullEpsilon is the extent below which the hull is flat along an axis
const hullEpsilon = 1e-9

// flatTolerance is the distance in mm within which a point lies on a flat
// hull
const flatTolerance = 1e-6

var (
	// ErrDegenerateHull is returned when too few vertices are given to span
	// the hull they lie in
	ErrDegenerateHull = errors.New("geometry: degenerate hull")

	// ErrDimensionMismatch is returned when two points do not share a
	// dimension of 2 or 3
	ErrDimensionMismatch = errors.New("geometry: dimension mismatch")

	// ErrParallel is returned when a line does not cross a plane
	ErrParallel = errors.New("geometry: line is parallel to plane")
)

// Plane is defined by a normal and any point lying on it. The normal is
// expected to be of unit length; it is never normalized here.
type Plane struct {
	Normal models.Point3D
	Point  models.Point3D
}

// Intersection is the point where a line meets a plane
type Intersection struct {
	// Point is the intersection in the coordinate system of the inputs
	Point models.Point3D

	// T is the line parameter of Point
	T float64

	// OnSegment reports whether T lies within [0, 1]
	OnSegment bool
}

// VectorLength returns the Euclidean distance between two 2D or 3D points
func VectorLength(p0, p1 []float64) (float64, error) {
	if len(p0) != len(p1) || (len(p0) != 2 && len(p0) != 3) {
		return 0, fmt.Errorf("%w: %d and %d", ErrDimensionMismatch, len(p0), len(p1))
	}

	var sum float64
	for i := range p0 {
		d := p1[i] - p0[i]
		sum += d * d
	}
	return math.Sqrt(sum), nil
}

// Distance returns the Euclidean distance between two 3D points
func Distance(p0, p1 models.Point3D) float64 {
	return r3.Norm(r3.Sub(p1.Vec(), p0.Vec()))
}

// DistancePointToPlane returns the signed distance of p from the plane
func DistancePointToPlane(plane Plane, p models.Point3D) float64 {
	return r3.Dot(r3.Sub(p.Vec(), plane.Point.Vec()), plane.Normal.Vec())
}

// LinePlaneIntersection finds where the line through p0 and p1 crosses the
// plane. When mustBeOnSegment is set and the crossing lies outside the
// segment, ok is false and no error is returned.
func LinePlaneIntersection(plane Plane, p0, p1 models.Point3D, mustBeOnSegment bool) (Intersection, bool, error) {
	dir := r3.Sub(p1.Vec(), p0.Vec())

	x, ok, err := VectorPlaneIntersection(plane, p0, models.FromVec(dir), mustBeOnSegment)
	if err != nil || !ok {
		return x, ok, err
	}

	// Return the exact endpoints rather than p0 + 1*(p1-p0)
	switch x.T {
	case 0:
		x.Point = p0
	case 1:
		x.Point = p1
	}
	return x, true, nil
}

// VectorPlaneIntersection finds where the line point + t*direction crosses
// the plane. The segment is t in [0, 1].
func VectorPlaneIntersection(plane Plane, point, direction models.Point3D, mustBeOnSegment bool) (Intersection, bool, error) {
	n := plane.Normal.Vec()
	denom := r3.Dot(n, direction.Vec())
	if math.Abs(denom) < ParallelEpsilon {
		return Intersection{}, false, ErrParallel
	}

	t := r3.Dot(n, r3.Sub(plane.Point.Vec(), point.Vec())) / denom
	onSegment := t >= 0 && t <= 1
	if mustBeOnSegment && !onSegment {
		return Intersection{}, false, nil
	}

	p := r3.Add(point.Vec(), r3.Scale(t, direction.Vec()))
	return Intersection{Point: models.FromVec(p), T: t, OnSegment: onSegment}, true, nil
}

// IsPointInPolygon reports whether point lies inside the convex hull of
// vertices. The hull is never built explicitly: the point is inside when it
// is a convex combination of the vertices, which is a linear feasibility
// problem. The test runs in the principal axes of the vertices, so a hull
// that is flat along any direction, such as a single oblique slice, is
// handled like an axis-aligned one.
func IsPointInPolygon(point models.Point3D, vertices []models.Point3D) (bool, error) {
	if len(vertices) == 0 {
		return false, nil
	}

	n := len(vertices)
	centre := Centroid(vertices).Vec()
	centred := mat.NewDense(n, 3, nil)
	for i, v := range vertices {
		d := r3.Sub(v.Vec(), centre)
		centred.SetRow(i, []float64{d.X, d.Y, d.Z})
	}
	var svd mat.SVD
	if !svd.Factorize(centred, mat.SVDFull) {
		return false, fmt.Errorf("convex hull test failed: no principal axes for %d vertices", n)
	}
	var axes mat.Dense
	svd.VTo(&axes)

	q := r3.Sub(point.Vec(), centre)
	coord := func(v r3.Vec, d int) float64 {
		return v.X*axes.At(0, d) + v.Y*axes.At(1, d) + v.Z*axes.At(2, d)
	}

	// Rows: one per axis the vertices actually span, plus the sum-to-one
	// constraint. Columns: one weight per vertex. A flat axis would make
	// the system singular, so it becomes a direct comparison instead.
	var dims []int
	for d := 0; d < 3; d++ {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, v := range vertices {
			x := coord(r3.Sub(v.Vec(), centre), d)
			lo = math.Min(lo, x)
			hi = math.Max(hi, x)
		}
		if hi-lo > hullEpsilon {
			dims = append(dims, d)
			continue
		}
		if math.Abs(coord(q, d)-(lo+hi)/2) > flatTolerance {
			return false, nil
		}
	}

	m := len(dims) + 1
	if m > n {
		return false, fmt.Errorf("%w: %d vertices span %d dimensions", ErrDegenerateHull, n, len(dims))
	}

	a := mat.NewDense(m, n, nil)
	b := make([]float64, m)
	for r, d := range dims {
		for i, v := range vertices {
			a.Set(r, i, coord(r3.Sub(v.Vec(), centre), d))
		}
		b[r] = coord(q, d)
	}
	for i := range vertices {
		a.Set(m-1, i, 1)
	}
	b[m-1] = 1
	c := make([]float64, n)

	_, _, err := lp.Simplex(c, a, b, 1e-10, nil)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, lp.ErrInfeasible) {
		return false, nil
	}
	return false, fmt.Errorf("convex hull test failed: %w", err)
}

// Centroid returns the arithmetic mean of the points
func Centroid(points []models.Point3D) models.Point3D {
	if len(points) == 0 {
		return models.Point3D{}
	}

	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	zs := make([]float64, len(points))
	for i, p := range points {
		xs[i], ys[i], zs[i] = p.X, p.Y, p.Z
	}
	return models.Point3D{X: stat.Mean(xs, nil), Y: stat.Mean(ys, nil), Z: stat.Mean(zs, nil)}
}

// ClockwiseOrder sorts points around their centroid by clockwise polar angle
// measured from the (0, 1) direction in the x-y plane. Points at equal angle
// are ordered by ascending distance from the centroid.
func ClockwiseOrder(points []models.Point3D) []models.Point3D {
	origin := Centroid(points)

	type key struct {
		angle, length float64
	}
	keys := make([]key, len(points))
	for i, p := range points {
		keys[i].angle, keys[i].length = clockwiseAngleAndDistance(origin, p)
	}

	// The index tiebreak keeps coincident points in input order
	idx := argsort.SortSlice(keys, func(i, j int) bool {
		if keys[i].angle != keys[j].angle {
			return keys[i].angle < keys[j].angle
		}
		if keys[i].length != keys[j].length {
			return keys[i].length < keys[j].length
		}
		return i < j
	})

	out := make([]models.Point3D, len(points))
	for i, k := range idx {
		out[i] = points[k]
	}
	return out
}

// clockwiseAngleAndDistance returns the clockwise angle in [0, 2pi) of p
// around origin, starting from the +y direction, and its distance. The
// origin itself sorts first.
func clockwiseAngleAndDistance(origin, p models.Point3D) (float64, float64) {
	vx, vy := p.X-origin.X, p.Y-origin.Y
	length := math.Hypot(vx, vy)
	if length == 0 {
		return -math.Pi, 0
	}

	nx, ny := vx/length, vy/length
	const refX, refY = 0.0, 1.0
	dot := nx*refX + ny*refY
	diff := refY*nx - refX*ny
	angle := math.Atan2(diff, dot)
	if angle < 0 {
		angle += 2 * math.Pi
	}
	return angle, length
}

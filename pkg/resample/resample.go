// Package resample turns raw polygons into super-sampled and over-sampled
// node sequences so that two contours of unequal length can be paired node
// for node.
//
// A contour is first closed and oriented clockwise. Extra nodes are then
// spread evenly along its perimeter until a minimum node spacing is met,
// while an originality mask keeps track of which nodes came from the input.
// Two such contours are aligned by the cyclic shift that minimises the total
// length of the lines joining corresponding nodes (the area of the surface
// they span), and finally every node that is synthetic in both contours is
// dropped again.
package resample

import (
	"errors"
	"fmt"
	"math"

	"github.com/mkmik/argsort"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"

	"roitransfer/internal/models"
	"roitransfer/pkg/geometry"
)

var (
	// ErrInsufficientPoints is returned for polygons with fewer than three
	// distinct points
	ErrInsufficientPoints = errors.New("resample: polygon has fewer than 3 points")

	// ErrDegeneratePerimeter is returned when a polygon has zero perimeter
	ErrDegeneratePerimeter = errors.New("resample: polygon has zero perimeter")

	// ErrPrecisionInvariant signals inputs that earlier resampling stages
	// should have made equal in length
	ErrPrecisionInvariant = errors.New("resample: node sequences differ in length")
)

// isClosed reports whether the last point repeats the first
func isClosed(points []models.Point3D) bool {
	return len(points) > 1 && points[0] == points[len(points)-1]
}

// CloseContour returns a copy of points with the first point appended to
// the end. Already closed input is copied unchanged, so the operation is
// idempotent.
func CloseContour(points []models.Point3D) ([]models.Point3D, error) {
	distinct := len(points)
	if isClosed(points) {
		distinct--
	}
	if distinct < 3 {
		return nil, fmt.Errorf("%w: got %d", ErrInsufficientPoints, distinct)
	}

	out := make([]models.Point3D, len(points), len(points)+1)
	copy(out, points)
	if !isClosed(out) {
		out = append(out, points[0])
	}
	return out, nil
}

// OrientationChecksum returns sum (x_j - meanX)(y_k - y_i) with j = i+1 and
// k = i+2 taken cyclically. It is twice the signed area of the polygon and
// positive for counter-clockwise point order.
func OrientationChecksum(points []models.Point3D) float64 {
	n := len(points)
	if n == 0 {
		return 0
	}

	var meanX float64
	for _, p := range points {
		meanX += p.X
	}
	meanX /= float64(n)

	var sum float64
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		k := (i + 2) % n
		sum += (points[j].X - meanX) * (points[k].Y - points[i].Y)
	}
	return sum
}

// EnsureClockwise returns a copy of points in clockwise order. A checksum
// of exactly zero counts as clockwise.
func EnsureClockwise(points []models.Point3D) []models.Point3D {
	out := make([]models.Point3D, len(points))
	if OrientationChecksum(points) > 0 {
		for i, p := range points {
			out[len(points)-1-i] = p
		}
		return out
	}
	copy(out, points)
	return out
}

// CumulativePerimeters returns the running perimeter at every point,
// starting from 0
func CumulativePerimeters(points []models.Point3D) []float64 {
	if len(points) == 0 {
		return nil
	}

	segments := make([]float64, len(points))
	for i := 1; i < len(points); i++ {
		segments[i] = geometry.Distance(points[i-1], points[i])
	}
	return floats.CumSum(make([]float64, len(points)), segments)
}

// Normalize divides cumulative perimeters by the total perimeter so that
// the first entry is 0 and the last is exactly 1
func Normalize(cumPerimeters []float64) ([]float64, error) {
	if len(cumPerimeters) == 0 {
		return nil, ErrDegeneratePerimeter
	}
	total := cumPerimeters[len(cumPerimeters)-1]
	if total <= 0 {
		return nil, ErrDegeneratePerimeter
	}

	out := make([]float64, len(cumPerimeters))
	copy(out, cumPerimeters)
	floats.Scale(1/total, out)
	out[len(out)-1] = 1
	return out, nil
}

// MinNodeCountForSpacing returns the number of nodes needed so that nodes
// spread along a perimeter are no further than dP apart
func MinNodeCountForSpacing(totalPerimeter, dP float64) int {
	return int(math.Ceil(totalPerimeter / dP))
}

// SuperSampledCumulativePositions returns nodesToAdd-2 evenly spaced
// positions strictly inside (0, 1) followed by the original normalized
// positions. The list is deliberately unsorted; see
// SortBySupersampledPosition.
func SuperSampledCumulativePositions(normCumPerimeters []float64, nodesToAdd int) []float64 {
	added := nodesToAdd - 2
	if added < 0 {
		added = 0
	}

	out := make([]float64, 0, added+len(normCumPerimeters))
	for i := 1; i <= added; i++ {
		out = append(out, float64(i)/float64(nodesToAdd-1))
	}
	return append(out, normCumPerimeters...)
}

// OriginalityMask pairs with SuperSampledCumulativePositions: nodesToAdd-2
// false entries followed by existingPointCount true entries
func OriginalityMask(existingPointCount, nodesToAdd int) []bool {
	added := nodesToAdd - 2
	if added < 0 {
		added = 0
	}

	mask := make([]bool, added+existingPointCount)
	for i := added; i < len(mask); i++ {
		mask[i] = true
	}
	return mask
}

// SortResult is the outcome of SortBySupersampledPosition
type SortResult struct {
	// Order holds the indices that sort the positions
	Order []int

	// SortedMask is the originality mask in sorted order
	SortedMask []bool

	// OriginalIndices are the sorted positions of the original nodes
	OriginalIndices []int

	// NodesPerSegment is the index gap between consecutive original nodes,
	// i.e. one more than the number of nodes to insert in each segment
	NodesPerSegment []int
}

// SortBySupersampledPosition stable-sorts positions ascending and derives
// how many nodes fall into each original segment
func SortBySupersampledPosition(positions []float64, mask []bool) (SortResult, error) {
	if len(positions) != len(mask) {
		return SortResult{}, fmt.Errorf("%w: %d positions, %d mask entries",
			ErrPrecisionInvariant, len(positions), len(mask))
	}

	// The index tiebreak makes the ordering total, hence stable
	order := argsort.SortSlice(positions, func(i, j int) bool {
		if positions[i] != positions[j] {
			return positions[i] < positions[j]
		}
		return i < j
	})

	res := SortResult{Order: order, SortedMask: make([]bool, len(mask))}
	for i, k := range order {
		res.SortedMask[i] = mask[k]
		if mask[k] {
			res.OriginalIndices = append(res.OriginalIndices, i)
		}
	}
	for i := 1; i < len(res.OriginalIndices); i++ {
		res.NodesPerSegment = append(res.NodesPerSegment, res.OriginalIndices[i]-res.OriginalIndices[i-1])
	}
	return res, nil
}

// SuperSample walks the segments of a closed contour, keeping each original
// point and inserting nodesPerSegment[i]-1 evenly spaced points after it.
// The closing duplicate is not part of the result.
func SuperSample(closed []models.Point3D, nodesPerSegment []int) ([]models.Point3D, []bool, error) {
	if len(nodesPerSegment) != len(closed)-1 {
		return nil, nil, fmt.Errorf("%w: %d segments, %d node counts",
			ErrPrecisionInvariant, len(closed)-1, len(nodesPerSegment))
	}

	total := 0
	for _, n := range nodesPerSegment {
		total += n
	}
	points := make([]models.Point3D, 0, total)
	isOriginal := make([]bool, 0, total)

	for i, n := range nodesPerSegment {
		p0, p1 := closed[i], closed[i+1]
		points = append(points, p0)
		isOriginal = append(isOriginal, true)

		for k := 1; k < n; k++ {
			f := float64(k) / float64(n)
			points = append(points, models.FromVec(r3.Add(p0.Vec(), r3.Scale(f, r3.Sub(p1.Vec(), p0.Vec())))))
			isOriginal = append(isOriginal, false)
		}
	}
	return points, isOriginal, nil
}

// SuperSampleContour runs the perimeter, position, sort and insertion steps
// on an already closed contour, adding nodesToAdd-2 synthetic nodes
func SuperSampleContour(closed []models.Point3D, nodesToAdd int) ([]models.Point3D, []bool, error) {
	norm, err := Normalize(CumulativePerimeters(closed))
	if err != nil {
		return nil, nil, err
	}

	positions := SuperSampledCumulativePositions(norm, nodesToAdd)
	mask := OriginalityMask(len(closed), nodesToAdd)

	sorted, err := SortBySupersampledPosition(positions, mask)
	if err != nil {
		return nil, nil, err
	}
	return SuperSample(closed, sorted.NodesPerSegment)
}

// Rotate returns the cyclic shift result[i] = s[(i+shift) mod N]
func Rotate[T any](s []T, shift int) []T {
	n := len(s)
	out := make([]T, n)
	if n == 0 {
		return out
	}

	shift = ((shift % n) + n) % n
	for i := range s {
		out[i] = s[(i+shift)%n]
	}
	return out
}

// RotateMask shifts an originality mask the same way Rotate shifts points
func RotateMask(mask []bool, shift int) []bool {
	return Rotate(mask, shift)
}

// MinimizingRotationOffset returns the cyclic shift of b that minimises the
// summed distance between corresponding nodes of a and Rotate(b, shift).
// The smallest such shift wins ties.
func MinimizingRotationOffset(a, b []models.Point3D) (int, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d and %d nodes", ErrPrecisionInvariant, len(a), len(b))
	}

	n := len(a)
	best, bestSum := 0, math.Inf(1)
	for r := 0; r < n; r++ {
		var sum float64
		for i := 0; i < n && sum < bestSum; i++ {
			sum += geometry.Distance(a[i], b[(i+r)%n])
		}
		if sum < bestSum {
			best, bestSum = r, sum
		}
	}
	return best, nil
}

// ReduceToOverSampled keeps node i only if it is original in either
// polygon, so both results keep equal length and every original node
func ReduceToOverSampled(a, b []models.Point3D, maskA, maskB []bool) (OverSampledPair, error) {
	if len(a) != len(b) || len(maskA) != len(a) || len(maskB) != len(b) {
		return OverSampledPair{}, fmt.Errorf("%w: %d/%d nodes, %d/%d mask entries",
			ErrPrecisionInvariant, len(a), len(b), len(maskA), len(maskB))
	}

	var out OverSampledPair
	for i := range a {
		if !maskA[i] && !maskB[i] {
			continue
		}
		out.A = append(out.A, a[i])
		out.B = append(out.B, b[i])
		out.MaskA = append(out.MaskA, maskA[i])
		out.MaskB = append(out.MaskB, maskB[i])
	}
	return out, nil
}

// Package transform maps points from the source image domain into the
// target image domain. The mapping itself, typically the result of an image
// registration, is supplied by the caller; this package only batches the
// calls and keeps the grouping of points into contours intact.
package transform

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"roitransfer/internal/models"
)

// ErrRegroupingLengthMismatch is returned when the group lengths do not add
// up to the number of points
var ErrRegroupingLengthMismatch = errors.New("transform: group lengths do not match point count")

// PointTransform maps a single point. Implementations must be deterministic.
type PointTransform interface {
	TransformPoint(p models.Point3D) (models.Point3D, error)
}

// BatchTransform is implemented by transforms that are cheaper to call once
// for many points
type BatchTransform interface {
	PointTransform
	TransformPoints(points []models.Point3D) ([]models.Point3D, error)
}

// Func adapts an ordinary function to PointTransform
type Func func(p models.Point3D) (models.Point3D, error)

// TransformPoint calls f(p)
func (f Func) TransformPoint(p models.Point3D) (models.Point3D, error) {
	return f(p)
}

// TransformAll maps every point, preserving order and count. A single
// failure fails the whole batch.
func TransformAll(points []models.Point3D, t PointTransform) ([]models.Point3D, error) {
	if bt, ok := t.(BatchTransform); ok {
		out, err := bt.TransformPoints(points)
		if err != nil {
			return nil, fmt.Errorf("batch transform: %w", err)
		}
		if len(out) != len(points) {
			return nil, fmt.Errorf("%w: sent %d points, got %d back", ErrRegroupingLengthMismatch, len(points), len(out))
		}
		return out, nil
	}

	out := make([]models.Point3D, len(points))
	for i, p := range points {
		q, err := t.TransformPoint(p)
		if err != nil {
			return nil, fmt.Errorf("transforming point %d: %w", i, err)
		}
		out[i] = q
	}
	return out, nil
}

// Flatten concatenates nested point lists, returning the length of each
func Flatten(nested [][]models.Point3D) ([]models.Point3D, []int) {
	total := 0
	lengths := make([]int, len(nested))
	for i, n := range nested {
		lengths[i] = len(n)
		total += len(n)
	}

	flat := make([]models.Point3D, 0, total)
	for _, n := range nested {
		flat = append(flat, n...)
	}
	return flat, lengths
}

// Regroup splits flat back into groups of the given lengths
func Regroup(flat []models.Point3D, lengths []int) ([][]models.Point3D, error) {
	total := 0
	for _, l := range lengths {
		if l < 0 {
			return nil, fmt.Errorf("%w: negative length %d", ErrRegroupingLengthMismatch, l)
		}
		total += l
	}
	if total != len(flat) {
		return nil, fmt.Errorf("%w: lengths sum to %d, have %d points", ErrRegroupingLengthMismatch, total, len(flat))
	}

	out := make([][]models.Point3D, len(lengths))
	offset := 0
	for i, l := range lengths {
		out[i] = append([]models.Point3D(nil), flat[offset:offset+l]...)
		offset += l
	}
	return out, nil
}

// Normal returns the unit direction that t maps direction to, evaluated at
// the point at
func Normal(t PointTransform, at, direction models.Point3D) (models.Point3D, error) {
	p0, err := t.TransformPoint(at)
	if err != nil {
		return models.Point3D{}, err
	}
	p1, err := t.TransformPoint(models.FromVec(r3.Add(at.Vec(), direction.Vec())))
	if err != nil {
		return models.Point3D{}, err
	}

	d := r3.Sub(p1.Vec(), p0.Vec())
	if r3.Norm(d) == 0 {
		return models.Point3D{}, errors.New("transform collapses the direction")
	}
	return models.FromVec(r3.Unit(d)), nil
}

package resample

import (
	"fmt"

	"roitransfer/internal/models"
)

// OverSampledPair holds two contours resampled to the same node count with
// node i of A corresponding to node i of B
type OverSampledPair struct {
	A, B []models.Point3D

	// MaskA and MaskB mark the nodes taken from the input contours
	MaskA, MaskB []bool

	// OriginalCountA and OriginalCountB are the raw point counts of the
	// inputs, without closing duplicates
	OriginalCountA, OriginalCountB int

	// Shift is the cyclic shift applied to B
	Shift int
}

// LongerMask returns the mask of whichever input had more raw points,
// preferring A on ties
func (p OverSampledPair) LongerMask() []bool {
	if p.OriginalCountB > p.OriginalCountA {
		return p.MaskB
	}
	return p.MaskA
}

// Pair resamples two contours to a common node count so that no two
// consecutive nodes are further than dP apart and every original point of
// either contour survives. B is cyclically shifted to best match A.
func Pair(a, b []models.Point3D, dP float64) (OverSampledPair, error) {
	if dP <= 0 {
		return OverSampledPair{}, fmt.Errorf("invalid node spacing %g", dP)
	}

	ca, err := CloseContour(a)
	if err != nil {
		return OverSampledPair{}, fmt.Errorf("contour A: %w", err)
	}
	cb, err := CloseContour(b)
	if err != nil {
		return OverSampledPair{}, fmt.Errorf("contour B: %w", err)
	}
	ca, cb = EnsureClockwise(ca), EnsureClockwise(cb)

	perimA := CumulativePerimeters(ca)
	perimB := CumulativePerimeters(cb)
	m := max(
		MinNodeCountForSpacing(perimA[len(perimA)-1], dP),
		MinNodeCountForSpacing(perimB[len(perimB)-1], dP),
	)

	na, nb := len(ca)-1, len(cb)-1

	// Adding M+N_B nodes to A and M+N_A to B leaves both at N_A+N_B+M-2
	ssA, maskA, err := SuperSampleContour(ca, m+nb)
	if err != nil {
		return OverSampledPair{}, fmt.Errorf("contour A: %w", err)
	}
	ssB, maskB, err := SuperSampleContour(cb, m+na)
	if err != nil {
		return OverSampledPair{}, fmt.Errorf("contour B: %w", err)
	}
	if len(ssA) != len(ssB) {
		return OverSampledPair{}, fmt.Errorf("%w: super-sampled to %d and %d nodes",
			ErrPrecisionInvariant, len(ssA), len(ssB))
	}

	shift, err := MinimizingRotationOffset(ssA, ssB)
	if err != nil {
		return OverSampledPair{}, err
	}
	ssB = Rotate(ssB, shift)
	maskB = RotateMask(maskB, shift)

	out, err := ReduceToOverSampled(ssA, ssB, maskA, maskB)
	if err != nil {
		return OverSampledPair{}, err
	}
	out.OriginalCountA, out.OriginalCountB = na, nb
	out.Shift = shift
	return out, nil
}

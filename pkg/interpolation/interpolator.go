// Package interpolation produces contours on slices that were not drawn by
// blending the nearest drawn contours above and below.
package interpolation

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"roitransfer/internal/models"
	"roitransfer/pkg/resample"
)

var (
	// ErrNoBoundingSlice is returned when a target has no single-contour
	// slice on one side, or does not lie strictly inside the contoured range
	ErrNoBoundingSlice = errors.New("interpolation: no bounding slice found")

	// ErrUnsupportedMultiContourSlice is returned, when rejection is enabled,
	// if the nearest contoured neighbour holds more than one contour
	ErrUnsupportedMultiContourSlice = errors.New("interpolation: bounding slice holds multiple contours")
)

// DefaultMinNodeSpacing is the default maximum distance (mm) between nodes
// after super-sampling
const DefaultMinNodeSpacing = 0.1

// Options holds the parameters of an interpolation call
type Options struct {
	// MinNodeSpacing is the node spacing dP used for super-sampling
	MinNodeSpacing float64

	// InterpolateAllNodes blends every aligned node pair. When false only
	// nodes that were original in the contour with more raw points are kept.
	InterpolateAllNodes bool

	// RejectMultiContourSlices fails instead of skipping past a neighbouring
	// slice that holds more than one contour
	RejectMultiContourSlices bool
}

// DefaultOptions returns the options used when none are configured
func DefaultOptions() Options {
	return Options{
		MinNodeSpacing:      DefaultMinNodeSpacing,
		InterpolateAllNodes: true,
	}
}

// ProgressCallback is a function type for reporting progress
type ProgressCallback func(completed, total int, message string)

// Result is an interpolated contour together with what produced it
type Result struct {
	Contour models.Contour

	// Lower and Upper are the bounding slices; both are zero for pair
	// interpolation
	Lower, Upper int

	// FracT is the blend weight of the upper contour
	FracT float64

	// Pair is the aligned, over-sampled pair the contour was blended from
	Pair resample.OverSampledPair
}

// Interpolator blends contours between known slices
type Interpolator struct {
	opts Options

	progressCallback ProgressCallback
	startTime        time.Time
}

// NewInterpolator creates an interpolator. A non-positive MinNodeSpacing
// falls back to DefaultMinNodeSpacing.
func NewInterpolator(opts Options) *Interpolator {
	if opts.MinNodeSpacing <= 0 {
		opts.MinNodeSpacing = DefaultMinNodeSpacing
	}
	return &Interpolator{opts: opts, startTime: time.Now()}
}

// Options returns the options the interpolator was created with
func (in *Interpolator) Options() Options {
	return in.opts
}

// FindBoundingSlices returns the nearest slices below and above target that
// hold exactly one contour. target itself is never a bound and must lie
// strictly inside the range of contoured slices.
func FindBoundingSlices(contours models.SliceContours, target float64, opts Options) (int, int, error) {
	known := contours.Indices()
	if len(known) == 0 {
		return 0, 0, fmt.Errorf("%w: no contoured slices", ErrNoBoundingSlice)
	}
	lo, hi := known[0], known[len(known)-1]
	if target <= float64(lo) || target >= float64(hi) {
		return 0, 0, fmt.Errorf("%w: target %g outside (%d, %d)", ErrNoBoundingSlice, target, lo, hi)
	}

	scan := func(from, to, step int) (int, error) {
		for k := from; k != to+step; k += step {
			if float64(k) == target {
				continue
			}
			switch n := len(contours[k]); {
			case n == 1:
				return k, nil
			case n > 1 && opts.RejectMultiContourSlices:
				return 0, fmt.Errorf("%w: slice %d has %d contours", ErrUnsupportedMultiContourSlice, k, n)
			}
		}
		return 0, fmt.Errorf("%w: none between %d and %d for target %g", ErrNoBoundingSlice, from, to, target)
	}

	lower, err := scan(int(math.Floor(target)), lo, -1)
	if err != nil {
		return 0, 0, err
	}
	upper, err := scan(int(math.Ceil(target)), hi, 1)
	if err != nil {
		return 0, 0, err
	}
	return lower, upper, nil
}

// InterpolateBetween blends two aligned node sequences as
// (1-fracT)*a + fracT*b. Unless all is set, only nodes flagged in
// longerMask are emitted.
func InterpolateBetween(a, b []models.Point3D, fracT float64, longerMask []bool, all bool) (models.Contour, error) {
	if len(a) != len(b) || (!all && len(longerMask) != len(a)) {
		return nil, fmt.Errorf("%w: %d and %d nodes, %d mask entries",
			resample.ErrPrecisionInvariant, len(a), len(b), len(longerMask))
	}

	out := make(models.Contour, 0, len(a))
	for i := range a {
		if !all && !longerMask[i] {
			continue
		}
		out = append(out, models.FromVec(r3.Add(r3.Scale(1-fracT, a[i].Vec()), r3.Scale(fracT, b[i].Vec()))))
	}
	return out, nil
}

// InterpolatePair resamples a and b against each other and blends them at
// fracT without searching for bounding slices
func (in *Interpolator) InterpolatePair(a, b models.Contour, fracT float64) (Result, error) {
	pair, err := resample.Pair(a, b, in.opts.MinNodeSpacing)
	if err != nil {
		return Result{}, err
	}

	contour, err := InterpolateBetween(pair.A, pair.B, fracT, pair.LongerMask(), in.opts.InterpolateAllNodes)
	if err != nil {
		return Result{}, err
	}
	return Result{Contour: contour, FracT: fracT, Pair: pair}, nil
}

// InterpolateAt produces a contour at the (possibly fractional) slice
// position target
func (in *Interpolator) InterpolateAt(contours models.SliceContours, target float64) (Result, error) {
	lower, upper, err := FindBoundingSlices(contours, target, in.opts)
	if err != nil {
		return Result{}, err
	}

	fracT := (target - float64(lower)) / float64(upper-lower)
	res, err := in.InterpolatePair(contours[lower][0], contours[upper][0], fracT)
	if err != nil {
		return Result{}, fmt.Errorf("slices %d-%d: %w", lower, upper, err)
	}
	res.Lower, res.Upper = lower, upper
	return res, nil
}

// Gap is the outcome of interpolating one missing slice
type Gap struct {
	Slice  int
	Result Result
	Err    error
}

// FillGaps interpolates every slice strictly between the first and last
// contoured slice that holds no contour. Failures are reported per gap.
func (in *Interpolator) FillGaps(contours models.SliceContours) []Gap {
	known := contours.Indices()
	if len(known) < 2 {
		return nil
	}

	var missing []int
	for k := known[0] + 1; k < known[len(known)-1]; k++ {
		if len(contours[k]) == 0 {
			missing = append(missing, k)
		}
	}

	gaps := make([]Gap, 0, len(missing))
	for i, k := range missing {
		res, err := in.InterpolateAt(contours, float64(k))
		gaps = append(gaps, Gap{Slice: k, Result: res, Err: err})
		in.reportProgress(i+1, len(missing), fmt.Sprintf("Interpolated slice %d", k))
	}
	return gaps
}

// SetProgressCallback sets a callback function for progress reporting
func (in *Interpolator) SetProgressCallback(callback ProgressCallback) {
	in.progressCallback = callback
}

// ResetTimer resets the timer used for progress reporting
func (in *Interpolator) ResetTimer() {
	in.startTime = time.Now()
}

// reportProgress reports progress to the callback if set
func (in *Interpolator) reportProgress(completed, total int, message string) {
	if in.progressCallback == nil {
		return
	}
	elapsed := time.Since(in.startTime)
	in.progressCallback(completed, total, fmt.Sprintf("%s (%.1fs)", message, elapsed.Seconds()))
}

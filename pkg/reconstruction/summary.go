package reconstruction

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"roitransfer/pkg/interpolation"
	"roitransfer/pkg/resample"
	"roitransfer/pkg/sweep"
	"roitransfer/pkg/transform"
)

// Skip records a slice, gap or ROI that could not be processed
type Skip struct {
	ROI int

	// Slice is the source slice concerned, or -1 when the whole ROI was
	// aborted
	Slice int

	// Stage names the step that failed: interpolate, classify, project or
	// map
	Stage string

	Reason error
}

// Summary reports what a transfer produced
type Summary struct {
	ROIs int

	// Interpolated counts source slices filled by interpolation
	Interpolated int

	// Gaps counts the sweep gaps mapped
	Gaps int

	// Mapped and Projected count target slices by how their contours were
	// produced
	Mapped    int
	Projected int

	// OutOfBounds counts, per ROI, mapped nodes outside the target volume
	OutOfBounds map[int]int

	Skipped []Skip

	// NormalAngle is the angle in degrees between the mapped source slice
	// normal and the target slice normal, NaN when unknown
	NormalAngle float64

	Elapsed time.Duration
}

// skipReason names the category of a skip
func skipReason(err error) string {
	switch {
	case errors.Is(err, interpolation.ErrNoBoundingSlice):
		return "no bounding slice"
	case errors.Is(err, interpolation.ErrUnsupportedMultiContourSlice):
		return "multi-contour slice"
	case errors.Is(err, resample.ErrInsufficientPoints):
		return "insufficient points"
	case errors.Is(err, resample.ErrDegeneratePerimeter):
		return "degenerate perimeter"
	case errors.Is(err, resample.ErrPrecisionInvariant),
		errors.Is(err, sweep.ErrUnequalContourLengths),
		errors.Is(err, transform.ErrRegroupingLengthMismatch):
		return "invariant violation"
	default:
		return "other"
	}
}

// SkipReasons counts the skipped items by reason
func (s Summary) SkipReasons() map[string]int {
	reasons := make(map[string]int)
	for _, sk := range s.Skipped {
		reasons[skipReason(sk.Reason)]++
	}
	return reasons
}

func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ROIs processed: %d\n", s.ROIs)
	fmt.Fprintf(&b, "Source slices interpolated: %d\n", s.Interpolated)
	fmt.Fprintf(&b, "Sweep gaps mapped: %d\n", s.Gaps)
	fmt.Fprintf(&b, "Target slices mapped: %d\n", s.Mapped)
	fmt.Fprintf(&b, "Target slices projected: %d\n", s.Projected)
	if !math.IsNaN(s.NormalAngle) {
		fmt.Fprintf(&b, "Slice tilt: %.2f degrees\n", s.NormalAngle)
	}

	outside := 0
	for _, n := range s.OutOfBounds {
		outside += n
	}
	if outside > 0 {
		fmt.Fprintf(&b, "Nodes outside target volume: %d\n", outside)
	}

	fmt.Fprintf(&b, "Skipped: %d\n", len(s.Skipped))
	reasons := s.SkipReasons()
	names := make([]string, 0, len(reasons))
	for name := range reasons {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "- %s: %d\n", name, reasons[name])
	}
	return b.String()
}

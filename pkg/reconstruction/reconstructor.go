package reconstruction

import (
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"roitransfer/internal/models"
	"roitransfer/pkg/geometry"
	"roitransfer/pkg/interpolation"
	"roitransfer/pkg/sweep"
	"roitransfer/pkg/transform"
)

// Mode selects how transformed contours are placed on the target slices
type Mode int

const (
	// Sweep cuts the sweep curves between neighbouring source contours with
	// every target slice plane
	Sweep Mode = iota

	// Direct projects every transformed node onto its nearest target plane
	Direct
)

func (m Mode) String() string {
	switch m {
	case Sweep:
		return "sweep"
	case Direct:
		return "direct"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode converts a configuration string into a Mode
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "sweep":
		return Sweep, nil
	case "direct":
		return Direct, nil
	default:
		return 0, fmt.Errorf("unknown mapping mode %q", s)
	}
}

// DefaultGapFraction places the intermediate sweep contour halfway between
// two contoured slices
const DefaultGapFraction = 0.5

// ProgressCallback is a function type for reporting progress
type ProgressCallback = interpolation.ProgressCallback

// Params holds the inputs and configuration of a transfer.
type Params struct {
	// Source holds the contours to transfer, keyed by ROI number and source
	// slice index. Points are in the source patient coordinate system.
	Source models.ContourSet

	// ROIs optionally names the ROIs of Source
	ROIs []models.ROI

	// SourceGeometry is the geometry of the source series. It is only used
	// to report how the transform tilts the source slices and may be left
	// zero.
	SourceGeometry models.ImageGeometry

	// TargetGeometry is the geometry of the series the contours are mapped
	// onto
	TargetGeometry models.ImageGeometry

	// Transform maps source patient coordinates to target patient
	// coordinates. nil means identity.
	Transform transform.PointTransform

	// Options configures contour interpolation
	Options interpolation.Options

	// FillSourceGaps interpolates source slices lying between contoured
	// slices before mapping
	FillSourceGaps bool

	// GapFraction positions the intermediate contour of every sweep gap,
	// as a fraction of the gap. Zero means DefaultGapFraction.
	GapFraction float64

	// Policy decides which sweep/plane intersections are accepted
	Policy sweep.Policy

	// Mode selects sweep reconstruction or direct projection
	Mode Mode

	// Logger receives the step messages. nil discards them.
	Logger *log.Logger

	// Progress is called as gaps are interpolated and mapped
	Progress ProgressCallback

	// SaveIntermediaryResults writes the interpolated source contours and
	// the mapped result to IntermediaryDir as YAML
	SaveIntermediaryResults bool

	// IntermediaryDir is the directory for intermediary results
	IntermediaryDir string
}

// Result holds the contours on the target series
type Result struct {
	// Contours is keyed by ROI number, then target slice index
	Contours models.ContourSet

	// BySlice holds, per ROI, the contours of every target slice. All ROIs
	// have tables of the same length.
	BySlice map[int][][]models.Contour

	// Types holds, per ROI, how the contours of every target slice were
	// produced. Same length as BySlice.
	Types map[int][]models.ContourType
}

// Reconstructor transfers ROI contours from a source series onto a target
// series.
//
// The transfer consists of several steps:
// 1. Validating the parameters
// 2. Interpolating missing source slices
// 3. Interpolating an intermediate contour in every gap between contours
// 4. Transforming all contours into the target domain in a single batch
// 5. Cutting the sweep curves with the target slice planes, or projecting
// 6. Checking the mapped contours against the target volume
// 7. Equalizing the per-ROI slice tables
type Reconstructor struct {
	params *Params
	logger *log.Logger

	// source holds the input contours plus any interpolated slices
	source      models.ContourSet
	sourceTypes map[int]map[int]models.ContourType

	gaps   []gapJob
	direct []directJob

	contours models.ContourSet
	types    map[int]map[int]models.ContourType
	failed   map[int]error

	result  Result
	summary Summary

	startTime time.Time
}

// gapJob is one gap between two single-contour source slices: the lower
// contour, the intermediate contour and the upper contour, node aligned
type gapJob struct {
	roi          int
	lower, upper int
	nodes        [][]models.Point3D
}

// directJob is a contour placed by projection instead of sweeping
type directJob struct {
	roi     int
	slice   int
	contour models.Contour
}

// NewReconstructor creates a new reconstructor instance with the provided
// parameters
func NewReconstructor(params *Params) *Reconstructor {
	logger := params.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Reconstructor{
		params: params,
		logger: logger,
	}
}

// Process runs the complete transfer pipeline
func (r *Reconstructor) Process() error {
	r.startTime = time.Now()
	r.summary = Summary{NormalAngle: math.NaN(), OutOfBounds: make(map[int]int)}

	// Step 1: Validate parameters
	r.logger.Println("Step 1: Validating parameters...")
	if err := r.validate(); err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}

	if r.params.SaveIntermediaryResults {
		if err := os.MkdirAll(r.params.IntermediaryDir, 0755); err != nil {
			return fmt.Errorf("failed to create intermediary directory: %w", err)
		}
	}

	// Step 2: Fill source gaps
	r.logger.Println("Step 2: Interpolating missing source slices...")
	r.fillSourceGaps()
	if r.params.SaveIntermediaryResults {
		path := filepath.Join(r.params.IntermediaryDir, "01_interpolated_source.yaml")
		if err := SaveYAML(path, r.source, r.sourceTypes, r.params.ROIs); err != nil {
			r.logger.Printf("Warning: Failed to save interpolated source: %v", err)
		}
	}

	// Step 3: Interpolate intermediate contours
	r.logger.Println("Step 3: Interpolating intermediate contours...")
	r.prepareJobs()
	r.logger.Printf("Prepared %d sweep gaps and %d contours for projection", len(r.gaps), len(r.direct))

	// Step 4: Transform into the target domain
	r.logger.Println("Step 4: Transforming contours into the target domain...")
	if err := r.transformJobs(); err != nil {
		return fmt.Errorf("failed to transform contours: %w", err)
	}
	r.measureNormal()

	// Step 5: Reconstruct on the target slices
	r.logger.Printf("Step 5: Reconstructing contours on %d target slices...", r.params.TargetGeometry.Depth)
	r.reconstruct()

	// Step 6: Check bounds
	r.logger.Println("Step 6: Checking target volume bounds...")
	r.checkBounds()

	// Step 7: Equalize tables
	r.logger.Println("Step 7: Equalizing slice tables...")
	r.equalize()

	if r.params.SaveIntermediaryResults {
		path := filepath.Join(r.params.IntermediaryDir, "02_mapped.yaml")
		if err := SaveYAML(path, r.result.Contours, r.types, r.params.ROIs); err != nil {
			r.logger.Printf("Warning: Failed to save mapped contours: %v", err)
		}
	}

	r.summary.Elapsed = time.Since(r.startTime)
	return nil
}

// validate checks the parameters and fills in defaults on a private copy
func (r *Reconstructor) validate() error {
	p := *r.params

	if p.TargetGeometry.Depth <= 0 {
		return errors.New("target geometry has no slices")
	}
	if r3.Norm(p.TargetGeometry.SliceDirection.Vec()) == 0 {
		return errors.New("target geometry has no slice direction")
	}
	if p.Transform == nil {
		p.Transform = transform.Identity()
	}
	if p.GapFraction == 0 {
		p.GapFraction = DefaultGapFraction
	}
	if p.GapFraction <= 0 || p.GapFraction >= 1 {
		return fmt.Errorf("gap fraction %g outside (0, 1)", p.GapFraction)
	}
	if p.Options.MinNodeSpacing <= 0 {
		p.Options.MinNodeSpacing = interpolation.DefaultMinNodeSpacing
	}
	if p.Policy.Tolerant && p.Policy.MaxDistToPts <= 0 {
		return fmt.Errorf("tolerant policy needs a positive distance, got %g", p.Policy.MaxDistToPts)
	}
	if p.Mode != Sweep && p.Mode != Direct {
		return fmt.Errorf("unknown mode %v", p.Mode)
	}

	r.params = &p
	return nil
}

// fillSourceGaps interpolates every empty source slice lying between
// contoured slices of an ROI
func (r *Reconstructor) fillSourceGaps() {
	r.source = r.params.Source.Clone()
	r.sourceTypes = make(map[int]map[int]models.ContourType, len(r.source))

	for _, roi := range r.source.ROINumbers() {
		types := make(map[int]models.ContourType)
		for _, k := range r.source[roi].Indices() {
			types[k] = models.Original
		}
		r.sourceTypes[roi] = types

		if !r.params.FillSourceGaps {
			continue
		}

		in := interpolation.NewInterpolator(r.params.Options)
		in.SetProgressCallback(r.params.Progress)
		for _, g := range in.FillGaps(r.source[roi]) {
			if g.Err != nil {
				types[g.Slice] = models.NoContour
				r.skip(roi, g.Slice, "interpolate", g.Err)
				continue
			}
			r.source[roi][g.Slice] = []models.Contour{g.Result.Contour}
			types[g.Slice] = models.Interpolated
			r.summary.Interpolated++
		}
		r.logger.Printf("ROI %s: %d contoured slices after interpolation", r.roiName(roi), len(r.source[roi].Indices()))
	}
}

// prepareJobs splits every ROI into sweep gaps and contours to project
func (r *Reconstructor) prepareJobs() {
	r.gaps, r.direct = nil, nil

	opts := r.params.Options
	opts.InterpolateAllNodes = true
	in := interpolation.NewInterpolator(opts)

	for _, roi := range r.source.ROINumbers() {
		slices := r.source[roi]

		var single []int
		for _, k := range slices.Indices() {
			if len(slices[k]) == 1 {
				single = append(single, k)
				continue
			}
			if r.params.Options.RejectMultiContourSlices {
				r.skip(roi, k, "classify", fmt.Errorf("%w: %d contours", interpolation.ErrUnsupportedMultiContourSlice, len(slices[k])))
				continue
			}
			for _, c := range slices[k] {
				r.direct = append(r.direct, directJob{roi: roi, slice: k, contour: c})
			}
		}

		if r.params.Mode == Direct || len(single) < 2 {
			for _, k := range single {
				r.direct = append(r.direct, directJob{roi: roi, slice: k, contour: slices[k][0]})
			}
			continue
		}

		for i := 0; i+1 < len(single); i++ {
			lo, hi := single[i], single[i+1]
			res, err := in.InterpolatePair(slices[lo][0], slices[hi][0], r.params.GapFraction)
			if err != nil {
				r.skip(roi, lo, "interpolate", fmt.Errorf("gap %d-%d: %w", lo, hi, err))
				continue
			}
			r.gaps = append(r.gaps, gapJob{
				roi:   roi,
				lower: lo,
				upper: hi,
				nodes: [][]models.Point3D{res.Pair.A, res.Contour, res.Pair.B},
			})
		}
	}
}

// transformJobs maps every node of every job with one batch call
func (r *Reconstructor) transformJobs() error {
	var nested [][]models.Point3D
	for _, g := range r.gaps {
		nested = append(nested, g.nodes...)
	}
	for _, d := range r.direct {
		nested = append(nested, d.contour)
	}

	flat, lengths := transform.Flatten(nested)
	r.logger.Printf("Transforming %d points", len(flat))
	mapped, err := transform.TransformAll(flat, r.params.Transform)
	if err != nil {
		return err
	}
	grouped, err := transform.Regroup(mapped, lengths)
	if err != nil {
		return err
	}

	i := 0
	for gi := range r.gaps {
		r.gaps[gi].nodes = grouped[i : i+3]
		i += 3
	}
	for di := range r.direct {
		r.direct[di].contour = grouped[i]
		i++
	}
	return nil
}

// measureNormal records the angle between the mapped source slice normal
// and the target slice normal
func (r *Reconstructor) measureNormal() {
	src := r.params.SourceGeometry
	if r3.Norm(src.SliceDirection.Vec()) == 0 {
		return
	}

	n, err := transform.Normal(r.params.Transform, src.Origin, src.SliceDirection)
	if err != nil {
		r.logger.Printf("Warning: Could not map the source slice normal: %v", err)
		return
	}
	target := r3.Unit(r.params.TargetGeometry.SliceDirection.Vec())
	cos := math.Min(1, math.Abs(r3.Dot(n.Vec(), target)))
	r.summary.NormalAngle = math.Acos(cos) * 180 / math.Pi
	r.logger.Printf("Mapped source slices are tilted %.2f degrees against the target slices", r.summary.NormalAngle)
}

// reconstruct places every transformed job on the target slices
func (r *Reconstructor) reconstruct() {
	stack := sweep.PlaneStackFromGeometry(r.params.TargetGeometry)
	r.contours = make(models.ContourSet)
	r.types = make(map[int]map[int]models.ContourType)
	r.failed = make(map[int]error)

	total := len(r.gaps) + len(r.direct)
	done := 0

	// Gaps present per ROI, keyed by their lower slice
	starts := make(map[int]map[int]bool)
	for _, g := range r.gaps {
		if starts[g.roi] == nil {
			starts[g.roi] = make(map[int]bool)
		}
		starts[g.roi][g.lower] = true
	}

	// Candidate hits per ROI and target plane, selected once every gap
	// has been swept
	pending := make(map[int]map[int][]sweep.Hit)
	for _, g := range r.gaps {
		done++
		if _, ok := r.failed[g.roi]; ok {
			continue
		}
		if pending[g.roi] == nil {
			pending[g.roi] = make(map[int][]sweep.Hit)
		}
		if err := r.sweepGap(stack, g, starts[g.roi][g.upper], pending[g.roi]); err != nil {
			r.failed[g.roi] = fmt.Errorf("gap %d-%d: %w", g.lower, g.upper, err)
			continue
		}
		r.reportProgress(done, total, fmt.Sprintf("Mapped ROI %s slices %d-%d", r.roiName(g.roi), g.lower, g.upper))
	}

	for _, roi := range sortedKeys(pending) {
		if _, ok := r.failed[roi]; ok {
			continue
		}
		for _, k := range sortedKeys(pending[roi]) {
			for _, c := range sweep.Select(pending[roi][k]) {
				r.add(roi, k, c, models.Mapped)
			}
		}
	}

	for _, d := range r.direct {
		done++
		if _, ok := r.failed[d.roi]; ok {
			continue
		}
		r.project(stack, d)
		r.reportProgress(done, total, fmt.Sprintf("Projected ROI %s slice %d", r.roiName(d.roi), d.slice))
	}

	// A failed ROI keeps no partial result
	for _, roi := range sortedKeys(r.failed) {
		r.logger.Printf("Warning: ROI %s aborted: %v", r.roiName(roi), r.failed[roi])
		r.skip(roi, -1, "map", r.failed[roi])
		delete(r.contours, roi)
		delete(r.types, roi)
	}

	for _, roi := range r.contours.ROINumbers() {
		for _, t := range r.types[roi] {
			switch t {
			case models.Mapped:
				r.summary.Mapped++
			case models.Projected:
				r.summary.Projected++
			}
		}
	}
}

// sweepGap cuts the sweep curves of one gap with every target plane and
// collects the hits per plane into pending. When hasNext is set the next gap
// starts at the upper contour and owns it, so hits lying exactly on the
// upper contour are left to that gap.
func (r *Reconstructor) sweepGap(stack sweep.PlaneStack, g gapJob, hasNext bool, pending map[int][]sweep.Hit) error {
	sweeps, err := sweep.BuildSweepCurves(g.nodes)
	if err != nil {
		return err
	}
	hits, err := sweep.IntersectWithPlanes(sweeps, stack, r.params.Policy)
	if err != nil {
		return err
	}

	top := len(g.nodes) - 2
	for k := 0; k < hits.Len(); k++ {
		for _, h := range hits.Hits[k] {
			if len(h.Points) == 0 {
				continue
			}
			if hasNext && h.Pair == top && h.AtUpper() {
				continue
			}
			pending[k] = append(pending[k], h)
		}
	}
	return nil
}

// project moves every node of a contour onto its nearest target plane along
// the target normal, splitting the contour by plane
func (r *Reconstructor) project(stack sweep.PlaneStack, d directJob) {
	byPlane := make(map[int]models.Contour)
	dropped := 0

	for _, p := range d.contour {
		k, ok := stack.Nearest(p)
		if !ok {
			dropped++
			continue
		}
		x, ok, err := geometry.VectorPlaneIntersection(stack.Plane(k), p, stack.Normal, false)
		if err != nil || !ok {
			dropped++
			continue
		}
		byPlane[k] = append(byPlane[k], x.Point)
	}
	if dropped > 0 {
		r.logger.Printf("ROI %s slice %d: %d nodes fall outside the target slices", r.roiName(d.roi), d.slice, dropped)
	}

	for _, k := range sortedKeys(byPlane) {
		c := byPlane[k]
		if !c.CanEnclose() {
			r.skip(d.roi, d.slice, "project", fmt.Errorf("only %d nodes land on target slice %d", len(c), k))
			continue
		}
		r.add(d.roi, k, c, models.Projected)
	}
}

func (r *Reconstructor) add(roi, k int, c models.Contour, t models.ContourType) {
	if r.contours[roi] == nil {
		r.contours[roi] = make(models.SliceContours)
		r.types[roi] = make(map[int]models.ContourType)
	}
	r.contours[roi][k] = append(r.contours[roi][k], c)
	if r.types[roi][k] == models.NoContour {
		r.types[roi][k] = t
	}
}

// checkBounds counts mapped nodes lying outside the target volume
func (r *Reconstructor) checkBounds() {
	corners := r.params.TargetGeometry.Corners()

	for _, roi := range r.contours.ROINumbers() {
		outside := 0
		for _, k := range r.contours[roi].Indices() {
			for _, c := range r.contours[roi][k] {
				for _, p := range c {
					in, err := geometry.IsPointInPolygon(p, corners)
					if err != nil {
						r.logger.Printf("Warning: Skipping bounds check: %v", err)
						return
					}
					if !in {
						outside++
					}
				}
			}
		}
		if outside > 0 {
			r.summary.OutOfBounds[roi] = outside
			r.logger.Printf("Warning: ROI %s has %d nodes outside the target volume", r.roiName(roi), outside)
		}
	}
}

// equalize builds the by-slice tables once every ROI is done, padding all
// of them to the same length
func (r *Reconstructor) equalize() {
	length := r.params.TargetGeometry.Depth
	for _, slices := range r.contours {
		for k := range slices {
			length = max(length, k+1)
		}
	}

	r.result = Result{
		Contours: r.contours,
		BySlice:  make(map[int][][]models.Contour, len(r.source)),
		Types:    make(map[int][]models.ContourType, len(r.source)),
	}

	// Every source ROI gets a table, including failed or empty ones
	for _, roi := range r.source.ROINumbers() {
		bySlice := make([][]models.Contour, length)
		types := make([]models.ContourType, length)
		for k, contours := range r.contours[roi] {
			bySlice[k] = contours
			types[k] = r.types[roi][k]
		}
		r.result.BySlice[roi] = bySlice
		r.result.Types[roi] = types
	}
	r.summary.ROIs = len(r.source)
	r.summary.Gaps = len(r.gaps)
}

func (r *Reconstructor) skip(roi, slice int, stage string, err error) {
	r.summary.Skipped = append(r.summary.Skipped, Skip{ROI: roi, Slice: slice, Stage: stage, Reason: err})
	if slice >= 0 {
		r.logger.Printf("Skipping ROI %s slice %d (%s): %v", r.roiName(roi), slice, stage, err)
	}
}

func (r *Reconstructor) roiName(number int) string {
	for _, roi := range r.params.ROIs {
		if roi.Number == number && roi.Name != "" {
			return fmt.Sprintf("%d (%s)", number, roi.Name)
		}
	}
	return fmt.Sprint(number)
}

// reportProgress reports progress to the callback if set
func (r *Reconstructor) reportProgress(completed, total int, message string) {
	if r.params.Progress == nil {
		return
	}
	elapsed := time.Since(r.startTime)
	r.params.Progress(completed, total, fmt.Sprintf("%s (%.1fs)", message, elapsed.Seconds()))
}

// Result returns the contours mapped onto the target series
func (r *Reconstructor) Result() Result {
	return r.result
}

// InterpolatedSource returns the source contours including interpolated
// slices, together with the type of every contoured slice
func (r *Reconstructor) InterpolatedSource() (models.ContourSet, map[int]map[int]models.ContourType) {
	return r.source, r.sourceTypes
}

// Summary returns the counts and skip reasons of the last run
func (r *Reconstructor) Summary() Summary {
	return r.summary
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

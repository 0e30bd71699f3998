// Package rtstruct reads DICOM RT Structure Sets and image series into the
// contour and geometry types used by the transfer pipeline.
package rtstruct

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/carbocation/pfx"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"roitransfer/internal/models"
)

// ClosedPlanar is the only contour geometric type that bounds an area
const ClosedPlanar = "CLOSED_PLANAR"

var (
	// ErrMissingElement is returned when a required attribute is absent
	ErrMissingElement = errors.New("missing required element")

	// ErrNoDatasets is returned when a directory holds no readable DICOM file
	ErrNoDatasets = errors.New("no DICOM datasets found")
)

// Contour is a single contour item of a structure set
type Contour struct {
	// ROI is the Referenced ROI Number of the enclosing ROI Contour item
	ROI int

	// Points holds the contour nodes without a closing duplicate
	Points models.Contour

	// ReferencedSOPInstanceUID names the image the contour was drawn on,
	// empty when the item has no Contour Image Sequence
	ReferencedSOPInstanceUID string
}

// StructureSet is the content of an RTSTRUCT needed for a transfer
type StructureSet struct {
	ROIs     []models.ROI
	Contours []Contour

	// Skipped counts contour items that are not CLOSED_PLANAR or hold fewer
	// than three points
	Skipped int
}

// ParseFile reads a DICOM file without its pixel data
func ParseFile(path string) (dicom.Dataset, error) {
	ds, err := dicom.ParseFile(path, nil, dicom.SkipPixelData())
	if err != nil {
		return dicom.Dataset{}, pfx.Err(fmt.Errorf("%s: %w", path, err))
	}
	return ds, nil
}

// ParseSeriesDir reads every DICOM file of a directory. Files that do not
// parse are ignored.
func ParseSeriesDir(dir string) ([]dicom.Dataset, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, pfx.Err(err)
	}

	var out []dicom.Dataset
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		ds, err := ParseFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		out = append(out, ds)
	}

	if len(out) == 0 {
		return nil, pfx.Err(fmt.Errorf("%s: %w", dir, ErrNoDatasets))
	}
	return out, nil
}

// ReadStructureSet extracts the ROIs and closed planar contours of an
// RTSTRUCT dataset
func ReadStructureSet(ds dicom.Dataset) (*StructureSet, error) {
	ss := &StructureSet{}

	roiItems, err := sequenceItems(ds.Elements, tag.StructureSetROISequence)
	if err != nil {
		return nil, pfx.Err(err)
	}
	for _, item := range roiItems {
		number, err := firstInt(item, tag.ROINumber)
		if err != nil {
			return nil, pfx.Err(err)
		}
		roi := models.ROI{Number: number}
		roi.Name, _ = firstString(item, tag.ROIName)
		roi.FrameOfReferenceUID, _ = firstString(item, tag.ReferencedFrameOfReferenceUID)
		ss.ROIs = append(ss.ROIs, roi)
	}

	contourItems, err := sequenceItems(ds.Elements, tag.ROIContourSequence)
	if err != nil {
		return nil, pfx.Err(err)
	}
	for _, item := range contourItems {
		number, err := firstInt(item, tag.ReferencedROINumber)
		if err != nil {
			return nil, pfx.Err(err)
		}

		// An ROI without contours has no Contour Sequence
		contours, err := sequenceItems(item, tag.ContourSequence)
		if errors.Is(err, ErrMissingElement) {
			continue
		} else if err != nil {
			return nil, pfx.Err(err)
		}

		for _, c := range contours {
			if kind, _ := firstString(c, tag.ContourGeometricType); kind != "" && kind != ClosedPlanar {
				ss.Skipped++
				continue
			}

			data, err := floatValues(c, tag.ContourData)
			if err != nil {
				return nil, pfx.Err(fmt.Errorf("ROI %d: %w", number, err))
			}
			if len(data)%3 != 0 {
				return nil, pfx.Err(fmt.Errorf("ROI %d: contour data holds %d values, not a multiple of 3", number, len(data)))
			}

			points := make(models.Contour, 0, len(data)/3)
			for i := 0; i < len(data); i += 3 {
				points = append(points, models.Point3D{X: data[i], Y: data[i+1], Z: data[i+2]})
			}
			if n := len(points); n > 1 && points[0] == points[n-1] {
				points = points[:n-1]
			}
			if !points.CanEnclose() {
				ss.Skipped++
				continue
			}

			contour := Contour{ROI: number, Points: points}
			if images, err := sequenceItems(c, tag.ContourImageSequence); err == nil && len(images) > 0 {
				contour.ReferencedSOPInstanceUID, _ = firstString(images[0], tag.ReferencedSOPInstanceUID)
			}
			ss.Contours = append(ss.Contours, contour)
		}
	}

	return ss, nil
}

// ROI returns the ROI with the given number
func (ss *StructureSet) ROI(number int) (models.ROI, bool) {
	for _, roi := range ss.ROIs {
		if roi.Number == number {
			return roi, true
		}
	}
	return models.ROI{}, false
}

func findElement(elems []*dicom.Element, t tag.Tag) (*dicom.Element, error) {
	for _, e := range elems {
		if e.Tag == t {
			return e, nil
		}
	}
	return nil, fmt.Errorf("%w %v", ErrMissingElement, t)
}

// sequenceItems returns the element lists of the items of a sequence
func sequenceItems(elems []*dicom.Element, t tag.Tag) ([][]*dicom.Element, error) {
	e, err := findElement(elems, t)
	if err != nil {
		return nil, err
	}
	items, ok := e.Value.GetValue().([]*dicom.SequenceItemValue)
	if !ok {
		return nil, fmt.Errorf("element %v is not a sequence", t)
	}
	out := make([][]*dicom.Element, 0, len(items))
	for _, item := range items {
		if elems, ok := item.GetValue().([]*dicom.Element); ok {
			out = append(out, elems)
		}
	}
	return out, nil
}

func stringValues(elems []*dicom.Element, t tag.Tag) ([]string, error) {
	e, err := findElement(elems, t)
	if err != nil {
		return nil, err
	}
	values, ok := e.Value.GetValue().([]string)
	if !ok {
		return nil, fmt.Errorf("element %v does not hold strings", t)
	}
	return values, nil
}

func firstString(elems []*dicom.Element, t tag.Tag) (string, error) {
	values, err := stringValues(elems, t)
	if err != nil {
		return "", err
	}
	if len(values) == 0 {
		return "", fmt.Errorf("element %v is empty", t)
	}
	return strings.TrimSpace(values[0]), nil
}

// floatValues reads a DS, FD or integer element as float64 values
func floatValues(elems []*dicom.Element, t tag.Tag) ([]float64, error) {
	e, err := findElement(elems, t)
	if err != nil {
		return nil, err
	}
	switch v := e.Value.GetValue().(type) {
	case []string:
		out := make([]float64, 0, len(v))
		for _, s := range v {
			for _, part := range strings.Split(s, `\`) {
				part = strings.TrimSpace(part)
				if part == "" {
					continue
				}
				f, err := strconv.ParseFloat(part, 64)
				if err != nil {
					return nil, fmt.Errorf("element %v: %w", t, err)
				}
				out = append(out, f)
			}
		}
		return out, nil
	case []float64:
		return append([]float64(nil), v...), nil
	case []int:
		out := make([]float64, len(v))
		for i, n := range v {
			out[i] = float64(n)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("element %v does not hold numbers", t)
	}
}

// firstInt reads the first value of an IS or integer element
func firstInt(elems []*dicom.Element, t tag.Tag) (int, error) {
	e, err := findElement(elems, t)
	if err != nil {
		return 0, err
	}
	switch v := e.Value.GetValue().(type) {
	case []int:
		if len(v) > 0 {
			return v[0], nil
		}
	case []string:
		if len(v) > 0 {
			n, err := strconv.Atoi(strings.TrimSpace(v[0]))
			if err != nil {
				return 0, fmt.Errorf("element %v: %w", t, err)
			}
			return n, nil
		}
	default:
		return 0, fmt.Errorf("element %v does not hold integers", t)
	}
	return 0, fmt.Errorf("element %v is empty", t)
}

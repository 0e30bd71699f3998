package rtstruct

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/carbocation/pfx"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"

	"roitransfer/internal/models"
)

// spacingTolerance is the largest difference in mm between two slice gaps
// of an evenly spaced series
const spacingTolerance = 1e-3

var (
	// ErrNoImageSlices is returned when no dataset carries an image position
	ErrNoImageSlices = errors.New("no image slices")

	// ErrDuplicateSlice is returned when two slices share a position
	ErrDuplicateSlice = errors.New("duplicate slice position")

	// ErrSliceOutOfRange is returned when a contour lies off the series
	ErrSliceOutOfRange = errors.New("contour outside the image series")
)

type imageSlice struct {
	uid      string
	position models.Point3D
	distance float64
}

// ReadGeometry builds the voxel grid of an image series. Datasets without an
// Image Position (Patient), such as structure sets, are ignored. The SOP
// Instance UIDs are returned in slice order.
func ReadGeometry(datasets []dicom.Dataset) (models.ImageGeometry, []string, error) {
	var g models.ImageGeometry

	var slices []imageSlice
	var first []*dicom.Element
	for _, ds := range datasets {
		pos, err := floatValues(ds.Elements, tag.ImagePositionPatient)
		if err != nil || len(pos) != 3 {
			continue
		}
		if first == nil {
			first = ds.Elements
		}
		uid, _ := firstString(ds.Elements, tag.SOPInstanceUID)
		slices = append(slices, imageSlice{uid: uid, position: models.Point3D{X: pos[0], Y: pos[1], Z: pos[2]}})
	}
	if len(slices) == 0 {
		return g, nil, pfx.Err(ErrNoImageSlices)
	}

	orientation, err := floatValues(first, tag.ImageOrientationPatient)
	if err != nil {
		return g, nil, pfx.Err(err)
	}
	if len(orientation) != 6 {
		return g, nil, pfx.Err(fmt.Errorf("image orientation holds %d values, expected 6", len(orientation)))
	}
	row := r3.Unit(r3.Vec{X: orientation[0], Y: orientation[1], Z: orientation[2]})
	col := r3.Unit(r3.Vec{X: orientation[3], Y: orientation[4], Z: orientation[5]})
	normal := r3.Unit(r3.Cross(row, col))
	g.RowDirection = models.FromVec(row)
	g.ColumnDirection = models.FromVec(col)
	g.SliceDirection = models.FromVec(normal)

	for i := range slices {
		slices[i].distance = r3.Dot(slices[i].position.Vec(), normal)
	}
	sort.SliceStable(slices, func(i, j int) bool { return slices[i].distance < slices[j].distance })

	// Pixel Spacing is the row spacing followed by the column spacing
	spacing, err := floatValues(first, tag.PixelSpacing)
	if err != nil {
		return g, nil, pfx.Err(err)
	}
	if len(spacing) != 2 {
		return g, nil, pfx.Err(fmt.Errorf("pixel spacing holds %d values, expected 2", len(spacing)))
	}
	g.VoxelSize.X, g.VoxelSize.Y = spacing[1], spacing[0]

	if g.Height, err = firstInt(first, tag.Rows); err != nil {
		return g, nil, pfx.Err(err)
	}
	if g.Width, err = firstInt(first, tag.Columns); err != nil {
		return g, nil, pfx.Err(err)
	}

	g.Origin = slices[0].position
	g.Depth = len(slices)

	uids := make([]string, len(slices))
	for i, s := range slices {
		uids[i] = s.uid
	}

	if len(slices) == 1 {
		g.VoxelSize.Z = 1
		if thickness, err := floatValues(first, tag.SliceThickness); err == nil && len(thickness) > 0 && thickness[0] > 0 {
			g.VoxelSize.Z = thickness[0]
		}
		return g, uids, nil
	}

	gaps := make([]float64, len(slices)-1)
	for i := range gaps {
		gaps[i] = slices[i+1].distance - slices[i].distance
		if gaps[i] < spacingTolerance {
			return g, nil, pfx.Err(fmt.Errorf("%w at %.3f mm", ErrDuplicateSlice, slices[i].distance))
		}
	}
	g.VoxelSize.Z = stat.Mean(gaps, nil)

	for _, gap := range gaps {
		if math.Abs(gap-g.VoxelSize.Z) > spacingTolerance {
			g.SlicePositions = make([]models.Point3D, len(slices))
			for i, s := range slices {
				g.SlicePositions[i] = s.position
			}
			break
		}
	}

	return g, uids, nil
}

// AssignSlices groups the contours of a structure set by ROI and slice
// index. A contour goes to the slice of its referenced image and falls back
// to the rounded slice position of its first node.
func AssignSlices(ss *StructureSet, g models.ImageGeometry, sopUIDs []string) (models.ContourSet, error) {
	byUID := make(map[string]int, len(sopUIDs))
	for k, uid := range sopUIDs {
		if uid != "" {
			byUID[uid] = k
		}
	}

	cs := make(models.ContourSet, len(ss.ROIs))
	for _, roi := range ss.ROIs {
		cs[roi.Number] = models.SliceContours{}
	}

	for _, c := range ss.Contours {
		k, ok := byUID[c.ReferencedSOPInstanceUID]
		if !ok {
			k = int(math.Round(g.SlicePosition(c.Points[0])))
		}
		if k < 0 || k >= g.Depth {
			return nil, pfx.Err(fmt.Errorf("ROI %d: %w (slice %d of %d)", c.ROI, ErrSliceOutOfRange, k, g.Depth))
		}

		if cs[c.ROI] == nil {
			cs[c.ROI] = models.SliceContours{}
		}
		cs[c.ROI][k] = append(cs[c.ROI][k], c.Points.Clone())
	}

	return cs, nil
}

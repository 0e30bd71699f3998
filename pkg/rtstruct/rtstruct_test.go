package rtstruct

import (
	"fmt"
	"strings"
	"testing"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"roitransfer/internal/models"
)

func mustNewElement(t *testing.T, tg tag.Tag, value interface{}) *dicom.Element {
	t.Helper()
	elem, err := dicom.NewElement(tg, value)
	if err != nil {
		t.Fatalf("failed to create element %v: %v", tg, err)
	}
	return elem
}

// isErr matches on the message since the DICOM adapter prefixes its errors
func isErr(err, target error) bool {
	return err != nil && strings.Contains(err.Error(), target.Error())
}

func contourData(points ...[3]float64) []string {
	out := make([]string, 0, 3*len(points))
	for _, p := range points {
		for _, v := range p {
			out = append(out, fmt.Sprintf("%g", v))
		}
	}
	return out
}

func contourItem(t *testing.T, kind, uid string, points ...[3]float64) []*dicom.Element {
	item := []*dicom.Element{
		mustNewElement(t, tag.ContourGeometricType, []string{kind}),
		mustNewElement(t, tag.NumberOfContourPoints, []string{fmt.Sprint(len(points))}),
		mustNewElement(t, tag.ContourData, contourData(points...)),
	}
	if uid != "" {
		image := []*dicom.Element{mustNewElement(t, tag.ReferencedSOPInstanceUID, []string{uid})}
		item = append(item, mustNewElement(t, tag.ContourImageSequence, [][]*dicom.Element{image}))
	}
	return item
}

func square(z float64) [][3]float64 {
	return [][3]float64{{0, 0, z}, {1, 0, z}, {1, 1, z}, {0, 1, z}}
}

// structureSet builds an RTSTRUCT with ROI 1 (two contours, one with a
// closing duplicate) and an empty ROI 2
func structureSet(t *testing.T) dicom.Dataset {
	rois := [][]*dicom.Element{
		{
			mustNewElement(t, tag.ROINumber, []string{"1"}),
			mustNewElement(t, tag.ROIName, []string{"GTV"}),
			mustNewElement(t, tag.ReferencedFrameOfReferenceUID, []string{"1.2.3"}),
		},
		{
			mustNewElement(t, tag.ROINumber, []string{"2"}),
			mustNewElement(t, tag.ROIName, []string{"Marker"}),
		},
	}

	closed := append(square(2.5), [3]float64{0, 0, 2.5})
	contours := [][]*dicom.Element{
		contourItem(t, ClosedPlanar, "img-0", square(0)...),
		contourItem(t, ClosedPlanar, "", closed...),
		contourItem(t, "POINT", "", [3]float64{1, 1, 0}),
	}
	roiContours := [][]*dicom.Element{
		{
			mustNewElement(t, tag.ReferencedROINumber, []string{"1"}),
			mustNewElement(t, tag.ContourSequence, contours),
		},
		{
			mustNewElement(t, tag.ReferencedROINumber, []string{"2"}),
		},
	}

	return dicom.Dataset{Elements: []*dicom.Element{
		mustNewElement(t, tag.Modality, []string{"RTSTRUCT"}),
		mustNewElement(t, tag.StructureSetROISequence, rois),
		mustNewElement(t, tag.ROIContourSequence, roiContours),
	}}
}

func imageDataset(t *testing.T, uid string, z float64) dicom.Dataset {
	return dicom.Dataset{Elements: []*dicom.Element{
		mustNewElement(t, tag.SOPInstanceUID, []string{uid}),
		mustNewElement(t, tag.Modality, []string{"CT"}),
		mustNewElement(t, tag.ImagePositionPatient, []string{"-5", "-5", fmt.Sprintf("%g", z)}),
		mustNewElement(t, tag.ImageOrientationPatient, []string{"1", "0", "0", "0", "1", "0"}),
		mustNewElement(t, tag.PixelSpacing, []string{"0.5", "0.25"}),
		mustNewElement(t, tag.SliceThickness, []string{"2"}),
		mustNewElement(t, tag.Rows, []int{20}),
		mustNewElement(t, tag.Columns, []int{40}),
	}}
}

func TestReadStructureSet(t *testing.T) {
	ss, err := ReadStructureSet(structureSet(t))
	if err != nil {
		t.Fatalf("ReadStructureSet failed: %v", err)
	}

	if len(ss.ROIs) != 2 {
		t.Fatalf("Expected 2 ROIs, got %d", len(ss.ROIs))
	}
	roi, ok := ss.ROI(1)
	if !ok || roi.Name != "GTV" || roi.FrameOfReferenceUID != "1.2.3" {
		t.Errorf("Unexpected ROI 1: %+v", roi)
	}
	if _, ok := ss.ROI(3); ok {
		t.Error("Expected ROI 3 to be missing")
	}

	if len(ss.Contours) != 2 {
		t.Fatalf("Expected 2 contours, got %d", len(ss.Contours))
	}
	if ss.Skipped != 1 {
		t.Errorf("Expected the POINT contour to be skipped, got %d skipped", ss.Skipped)
	}

	first := ss.Contours[0]
	if first.ROI != 1 || first.ReferencedSOPInstanceUID != "img-0" {
		t.Errorf("Unexpected first contour: ROI %d, UID %q", first.ROI, first.ReferencedSOPInstanceUID)
	}
	if len(first.Points) != 4 || first.Points[2] != (models.Point3D{X: 1, Y: 1, Z: 0}) {
		t.Errorf("Unexpected points %v", first.Points)
	}

	if n := len(ss.Contours[1].Points); n != 4 {
		t.Errorf("Expected the closing duplicate to be dropped, got %d points", n)
	}
}

func TestReadStructureSetMissingSequence(t *testing.T) {
	ds := dicom.Dataset{Elements: []*dicom.Element{
		mustNewElement(t, tag.Modality, []string{"RTSTRUCT"}),
	}}
	if _, err := ReadStructureSet(ds); !isErr(err, ErrMissingElement) {
		t.Errorf("Expected ErrMissingElement, got %v", err)
	}
}

func TestReadStructureSetBadContourData(t *testing.T) {
	item := []*dicom.Element{
		mustNewElement(t, tag.ContourGeometricType, []string{ClosedPlanar}),
		mustNewElement(t, tag.ContourData, []string{"0", "0", "0", "1"}),
	}
	ds := dicom.Dataset{Elements: []*dicom.Element{
		mustNewElement(t, tag.StructureSetROISequence, [][]*dicom.Element{
			{mustNewElement(t, tag.ROINumber, []string{"1"})},
		}),
		mustNewElement(t, tag.ROIContourSequence, [][]*dicom.Element{
			{
				mustNewElement(t, tag.ReferencedROINumber, []string{"1"}),
				mustNewElement(t, tag.ContourSequence, [][]*dicom.Element{item}),
			},
		}),
	}}
	if _, err := ReadStructureSet(ds); err == nil {
		t.Error("Expected an error for 4 contour values")
	}
}

func TestReadGeometry(t *testing.T) {
	// Out of order, with a structure set mixed in
	datasets := []dicom.Dataset{
		imageDataset(t, "img-2", 4),
		structureSet(t),
		imageDataset(t, "img-0", 0),
		imageDataset(t, "img-1", 2),
	}

	g, uids, err := ReadGeometry(datasets)
	if err != nil {
		t.Fatalf("ReadGeometry failed: %v", err)
	}

	want := []string{"img-0", "img-1", "img-2"}
	for i := range want {
		if uids[i] != want[i] {
			t.Fatalf("Expected UIDs %v, got %v", want, uids)
		}
	}
	if g.Origin != (models.Point3D{X: -5, Y: -5, Z: 0}) {
		t.Errorf("Expected origin (-5,-5,0), got %v", g.Origin)
	}
	if g.VoxelSize.X != 0.25 || g.VoxelSize.Y != 0.5 || g.VoxelSize.Z != 2 {
		t.Errorf("Unexpected voxel size %+v", g.VoxelSize)
	}
	if g.Width != 40 || g.Height != 20 || g.Depth != 3 {
		t.Errorf("Expected 40x20x3, got %dx%dx%d", g.Width, g.Height, g.Depth)
	}
	if !g.SliceDirection.ApproxEqual(models.Point3D{Z: 1}, 1e-12) {
		t.Errorf("Expected slice direction +z, got %v", g.SliceDirection)
	}
	if len(g.SlicePositions) != 0 {
		t.Errorf("Expected an evenly spaced series")
	}
}

func TestReadGeometryIrregular(t *testing.T) {
	datasets := []dicom.Dataset{
		imageDataset(t, "a", 0),
		imageDataset(t, "b", 1),
		imageDataset(t, "c", 3),
	}
	g, _, err := ReadGeometry(datasets)
	if err != nil {
		t.Fatalf("ReadGeometry failed: %v", err)
	}
	if len(g.SlicePositions) != 3 {
		t.Fatalf("Expected explicit slice positions, got %d", len(g.SlicePositions))
	}
	if k := g.SlicePosition(models.Point3D{Z: 3}); k != 2 {
		t.Errorf("Expected slice 2 at z=3, got %g", k)
	}
}

func TestReadGeometryErrors(t *testing.T) {
	if _, _, err := ReadGeometry([]dicom.Dataset{structureSet(t)}); !isErr(err, ErrNoImageSlices) {
		t.Errorf("Expected ErrNoImageSlices, got %v", err)
	}

	dup := []dicom.Dataset{imageDataset(t, "a", 1), imageDataset(t, "b", 1)}
	if _, _, err := ReadGeometry(dup); !isErr(err, ErrDuplicateSlice) {
		t.Errorf("Expected ErrDuplicateSlice, got %v", err)
	}
}

func TestReadGeometrySingleSlice(t *testing.T) {
	g, _, err := ReadGeometry([]dicom.Dataset{imageDataset(t, "a", 7)})
	if err != nil {
		t.Fatalf("ReadGeometry failed: %v", err)
	}
	if g.Depth != 1 || g.VoxelSize.Z != 2 {
		t.Errorf("Expected one slice of thickness 2, got depth %d spacing %g", g.Depth, g.VoxelSize.Z)
	}
}

func TestAssignSlices(t *testing.T) {
	ss, err := ReadStructureSet(structureSet(t))
	if err != nil {
		t.Fatal(err)
	}
	g := models.NewAxialGeometry(models.Point3D{X: -5, Y: -5, Z: 0}, [3]float64{1, 1, 2.5}, 10, 10, 4)

	// The first contour references img-0 which is deliberately slice 3
	cs, err := AssignSlices(ss, g, []string{"x", "y", "z", "img-0"})
	if err != nil {
		t.Fatalf("AssignSlices failed: %v", err)
	}

	if len(cs[1][3]) != 1 {
		t.Errorf("Expected the referenced contour on slice 3, got %d", len(cs[1][3]))
	}
	if len(cs[1][1]) != 1 {
		t.Errorf("Expected the unreferenced contour on slice 1 (z=2.5), got %d", len(cs[1][1]))
	}
	if _, ok := cs[2]; !ok {
		t.Error("Expected an entry for the empty ROI 2")
	}
	if cs[2].Count() != 0 {
		t.Errorf("Expected ROI 2 to be empty, got %d contours", cs[2].Count())
	}
}

func TestAssignSlicesOutOfRange(t *testing.T) {
	ss := &StructureSet{
		ROIs: []models.ROI{{Number: 1}},
		Contours: []Contour{{
			ROI:    1,
			Points: models.Contour{{Z: 50}, {X: 1, Z: 50}, {Y: 1, Z: 50}},
		}},
	}
	g := models.NewAxialGeometry(models.Point3D{}, [3]float64{1, 1, 1}, 10, 10, 5)
	if _, err := AssignSlices(ss, g, nil); !isErr(err, ErrSliceOutOfRange) {
		t.Errorf("Expected ErrSliceOutOfRange, got %v", err)
	}
}

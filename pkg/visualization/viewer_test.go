package visualization

import (
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"roitransfer/internal/models"
)

// createSquare returns a square in patient coordinates whose edges run
// halfway between voxel centres, covering voxels lo..hi-1 exactly
func createSquare(lo, hi, z float64) models.Contour {
	a, b := lo-0.5, hi-0.5
	return models.Contour{{X: a, Y: a, Z: z}, {X: b, Y: a, Z: z}, {X: b, Y: b, Z: z}, {X: a, Y: b, Z: z}}
}

func createGeometry() models.ImageGeometry {
	return models.NewAxialGeometry(models.Point3D{}, [3]float64{1, 1, 2}, 10, 8, 3)
}

// TestNewViewer verifies label assignment and argument checks
func TestNewViewer(t *testing.T) {
	cs := models.ContourSet{7: {}, 3: {}}
	viewer, err := NewViewer(cs, createGeometry())
	if err != nil {
		t.Fatalf("NewViewer failed: %v", err)
	}

	if viewer.Label(3) != 1 || viewer.Label(7) != 2 {
		t.Errorf("Expected labels 1 and 2, got %d and %d", viewer.Label(3), viewer.Label(7))
	}
	if viewer.Label(5) != 0 {
		t.Errorf("Expected label 0 for an unknown ROI, got %d", viewer.Label(5))
	}

	if _, err := NewViewer(cs, models.ImageGeometry{}); err == nil {
		t.Error("Expected an error for an empty geometry")
	}

	many := models.ContourSet{}
	for i := 0; i < 256; i++ {
		many[i] = models.SliceContours{}
	}
	if _, err := NewViewer(many, createGeometry()); err == nil {
		t.Error("Expected an error for 256 ROIs")
	}
}

// TestExtractSlice verifies that contours are filled with their label
func TestExtractSlice(t *testing.T) {
	cs := models.ContourSet{
		3: {1: {createSquare(2, 5, 2)}},
		7: {1: {createSquare(4, 7, 2)}, 2: {createSquare(0, 2, 4)}},
	}
	viewer, err := NewViewer(cs, createGeometry())
	if err != nil {
		t.Fatal(err)
	}

	img, err := viewer.ExtractSlice(1)
	if err != nil {
		t.Fatalf("ExtractSlice failed: %v", err)
	}
	if img.Bounds().Dx() != 10 || img.Bounds().Dy() != 8 {
		t.Fatalf("Expected a 10x8 image, got %v", img.Bounds())
	}

	tests := []struct {
		x, y int
		want uint8
	}{
		{2, 2, 1},
		{3, 3, 1},
		{1, 1, 0},
		{4, 4, 2}, // overlap goes to the higher label
		{6, 6, 2},
		{7, 7, 0},
		{5, 2, 0},
	}
	for _, tt := range tests {
		if got := img.GrayAt(tt.x, tt.y).Y; got != tt.want {
			t.Errorf("Pixel (%d, %d): expected %d, got %d", tt.x, tt.y, tt.want, got)
		}
	}

	empty, err := viewer.ExtractSlice(0)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range empty.Pix {
		if p != 0 {
			t.Fatal("Expected slice 0 to be empty")
		}
	}

	if _, err := viewer.ExtractSlice(3); err == nil {
		t.Error("Expected an error for a slice past the end")
	}
}

// TestSaveSliceSequence verifies that every slice is written as a PNG
func TestSaveSliceSequence(t *testing.T) {
	cs := models.ContourSet{1: {2: {createSquare(1, 4, 4)}}}
	viewer, err := NewViewer(cs, createGeometry())
	if err != nil {
		t.Fatal(err)
	}

	dir := filepath.Join(t.TempDir(), "labelmaps")
	if err := viewer.SaveSliceSequence(dir); err != nil {
		t.Fatalf("SaveSliceSequence failed: %v", err)
	}

	for k := 0; k < 3; k++ {
		if _, err := os.Stat(filepath.Join(dir, fmt.Sprintf("slice_%03d.png", k))); err != nil {
			t.Errorf("Expected label map for slice %d: %v", k, err)
		}
	}

	f, err := os.Open(filepath.Join(dir, "slice_002.png"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("Failed to decode label map: %v", err)
	}
	r, _, _, _ := img.At(2, 2).RGBA()
	if r>>8 != 1 {
		t.Errorf("Expected label 1 at (2, 2), got %d", r>>8)
	}
}

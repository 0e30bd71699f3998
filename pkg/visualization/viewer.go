// Package visualization renders transferred contours as label maps on the
// voxel grid of the target series.
package visualization

import (
	"bufio"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	"golang.org/x/image/vector"

	"roitransfer/internal/models"
)

// maxLabels is the number of ROIs an 8-bit label map can hold next to the
// background value 0
const maxLabels = 255

// coverageThreshold is the rasterised coverage above which a pixel belongs
// to a contour
const coverageThreshold = 0x80

// Viewer draws the contours of a ContourSet slice by slice. Pixel values are
// label IDs: 0 for background and 1..n for the ROIs in ascending ROI number.
// Where ROIs overlap the higher label wins.
type Viewer struct {
	contours models.ContourSet
	geometry models.ImageGeometry

	// rois lists the ROI numbers in label order
	rois []int
}

// NewViewer creates a label-map viewer over the given geometry. The contours
// are in patient coordinates and keyed by slice index of the geometry.
func NewViewer(contours models.ContourSet, geometry models.ImageGeometry) (*Viewer, error) {
	rois := contours.ROINumbers()
	if len(rois) > maxLabels {
		return nil, fmt.Errorf("%d ROIs exceed the %d labels of a label map", len(rois), maxLabels)
	}
	if geometry.Width <= 0 || geometry.Height <= 0 {
		return nil, fmt.Errorf("invalid slice dimensions: %dx%d", geometry.Width, geometry.Height)
	}

	return &Viewer{
		contours: contours,
		geometry: geometry,
		rois:     rois,
	}, nil
}

// Label returns the pixel value used for an ROI, 0 when the ROI is unknown
func (v *Viewer) Label(roi int) uint8 {
	for i, n := range v.rois {
		if n == roi {
			return uint8(i + 1)
		}
	}
	return 0
}

// ExtractSlice rasterises slice k into a label map
func (v *Viewer) ExtractSlice(k int) (*image.Gray, error) {
	if k < 0 || k >= v.geometry.Depth {
		return nil, fmt.Errorf("slice %d outside [0, %d)", k, v.geometry.Depth)
	}

	w, h := v.geometry.Width, v.geometry.Height
	img := image.NewGray(image.Rect(0, 0, w, h))
	mask := image.NewAlpha(img.Bounds())
	z := vector.NewRasterizer(w, h)

	for i, roi := range v.rois {
		polygons := v.contours[roi][k]
		if len(polygons) == 0 {
			continue
		}

		clear(mask.Pix)
		for _, c := range polygons {
			if !c.CanEnclose() {
				continue
			}
			z.Reset(w, h)
			v.tracePolygon(z, c)
			z.Draw(mask, mask.Bounds(), image.Opaque, image.Point{})
		}

		label := uint8(i + 1)
		for p, a := range mask.Pix {
			if a >= coverageThreshold {
				img.Pix[p] = label
			}
		}
	}

	return img, nil
}

// tracePolygon adds a contour to the rasteriser in pixel coordinates. Voxel
// centres sit at the middle of their pixel.
func (v *Viewer) tracePolygon(z *vector.Rasterizer, c models.Contour) {
	for i, p := range c {
		ijk := v.geometry.PatientToIndex(p)
		x, y := float32(ijk.X+0.5), float32(ijk.Y+0.5)
		if i == 0 {
			z.MoveTo(x, y)
		} else {
			z.LineTo(x, y)
		}
	}
	z.ClosePath()
}

// SaveSlice saves a label map as a PNG image
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	bw := bufio.NewWriter(file)
	if err := png.Encode(bw, img); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return file.Close()
}

// SaveSliceSequence writes the label map of every slice to outputDir
func (v *Viewer) SaveSliceSequence(outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	for k := 0; k < v.geometry.Depth; k++ {
		img, err := v.ExtractSlice(k)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%03d.png", k))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}

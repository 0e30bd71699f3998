package models

import (
	"sort"

	"gonum.org/v1/gonum/spatial/r3"
)

// ImageGeometry describes the voxel grid of an image series in the patient
// coordinate system
type ImageGeometry struct {
	// Origin is the patient position of the first voxel of slice 0
	Origin Point3D

	// RowDirection is the unit direction of increasing column index (i)
	RowDirection Point3D

	// ColumnDirection is the unit direction of increasing row index (j)
	ColumnDirection Point3D

	// SliceDirection is the unit slice normal, pointing to increasing k
	SliceDirection Point3D

	// VoxelSize is the physical size of each voxel in mm. X is the spacing
	// between columns, Y between rows and Z between slices.
	VoxelSize struct {
		X, Y, Z float64
	}

	// Width, Height, Depth are the number of columns, rows and slices
	Width, Height, Depth int

	// SlicePositions optionally holds the origin of every slice when the
	// series is not evenly spaced. Empty means Origin + k*VoxelSize.Z along
	// SliceDirection.
	SlicePositions []Point3D
}

// NewAxialGeometry returns an identity-oriented geometry, the usual layout
// of an axial CT or MR series
func NewAxialGeometry(origin Point3D, spacing [3]float64, width, height, depth int) ImageGeometry {
	g := ImageGeometry{
		Origin:          origin,
		RowDirection:    Point3D{X: 1},
		ColumnDirection: Point3D{Y: 1},
		SliceDirection:  Point3D{Z: 1},
		Width:           width,
		Height:          height,
		Depth:           depth,
	}
	g.VoxelSize.X, g.VoxelSize.Y, g.VoxelSize.Z = spacing[0], spacing[1], spacing[2]
	return g
}

// SliceOrigin returns the patient position of the first voxel of slice k.
// k may lie outside [0, Depth) for evenly spaced series.
func (g ImageGeometry) SliceOrigin(k int) Point3D {
	if len(g.SlicePositions) > 0 && k >= 0 && k < len(g.SlicePositions) {
		return g.SlicePositions[k]
	}
	offset := r3.Scale(float64(k)*g.VoxelSize.Z, g.SliceDirection.Vec())
	return FromVec(r3.Add(g.Origin.Vec(), offset))
}

// sliceDistances returns the distance of every slice origin from Origin
// along the slice normal
func (g ImageGeometry) sliceDistances() []float64 {
	d := make([]float64, len(g.SlicePositions))
	for k, p := range g.SlicePositions {
		d[k] = r3.Dot(r3.Sub(p.Vec(), g.Origin.Vec()), g.SliceDirection.Vec())
	}
	return d
}

// SlicePosition returns the (fractional) slice index of a patient point
func (g ImageGeometry) SlicePosition(p Point3D) float64 {
	dist := r3.Dot(r3.Sub(p.Vec(), g.Origin.Vec()), g.SliceDirection.Vec())

	if len(g.SlicePositions) < 2 {
		if g.VoxelSize.Z == 0 {
			return 0
		}
		return dist / g.VoxelSize.Z
	}

	// Irregular spacing: piecewise linear between slice origins, linear
	// extrapolation past the ends
	d := g.sliceDistances()
	k := sort.SearchFloat64s(d, dist)
	if k == 0 {
		k = 1
	}
	if k >= len(d) {
		k = len(d) - 1
	}
	span := d[k] - d[k-1]
	if span == 0 {
		return float64(k - 1)
	}
	return float64(k-1) + (dist-d[k-1])/span
}

// PatientToIndex converts a patient position into (i, j, k) index space
func (g ImageGeometry) PatientToIndex(p Point3D) Point3D {
	rel := r3.Sub(p.Vec(), g.Origin.Vec())
	var i, j float64
	if g.VoxelSize.X != 0 {
		i = r3.Dot(rel, g.RowDirection.Vec()) / g.VoxelSize.X
	}
	if g.VoxelSize.Y != 0 {
		j = r3.Dot(rel, g.ColumnDirection.Vec()) / g.VoxelSize.Y
	}
	return Point3D{X: i, Y: j, Z: g.SlicePosition(p)}
}

// IndexToPatient converts (i, j, k) index coordinates into a patient
// position. Fractional k is only exact for evenly spaced series.
func (g ImageGeometry) IndexToPatient(ijk Point3D) Point3D {
	var v r3.Vec
	if k := int(ijk.Z); float64(k) == ijk.Z && len(g.SlicePositions) > 0 {
		v = g.SliceOrigin(k).Vec()
	} else {
		v = r3.Add(g.Origin.Vec(), r3.Scale(ijk.Z*g.VoxelSize.Z, g.SliceDirection.Vec()))
	}
	v = r3.Add(v, r3.Scale(ijk.X*g.VoxelSize.X, g.RowDirection.Vec()))
	v = r3.Add(v, r3.Scale(ijk.Y*g.VoxelSize.Y, g.ColumnDirection.Vec()))
	return FromVec(v)
}

// Corners returns the eight patient-space corners of the voxel-centre grid
func (g ImageGeometry) Corners() []Point3D {
	maxI := float64(g.Width - 1)
	maxJ := float64(g.Height - 1)
	corners := make([]Point3D, 0, 8)
	for _, k := range []int{0, g.Depth - 1} {
		base := g.SliceOrigin(k)
		for _, j := range []float64{0, maxJ} {
			for _, i := range []float64{0, maxI} {
				v := base.Vec()
				v = r3.Add(v, r3.Scale(i*g.VoxelSize.X, g.RowDirection.Vec()))
				v = r3.Add(v, r3.Scale(j*g.VoxelSize.Y, g.ColumnDirection.Vec()))
				corners = append(corners, FromVec(v))
			}
		}
	}
	return corners
}

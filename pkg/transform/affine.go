package transform

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"roitransfer/internal/models"
)

// Affine is a 4x4 homogeneous transform stored row-major
type Affine struct {
	M [16]float64
}

// Identity returns the identity transform
func Identity() Affine {
	return Affine{M: [16]float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}}
}

// NewAffine wraps a row-major 4x4 matrix
func NewAffine(rowMajor [16]float64) Affine {
	return Affine{M: rowMajor}
}

// NewRigid returns the rotation Rz*Ry*Rx (angles in radians) followed by
// a translation
func NewRigid(rx, ry, rz float64, translation models.Point3D) Affine {
	rotX := mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, math.Cos(rx), -math.Sin(rx),
		0, math.Sin(rx), math.Cos(rx),
	})
	rotY := mat.NewDense(3, 3, []float64{
		math.Cos(ry), 0, math.Sin(ry),
		0, 1, 0,
		-math.Sin(ry), 0, math.Cos(ry),
	})
	rotZ := mat.NewDense(3, 3, []float64{
		math.Cos(rz), -math.Sin(rz), 0,
		math.Sin(rz), math.Cos(rz), 0,
		0, 0, 1,
	})

	var zy, r mat.Dense
	zy.Mul(rotZ, rotY)
	r.Mul(&zy, rotX)

	a := Identity()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			a.M[i*4+j] = r.At(i, j)
		}
	}
	a.M[3], a.M[7], a.M[11] = translation.X, translation.Y, translation.Z
	return a
}

func (a Affine) dense() *mat.Dense {
	m := a.M
	return mat.NewDense(4, 4, m[:])
}

func fromDense(d mat.Matrix) Affine {
	var a Affine
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			a.M[i*4+j] = d.At(i, j)
		}
	}
	return a
}

// Inverse returns the inverse transform
func (a Affine) Inverse() (Affine, error) {
	var inv mat.Dense
	if err := inv.Inverse(a.dense()); err != nil {
		return Affine{}, fmt.Errorf("inverting affine: %w", err)
	}
	return fromDense(&inv), nil
}

// Compose returns the transform that applies a, then next
func (a Affine) Compose(next Affine) Affine {
	var out mat.Dense
	out.Mul(next.dense(), a.dense())
	return fromDense(&out)
}

// TransformPoint applies the transform to a single point
func (a Affine) TransformPoint(p models.Point3D) (models.Point3D, error) {
	out, err := a.TransformPoints([]models.Point3D{p})
	if err != nil {
		return models.Point3D{}, err
	}
	return out[0], nil
}

// TransformPoints applies the transform to all points with one 4xN matrix
// product
func (a Affine) TransformPoints(points []models.Point3D) ([]models.Point3D, error) {
	if len(points) == 0 {
		return nil, nil
	}

	n := len(points)
	h := mat.NewDense(4, n, nil)
	for i, p := range points {
		h.Set(0, i, p.X)
		h.Set(1, i, p.Y)
		h.Set(2, i, p.Z)
		h.Set(3, i, 1)
	}

	var res mat.Dense
	res.Mul(a.dense(), h)

	out := make([]models.Point3D, n)
	for i := range out {
		w := res.At(3, i)
		if w == 0 {
			return nil, errors.New("point maps to infinity")
		}
		out[i] = models.Point3D{X: res.At(0, i) / w, Y: res.At(1, i) / w, Z: res.At(2, i) / w}
	}
	return out, nil
}

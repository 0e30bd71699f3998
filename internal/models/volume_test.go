package models

import (
	"math"
	"testing"
)

func TestAxialGeometryRoundTrip(t *testing.T) {
	g := NewAxialGeometry(Point3D{X: -100, Y: -50, Z: 20}, [3]float64{0.5, 0.75, 2.5}, 64, 48, 10)

	testCases := []Point3D{
		{X: 0, Y: 0, Z: 0},
		{X: 10, Y: 5, Z: 3},
		{X: 63, Y: 47, Z: 9},
		{X: 1.5, Y: 2.25, Z: 4.5},
	}

	for i, ijk := range testCases {
		p := g.IndexToPatient(ijk)
		back := g.PatientToIndex(p)
		if !back.ApproxEqual(ijk, 1e-9) {
			t.Errorf("Case %d: Expected %v, got %v", i, ijk, back)
		}
	}
}

func TestSlicePositionIrregular(t *testing.T) {
	g := NewAxialGeometry(Point3D{}, [3]float64{1, 1, 1}, 4, 4, 3)
	g.SlicePositions = []Point3D{{Z: 0}, {Z: 1}, {Z: 3}}

	testCases := []struct {
		z        float64
		expected float64
	}{
		{0, 0},
		{1, 1},
		{2, 1.5},
		{3, 2},
		{5, 3},
	}

	for _, tc := range testCases {
		got := g.SlicePosition(Point3D{Z: tc.z})
		if math.Abs(got-tc.expected) > 1e-12 {
			t.Errorf("z=%.1f: Expected slice position %.3f, got %.3f", tc.z, tc.expected, got)
		}
	}

	if o := g.SliceOrigin(2); o.Z != 3 {
		t.Errorf("Expected origin of slice 2 at z=3, got %v", o)
	}
}

func TestCorners(t *testing.T) {
	g := NewAxialGeometry(Point3D{}, [3]float64{1, 2, 3}, 3, 3, 3)
	corners := g.Corners()
	if len(corners) != 8 {
		t.Fatalf("Expected 8 corners, got %d", len(corners))
	}

	last := corners[7]
	expected := Point3D{X: 2, Y: 4, Z: 6}
	if !last.ApproxEqual(expected, 1e-12) {
		t.Errorf("Expected far corner %v, got %v", expected, last)
	}
}

func TestSliceContoursIndices(t *testing.T) {
	s := SliceContours{
		7: {{{X: 0}, {X: 1}, {Y: 1}}},
		3: {{{X: 0}, {X: 1}, {Y: 1}}},
		5: {},
	}

	inds := s.Indices()
	if len(inds) != 2 || inds[0] != 3 || inds[1] != 7 {
		t.Errorf("Expected indices [3 7], got %v", inds)
	}
	if s.Count() != 2 {
		t.Errorf("Expected 2 contours, got %d", s.Count())
	}

	cp := s.Clone()
	cp[3][0][0] = Point3D{X: 42}
	if s[3][0][0].X == 42 {
		t.Error("Clone should not share contour memory")
	}
}

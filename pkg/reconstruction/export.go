package reconstruction

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"roitransfer/internal/models"
)

// yamlDocument is the on-disk layout of a contour set
type yamlDocument struct {
	ROIs []yamlROI `yaml:"rois"`
}

type yamlROI struct {
	Number int         `yaml:"number"`
	Name   string      `yaml:"name,omitempty"`
	Slices []yamlSlice `yaml:"slices"`
}

type yamlSlice struct {
	Index    int            `yaml:"index"`
	Type     string         `yaml:"type,omitempty"`
	Contours [][][3]float64 `yaml:"contours,flow"`
}

// WriteYAML encodes a contour set, with optional slice types and ROI names
func WriteYAML(w io.Writer, cs models.ContourSet, types map[int]map[int]models.ContourType, rois []models.ROI) error {
	names := make(map[int]string, len(rois))
	for _, roi := range rois {
		names[roi.Number] = roi.Name
	}

	var doc yamlDocument
	for _, n := range cs.ROINumbers() {
		out := yamlROI{Number: n, Name: names[n]}
		for _, k := range cs[n].Indices() {
			s := yamlSlice{Index: k}
			if t, ok := types[n][k]; ok {
				s.Type = t.String()
			}
			for _, c := range cs[n][k] {
				pts := make([][3]float64, len(c))
				for i, p := range c {
					pts[i] = [3]float64{p.X, p.Y, p.Z}
				}
				s.Contours = append(s.Contours, pts)
			}
			out.Slices = append(out.Slices, s)
		}
		doc.ROIs = append(doc.ROIs, out)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("error encoding contours: %w", err)
	}
	return enc.Close()
}

// SaveYAML writes a contour set to path, creating its directory
func SaveYAML(path string, cs models.ContourSet, types map[int]map[int]models.ContourType, rois []models.ROI) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating output directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating %s: %w", path, err)
	}
	defer f.Close()

	if err := WriteYAML(f, cs, types, rois); err != nil {
		return err
	}
	return f.Close()
}

// ReadYAML decodes a contour set written by WriteYAML
func ReadYAML(r io.Reader) (models.ContourSet, []models.ROI, error) {
	var doc yamlDocument
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, nil, fmt.Errorf("error parsing contours: %w", err)
	}

	cs := make(models.ContourSet, len(doc.ROIs))
	rois := make([]models.ROI, 0, len(doc.ROIs))
	for _, in := range doc.ROIs {
		slices := make(models.SliceContours, len(in.Slices))
		for _, s := range in.Slices {
			for _, pts := range s.Contours {
				c := make(models.Contour, len(pts))
				for i, p := range pts {
					c[i] = models.Point3D{X: p[0], Y: p[1], Z: p[2]}
				}
				slices[s.Index] = append(slices[s.Index], c)
			}
		}
		cs[in.Number] = slices
		rois = append(rois, models.ROI{Number: in.Number, Name: in.Name})
	}
	return cs, rois, nil
}

// LoadYAML reads a contour set from path
func LoadYAML(path string) (models.ContourSet, []models.ROI, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("error reading contours: %w", err)
	}
	defer f.Close()
	return ReadYAML(f)
}

// Save writes the mapped contours and their slice types to path
func (r *Reconstructor) Save(path string) error {
	types := make(map[int]map[int]models.ContourType, len(r.result.Types))
	for roi, table := range r.result.Types {
		types[roi] = make(map[int]models.ContourType)
		for k, t := range table {
			if t != models.NoContour {
				types[roi][k] = t
			}
		}
	}
	return SaveYAML(path, r.result.Contours, types, r.params.ROIs)
}

package config

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// Calibration is the camera calibration produced by the offline calibration
// script. Only the five scalars feed the detector; the matrices are kept for
// reference.
type Calibration struct {
	Mtx   [][]float64   `yaml:"mtx"`
	Dist  [][]float64   `yaml:"dist"`
	RVecs [][][]float64 `yaml:"rvecs"`
	TVecs [][][]float64 `yaml:"tvecs"`

	Fx      *float64 `yaml:"fx"`
	Fy      *float64 `yaml:"fy"`
	Cx      *float64 `yaml:"cx"`
	Cy      *float64 `yaml:"cy"`
	TagSize *float64 `yaml:"tagsize"`
}

// TagParams are the intrinsics handed to the pose estimator.
type TagParams struct {
	Fx, Fy  float64 // focal lengths in pixels
	Cx, Cy  float64 // principal point in pixels
	TagSize float64 // tag edge length in meters
}

// LoadCalibration reads and validates a calibration file.
func LoadCalibration(path string) (*Calibration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read calibration file: %w", err)
	}

	var cal Calibration
	if err := yaml.Unmarshal(data, &cal); err != nil {
		return nil, fmt.Errorf("failed to parse calibration: %w", err)
	}
	if _, err := cal.TagParams(); err != nil {
		return nil, err
	}
	return &cal, nil
}

// TagParams converts the calibration into detector parameters. All five
// scalars must be present and finite.
func (c *Calibration) TagParams() (TagParams, error) {
	fields := []struct {
		name string
		v    *float64
	}{
		{"fx", c.Fx}, {"fy", c.Fy}, {"cx", c.Cx}, {"cy", c.Cy}, {"tagsize", c.TagSize},
	}
	for _, f := range fields {
		if f.v == nil {
			return TagParams{}, fmt.Errorf("%w: calibration field %s is missing", ErrInvalid, f.name)
		}
		if math.IsNaN(*f.v) || math.IsInf(*f.v, 0) {
			return TagParams{}, fmt.Errorf("%w: calibration field %s is not finite", ErrInvalid, f.name)
		}
	}
	return TagParams{Fx: *c.Fx, Fy: *c.Fy, Cx: *c.Cx, Cy: *c.Cy, TagSize: *c.TagSize}, nil
}

// Distortion returns the flattened distortion coefficients.
func (c *Calibration) Distortion() []float64 {
	var out []float64
	for _, row := range c.Dist {
		out = append(out, row...)
	}
	return out
}

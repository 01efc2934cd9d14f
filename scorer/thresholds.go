package main

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// missingComponentPoints is what a sub-score contributes when its input
// variable was never observed. Defaulting to zero biases totals toward
// underestimating severity, which is the documented policy here.
const missingComponentPoints = 0

// Band maps the half-open value interval [Lo, Hi) to a point value.
// Open ends are expressed as +-Inf (YAML: .inf / -.inf).
type Band struct {
	Lo     float64 `yaml:"lo"`
	Hi     float64 `yaml:"hi"`
	Points int     `yaml:"points"`
}

func (b Band) contains(v float64) bool {
	return v >= b.Lo && v < b.Hi
}

// Thresholds holds the ordered band table of every sub-score. Bands are
// evaluated first-match-wins, so tables are listed most severe first.
type Thresholds struct {
	SofaPlatelet   []Band `yaml:"sofa_platelet"`
	SofaBilirubin  []Band `yaml:"sofa_bilirubin"`
	SofaCreatinine []Band `yaml:"sofa_creatinine"`
	SofaGCS        []Band `yaml:"sofa_gcs"`
	SofaPF         []Band `yaml:"sofa_pf"`
	ApacheTemp     []Band `yaml:"apache_temp"`
	ApacheCreat    []Band `yaml:"apache_creatinine"`
}

// DefaultThresholds returns the built-in SOFA (Vincent 1996) and
// APACHE II (Knaus 1985) band tables.
func DefaultThresholds() *Thresholds {
	inf := math.Inf(1)
	return &Thresholds{
		SofaPlatelet: []Band{
			{0, 20, 4},
			{20, 50, 3},
			{50, 100, 2},
			{100, 150, 1},
			{150, inf, 0},
		},
		SofaBilirubin: []Band{
			{12, inf, 4},
			{6, 12, 3},
			{2, 6, 2},
			{1.2, 2, 1},
			{0, 1.2, 0},
		},
		SofaCreatinine: []Band{
			{5, inf, 4},
			{3.5, 5, 3},
			{2, 3.5, 2},
			{1.2, 2, 1},
			{0, 1.2, 0},
		},
		SofaGCS: []Band{
			{0, 6, 4},
			{6, 10, 3},
			{10, 13, 2},
			{13, 15, 1},
			{15, inf, 0},
		},
		SofaPF: []Band{
			{0, 100, 4},
			{100, 200, 3},
			{200, 300, 2},
			{300, 400, 1},
			{400, inf, 0},
		},
		ApacheTemp: []Band{
			{41, inf, 4},
			{math.Inf(-1), 30, 4},
			{39, 41, 3},
			{30, 32, 3},
			{38.5, 39, 2},
			{32, 34, 2},
			{34, 36, 1},
			{36, 38.5, 0},
		},
		ApacheCreat: []Band{
			{3.5, inf, 4},
			{2, 3.5, 3},
			{1.5, 2, 2},
			{0, 0.6, 2},
			{0.6, 1.5, 0},
		},
	}
}

// LoadThresholds reads a band-table override from a YAML file, or returns
// the built-in tables when path is empty. Tables the file omits fall back
// to their defaults.
func LoadThresholds(path string) (*Thresholds, error) {
	th := DefaultThresholds()
	if path == "" {
		if err := th.Validate(); err != nil {
			return nil, err
		}
		return th, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read thresholds %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, th); err != nil {
		return nil, fmt.Errorf("parse thresholds %s: %w", path, err)
	}
	if err := th.Validate(); err != nil {
		return nil, fmt.Errorf("thresholds %s: %w", path, err)
	}
	return th, nil
}

// Validate rejects empty and malformed band tables.
func (t *Thresholds) Validate() error {
	tables := map[string][]Band{
		"sofa_platelet":     t.SofaPlatelet,
		"sofa_bilirubin":    t.SofaBilirubin,
		"sofa_creatinine":   t.SofaCreatinine,
		"sofa_gcs":          t.SofaGCS,
		"sofa_pf":           t.SofaPF,
		"apache_temp":       t.ApacheTemp,
		"apache_creatinine": t.ApacheCreat,
	}
	for name, bands := range tables {
		if len(bands) == 0 {
			return fmt.Errorf("threshold table %s is empty", name)
		}
		for _, b := range bands {
			if !(b.Lo < b.Hi) {
				return fmt.Errorf("threshold table %s: band [%g, %g) is empty", name, b.Lo, b.Hi)
			}
			if b.Points < 0 || b.Points > 4 {
				return fmt.Errorf("threshold table %s: points %d out of range 0..4", name, b.Points)
			}
		}
	}
	return nil
}

// scoreBands maps one value through an ordered band table. A nil value
// and a value no band covers both score missingComponentPoints.
func scoreBands(v *float64, bands []Band) int {
	if v == nil {
		return missingComponentPoints
	}
	for _, b := range bands {
		if b.contains(*v) {
			return b.Points
		}
	}
	return missingComponentPoints
}

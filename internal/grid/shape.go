package grid

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"

	"github.com/banshee-data/obdwatch/internal/failure"
	"github.com/banshee-data/obdwatch/internal/fsutil"
)

// ShapeVersion is written by SaveShape.
const ShapeVersion = "2.0"

// Shape is the persisted form of a table: its axes and, for reference only,
// which cells were visited when it was saved. Cell values are never
// persisted and the visited map is never used to populate a new table.
type Shape struct {
	Version        string    `json:"version"`
	PrimaryTicks   []float64 `json:"primary_ticks"`
	SecondaryTicks []float64 `json:"secondary_ticks"`
	VisitedCells   [][]bool  `json:"visited_cells,omitempty"`
}

// legacyShape accepts files written with engine-specific key names.
type legacyShape struct {
	RPMValues []float64 `json:"rpm_values"`
	MAPValues []float64 `json:"map_values"`
}

// DefaultShape returns the built-in axes.
func DefaultShape() Shape {
	return Shape{
		Version:        ShapeVersion,
		PrimaryTicks:   DefaultPrimaryAxis(),
		SecondaryTicks: DefaultSecondaryAxis(),
	}
}

// Axes validates and returns the shape's axes.
func (s Shape) Axes() (Axis, Axis, error) {
	p, err := NewAxis(s.PrimaryTicks)
	if err != nil {
		return nil, nil, fmt.Errorf("primary axis: %w", err)
	}
	q, err := NewAxis(s.SecondaryTicks)
	if err != nil {
		return nil, nil, fmt.Errorf("secondary axis: %w", err)
	}
	return p, q, nil
}

// ParseShape decodes a shape document. Versions "1.0" and "2.0" are
// accepted; an unversioned document is treated as "1.0".
func ParseShape(data []byte) (Shape, error) {
	var s Shape
	if err := json.Unmarshal(data, &s); err != nil {
		return Shape{}, failure.Config("parse grid shape", err)
	}

	switch s.Version {
	case "", "1.0", ShapeVersion:
	default:
		return Shape{}, failure.Config("parse grid shape", fmt.Errorf("unsupported version %q", s.Version))
	}

	if len(s.PrimaryTicks) == 0 && len(s.SecondaryTicks) == 0 {
		var legacy legacyShape
		if err := json.Unmarshal(data, &legacy); err == nil {
			s.PrimaryTicks, s.SecondaryTicks = legacy.RPMValues, legacy.MAPValues
		}
	}

	if _, _, err := s.Axes(); err != nil {
		return Shape{}, failure.Config("parse grid shape", err)
	}
	s.Version = ShapeVersion
	return s, nil
}

// LoadShape reads the shape at path. A missing file yields DefaultShape and
// found=false.
func LoadShape(fsys fsutil.FileSystem, path string) (shape Shape, found bool, err error) {
	data, err := fsys.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultShape(), false, nil
	}
	if err != nil {
		return Shape{}, false, failure.IO("load grid shape", err)
	}
	s, err := ParseShape(data)
	if err != nil {
		return Shape{}, true, err
	}
	return s, true, nil
}

// ShapeOf captures the axes and visited map of t.
func ShapeOf(t *Table) Shape {
	g := t.Grid()
	return Shape{
		Version:        ShapeVersion,
		PrimaryTicks:   g.Primary(),
		SecondaryTicks: g.Secondary(),
		VisitedCells:   g.VisitedMap(),
	}
}

// SaveShape writes the shape of t to path.
func SaveShape(fsys fsutil.FileSystem, path string, t *Table) error {
	data, err := json.MarshalIndent(ShapeOf(t), "", "  ")
	if err != nil {
		return failure.IO("save grid shape", err)
	}
	if err := fsys.WriteFile(path, data, 0o644); err != nil {
		return failure.IO("save grid shape", err)
	}
	return nil
}

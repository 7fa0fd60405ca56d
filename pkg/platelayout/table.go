// Package platelayout holds plate geometries and computes where each field
// image sits on the plate.
package platelayout

import (
	"errors"
	"fmt"
	"sort"

	"platestack/internal/models"
)

// ErrUnknownPlate is returned when no geometry exists for a well count
var ErrUnknownPlate = errors.New("unknown plate geometry")

// Table maps a total well count to its plate geometry
type Table map[int]models.PlateLayout

// DefaultTable returns geometries for the common SBS footprint plates, in
// micrometres: [wellsX, wellsY, centerX0, centerY0, pitchX, pitchY, usableW, usableH].
func DefaultTable() Table {
	t := Table{}
	for _, p := range []models.PlateLayout{
		{WellsX: 3, WellsY: 2, CenterX0: 24760, CenterY0: 23160, PitchX: 39120, PitchY: 39120, UsableWidth: 34800, UsableHeight: 34800, Name: "6-well plate", ID: "plate-6"},
		{WellsX: 4, WellsY: 3, CenterX0: 24940, CenterY0: 16790, PitchX: 26010, PitchY: 26010, UsableWidth: 22110, UsableHeight: 22110, Name: "12-well plate", ID: "plate-12"},
		{WellsX: 6, WellsY: 4, CenterX0: 17050, CenterY0: 13670, PitchX: 19300, PitchY: 19300, UsableWidth: 15540, UsableHeight: 15540, Name: "24-well plate", ID: "plate-24"},
		{WellsX: 8, WellsY: 6, CenterX0: 18160, CenterY0: 10080, PitchX: 13080, PitchY: 13080, UsableWidth: 10980, UsableHeight: 10980, Name: "48-well plate", ID: "plate-48"},
		{WellsX: 12, WellsY: 8, CenterX0: 14380, CenterY0: 11240, PitchX: 9000, PitchY: 9000, UsableWidth: 6400, UsableHeight: 6400, Name: "96-well plate", ID: "plate-96"},
		{WellsX: 24, WellsY: 16, CenterX0: 12130, CenterY0: 8990, PitchX: 4500, PitchY: 4500, UsableWidth: 3600, UsableHeight: 3600, Name: "384-well plate", ID: "plate-384"},
		{WellsX: 48, WellsY: 32, CenterX0: 11005, CenterY0: 7865, PitchX: 2250, PitchY: 2250, UsableWidth: 1550, UsableHeight: 1550, Name: "1536-well plate", ID: "plate-1536"},
	} {
		t[p.WellCount()] = p
	}
	return t
}

// Lookup returns the geometry for a total well count
func (t Table) Lookup(wells int) (models.PlateLayout, error) {
	p, ok := t[wells]
	if !ok {
		return models.PlateLayout{}, fmt.Errorf("%w: no entry for %d wells (known: %v)", ErrUnknownPlate, wells, t.Keys())
	}
	return p, nil
}

// Keys lists the known well counts in ascending order
func (t Table) Keys() []int {
	keys := make([]int, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// Merge returns a copy of t with the given layouts added or replaced
func (t Table) Merge(layouts []models.PlateLayout) Table {
	out := make(Table, len(t)+len(layouts))
	for k, v := range t {
		out[k] = v
	}
	for _, p := range layouts {
		out[p.WellCount()] = p
	}
	return out
}

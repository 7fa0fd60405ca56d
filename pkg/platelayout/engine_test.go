package platelayout

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"platestack/internal/models"
	"platestack/pkg/report"
)

func plate96(t *testing.T) models.PlateLayout {
	t.Helper()
	p, err := DefaultTable().Lookup(96)
	if err != nil {
		t.Fatalf("Lookup(96) failed: %v", err)
	}
	return p
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestLookup(t *testing.T) {
	table := DefaultTable()
	for _, n := range []int{6, 12, 24, 48, 96, 384, 1536} {
		p, err := table.Lookup(n)
		if err != nil {
			t.Errorf("Lookup(%d) failed: %v", n, err)
			continue
		}
		if p.WellCount() != n {
			t.Errorf("Lookup(%d) returned a %d-well plate", n, p.WellCount())
		}
	}

	_, err := table.Lookup(100)
	if !errors.Is(err, ErrUnknownPlate) {
		t.Errorf("Expected ErrUnknownPlate, got %v", err)
	}
}

func TestMerge(t *testing.T) {
	custom := models.PlateLayout{WellsX: 10, WellsY: 10, PitchX: 1000, PitchY: 1000, Name: "custom", ID: "c-100"}
	table := DefaultTable().Merge([]models.PlateLayout{custom})
	p, err := table.Lookup(100)
	if err != nil || p.ID != "c-100" {
		t.Errorf("Merged layout not found: %+v %v", p, err)
	}
	if _, err := DefaultTable().Lookup(100); err == nil {
		t.Error("Merge must not modify the receiver")
	}
}

func TestWellCenter(t *testing.T) {
	p := plate96(t)
	c := p.WellCenter(3, 7) // C7
	if !near(c.X, 14380+6*9000) || !near(c.Y, 11240+2*9000) {
		t.Errorf("Unexpected centre of C7: %+v", c)
	}
}

// TestRecordedPlacement checks centre + offset - half size
func TestRecordedPlacement(t *testing.T) {
	p := plate96(t)
	key := models.StackKey{Row: 1, Column: 2, Field: 1}
	e := &Engine{
		Plate:   p,
		Offsets: map[models.StackKey]models.Point{key: {X: 300, Y: -200}},
	}

	out := e.Place([]Field{{Key: key, Width: 700, Height: 500, ImagePath: "a.tiff", DisplayName: "a"}})
	if len(out) != 1 {
		t.Fatalf("Expected 1 placement, got %d", len(out))
	}
	got := out[0]
	wantX := 14380 + 9000 + 300 - 350.0
	wantY := 11240 - 200 - 250.0
	if !near(got.X, wantX) || !near(got.Y, wantY) {
		t.Errorf("Expected (%g, %g), got (%g, %g)", wantX, wantY, got.X, got.Y)
	}
	if got.Strategy != models.Recorded || got.WellLabel != "A2" || got.Repeat != 1 {
		t.Errorf("Unexpected placement: %+v", got)
	}
}

// TestPackedPlacement checks wrapping at 66% of usable width
func TestPackedPlacement(t *testing.T) {
	p := plate96(t)
	e := NewEngine(p, models.AcquisitionMetadata{}, nil)

	var fields []Field
	for f := 4; f >= 1; f-- { // unsorted on purpose
		fields = append(fields, Field{Key: models.StackKey{Row: 1, Column: 1, Field: f}, Width: 2000, Height: 1500})
	}
	out := e.Place(fields)

	want := [][2]float64{
		{11180, 8040},
		{13180, 8040},
		{11180, 8040 + 1500 + 320},
		{13180, 8040 + 1500 + 320},
	}
	for i, w := range want {
		if out[i].Key.Field != i+1 {
			t.Fatalf("Placements should be sorted by field, got %v at %d", out[i].Key, i)
		}
		if !near(out[i].X, w[0]) || !near(out[i].Y, w[1]) {
			t.Errorf("Field %d: expected (%g, %g), got (%g, %g)", i+1, w[0], w[1], out[i].X, out[i].Y)
		}
		if out[i].Strategy != models.Packed {
			t.Errorf("Field %d should be packed", i+1)
		}
	}
}

// TestPackedResetPerWell checks that each well starts at its own corner
func TestPackedResetPerWell(t *testing.T) {
	p := plate96(t)
	e := NewEngine(p, models.AcquisitionMetadata{}, nil)

	out := e.Place([]Field{
		{Key: models.StackKey{Row: 1, Column: 1, Field: 2}, Width: 100, Height: 100},
		{Key: models.StackKey{Row: 1, Column: 2, Field: 3}, Width: 100, Height: 100},
	})
	if !near(out[0].X, 14380-3200) || !near(out[1].X, 14380+9000-3200) {
		t.Errorf("Sparse fields should start at the usable corner: %+v", out)
	}
}

// TestPlacementDeterminism calls Place twice on the same input
func TestPlacementDeterminism(t *testing.T) {
	p := plate96(t)
	var fields []Field
	for row := 1; row <= 2; row++ {
		for f := 1; f <= 9; f++ {
			fields = append(fields, Field{Key: models.StackKey{Row: row, Column: 5, Field: f}, Width: 700, Height: 700 + float64(f)})
		}
	}

	a := NewEngine(p, models.AcquisitionMetadata{}, nil).Place(fields)
	b := NewEngine(p, models.AcquisitionMetadata{}, nil).Place(fields)
	if !reflect.DeepEqual(a, b) {
		t.Error("Placement is not deterministic")
	}
}

func TestRepeatIndex(t *testing.T) {
	p := plate96(t)
	key := models.StackKey{Row: 2, Column: 2, Field: 1}
	out := NewEngine(p, models.AcquisitionMetadata{}, nil).Place([]Field{
		{Key: key, Width: 10, Height: 10, ImagePath: "t1"},
		{Key: key, Width: 10, Height: 10, ImagePath: "t2"},
	})
	if out[0].Repeat != 1 || out[1].Repeat != 2 {
		t.Errorf("Expected repeats 1 and 2, got %d and %d", out[0].Repeat, out[1].Repeat)
	}
	if out[0].X != out[1].X || out[0].Y != out[1].Y {
		t.Error("Repeats of one field should share a position")
	}
}

// TestOutsidePlateIsNotAnError records a warning but keeps the position
func TestOutsidePlateIsNotAnError(t *testing.T) {
	p := plate96(t)
	key := models.StackKey{Row: 1, Column: 1, Field: 1}
	rep := report.New(nil)
	e := &Engine{
		Plate:   p,
		Offsets: map[models.StackKey]models.Point{key: {X: -20000, Y: 0}},
		Report:  rep,
	}
	out := e.Place([]Field{{Key: key, Width: 100, Height: 100}})
	if !near(out[0].X, 14380-20000-50) {
		t.Errorf("Position should be kept as computed, got %g", out[0].X)
	}
	if rep.Count(report.OutsidePlate) != 1 {
		t.Errorf("Expected one outside-plate warning, got %d", rep.Count(report.OutsidePlate))
	}
}

func TestFieldFromStack(t *testing.T) {
	s := &models.ReconstructedStack{
		Key:         models.StackKey{Row: 1, Column: 1, Field: 1},
		Metadata:    models.AcquisitionMetadata{Width: 1000, Height: 500, PixelSizeX: 0.5, PixelSizeY: 0.5},
		OutputPath:  "x.ome.tiff",
		DisplayName: "x",
	}
	f := FieldFromStack(s, 0)
	if f.Width != 500 || f.Height != 250 || f.ImagePath != "x.ome.tiff" {
		t.Errorf("Unexpected field: %+v", f)
	}
}

// TestFieldFromStackWithoutPixelSize covers acquisitions without metadata
func TestFieldFromStackWithoutPixelSize(t *testing.T) {
	s := &models.ReconstructedStack{Metadata: models.AcquisitionMetadata{Width: 8, Height: 6}}
	if f := FieldFromStack(s, 0); f.Width != 8 || f.Height != 6 {
		t.Errorf("Expected default 1 um pixels (8x6), got %gx%g", f.Width, f.Height)
	}
	if f := FieldFromStack(s, 2.5); f.Width != 20 || f.Height != 15 {
		t.Errorf("Expected 20x15, got %gx%g", f.Width, f.Height)
	}

	s.Metadata.PixelSizeX = 0.5
	if f := FieldFromStack(s, 2); f.Width != 4 || f.Height != 12 {
		t.Errorf("Recorded sizes take precedence per axis, got %gx%g", f.Width, f.Height)
	}
}

// TestPackedWithoutPixelSize checks that fields sized from pixels alone
// get distinct positions
func TestPackedWithoutPixelSize(t *testing.T) {
	p := plate96(t)
	var fields []Field
	for f := 1; f <= 3; f++ {
		s := &models.ReconstructedStack{
			Key:      models.StackKey{Row: 1, Column: 1, Field: f},
			Metadata: models.AcquisitionMetadata{Width: 8, Height: 6},
		}
		fields = append(fields, FieldFromStack(s, 0))
	}
	out := NewEngine(p, models.AcquisitionMetadata{}, nil).Place(fields)
	seen := map[[2]float64]bool{}
	for _, pl := range out {
		at := [2]float64{pl.X, pl.Y}
		if seen[at] {
			t.Errorf("%s shares position %v with another field", pl.Key, at)
		}
		seen[at] = true
	}
	if !near(out[1].X-out[0].X, 8) {
		t.Errorf("Expected fields 8 um apart, got %g", out[1].X-out[0].X)
	}
}

// TestPackedTallestSoFar checks that a wrapped row starts below the tallest
// field placed in the well so far
func TestPackedTallestSoFar(t *testing.T) {
	p := plate96(t)
	heights := []float64{1500, 2500, 1000, 1000, 1000}
	var fields []Field
	for i, h := range heights {
		fields = append(fields, Field{Key: models.StackKey{Row: 1, Column: 1, Field: i + 1}, Width: 2000, Height: h})
	}
	out := NewEngine(p, models.AcquisitionMetadata{}, nil).Place(fields)

	rows := []float64{8040, 8040, 8040 + 2500 + 320, 8040 + 2500 + 320, 8040 + 2*(2500+320)}
	for i, y := range rows {
		if !near(out[i].Y, y) {
			t.Errorf("Field %d: expected y %g, got %g", i+1, y, out[i].Y)
		}
	}
}

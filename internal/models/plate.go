package models

// PlateLayout is one entry of the plate geometry table. All distances are
// in micrometres, measured from the plate's top-left corner.
type PlateLayout struct {
	WellsX int `yaml:"wellsX"`
	WellsY int `yaml:"wellsY"`

	// CenterX0 and CenterY0 locate the centre of well (1,1)
	CenterX0 float64 `yaml:"centerX0"`
	CenterY0 float64 `yaml:"centerY0"`

	PitchX float64 `yaml:"pitchX"`
	PitchY float64 `yaml:"pitchY"`

	// UsableWidth and UsableHeight bound the imageable area of a well
	UsableWidth  float64 `yaml:"usableWidth"`
	UsableHeight float64 `yaml:"usableHeight"`

	Name string `yaml:"name"`
	ID   string `yaml:"id"`
}

// WellCount is the table key of the layout
func (p PlateLayout) WellCount() int {
	return p.WellsX * p.WellsY
}

// WellCenter returns the centre of the well at 1-based (row, col)
func (p PlateLayout) WellCenter(row, col int) Point {
	return Point{
		X: p.CenterX0 + float64(col-1)*p.PitchX,
		Y: p.CenterY0 + float64(row-1)*p.PitchY,
	}
}

// Width and Height return the plate footprint covered by wells
func (p PlateLayout) Width() float64 {
	return p.CenterX0*2 + float64(p.WellsX-1)*p.PitchX
}

func (p PlateLayout) Height() float64 {
	return p.CenterY0*2 + float64(p.WellsY-1)*p.PitchY
}

// PlacementStrategy records how a field position was derived
type PlacementStrategy int

const (
	// Recorded positions come from stage metadata
	Recorded PlacementStrategy = iota
	// Packed positions come from the deterministic packing rule
	Packed
)

func (s PlacementStrategy) String() string {
	if s == Packed {
		return "packed"
	}
	return "recorded"
}

// FieldPlacement is the position of one field image on the plate
type FieldPlacement struct {
	Key       StackKey
	WellLabel string

	// X and Y locate the image's top-left corner
	X, Y float64

	// Width and Height are the physical extent of the image
	Width, Height float64

	// Repeat is 1-based and only used for display grouping
	Repeat int

	ImagePath   string
	DisplayName string

	Strategy PlacementStrategy
}

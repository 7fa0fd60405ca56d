package platelayout

import (
	"sort"

	"gonum.org/v1/gonum/floats"

	"platestack/internal/models"
	"platestack/pkg/report"
)

const (
	// DefaultWrapFraction is the share of the usable well width a packed
	// row may fill before wrapping
	DefaultWrapFraction = 0.66

	// DefaultSpacerFraction is the vertical gap between packed rows as a
	// share of the usable well height
	DefaultSpacerFraction = 0.05

	// DefaultPixelSize in micrometres is assumed for images without a
	// recorded pixel size
	DefaultPixelSize = 1.0
)

// Field is the layout input for one image
type Field struct {
	Key models.StackKey

	// Width and Height in micrometres
	Width, Height float64

	ImagePath   string
	DisplayName string
}

// FieldFromStack builds the layout input of a reconstructed stack. Axes
// without a recorded pixel size use pixelSize micrometres per pixel, or
// DefaultPixelSize when pixelSize is not positive.
func FieldFromStack(s *models.ReconstructedStack, pixelSize float64) Field {
	if pixelSize <= 0 {
		pixelSize = DefaultPixelSize
	}
	w, h := s.Metadata.PhysicalSizeOr(pixelSize)
	return Field{
		Key:         s.Key,
		Width:       w,
		Height:      h,
		ImagePath:   s.OutputPath,
		DisplayName: s.DisplayName,
	}
}

// Engine places fields on one plate
type Engine struct {
	Plate models.PlateLayout

	// Offsets are recorded stage positions relative to well centres.
	// When empty every field is packed.
	Offsets map[models.StackKey]models.Point

	WrapFraction   float64
	SpacerFraction float64

	// Report receives a warning for fields that fall outside the plate; may be nil
	Report *report.Report
}

// NewEngine creates an engine using recorded offsets when meta has them
func NewEngine(plate models.PlateLayout, meta models.AcquisitionMetadata, rep *report.Report) *Engine {
	return &Engine{
		Plate:          plate,
		Offsets:        meta.StageOffsets,
		WrapFraction:   DefaultWrapFraction,
		SpacerFraction: DefaultSpacerFraction,
		Report:         rep,
	}
}

// cursor is the packing state of the well being filled
type cursor struct {
	well    models.StackKey
	started bool
	x, y    float64
	originX float64

	// heights of the fields packed into the well so far
	heights []float64
}

// Place computes one placement per field. Output is sorted by well then
// field; the same input always produces the same placements. Positions
// outside the plate are kept as computed.
func (e *Engine) Place(fields []Field) []models.FieldPlacement {
	sorted := append([]Field(nil), fields...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Key.Less(sorted[j].Key)
	})

	recorded := len(e.Offsets) > 0
	repeats := make(map[models.StackKey]int)
	packed := make(map[models.StackKey]models.Point)
	var cur cursor

	out := make([]models.FieldPlacement, 0, len(sorted))
	for _, f := range sorted {
		repeats[f.Key]++
		p := models.FieldPlacement{
			Key:         f.Key,
			WellLabel:   f.Key.WellLabel(),
			Width:       f.Width,
			Height:      f.Height,
			Repeat:      repeats[f.Key],
			ImagePath:   f.ImagePath,
			DisplayName: f.DisplayName,
		}

		if off, ok := e.Offsets[f.Key]; recorded && ok {
			c := e.Plate.WellCenter(f.Key.Row, f.Key.Column)
			p.X = c.X + off.X - f.Width/2
			p.Y = c.Y + off.Y - f.Height/2
			p.Strategy = models.Recorded
		} else {
			// repeats of one field share its position
			at, ok := packed[f.Key]
			if !ok {
				at.X, at.Y = e.pack(&cur, f)
				packed[f.Key] = at
			}
			p.X, p.Y = at.X, at.Y
			p.Strategy = models.Packed
		}

		e.checkBounds(p)
		out = append(out, p)
	}
	return out
}

// pack places f left to right from the usable area's top-left corner,
// wrapping when the row would pass WrapFraction of the usable width
func (e *Engine) pack(cur *cursor, f Field) (float64, float64) {
	well := f.Key.Well()
	if f.Key.Field == 1 || !cur.started || cur.well != well {
		c := e.Plate.WellCenter(f.Key.Row, f.Key.Column)
		*cur = cursor{
			well:    well,
			started: true,
			originX: c.X - e.Plate.UsableWidth/2,
			x:       c.X - e.Plate.UsableWidth/2,
			y:       c.Y - e.Plate.UsableHeight/2,
		}
	}

	limit := e.WrapFraction * e.Plate.UsableWidth
	if cur.x > cur.originX && cur.x-cur.originX+f.Width > limit {
		cur.x = cur.originX
		cur.y += floats.Max(cur.heights) + e.SpacerFraction*e.Plate.UsableHeight
	}

	x, y := cur.x, cur.y
	cur.x += f.Width
	cur.heights = append(cur.heights, f.Height)
	return x, y
}

func (e *Engine) checkBounds(p models.FieldPlacement) {
	if e.Report == nil {
		return
	}
	if p.X < 0 || p.Y < 0 || p.X+p.Width > e.Plate.Width() || p.Y+p.Height > e.Plate.Height() {
		e.Report.Warn(report.OutsidePlate, "%s (repeat %d) at (%.1f, %.1f) extends outside %s",
			p.Key, p.Repeat, p.X, p.Y, e.Plate.Name)
	}
}

package models

// Optional is a float value that may be absent. The zero Optional is absent,
// so a recorded 0 and a missing value stay distinguishable.
type Optional struct {
	Value float64
	Valid bool
}

// Some returns a present Optional holding v
func Some(v float64) Optional {
	return Optional{Value: v, Valid: true}
}

// Or returns the value if present and def otherwise
func (o Optional) Or(def float64) float64 {
	if o.Valid {
		return o.Value
	}
	return def
}

// Point is a position in physical plate units (micrometres)
type Point struct {
	X, Y float64
}

// ChannelInfo describes one acquired channel
type ChannelInfo struct {
	// ID is the vendor channel number, 1-based
	ID int

	Name string

	// EmissionWavelength in nm
	EmissionWavelength Optional

	// ExcitationWavelength in nm
	ExcitationWavelength Optional
}

// Wavelength returns the wavelength used for display colouring:
// emission when recorded, otherwise excitation.
func (c ChannelInfo) Wavelength() Optional {
	if c.EmissionWavelength.Valid {
		return c.EmissionWavelength
	}
	return c.ExcitationWavelength
}

// AcquisitionMetadata is the normalized record of one acquisition.
// It is shared by every stack of a run except for Width/Height, which
// ScopedTo overrides per stack.
type AcquisitionMetadata struct {
	// Width and Height are the image size in pixels
	Width  int
	Height int

	// PixelSizeX and PixelSizeY are in micrometres per pixel
	PixelSizeX float64
	PixelSizeY float64

	// ZStep in micrometres
	ZStep Optional

	// TimeStep in seconds
	TimeStep Optional

	// Channels is ordered by channel ID
	Channels []ChannelInfo

	BitDepth int

	PlateRows    int
	PlateColumns int
	PlateType    string

	// StageOffsets holds the recorded stage position of every field,
	// relative to its well centre. Empty when the acquisition carries no
	// stage metadata; plate placement then falls back to packing.
	StageOffsets map[StackKey]Point
}

// WellCount is the plate geometry key
func (m AcquisitionMetadata) WellCount() int {
	return m.PlateRows * m.PlateColumns
}

// HasStageOffsets reports whether recorded positions can be used for placement
func (m AcquisitionMetadata) HasStageOffsets() bool {
	return len(m.StageOffsets) > 0
}

// StageOffset looks up the recorded offset of one field
func (m AcquisitionMetadata) StageOffset(k StackKey) (Point, bool) {
	p, ok := m.StageOffsets[k]
	return p, ok
}

// ScopedTo returns a copy of m for a stack of the given size. Channels are
// copied; the stage offset map is shared read-only.
func (m AcquisitionMetadata) ScopedTo(width, height int) AcquisitionMetadata {
	s := m
	s.Width = width
	s.Height = height
	s.Channels = append([]ChannelInfo(nil), m.Channels...)
	return s
}

// PhysicalSize returns the field extent in micrometres
func (m AcquisitionMetadata) PhysicalSize() (float64, float64) {
	return float64(m.Width) * m.PixelSizeX, float64(m.Height) * m.PixelSizeY
}

// PhysicalSizeOr is PhysicalSize with pixel used for any axis that has no
// recorded pixel size
func (m AcquisitionMetadata) PhysicalSizeOr(pixel float64) (float64, float64) {
	px, py := m.PixelSizeX, m.PixelSizeY
	if px <= 0 {
		px = pixel
	}
	if py <= 0 {
		py = pixel
	}
	return float64(m.Width) * px, float64(m.Height) * py
}

// HasPixelSize reports whether both pixel sizes were recorded
func (m AcquisitionMetadata) HasPixelSize() bool {
	return m.PixelSizeX > 0 && m.PixelSizeY > 0
}

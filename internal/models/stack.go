package models

import "strings"

// Extents holds the global shape of a run: the maximum observed index of
// each plane axis and the sets of observed wells and fields.
type Extents struct {
	Channels int
	Z        int
	Time     int

	// Rows, Columns and Fields are sorted, distinct observed values.
	// Plate numbering is sparse so the full sets are kept.
	Rows    []int
	Columns []int
	Fields  []int

	// Keys lists every (well, field) observed at least once, sorted
	Keys []StackKey
}

// PlaneCount is the number of planes every stack of the run carries
func (e Extents) PlaneCount() int {
	return e.Channels * e.Z * e.Time
}

// Extent returns the extent of a plane axis, or 1 for spatial/well axes
func (e Extents) Extent(a Axis) int {
	switch a {
	case AxisChannel:
		return e.Channels
	case AxisZ:
		return e.Z
	case AxisTime:
		return e.Time
	}
	return 1
}

// ReconstructedStack is the dense image of one (well, field)
type ReconstructedStack struct {
	Key StackKey

	// Axes names the dimensions of Data from outermost to innermost,
	// using the letters C, T, Z, Y and X. Singleton axes may be absent
	// when the run squeezes them.
	Axes string

	// Shape has one entry per letter in Axes
	Shape []int

	// Data is row-major in Axes order
	Data []uint16

	// Extents are the global plane extents the stack was built against
	Extents Extents

	// Metadata is scoped to this stack
	Metadata AcquisitionMetadata

	// Pad holds the per-axis digit widths used to probe for files
	Pad [NumAxes]int

	// Missing lists the planes that were zero-filled
	Missing []FileCoordinate

	// OutputPath is where the stack image was written
	OutputPath string

	// DisplayName is shown by the viewer
	DisplayName string

	// Repeat is the 1-based repeat index for split outputs
	Repeat int

	// Description is the serialized OME-XML attached to the image
	Description string
}

// PlaneSize is the number of pixels in one plane
func (s *ReconstructedStack) PlaneSize() int {
	return s.Metadata.Width * s.Metadata.Height
}

// Plane returns the pixels of the n-th plane in storage order
func (s *ReconstructedStack) Plane(n int) []uint16 {
	size := s.PlaneSize()
	start := n * size
	if start < 0 || start+size > len(s.Data) {
		return nil
	}
	return s.Data[start : start+size]
}

// NumPlanes is the number of stored planes
func (s *ReconstructedStack) NumPlanes() int {
	size := s.PlaneSize()
	if size == 0 {
		return 0
	}
	return len(s.Data) / size
}

// PlaneOrder lists the plane indices of a stack in storage order. axes is
// read outermost first; only C, Z and T matter and any of them missing from
// axes is fixed at 1.
func PlaneOrder(axes string, ext Extents) []PlaneIndex {
	var outer []Axis
	for _, r := range strings.ToUpper(axes) {
		switch r {
		case 'C':
			outer = append(outer, AxisChannel)
		case 'Z':
			outer = append(outer, AxisZ)
		case 'T':
			outer = append(outer, AxisTime)
		}
	}

	sizes := make([]int, len(outer))
	n := 1
	for i, a := range outer {
		sizes[i] = ext.Extent(a)
		if sizes[i] < 1 {
			sizes[i] = 1
		}
		n *= sizes[i]
	}

	out := make([]PlaneIndex, 0, n)
	idx := make([]int, len(outer))
	for i := 0; i < n; i++ {
		p := PlaneIndex{Channel: 1, Z: 1, Time: 1}
		for j, a := range outer {
			switch a {
			case AxisChannel:
				p.Channel = idx[j] + 1
			case AxisZ:
				p.Z = idx[j] + 1
			case AxisTime:
				p.Time = idx[j] + 1
			}
		}
		out = append(out, p)

		// odometer, innermost axis first
		for j := len(outer) - 1; j >= 0; j-- {
			idx[j]++
			if idx[j] < sizes[j] {
				break
			}
			idx[j] = 0
		}
	}
	return out
}

// PlaneOrder lists the stack's planes in storage order
func (s *ReconstructedStack) PlaneOrder() []PlaneIndex {
	return PlaneOrder(s.Axes, s.Extents)
}

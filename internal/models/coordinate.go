package models

import (
	"fmt"
)

// Axis names one logical dimension recovered from a file name
type Axis int

const (
	AxisRow Axis = iota
	AxisColumn
	AxisField
	AxisChannel
	AxisZ
	AxisTime

	// NumAxes is the number of logical axes a coordinate carries
	NumAxes
)

var axisNames = [NumAxes]string{"row", "col", "field", "channel", "z", "time"}

func (a Axis) String() string {
	if a < 0 || a >= NumAxes {
		return fmt.Sprintf("axis(%d)", int(a))
	}
	return axisNames[a]
}

// ParseAxis maps a template variable name onto an Axis.
// A few common spellings are accepted for each axis.
func ParseAxis(name string) (Axis, bool) {
	switch name {
	case "row", "r":
		return AxisRow, true
	case "col", "column", "c":
		return AxisColumn, true
	case "field", "f", "fov":
		return AxisField, true
	case "channel", "ch":
		return AxisChannel, true
	case "z", "plane", "p":
		return AxisZ, true
	case "time", "t", "timepoint":
		return AxisTime, true
	}
	return 0, false
}

// FileCoordinate is the logical position of one source file.
// Values are 1-based; axes missing from the filename template are 1.
type FileCoordinate struct {
	// Path is the file path as enumerated from the input directory
	Path string

	Row     int
	Column  int
	Field   int
	Channel int
	Z       int
	Time    int

	// Pad holds the digit count captured for each axis, 0 when the axis
	// is not part of the template. Rendering a filename with the same
	// widths reproduces the original name.
	Pad [NumAxes]int

	// Shift is what was added to the captured value to make it 1-based:
	// 1 for axes numbered from 0 in file names, otherwise 0
	Shift [NumAxes]int
}

// Index returns the coordinate value along axis a
func (c FileCoordinate) Index(a Axis) int {
	switch a {
	case AxisRow:
		return c.Row
	case AxisColumn:
		return c.Column
	case AxisField:
		return c.Field
	case AxisChannel:
		return c.Channel
	case AxisZ:
		return c.Z
	case AxisTime:
		return c.Time
	}
	return 0
}

// With returns a copy of c with axis a set to v. Path is cleared because
// the copy no longer describes an enumerated file.
func (c FileCoordinate) With(a Axis, v int) FileCoordinate {
	switch a {
	case AxisRow:
		c.Row = v
	case AxisColumn:
		c.Column = v
	case AxisField:
		c.Field = v
	case AxisChannel:
		c.Channel = v
	case AxisZ:
		c.Z = v
	case AxisTime:
		c.Time = v
	}
	c.Path = ""
	return c
}

// Key returns the stack this coordinate belongs to
func (c FileCoordinate) Key() StackKey {
	return StackKey{Row: c.Row, Column: c.Column, Field: c.Field}
}

// PlaneIndex returns the (channel, z, timepoint) part of the coordinate
func (c FileCoordinate) PlaneIndex() PlaneIndex {
	return PlaneIndex{Channel: c.Channel, Z: c.Z, Time: c.Time}
}

func (c FileCoordinate) String() string {
	return fmt.Sprintf("well=%s field=%d channel=%d z=%d t=%d",
		c.Key().WellLabel(), c.Field, c.Channel, c.Z, c.Time)
}

// PlaneIndex addresses one plane within a stack
type PlaneIndex struct {
	Channel, Z, Time int
}

// StackKey uniquely identifies one reconstructed output image
type StackKey struct {
	Row    int
	Column int
	Field  int
}

// WellLabel returns the plate label of the key's well, e.g. "C7"
func (k StackKey) WellLabel() string {
	return RowLetter(k.Row) + fmt.Sprint(k.Column)
}

// Well returns the key with the field stripped, identifying the well alone
func (k StackKey) Well() StackKey {
	return StackKey{Row: k.Row, Column: k.Column}
}

func (k StackKey) String() string {
	return fmt.Sprintf("r%02dc%02df%02d", k.Row, k.Column, k.Field)
}

// Less orders keys by row, then column, then field
func (k StackKey) Less(o StackKey) bool {
	if k.Row != o.Row {
		return k.Row < o.Row
	}
	if k.Column != o.Column {
		return k.Column < o.Column
	}
	return k.Field < o.Field
}

// RowLetter converts a 1-based row number into spreadsheet-style letters:
// 1 -> "A", 26 -> "Z", 27 -> "AA". Rows below 1 yield "?".
func RowLetter(row int) string {
	if row < 1 {
		return "?"
	}
	var b []byte
	for row > 0 {
		row--
		b = append([]byte{byte('A' + row%26)}, b...)
		row /= 26
	}
	return string(b)
}

// RowNumber is the inverse of RowLetter. It reports false for anything
// that is not a run of ASCII letters.
func RowNumber(letters string) (int, bool) {
	if letters == "" {
		return 0, false
	}
	n := 0
	for _, r := range letters {
		switch {
		case r >= 'A' && r <= 'Z':
			n = n*26 + int(r-'A') + 1
		case r >= 'a' && r <= 'z':
			n = n*26 + int(r-'a') + 1
		default:
			return 0, false
		}
	}
	return n, true
}

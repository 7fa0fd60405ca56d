// Package descriptor streams the plate layout descriptor read by the
// external viewer.
//
// The document is JSON with one structural token per line:
//
//	{"Plate":[
//	{"Sector":"A1","Fields":[
//	{"Path":"r01c01f01.ome.tiff","Name":"r01c01f01","X":0,"Y":0,"Hierarchy":["A","1","R1"]},
//	{"Path":"r01c01f02.ome.tiff","Name":"r01c01f02","X":0,"Y":0,"Hierarchy":["A","1","R1"]}
//	]}
//	],"Name":"96-well plate","Id":"plate-96"}
//
// The footer line is written last; a file without it is incomplete.
package descriptor

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"platestack/internal/models"
)

// ErrClosed is returned when writing to a closed Writer
var ErrClosed = errors.New("descriptor writer is closed")

// State of a Writer
type State int

const (
	// AwaitingFirstWell: nothing but the header may have been written
	AwaitingFirstWell State = iota
	// InWell: a sector is open and holds at least one field
	InWell
	// Closed: the footer has been written
	Closed
)

func (s State) String() string {
	switch s {
	case AwaitingFirstWell:
		return "AwaitingFirstWell"
	case InWell:
		return "InWell"
	case Closed:
		return "Closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// field is the JSON shape of one entry
type field struct {
	Path      string
	Name      string
	X         float64
	Y         float64
	Hierarchy [3]string
}

// Writer emits the descriptor incrementally. Placements must arrive grouped
// by well; a change of well closes the open sector.
type Writer struct {
	w     *bufio.Writer
	state State
	well  string
	err   error

	wells  int
	fields int
}

// NewWriter creates a Writer on w. Nothing is written until the first call.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// State returns the current writer state
func (w *Writer) State() State {
	return w.state
}

// Wells returns the number of sectors opened so far
func (w *Writer) Wells() int {
	return w.wells
}

// Fields returns the number of fields written so far
func (w *Writer) Fields() int {
	return w.fields
}

// WriteField appends one placement
func (w *Writer) WriteField(p models.FieldPlacement) error {
	if w.state == Closed {
		return ErrClosed
	}
	if w.err != nil {
		return w.err
	}

	entry, err := json.Marshal(field{
		Path:      p.ImagePath,
		Name:      p.DisplayName,
		X:         p.X,
		Y:         p.Y,
		Hierarchy: Hierarchy(p),
	})
	if err != nil {
		return fmt.Errorf("failed to encode field %s: %w", p.Key, err)
	}

	switch {
	case w.state == AwaitingFirstWell:
		w.writeString("{\"Plate\":[\n")
		w.openSector(p.WellLabel)
	case w.well != p.WellLabel:
		w.writeString("\n]},\n")
		w.openSector(p.WellLabel)
	default:
		w.writeString(",\n")
	}
	w.write(entry)
	w.fields++
	return w.err
}

// Close closes the open sector and the plate and writes the footer
func (w *Writer) Close(name, id string) error {
	if w.state == Closed {
		return ErrClosed
	}
	if w.err != nil {
		return w.err
	}

	switch w.state {
	case AwaitingFirstWell:
		w.writeString("{\"Plate\":[\n")
	case InWell:
		w.writeString("\n]}\n")
	}
	w.writeString("],\"Name\":")
	w.writeString(quote(name))
	w.writeString(",\"Id\":")
	w.writeString(quote(id))
	w.writeString("}\n")
	if w.err == nil {
		w.err = w.w.Flush()
	}
	w.state = Closed
	return w.err
}

func (w *Writer) openSector(label string) {
	w.writeString("{\"Sector\":")
	w.writeString(quote(label))
	w.writeString(",\"Fields\":[\n")
	w.well = label
	w.state = InWell
	w.wells++
}

func (w *Writer) writeString(s string) {
	if w.err == nil {
		_, w.err = w.w.WriteString(s)
	}
}

func (w *Writer) write(b []byte) {
	if w.err == nil {
		_, w.err = w.w.Write(b)
	}
}

func quote(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return strconv.Quote(s)
	}
	return string(b)
}

// Hierarchy returns the display path [row letter, column number, "R{n}"]
func Hierarchy(p models.FieldPlacement) [3]string {
	repeat := p.Repeat
	if repeat < 1 {
		repeat = 1
	}
	return [3]string{
		models.RowLetter(p.Key.Row),
		strconv.Itoa(p.Key.Column),
		fmt.Sprintf("R%d", repeat),
	}
}

// GroupByWell reorders placements so each well's fields are contiguous.
// Wells keep the order of their first field; fields keep their order
// within a well.
func GroupByWell(placements []models.FieldPlacement) []models.FieldPlacement {
	var order []string
	groups := make(map[string][]models.FieldPlacement)
	for _, p := range placements {
		if _, ok := groups[p.WellLabel]; !ok {
			order = append(order, p.WellLabel)
		}
		groups[p.WellLabel] = append(groups[p.WellLabel], p)
	}

	out := make([]models.FieldPlacement, 0, len(placements))
	for _, well := range order {
		out = append(out, groups[well]...)
	}
	return out
}

// WriteFile writes a complete descriptor to path. The document is written
// to path.tmp and renamed once the footer is down, so path only ever holds
// a complete descriptor.
func WriteFile(path string, placements []models.FieldPlacement, name, id string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create descriptor directory: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create descriptor: %w", err)
	}

	w := NewWriter(f)
	for _, p := range GroupByWell(placements) {
		if err = w.WriteField(p); err != nil {
			break
		}
	}
	if err == nil {
		err = w.Close(name, id)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write descriptor %s: %w", path, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize descriptor: %w", err)
	}
	return nil
}

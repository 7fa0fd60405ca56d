package descriptor

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"platestack/internal/models"
)

type parsedField struct {
	Path      string
	Name      string
	X, Y      float64
	Hierarchy []string
}

type parsedDoc struct {
	Plate []struct {
		Sector string
		Fields []parsedField
	}
	Name string
	Id   string
}

func placement(row, col, field, repeat int, x, y float64) models.FieldPlacement {
	key := models.StackKey{Row: row, Column: col, Field: field}
	return models.FieldPlacement{
		Key:         key,
		WellLabel:   key.WellLabel(),
		X:           x,
		Y:           y,
		Repeat:      repeat,
		ImagePath:   key.String() + ".ome.tiff",
		DisplayName: key.String(),
	}
}

func samplePlacements() []models.FieldPlacement {
	return []models.FieldPlacement{
		placement(1, 1, 1, 1, 100, 200),
		placement(1, 1, 2, 1, 300, 200),
		placement(1, 2, 1, 1, 9100, 200),
		placement(3, 7, 1, 1, 100, 18200),
		placement(3, 7, 1, 2, 100, 18200),
	}
}

func writeAll(t *testing.T, placements []models.FieldPlacement) string {
	t.Helper()
	var buf bytes.Buffer
	w := NewWriter(&buf)
	for _, p := range placements {
		if err := w.WriteField(p); err != nil {
			t.Fatalf("WriteField failed: %v", err)
		}
	}
	if err := w.Close("96-well plate", "plate-96"); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	return buf.String()
}

func TestWriterProducesValidJSON(t *testing.T) {
	out := writeAll(t, samplePlacements())

	var doc parsedDoc
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("Descriptor is not valid JSON: %v\n%s", err, out)
	}
	if doc.Name != "96-well plate" || doc.Id != "plate-96" {
		t.Errorf("Unexpected footer: %q %q", doc.Name, doc.Id)
	}
	if len(doc.Plate) != 3 {
		t.Fatalf("Expected 3 sectors, got %d", len(doc.Plate))
	}
	if doc.Plate[0].Sector != "A1" || len(doc.Plate[0].Fields) != 2 {
		t.Errorf("Unexpected first sector: %+v", doc.Plate[0])
	}
	last := doc.Plate[2]
	if last.Sector != "C7" || len(last.Fields) != 2 {
		t.Fatalf("Unexpected last sector: %+v", last)
	}
	if h := last.Fields[1].Hierarchy; len(h) != 3 || h[0] != "C" || h[1] != "7" || h[2] != "R2" {
		t.Errorf("Unexpected hierarchy %v", h)
	}
	if f := doc.Plate[0].Fields[1]; f.Path != "r01c01f02.ome.tiff" || f.X != 300 {
		t.Errorf("Unexpected field: %+v", f)
	}
}

// TestBracketBalance tracks nesting depth over the raw text; depth returns
// to zero exactly once, at the end of the document
func TestBracketBalance(t *testing.T) {
	out := writeAll(t, samplePlacements())

	depth, zeros := 0, 0
	inString, escaped := false, false
	for i, r := range out {
		switch {
		case escaped:
			escaped = false
		case inString && r == '\\':
			escaped = true
		case r == '"':
			inString = !inString
		case inString:
		case r == '{' || r == '[':
			depth++
		case r == '}' || r == ']':
			depth--
			if depth < 0 {
				t.Fatalf("Unbalanced close at offset %d", i)
			}
			if depth == 0 {
				zeros++
				if strings.TrimSpace(out[i+1:]) != "" {
					t.Errorf("Content after the footer: %q", out[i+1:])
				}
			}
		}
	}
	if depth != 0 || zeros != 1 {
		t.Errorf("Expected balanced document, depth=%d zeros=%d", depth, zeros)
	}

	// one sector close per distinct well
	if got := strings.Count(out, "\n]}"); got != 3 {
		t.Errorf("Expected 3 sector closings, got %d", got)
	}
}

func TestNoLeadingSeparator(t *testing.T) {
	out := writeAll(t, samplePlacements()[:1])
	lines := strings.Split(out, "\n")
	if lines[0] != `{"Plate":[` {
		t.Errorf("Unexpected header line %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], `{"Sector":"A1"`) {
		t.Errorf("First sector must follow the header directly, got %q", lines[1])
	}
	if !strings.HasPrefix(lines[2], `{"Path":`) {
		t.Errorf("First field must not carry a separator, got %q", lines[2])
	}
}

func TestEmptyPlate(t *testing.T) {
	out := writeAll(t, nil)
	var doc parsedDoc
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("Empty descriptor is not valid JSON: %v\n%s", err, out)
	}
	if len(doc.Plate) != 0 {
		t.Errorf("Expected no sectors, got %d", len(doc.Plate))
	}
}

func TestWriterStates(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if w.State() != AwaitingFirstWell {
		t.Errorf("Expected AwaitingFirstWell, got %s", w.State())
	}
	if err := w.WriteField(samplePlacements()[0]); err != nil {
		t.Fatal(err)
	}
	if w.State() != InWell {
		t.Errorf("Expected InWell, got %s", w.State())
	}
	if buf.Len() != 0 {
		t.Error("Output should stay buffered until Close")
	}
	if err := w.Close("n", "i"); err != nil {
		t.Fatal(err)
	}
	if w.State() != Closed {
		t.Errorf("Expected Closed, got %s", w.State())
	}
	if err := w.WriteField(samplePlacements()[0]); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if w.Wells() != 1 || w.Fields() != 1 {
		t.Errorf("Unexpected counters: %d wells, %d fields", w.Wells(), w.Fields())
	}
}

func TestGroupByWell(t *testing.T) {
	in := []models.FieldPlacement{
		placement(1, 2, 1, 1, 0, 0),
		placement(1, 1, 1, 1, 0, 0),
		placement(1, 2, 2, 1, 0, 0),
	}
	out := GroupByWell(in)
	got := []string{out[0].Key.String(), out[1].Key.String(), out[2].Key.String()}
	want := []string{"r01c02f01", "r01c02f02", "r01c01f01"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected %v, got %v", want, got)
			break
		}
	}
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layout", "plate.json")
	if err := WriteFile(path, samplePlacements(), "96-well plate", "plate-96"); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("Temporary file should be gone")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(string(data), "\"Id\":\"plate-96\"}\n") {
		t.Errorf("Descriptor should end with the footer: %q", data)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("disk full")
}

func TestWriterPropagatesErrors(t *testing.T) {
	w := NewWriter(failingWriter{})
	for _, p := range samplePlacements() {
		w.WriteField(p)
	}
	if err := w.Close("n", "i"); err == nil {
		t.Error("Expected the write error to surface")
	}
}

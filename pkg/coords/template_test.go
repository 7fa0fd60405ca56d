package coords

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"platestack/internal/models"
)

const phenixTemplate = "r{row}c{col}f{field}p{z}-ch{channel}t{time}.tiff"

// TestExtract verifies that all axes and pad widths are recovered
func TestExtract(t *testing.T) {
	tmpl, err := ParseTemplate(phenixTemplate)
	if err != nil {
		t.Fatalf("Failed to parse template: %v", err)
	}

	c, ok := tmpl.Extract("/data/plate1/r03c07f12p002-ch1t01.tiff")
	if !ok {
		t.Fatal("Expected filename to match")
	}

	want := models.FileCoordinate{
		Path: "/data/plate1/r03c07f12p002-ch1t01.tiff",
		Row:  3, Column: 7, Field: 12, Channel: 1, Z: 2, Time: 1,
	}
	want.Pad = [models.NumAxes]int{2, 2, 2, 1, 3, 2}
	if c != want {
		t.Errorf("Expected %+v, got %+v", want, c)
	}

	if got := c.Key().WellLabel(); got != "C7" {
		t.Errorf("Expected well label C7, got %s", got)
	}
}

// TestExtractNoMatch checks that foreign files are excluded rather than fatal
func TestExtractNoMatch(t *testing.T) {
	tmpl := MustParseTemplate(phenixTemplate)
	for _, name := range []string{"Index.idx.xml", "r01c01f01p01-ch01t01.png", "thumbs.db", "rXXc01f01p01-ch01t01.tiff"} {
		if _, ok := tmpl.Extract(name); ok {
			t.Errorf("Expected %q not to match", name)
		}
	}
}

// TestAbsentAxesDefaultToOne covers 2-D single channel acquisitions
func TestAbsentAxesDefaultToOne(t *testing.T) {
	tmpl := MustParseTemplate("{rowletter}{col}_s{field}.tif")

	c, ok := tmpl.Extract("B03_s2.tif")
	if !ok {
		t.Fatal("Expected filename to match")
	}
	if c.Row != 2 || c.Column != 3 || c.Field != 2 {
		t.Errorf("Unexpected well/field: %+v", c)
	}
	if c.Channel != 1 || c.Z != 1 || c.Time != 1 {
		t.Errorf("Absent axes should default to 1, got %+v", c)
	}
	if c.Pad[models.AxisChannel] != 0 {
		t.Errorf("Absent axis should have no pad width, got %d", c.Pad[models.AxisChannel])
	}
}

// TestRoundTrip re-renders extracted coordinates and compares with the source name
func TestRoundTrip(t *testing.T) {
	cases := []struct {
		template string
		names    []string
	}{
		{phenixTemplate, []string{
			"r01c01f01p01-ch01t01.tiff",
			"r01c01f02p01-ch01t01.tiff",
			"r12c24f100p003-ch4t0010.tiff",
			"r1c1f1p1-ch1t1.tiff",
			"R01C01F01P01-CH01T01.TIFF",
			"r02C03f01P01-Ch1t1.Tiff",
		}},
		{"{rowletter}{col}_s{field}_w{channel}.TIF", []string{
			"A01_s1_w1.TIF",
			"AA12_s07_w2.TIF",
			"b03_S2_W1.tif",
		}},
	}

	for _, tc := range cases {
		tmpl := MustParseTemplate(tc.template)
		for _, name := range tc.names {
			c, ok := tmpl.Extract(name)
			if !ok {
				t.Errorf("%s: expected %q to match", tc.template, name)
				continue
			}
			if got := tmpl.Render(c); got != name {
				t.Errorf("%s: round trip of %q gave %q", tc.template, name, got)
			}
		}
	}
}

// TestRenderProbe renders a coordinate that was never enumerated using the
// pad widths of a sibling file
func TestRenderProbe(t *testing.T) {
	tmpl := MustParseTemplate(phenixTemplate)
	c, _ := tmpl.Extract("r01c01f01p01-ch01t01.tiff")

	probe := c.With(models.AxisZ, 2)
	if got, want := tmpl.Render(probe), "r01c01f01p02-ch01t01.tiff"; got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
	if probe.Path != "" {
		t.Errorf("Probe coordinate should not carry a path, got %q", probe.Path)
	}
}

// TestRenderLikeKeepsCase renders a missing plane next to an upper-case sibling
func TestRenderLikeKeepsCase(t *testing.T) {
	tmpl := MustParseTemplate(phenixTemplate)
	sibling := "/in/R01C01F01P01-CH01T01.TIFF"
	c, ok := tmpl.Extract(sibling)
	if !ok {
		t.Fatal("Expected upper-case name to match")
	}

	missing := c.With(models.AxisZ, 2)
	if got, want := tmpl.RenderLike(missing, sibling), "R01C01F01P02-CH01T01.TIFF"; got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
	if got, want := tmpl.Render(missing), "r01c01f01p02-ch01t01.tiff"; got != want {
		t.Errorf("Without a sibling the template spelling is used: expected %q, got %q", want, got)
	}
}

// TestExtractAllZeroBased checks that axes numbered from 0 become 1-based
// and still render their original names
func TestExtractAllZeroBased(t *testing.T) {
	tmpl := MustParseTemplate(phenixTemplate)
	names := []string{
		"/in/r01c01f01p00-ch01t01.tiff",
		"/in/r01c01f01p01-ch01t01.tiff",
		"/in/r01c01f02p01-ch01t01.tiff",
	}
	coords, err := ExtractAll(names, tmpl)
	if err != nil {
		t.Fatalf("ExtractAll failed: %v", err)
	}

	if got := ZeroBasedAxes(coords); len(got) != 1 || got[0] != models.AxisZ {
		t.Fatalf("Expected only z to be shifted, got %v", got)
	}
	if coords[0].Z != 1 || coords[1].Z != 2 || coords[2].Z != 2 {
		t.Errorf("Expected z 1, 2, 2, got %d, %d, %d", coords[0].Z, coords[1].Z, coords[2].Z)
	}
	if coords[0].Field != 1 || coords[2].Field != 2 {
		t.Errorf("Fields numbered from 1 must not move: %+v", coords)
	}
	for i, c := range coords {
		if got, want := tmpl.Render(c), filepath.Base(names[i]); got != want {
			t.Errorf("Round trip of %q gave %q", want, got)
		}
	}
	if got, want := tmpl.RenderLike(coords[0].With(models.AxisZ, 3), names[0]), "r01c01f01p02-ch01t01.tiff"; got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}

	oneBased, _ := ExtractAll(names[1:], tmpl)
	if len(ZeroBasedAxes(oneBased)) != 0 || oneBased[0].Z != 1 {
		t.Errorf("1-based names must not be shifted: %+v", oneBased)
	}
}

func TestParseTemplateErrors(t *testing.T) {
	for _, expr := range []string{
		"r{row}c{col",
		"r{row}c{col}x{bogus}",
		"plain.tiff",
		"f{field}.tiff",
		"r{row}c{col}r{row}",
	} {
		if _, err := ParseTemplate(expr); err == nil {
			t.Errorf("Expected error for template %q", expr)
		}
	}
}

func TestFieldMap(t *testing.T) {
	tmpl := MustParseTemplate(phenixTemplate)
	fm := tmpl.FieldMap()
	want := map[int]models.Axis{
		1: models.AxisRow, 2: models.AxisColumn, 3: models.AxisField,
		4: models.AxisZ, 5: models.AxisChannel, 6: models.AxisTime,
	}
	if len(fm) != len(want) {
		t.Fatalf("Expected %d groups, got %d", len(want), len(fm))
	}
	for g, a := range want {
		if fm[g] != a {
			t.Errorf("Group %d: expected %s, got %s", g, a, fm[g])
		}
	}
}

func TestExtractAllNoMatches(t *testing.T) {
	tmpl := MustParseTemplate(phenixTemplate)
	_, err := ExtractAll([]string{"/in/A01_s1.tif", "/in/A01_s2.tif"}, tmpl)
	if !errors.Is(err, ErrNoMatches) {
		t.Fatalf("Expected ErrNoMatches, got %v", err)
	}
	if want := "A01_s1.tif"; !strings.Contains(err.Error(), want) {
		t.Errorf("Error should name an example file %q: %v", want, err)
	}
}

func TestScanDirNested(t *testing.T) {
	dir := t.TempDir()
	mustTouch(t, filepath.Join(dir, "r01c01f01p01-ch01t01.tiff"))
	mustTouch(t, filepath.Join(dir, "B02", "r02c02f01p01-ch01t01.tiff"))
	mustTouch(t, filepath.Join(dir, "B02", "deeper", "ignored.tiff"))

	files, err := ScanDir(dir)
	if err != nil {
		t.Fatalf("ScanDir failed: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("Expected 2 files, got %d: %v", len(files), files)
	}

	coords, err := ExtractAll(files, MustParseTemplate(phenixTemplate))
	if err != nil {
		t.Fatalf("ExtractAll failed: %v", err)
	}
	rows := map[int]bool{}
	for _, c := range coords {
		rows[c.Row] = true
	}
	if len(coords) != 2 || !rows[1] || !rows[2] {
		t.Errorf("Unexpected coordinates: %+v", coords)
	}
}

func mustTouch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}
}

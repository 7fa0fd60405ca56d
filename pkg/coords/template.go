// Package coords recovers logical plate coordinates from image file names.
//
// A Template is an ordered list of literal and variable segments such as
//
//	r{row}c{col}f{field}p{z}-ch{channel}t{time}.tiff
//
// Each variable is a capturing group of digits (or letters for {rowletter}).
// The variable order gives the field map from capture index to logical axis.
// Literals match regardless of letter case. Because the captured digit count
// is kept on every coordinate, a coordinate can be rendered back into a
// filename with the same zero padding and the literal spelling of a sibling
// file, which is how missing planes are probed for on disk.
package coords

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"platestack/internal/models"
)

// ErrNoMatches is returned when a template matches none of the input files
var ErrNoMatches = errors.New("filename template matched no files")

// Segment is one piece of a template: a literal when Variable is false,
// otherwise a capture for Axis.
type Segment struct {
	Literal  string
	Variable bool
	Axis     models.Axis

	// Letters captures a row given as letters ("B", "AA") instead of digits
	Letters bool
}

// Literal returns a literal segment
func Literal(s string) Segment {
	return Segment{Literal: s}
}

// Var returns a digit capture for axis a
func Var(a models.Axis) Segment {
	return Segment{Variable: true, Axis: a}
}

// Template matches and renders file base names
type Template struct {
	expr     string
	segments []Segment
	re       *regexp.Regexp
	fields   map[int]models.Axis
	present  [models.NumAxes]bool

	// groups holds the regexp group of every segment
	groups []int
}

// ParseTemplate builds a template from text. Variables are written in
// braces: {row}, {col}, {field}, {channel}, {z}, {time} and {rowletter}.
// Everything else is literal and matches in any letter case.
func ParseTemplate(expr string) (*Template, error) {
	var segs []Segment
	rest := expr
	for rest != "" {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			segs = append(segs, Literal(rest))
			break
		}
		if open > 0 {
			segs = append(segs, Literal(rest[:open]))
		}
		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			return nil, fmt.Errorf("template %q: unterminated variable", expr)
		}
		name := strings.ToLower(strings.TrimSpace(rest[open+1 : open+end]))
		if name == "rowletter" {
			segs = append(segs, Segment{Variable: true, Axis: models.AxisRow, Letters: true})
		} else {
			axis, ok := models.ParseAxis(name)
			if !ok {
				return nil, fmt.Errorf("template %q: unknown variable {%s}", expr, name)
			}
			segs = append(segs, Var(axis))
		}
		rest = rest[open+end+1:]
	}
	return NewTemplate(segs)
}

// NewTemplate compiles explicit segments
func NewTemplate(segs []Segment) (*Template, error) {
	t := &Template{
		segments: segs,
		fields:   make(map[int]models.Axis),
		groups:   make([]int, len(segs)),
	}

	var pattern, text strings.Builder
	pattern.WriteString("^")
	group, vars := 0, 0
	for i, s := range segs {
		group++
		t.groups[i] = group
		if !s.Variable {
			pattern.WriteString("((?i:" + regexp.QuoteMeta(s.Literal) + "))")
			text.WriteString(s.Literal)
			continue
		}
		if s.Axis < 0 || s.Axis >= models.NumAxes {
			return nil, fmt.Errorf("template segment has invalid axis %d", int(s.Axis))
		}
		if t.present[s.Axis] {
			return nil, fmt.Errorf("template captures %s more than once", s.Axis)
		}
		t.present[s.Axis] = true
		vars++
		t.fields[vars] = s.Axis
		if s.Letters {
			pattern.WriteString("([A-Za-z]+)")
			text.WriteString("{rowletter}")
		} else {
			pattern.WriteString(`(\d+)`)
			fmt.Fprintf(&text, "{%s}", s.Axis)
		}
	}
	pattern.WriteString("$")

	if vars == 0 {
		return nil, fmt.Errorf("template %q has no variables", text.String())
	}
	if !t.present[models.AxisRow] || !t.present[models.AxisColumn] {
		return nil, fmt.Errorf("template %q must capture row and column", text.String())
	}

	re, err := regexp.Compile(pattern.String())
	if err != nil {
		return nil, fmt.Errorf("compiling template: %w", err)
	}
	t.re = re
	t.expr = text.String()
	return t, nil
}

// MustParseTemplate is ParseTemplate for package-level templates
func MustParseTemplate(expr string) *Template {
	t, err := ParseTemplate(expr)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Template) String() string {
	return t.expr
}

// FieldMap returns the 1-based variable index -> axis mapping
func (t *Template) FieldMap() map[int]models.Axis {
	m := make(map[int]models.Axis, len(t.fields))
	for k, v := range t.fields {
		m[k] = v
	}
	return m
}

// Captures reports whether the template has a variable for axis a
func (t *Template) Captures(a models.Axis) bool {
	return t.present[a]
}

// Extract parses the base name of path. It reports false when the name
// does not match; such files are simply not part of the acquisition.
// Indices are returned as written; ExtractAll makes them 1-based.
func (t *Template) Extract(path string) (models.FileCoordinate, bool) {
	m := t.re.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return models.FileCoordinate{}, false
	}

	c := models.FileCoordinate{
		Path:    path,
		Field:   1,
		Channel: 1,
		Z:       1,
		Time:    1,
	}
	for i, s := range t.segments {
		if !s.Variable {
			continue
		}
		axis, capture := s.Axis, m[t.groups[i]]
		var v int
		if s.Letters {
			n, ok := models.RowNumber(capture)
			if !ok {
				return models.FileCoordinate{}, false
			}
			v = n
		} else {
			n, err := strconv.Atoi(capture)
			if err != nil {
				return models.FileCoordinate{}, false
			}
			v = n
		}
		c = setAxis(c, axis, v)
		c.Pad[axis] = len(capture)
	}
	return c, true
}

// Render rebuilds the base name of c using its pad widths. Literals are
// spelled as in c.Path when it matches, so for a coordinate produced by
// Extract the result equals the original base name.
func (t *Template) Render(c models.FileCoordinate) string {
	return t.render(c, t.literals(c.Path))
}

// RenderLike renders c with the literal spelling of sibling, a file of the
// same acquisition. Probed coordinates carry no path of their own.
func (t *Template) RenderLike(c models.FileCoordinate, sibling string) string {
	return t.render(c, t.literals(sibling))
}

// literals returns the matched text of every segment of path, or nil
func (t *Template) literals(path string) []string {
	if path == "" {
		return nil
	}
	m := t.re.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return nil
	}
	out := make([]string, len(t.segments))
	for i := range t.segments {
		out[i] = m[t.groups[i]]
	}
	return out
}

func (t *Template) render(c models.FileCoordinate, spelling []string) string {
	var b strings.Builder
	for i, s := range t.segments {
		if !s.Variable {
			if spelling != nil {
				b.WriteString(spelling[i])
			} else {
				b.WriteString(s.Literal)
			}
			continue
		}
		v := c.Index(s.Axis) - c.Shift[s.Axis]
		if s.Letters {
			row := models.RowLetter(v)
			if spelling != nil && spelling[i] == strings.ToLower(spelling[i]) {
				row = strings.ToLower(row)
			}
			b.WriteString(row)
			continue
		}
		fmt.Fprintf(&b, "%0*d", c.Pad[s.Axis], v)
	}
	return b.String()
}

func setAxis(c models.FileCoordinate, a models.Axis, v int) models.FileCoordinate {
	path := c.Path
	c = c.With(a, v)
	c.Path = path
	return c
}

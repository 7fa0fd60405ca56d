package reconstruction

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"platestack/internal/models"
	"platestack/pkg/coords"
	"platestack/pkg/imageio"
	"platestack/pkg/report"
)

// ErrCoordinateCollision is wrapped by CollisionError
var ErrCoordinateCollision = errors.New("coordinate collision")

// CollisionError reports two files that map to the same plane of the same stack
type CollisionError struct {
	Coordinate models.FileCoordinate
	First      string
	Second     string
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("%v: %s is claimed by both %q and %q",
		ErrCoordinateCollision, e.Coordinate, e.First, e.Second)
}

func (e *CollisionError) Unwrap() error {
	return ErrCoordinateCollision
}

// ComputeExtents derives the global extents of a run. Plane axes take the
// maximum observed index, so every stack declares the same shape.
func ComputeExtents(cs []models.FileCoordinate) models.Extents {
	var ext models.Extents
	rows := map[int]bool{}
	cols := map[int]bool{}
	fields := map[int]bool{}
	keys := map[models.StackKey]bool{}

	for _, c := range cs {
		ext.Channels = max(ext.Channels, c.Channel)
		ext.Z = max(ext.Z, c.Z)
		ext.Time = max(ext.Time, c.Time)
		rows[c.Row] = true
		cols[c.Column] = true
		fields[c.Field] = true
		keys[c.Key()] = true
	}

	ext.Rows = sortedInts(rows)
	ext.Columns = sortedInts(cols)
	ext.Fields = sortedInts(fields)
	for k := range keys {
		ext.Keys = append(ext.Keys, k)
	}
	sort.Slice(ext.Keys, func(i, j int) bool { return ext.Keys[i].Less(ext.Keys[j]) })
	return ext
}

func sortedInts(set map[int]bool) []int {
	out := make([]int, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

type planeKey struct {
	stack models.StackKey
	plane models.PlaneIndex
}

// Index resolves (stack, plane) to the enumerated source file
type Index struct {
	planes map[planeKey]models.FileCoordinate

	// first enumerated coordinate of each stack, used as the base for probing
	first map[models.StackKey]models.FileCoordinate
}

// IndexCoordinates builds the lookup index. Two files with the same
// coordinate are a CollisionError. Indices must be 1-based, as returned
// by coords.ExtractAll.
func IndexCoordinates(cs []models.FileCoordinate) (*Index, error) {
	ix := &Index{
		planes: make(map[planeKey]models.FileCoordinate, len(cs)),
		first:  make(map[models.StackKey]models.FileCoordinate),
	}
	for _, c := range cs {
		for a := models.Axis(0); a < models.NumAxes; a++ {
			if c.Index(a) < 1 {
				return nil, fmt.Errorf("%s: %s index %d of %q is not 1-based", c, a, c.Index(a), c.Path)
			}
		}
		k := planeKey{stack: c.Key(), plane: c.PlaneIndex()}
		if prev, ok := ix.planes[k]; ok {
			return nil, &CollisionError{Coordinate: c, First: prev.Path, Second: c.Path}
		}
		ix.planes[k] = c
		if _, ok := ix.first[k.stack]; !ok {
			ix.first[k.stack] = c
		}
	}
	return ix, nil
}

// Lookup returns the file of one plane
func (ix *Index) Lookup(key models.StackKey, p models.PlaneIndex) (models.FileCoordinate, bool) {
	c, ok := ix.planes[planeKey{stack: key, plane: p}]
	return c, ok
}

// Len is the number of indexed files
func (ix *Index) Len() int {
	return len(ix.planes)
}

// Assembler builds dense stacks. It only reads shared state and is safe
// to use from several goroutines.
type Assembler struct {
	Index    *Index
	Extents  models.Extents
	Metadata models.AcquisitionMetadata

	// Template renders names of planes missing from the listing; nil
	// disables probing
	Template *coords.Template

	// Axes is the storage order, outermost first, e.g. "CTZYX"
	Axes string

	// Squeeze drops singleton C, T and Z axes from the declared shape
	Squeeze bool

	Reader imageio.PlaneReader
	Report *report.Report
}

// ValidateAxes checks a storage order: a permutation of C, T and Z
// followed by YX
func ValidateAxes(axes string) error {
	axes = strings.ToUpper(axes)
	if len(axes) != 5 || !strings.HasSuffix(axes, "YX") {
		return fmt.Errorf("dimension order %q must be a permutation of CTZ followed by YX", axes)
	}
	for _, r := range "CTZ" {
		if strings.Count(axes[:3], string(r)) != 1 {
			return fmt.Errorf("dimension order %q must contain %c exactly once", axes, r)
		}
	}
	return nil
}

// Assemble reconstructs the stack of key. Missing or unreadable planes are
// zero-filled and reported; only cancellation returns an error.
func (a *Assembler) Assemble(ctx context.Context, key models.StackKey) (*models.ReconstructedStack, error) {
	order := models.PlaneOrder(a.Axes, a.Extents)
	base, hasBase := a.Index.first[key]

	type loaded struct {
		plane  *imageio.Plane
		path   string
		coord  models.FileCoordinate
		failed bool
	}
	planes := make([]loaded, len(order))

	for i, p := range order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		c, ok := a.Index.Lookup(key, p)
		if !ok && hasBase {
			c = base.With(models.AxisChannel, p.Channel).
				With(models.AxisZ, p.Z).
				With(models.AxisTime, p.Time)
			if path, found := a.probe(base, c); found {
				c.Path, ok = path, true
			}
		}
		if !ok {
			if !hasBase {
				c = models.FileCoordinate{Row: key.Row, Column: key.Column, Field: key.Field,
					Channel: p.Channel, Z: p.Z, Time: p.Time}
			}
			planes[i] = loaded{coord: c, failed: true}
			a.warn(report.MissingPlane, "%s: no file, zero-filled", c)
			continue
		}

		pl, err := a.Reader.ReadPlane(c.Path)
		if err != nil {
			planes[i] = loaded{coord: c, path: c.Path, failed: true}
			a.warn(report.UndecodablePlane, "%s: cannot decode %s: %v, zero-filled", c, filepath.Base(c.Path), err)
			continue
		}
		planes[i] = loaded{plane: pl, path: c.Path, coord: c}
	}

	// the first decoded plane fixes the stack's size
	width, height, depth := a.Metadata.Width, a.Metadata.Height, a.Metadata.BitDepth
	for _, l := range planes {
		if l.plane != nil {
			width, height = l.plane.Width, l.plane.Height
			if depth == 0 {
				depth = l.plane.BitDepth
			}
			break
		}
	}

	meta := a.Metadata.ScopedTo(width, height)
	meta.BitDepth = depth
	s := &models.ReconstructedStack{
		Key:      key,
		Extents:  a.Extents,
		Metadata: meta,
		Pad:      base.Pad,
		Repeat:   1,
		Data:     make([]uint16, width*height*len(order)),
	}
	s.Axes, s.Shape = a.shape(width, height)

	size := width * height
	for i, l := range planes {
		if l.failed {
			s.Missing = append(s.Missing, l.coord)
			continue
		}
		if l.plane.Width != width || l.plane.Height != height {
			a.warn(report.UndecodablePlane, "%s: %s is %dx%d, expected %dx%d, zero-filled",
				l.coord, filepath.Base(l.path), l.plane.Width, l.plane.Height, width, height)
			s.Missing = append(s.Missing, l.coord)
			continue
		}
		copy(s.Data[i*size:(i+1)*size], l.plane.Pix)
	}
	return s, nil
}

func (a *Assembler) warn(kind report.Kind, format string, args ...interface{}) {
	if a.Report != nil {
		a.Report.Warn(kind, format, args...)
	}
}

// probe looks for the file of c next to the stack's first file
func (a *Assembler) probe(base, c models.FileCoordinate) (string, bool) {
	if a.Template == nil || base.Path == "" {
		return "", false
	}
	path := filepath.Join(filepath.Dir(base.Path), a.Template.RenderLike(c, base.Path))
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	return path, true
}

// shape returns the declared axes and their sizes
func (a *Assembler) shape(width, height int) (string, []int) {
	var axes strings.Builder
	var shape []int
	for _, r := range strings.ToUpper(a.Axes) {
		n := 0
		switch r {
		case 'C':
			n = a.Extents.Extent(models.AxisChannel)
		case 'T':
			n = a.Extents.Extent(models.AxisTime)
		case 'Z':
			n = a.Extents.Extent(models.AxisZ)
		case 'Y':
			n = height
		case 'X':
			n = width
		default:
			continue
		}
		if r != 'Y' && r != 'X' {
			n = max(n, 1)
			if a.Squeeze && n == 1 {
				continue
			}
		}
		axes.WriteRune(r)
		shape = append(shape, n)
	}
	return axes.String(), shape
}

// SplitByTime returns one stack per timepoint with Repeat set to the
// timepoint. Stacks with a single timepoint are returned as is. With
// squeeze the T axis is dropped from the declared shape.
func SplitByTime(s *models.ReconstructedStack, squeeze bool) []*models.ReconstructedStack {
	if s.Extents.Time <= 1 {
		return []*models.ReconstructedStack{s}
	}

	order := s.PlaneOrder()
	ext := s.Extents
	ext.Time = 1

	axes, shape := s.Axes, append([]int(nil), s.Shape...)
	if i := strings.IndexRune(axes, 'T'); i >= 0 {
		if squeeze {
			axes = axes[:i] + axes[i+1:]
			shape = append(shape[:i], shape[i+1:]...)
		} else {
			shape[i] = 1
		}
	}

	out := make([]*models.ReconstructedStack, 0, s.Extents.Time)
	for t := 1; t <= s.Extents.Time; t++ {
		sub := *s
		sub.Extents = ext
		sub.Repeat = t
		sub.Axes = axes
		sub.Shape = append([]int(nil), shape...)
		sub.Data = make([]uint16, 0, len(s.Data)/s.Extents.Time)
		sub.Missing = nil
		for i, p := range order {
			if p.Time == t {
				sub.Data = append(sub.Data, s.Plane(i)...)
			}
		}
		for _, m := range s.Missing {
			if m.Time == t {
				sub.Missing = append(sub.Missing, m)
			}
		}
		out = append(out, &sub)
	}
	return out
}

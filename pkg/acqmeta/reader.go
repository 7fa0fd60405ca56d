// Package acqmeta reads vendor acquisition metadata into a normalized
// models.AcquisitionMetadata record.
//
// Metadata documents can be tens of megabytes for large plates, so both the
// XML and JSON readers stream: one image record is decoded at a time and
// folded into an accumulator. Numeric values that fail to parse are replaced
// with 0 and reported; a single corrupt record never aborts a run.
package acqmeta

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"platestack/internal/models"
	"platestack/pkg/report"
)

// DefaultZStepTolerance is the relative disagreement allowed between the
// z-step derived from relative and from absolute stage positions before the
// absolute value is preferred. Empirical; exposed as a tunable.
const DefaultZStepTolerance = 0.10

// Options tune the reader
type Options struct {
	// ZStepTolerance, see DefaultZStepTolerance. Zero means default.
	ZStepTolerance float64

	// Report receives warnings for unparseable fields; may be nil
	Report *report.Report
}

// Read opens path and dispatches on its extension (.xml or .json)
func Read(path string, opts Options) (models.AcquisitionMetadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.AcquisitionMetadata{}, err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".xml":
		return ReadXML(f, opts)
	case ".json":
		return ReadJSON(f, opts)
	}
	return models.AcquisitionMetadata{}, fmt.Errorf("unsupported metadata format %q", filepath.Ext(path))
}

// rawValue is one textual field plus the factor converting it to the
// normalized unit (micrometres, nanometres or seconds)
type rawValue struct {
	Text    string
	Scale   float64
	Present bool
}

func raw(text string, scale float64) rawValue {
	text = strings.TrimSpace(text)
	return rawValue{Text: text, Scale: scale, Present: text != ""}
}

// rawImage is one image record before numeric parsing
type rawImage struct {
	Row, Col, Field, Plane, Timepoint, Channel rawValue

	ChannelName string

	ResolutionX, ResolutionY rawValue
	SizeX, SizeY             rawValue
	Emission, Excitation     rawValue
	PosX, PosY               rawValue
	PosZ, AbsPosZ            rawValue
	TimeOffset               rawValue
	MaxIntensity             rawValue
}

type zSample struct {
	rel, abs       float64
	hasRel, hasAbs bool
}

// accumulator folds image records into metadata
type accumulator struct {
	opts Options
	meta models.AcquisitionMetadata

	sizeSet  bool
	depthSet bool

	// timepointBase is subtracted from vendor timepoint ids to make them 1-based
	timepointBase int

	channels map[int]*models.ChannelInfo

	// per field: plane -> z positions, and timepoint -> time offset at plane 1
	zs    map[models.StackKey]map[int]zSample
	times map[models.StackKey]map[int]float64

	// first channel seen for each field; z and t samples are taken from it
	firstChannel map[models.StackKey]int
}

func newAccumulator(opts Options, timepointBase int) *accumulator {
	if opts.ZStepTolerance <= 0 {
		opts.ZStepTolerance = DefaultZStepTolerance
	}
	return &accumulator{
		opts:          opts,
		timepointBase: timepointBase,
		channels:      make(map[int]*models.ChannelInfo),
		zs:            make(map[models.StackKey]map[int]zSample),
		times:         make(map[models.StackKey]map[int]float64),
		firstChannel:  make(map[models.StackKey]int),
		meta: models.AcquisitionMetadata{
			BitDepth:     16,
			StageOffsets: make(map[models.StackKey]models.Point),
		},
	}
}

func (a *accumulator) setPlate(rows, cols rawValue, plateType string) {
	a.meta.PlateRows = a.parseInt("PlateRows", rows, "plate")
	a.meta.PlateColumns = a.parseInt("PlateColumns", cols, "plate")
	a.meta.PlateType = strings.TrimSpace(plateType)
}

func (a *accumulator) add(img rawImage) {
	where := "image"
	key := models.StackKey{
		Row:    a.parseInt("Row", img.Row, where),
		Column: a.parseInt("Col", img.Col, where),
		Field:  a.parseInt("FieldID", img.Field, where),
	}
	plane := a.parseInt("PlaneID", img.Plane, key.String())
	channel := a.parseInt("ChannelID", img.Channel, key.String())
	timepoint := 1
	if img.Timepoint.Present {
		timepoint = a.parseInt("TimepointID", img.Timepoint, key.String()) - a.timepointBase + 1
	}
	where = fmt.Sprintf("%s p%d ch%d t%d", key, plane, channel, timepoint)

	if !a.sizeSet && img.SizeX.Present && img.SizeY.Present {
		a.meta.Width = a.parseInt("ImageSizeX", img.SizeX, where)
		a.meta.Height = a.parseInt("ImageSizeY", img.SizeY, where)
		a.meta.PixelSizeX = a.parseFloat("ImageResolutionX", img.ResolutionX, where)
		a.meta.PixelSizeY = a.parseFloat("ImageResolutionY", img.ResolutionY, where)
		a.sizeSet = true
	}

	if !a.depthSet && img.MaxIntensity.Present {
		a.meta.BitDepth = bitDepthFor(a.parseFloat("MaxIntensity", img.MaxIntensity, where))
		a.depthSet = true
	}

	if img.Channel.Present {
		if _, ok := a.channels[channel]; !ok {
			ch := &models.ChannelInfo{ID: channel, Name: strings.TrimSpace(img.ChannelName)}
			if img.Emission.Present {
				ch.EmissionWavelength = models.Some(a.parseFloat("MainEmissionWavelength", img.Emission, where))
			}
			if img.Excitation.Present {
				ch.ExcitationWavelength = models.Some(a.parseFloat("MainExcitationWavelength", img.Excitation, where))
			}
			a.channels[channel] = ch
		}
	}

	first, seen := a.firstChannel[key]
	if !seen {
		a.firstChannel[key] = channel
		first = channel
	}
	if channel != first {
		return
	}

	if plane == 1 && img.PosX.Present && img.PosY.Present {
		if _, ok := a.meta.StageOffsets[key]; !ok {
			a.meta.StageOffsets[key] = models.Point{
				X: a.parseFloat("PositionX", img.PosX, where),
				Y: a.parseFloat("PositionY", img.PosY, where),
			}
		}
	}

	if plane == 1 || plane == 2 {
		planes := a.zs[key]
		if planes == nil {
			planes = make(map[int]zSample, 2)
			a.zs[key] = planes
		}
		if _, ok := planes[plane]; !ok {
			var s zSample
			if img.PosZ.Present {
				s.rel, s.hasRel = a.parseFloat("PositionZ", img.PosZ, where), true
			}
			if img.AbsPosZ.Present {
				s.abs, s.hasAbs = a.parseFloat("AbsPositionZ", img.AbsPosZ, where), true
			}
			planes[plane] = s
		}
	}

	if plane == 1 && img.TimeOffset.Present {
		ts := a.times[key]
		if ts == nil {
			ts = make(map[int]float64)
			a.times[key] = ts
		}
		if _, ok := ts[timepoint]; !ok {
			ts[timepoint] = a.parseFloat("MeasurementTimeOffset", img.TimeOffset, where)
		}
	}
}

// finish resolves the derived values once every record has been seen
func (a *accumulator) finish() models.AcquisitionMetadata {
	ids := make([]int, 0, len(a.channels))
	for id := range a.channels {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		a.meta.Channels = append(a.meta.Channels, *a.channels[id])
	}

	if key, ok := minKey(a.zs); ok {
		a.meta.ZStep = a.zStep(a.zs[key])
	}
	if key, ok := minKey(a.times); ok {
		a.meta.TimeStep = timeStep(a.times[key])
	}
	return a.meta
}

// zStep compares the step from relative and absolute positions of planes 1
// and 2. Relative encoders fail more often, so when the two disagree by
// more than the tolerance the absolute value is used.
func (a *accumulator) zStep(planes map[int]zSample) models.Optional {
	p1, ok1 := planes[1]
	p2, ok2 := planes[2]
	if !ok1 || !ok2 {
		return models.Optional{}
	}

	var rel, abs models.Optional
	if p1.hasRel && p2.hasRel {
		rel = models.Some(math.Abs(p2.rel - p1.rel))
	}
	if p1.hasAbs && p2.hasAbs {
		abs = models.Some(math.Abs(p2.abs - p1.abs))
	}

	switch {
	case rel.Valid && abs.Valid:
		if abs.Value > 0 && math.Abs(rel.Value-abs.Value)/abs.Value > a.opts.ZStepTolerance {
			return abs
		}
		return rel
	case rel.Valid:
		return rel
	}
	return abs
}

func timeStep(ts map[int]float64) models.Optional {
	if len(ts) < 2 {
		return models.Optional{}
	}
	tps := make([]int, 0, len(ts))
	for tp := range ts {
		tps = append(tps, tp)
	}
	sort.Ints(tps)
	return models.Some(math.Abs(ts[tps[1]] - ts[tps[0]]))
}

// minKey returns the lowest key of m, which is the acquisition's first field
func minKey[V any](m map[models.StackKey]V) (models.StackKey, bool) {
	var best models.StackKey
	found := false
	for k := range m {
		if !found || k.Less(best) {
			best, found = k, true
		}
	}
	return best, found
}

func (a *accumulator) parseInt(name string, v rawValue, where string) int {
	if !v.Present {
		return 0
	}
	n, err := strconv.Atoi(v.Text)
	if err != nil {
		// vendors occasionally write integral fields as floats
		f, ferr := strconv.ParseFloat(v.Text, 64)
		if ferr != nil || f != math.Trunc(f) {
			a.warn(name, v, where)
			return 0
		}
		n = int(f)
	}
	return n
}

func (a *accumulator) parseFloat(name string, v rawValue, where string) float64 {
	if !v.Present {
		return 0
	}
	f, err := strconv.ParseFloat(v.Text, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		a.warn(name, v, where)
		return 0
	}
	if v.Scale != 0 {
		f *= v.Scale
	}
	return f
}

func (a *accumulator) warn(name string, v rawValue, where string) {
	if a.opts.Report != nil {
		a.opts.Report.Warn(report.BadMetadataField, "%s=%q is not a number (%s), using 0", name, v.Text, where)
	}
}

func bitDepthFor(maxIntensity float64) int {
	switch {
	case maxIntensity <= 0:
		return 16
	case maxIntensity <= 255:
		return 8
	case maxIntensity <= 4095:
		return 12
	}
	return 16
}

// lengthScale converts a length unit attribute to micrometres
func lengthScale(unit string) float64 {
	switch strings.TrimSpace(unit) {
	case "m":
		return 1e6
	case "mm":
		return 1e3
	case "nm":
		return 1e-3
	}
	return 1
}

// timeScale converts a time unit attribute to seconds
func timeScale(unit string) float64 {
	switch strings.TrimSpace(unit) {
	case "ms":
		return 1e-3
	case "min":
		return 60
	case "h":
		return 3600
	}
	return 1
}

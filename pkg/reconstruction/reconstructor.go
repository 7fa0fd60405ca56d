// Package reconstruction turns a directory of single-plane microscope images
// into one dense multi-dimensional stack per (well, field), places every
// stack on the plate and writes the layout descriptor.
package reconstruction

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"platestack/internal/models"
	"platestack/pkg/acqmeta"
	"platestack/pkg/coords"
	"platestack/pkg/descriptor"
	"platestack/pkg/imageio"
	"platestack/pkg/omexml"
	"platestack/pkg/platelayout"
	"platestack/pkg/report"
	"platestack/pkg/visualization"
)

// DefaultDimensionOrder is the storage order of reconstructed stacks
const DefaultDimensionOrder = "CTZYX"

// Params holds the reconstruction parameters
type Params struct {
	// InputDir holds the source planes, flat or one folder per well
	InputDir string

	// MetadataFile is the vendor acquisition document (.xml or .json).
	// When empty, image size comes from the planes and PlateWells must be set.
	MetadataFile string

	// Template describes source file names, e.g. "r{row}c{col}f{field}p{z}-ch{channel}t{time}.tiff"
	Template string

	// OutputDir receives one OME-TIFF per stack
	OutputDir string

	// OutputPrefix is prepended to every stack file name
	OutputPrefix string

	// DescriptorFile is the layout descriptor path. Defaults to
	// OutputDir/layout.json.
	DescriptorFile string

	// NumWorkers bounds the number of stacks reconstructed at once
	NumWorkers int

	// DimensionOrder is the storage order, outermost first. Defaults to
	// DefaultDimensionOrder.
	DimensionOrder string

	// SqueezeSingletons drops C, T or Z axes of size 1 from the declared shape
	SqueezeSingletons bool

	// SplitTimepoints writes one stack per timepoint; each becomes its own
	// placement with the timepoint as repeat index
	SplitTimepoints bool

	// PlateTable maps well counts to geometries. Defaults to platelayout.DefaultTable.
	PlateTable platelayout.Table

	// PlateWells overrides the well count read from metadata
	PlateWells int

	// WrapFraction and SpacerFraction tune packed placement; zero means
	// the platelayout defaults
	WrapFraction   float64
	SpacerFraction float64

	// PixelSize in micrometres sizes fields on the plate when the metadata
	// records none. Defaults to platelayout.DefaultPixelSize.
	PixelSize float64

	// ZStepTolerance is passed to the metadata reader
	ZStepTolerance float64

	// SavePreviews writes a PNG montage per stack into PreviewDir
	SavePreviews bool
	PreviewDir   string
	PreviewWidth int

	// Reader and Writer default to imageio.FileReader and imageio.OMETIFFWriter
	Reader imageio.PlaneReader
	Writer imageio.StackWriter

	// Logger receives progress messages. Defaults to stdout.
	Logger *log.Logger

	// Report collects recoverable problems. Defaults to a report logging to Logger.
	Report *report.Report
}

// Reconstructor runs the pipeline:
// 1. Reading acquisition metadata and extracting coordinates from file names
// 2. Computing global extents and indexing planes
// 3. Assembling, describing and writing one stack per (well, field)
// 4. Placing stacks on the plate
// 5. Writing the layout descriptor
type Reconstructor struct {
	params *Params

	template *coords.Template
	metadata models.AcquisitionMetadata
	coords   []models.FileCoordinate
	extents  models.Extents
	plate    models.PlateLayout

	// stacks are in key order; pixel data is released once written
	stacks     []*models.ReconstructedStack
	placements []models.FieldPlacement
}

// NewReconstructor creates a reconstructor, filling unset parameters with defaults
func NewReconstructor(params *Params) *Reconstructor {
	p := *params
	if p.NumWorkers <= 0 {
		p.NumWorkers = runtime.NumCPU()
	}
	if p.DimensionOrder == "" {
		p.DimensionOrder = DefaultDimensionOrder
	}
	p.DimensionOrder = strings.ToUpper(p.DimensionOrder)
	if p.PlateTable == nil {
		p.PlateTable = platelayout.DefaultTable()
	}
	if p.DescriptorFile == "" {
		p.DescriptorFile = filepath.Join(p.OutputDir, "layout.json")
	}
	if p.PreviewDir == "" {
		p.PreviewDir = filepath.Join(p.OutputDir, "previews")
	}
	if p.PixelSize <= 0 {
		p.PixelSize = platelayout.DefaultPixelSize
	}
	if p.PreviewWidth <= 0 {
		p.PreviewWidth = 256
	}
	if p.Reader == nil {
		p.Reader = imageio.FileReader{}
	}
	if p.Writer == nil {
		p.Writer = imageio.OMETIFFWriter{}
	}
	if p.Logger == nil {
		p.Logger = log.New(os.Stdout, "", 0)
	}
	if p.Report == nil {
		p.Report = report.New(p.Logger)
	}
	return &Reconstructor{params: &p}
}

// Process runs the complete pipeline. Fatal conditions (no matching files,
// coordinate collisions, unknown plate) are detected before anything is
// written. The descriptor is written last.
func (r *Reconstructor) Process(ctx context.Context) error {
	logger := r.params.Logger

	if err := ValidateAxes(r.params.DimensionOrder); err != nil {
		return err
	}
	tmpl, err := coords.ParseTemplate(r.params.Template)
	if err != nil {
		return fmt.Errorf("invalid file name template: %w", err)
	}
	r.template = tmpl

	// Step 1: metadata and coordinates are independent
	logger.Println("Step 1: Reading metadata and scanning input files...")
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.loadMetadata()
	})
	g.Go(func() error {
		return r.loadCoordinates(gctx)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Printf("Found %d matching files", len(r.coords))

	// Step 2: global extents, plane index and plate geometry
	logger.Println("Step 2: Indexing planes...")
	r.extents = ComputeExtents(r.coords)
	index, err := IndexCoordinates(r.coords)
	if err != nil {
		return err
	}
	if err := r.lookupPlate(); err != nil {
		return err
	}
	logger.Printf("%d stacks of %d channel(s) x %d z x %d timepoint(s) on a %s",
		len(r.extents.Keys), r.extents.Channels, r.extents.Z, r.extents.Time, r.plate.Name)

	// Step 3: stacks
	logger.Println("Step 3: Reconstructing stacks...")
	asm := &Assembler{
		Index:    index,
		Extents:  r.extents,
		Metadata: r.metadata,
		Template: tmpl,
		Axes:     r.params.DimensionOrder,
		Squeeze:  r.params.SqueezeSingletons,
		Reader:   r.params.Reader,
		Report:   r.params.Report,
	}
	if err := r.reconstructAll(ctx, asm); err != nil {
		return err
	}

	// Step 4: placement
	logger.Println("Step 4: Placing fields on the plate...")
	if !r.metadata.HasPixelSize() {
		logger.Printf("No pixel size recorded, assuming %g um per pixel", r.params.PixelSize)
	}
	fields := make([]platelayout.Field, 0, len(r.stacks))
	for _, s := range r.stacks {
		f := platelayout.FieldFromStack(s, r.params.PixelSize)
		f.ImagePath = r.descriptorPath(s.OutputPath)
		fields = append(fields, f)
	}
	engine := platelayout.NewEngine(r.plate, r.metadata, r.params.Report)
	if r.params.WrapFraction > 0 {
		engine.WrapFraction = r.params.WrapFraction
	}
	if r.params.SpacerFraction > 0 {
		engine.SpacerFraction = r.params.SpacerFraction
	}
	r.placements = engine.Place(fields)
	if r.metadata.HasStageOffsets() {
		logger.Println("Using recorded stage positions")
	} else {
		logger.Println("No stage positions recorded, packing fields")
	}

	// Step 5: descriptor
	logger.Println("Step 5: Writing layout descriptor...")
	if err := descriptor.WriteFile(r.params.DescriptorFile, r.placements, r.plate.Name, r.plate.ID); err != nil {
		return err
	}
	logger.Printf("Descriptor saved to: %s", r.params.DescriptorFile)
	return nil
}

func (r *Reconstructor) loadMetadata() error {
	if r.params.MetadataFile == "" {
		r.params.Logger.Println("No metadata file, image size is taken from the planes")
		return nil
	}
	meta, err := acqmeta.Read(r.params.MetadataFile, acqmeta.Options{
		ZStepTolerance: r.params.ZStepTolerance,
		Report:         r.params.Report,
	})
	if err != nil {
		return fmt.Errorf("failed to read metadata %s: %w", r.params.MetadataFile, err)
	}
	r.metadata = meta
	return nil
}

func (r *Reconstructor) loadCoordinates(ctx context.Context) error {
	files, err := coords.ScanDir(r.params.InputDir)
	if err != nil {
		return fmt.Errorf("failed to scan input directory: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	cs, err := coords.ExtractAll(files, r.template)
	if err != nil {
		return err
	}
	for _, a := range coords.ZeroBasedAxes(cs) {
		r.params.Logger.Printf("File names number %s from 0, shifted to start at 1", a)
	}
	r.coords = cs
	return nil
}

func (r *Reconstructor) lookupPlate() error {
	wells := r.metadata.WellCount()
	if r.params.PlateWells > 0 {
		wells = r.params.PlateWells
	}
	plate, err := r.params.PlateTable.Lookup(wells)
	if err != nil {
		return err
	}
	r.plate = plate
	return nil
}

// reconstructAll builds and writes every stack with a bounded worker pool.
// Results land in a slice indexed by key order.
func (r *Reconstructor) reconstructAll(ctx context.Context, asm *Assembler) error {
	if err := os.MkdirAll(r.params.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	keys := r.extents.Keys
	results := make([][]*models.ReconstructedStack, len(keys))
	var completed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.params.NumWorkers)
	for i, key := range keys {
		g.Go(func() error {
			stacks, err := r.reconstructOne(gctx, asm, key)
			if err != nil {
				return fmt.Errorf("stack %s: %w", key, err)
			}
			results[i] = stacks

			done := completed.Add(1)
			r.params.Logger.Printf("Reconstructed %s (%d/%d)", key, done, len(keys))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	r.stacks = r.stacks[:0]
	for _, stacks := range results {
		r.stacks = append(r.stacks, stacks...)
	}
	return nil
}

// reconstructOne assembles, describes and writes the stack(s) of one key
func (r *Reconstructor) reconstructOne(ctx context.Context, asm *Assembler, key models.StackKey) ([]*models.ReconstructedStack, error) {
	full, err := asm.Assemble(ctx, key)
	if err != nil {
		return nil, err
	}

	stacks := []*models.ReconstructedStack{full}
	if r.params.SplitTimepoints {
		stacks = SplitByTime(full, r.params.SqueezeSingletons)
	}

	for _, s := range stacks {
		name := OutputName(r.params.OutputPrefix, s.Key)
		if len(stacks) > 1 {
			name = fmt.Sprintf("%s_t%02d", name, s.Repeat)
		}
		s.DisplayName = name
		s.OutputPath = filepath.Join(r.params.OutputDir, name+".ome.tiff")

		s.Description, err = omexml.Render(s.Metadata, s.Axes, s.Extents, name)
		if err != nil {
			return nil, err
		}
		if err := r.params.Writer.WriteStack(s.OutputPath, s); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", s.OutputPath, err)
		}

		if r.params.SavePreviews {
			path := filepath.Join(r.params.PreviewDir, name+".png")
			if err := visualization.NewViewer(s).SavePreview(path, r.params.PreviewWidth); err != nil {
				r.params.Report.Warn(report.PreviewFailed, "%s: %v", name, err)
			}
		}

		// only the description of a written stack is kept
		s.Data = nil
	}
	return stacks, nil
}

// descriptorPath makes image paths relative to the descriptor when possible
func (r *Reconstructor) descriptorPath(path string) string {
	rel, err := filepath.Rel(filepath.Dir(r.params.DescriptorFile), path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

// OutputName is the file name, without extension, of the stack of key
func OutputName(prefix string, key models.StackKey) string {
	return prefix + key.String()
}

// Metadata returns the acquisition metadata of the last run
func (r *Reconstructor) Metadata() models.AcquisitionMetadata {
	return r.metadata
}

// Extents returns the global extents of the last run
func (r *Reconstructor) Extents() models.Extents {
	return r.extents
}

// Plate returns the plate geometry used for placement
func (r *Reconstructor) Plate() models.PlateLayout {
	return r.plate
}

// Stacks returns the written stacks in key order, without pixel data
func (r *Reconstructor) Stacks() []*models.ReconstructedStack {
	return r.stacks
}

// Placements returns the field placements written to the descriptor
func (r *Reconstructor) Placements() []models.FieldPlacement {
	return r.placements
}

// Report returns the run's warning report
func (r *Reconstructor) Report() *report.Report {
	return r.params.Report
}

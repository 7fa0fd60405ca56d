// Package visualization renders quick-look previews of reconstructed stacks:
// a maximum projection over z per channel, contrast stretched between two
// percentiles and scaled down for display.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/image/draw"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"platestack/internal/models"
)

// Default percentiles used for contrast stretching
const (
	DefaultLowPercentile  = 0.01
	DefaultHighPercentile = 0.999
)

// Viewer reads planes out of one reconstructed stack
type Viewer struct {
	stack *models.ReconstructedStack

	// position of each plane in storage order
	planes map[models.PlaneIndex]int

	width  int
	height int

	// LowPercentile and HighPercentile bound the contrast stretch
	LowPercentile  float64
	HighPercentile float64
}

// NewViewer creates a viewer over s. s.Data must still be populated.
func NewViewer(s *models.ReconstructedStack) *Viewer {
	order := s.PlaneOrder()
	planes := make(map[models.PlaneIndex]int, len(order))
	for i, p := range order {
		planes[p] = i
	}
	return &Viewer{
		stack:          s,
		planes:         planes,
		width:          s.Metadata.Width,
		height:         s.Metadata.Height,
		LowPercentile:  DefaultLowPercentile,
		HighPercentile: DefaultHighPercentile,
	}
}

// ExtractPlane returns one stored plane as a 16-bit image
func (v *Viewer) ExtractPlane(channel, z, t int) (*image.Gray16, error) {
	pix, err := v.plane(models.PlaneIndex{Channel: channel, Z: z, Time: t})
	if err != nil {
		return nil, err
	}

	img := image.NewGray16(image.Rect(0, 0, v.width, v.height))
	for y := 0; y < v.height; y++ {
		for x := 0; x < v.width; x++ {
			img.SetGray16(x, y, color.Gray16{Y: pix[y*v.width+x]})
		}
	}
	return img, nil
}

func (v *Viewer) plane(p models.PlaneIndex) ([]uint16, error) {
	n, ok := v.planes[p]
	if !ok {
		return nil, fmt.Errorf("plane c=%d z=%d t=%d is outside the stack", p.Channel, p.Z, p.Time)
	}
	pix := v.stack.Plane(n)
	if pix == nil {
		return nil, fmt.Errorf("plane c=%d z=%d t=%d has no pixel data", p.Channel, p.Z, p.Time)
	}
	return pix, nil
}

// MaxProjection returns the per-pixel maximum over z of one channel and
// timepoint
func (v *Viewer) MaxProjection(channel, t int) ([]float64, error) {
	depth := v.stack.Extents.Z
	if depth < 1 {
		depth = 1
	}

	proj := make([]float64, v.width*v.height)
	for z := 1; z <= depth; z++ {
		pix, err := v.plane(models.PlaneIndex{Channel: channel, Z: z, Time: t})
		if err != nil {
			return nil, err
		}
		for i, val := range pix {
			proj[i] = math.Max(proj[i], float64(val))
		}
	}
	return proj, nil
}

// Stretch maps data linearly so the low percentile becomes 0 and the high
// percentile 1, clamping outside values. A flat image maps to 0.
func Stretch(data []float64, low, high float64) []float64 {
	out := make([]float64, len(data))
	if len(data) == 0 {
		return out
	}

	sorted := append([]float64(nil), data...)
	sort.Float64s(sorted)
	lo := stat.Quantile(low, stat.Empirical, sorted, nil)
	hi := stat.Quantile(high, stat.Empirical, sorted, nil)
	if hi <= lo {
		// percentiles collapse on sparse images; fall back to the full range
		lo, hi = floats.Min(data), floats.Max(data)
	}
	if hi <= lo {
		return out
	}

	for i, val := range data {
		out[i] = math.Max(0, math.Min(1, (val-lo)/(hi-lo)))
	}
	return out
}

// Preview renders the stretched maximum projection of one channel at the
// first timepoint, scaled to width pixels (aspect preserved). A width of 0
// keeps the native size.
func (v *Viewer) Preview(channel, width int) (image.Image, error) {
	proj, err := v.MaxProjection(channel, 1)
	if err != nil {
		return nil, err
	}
	norm := Stretch(proj, v.LowPercentile, v.HighPercentile)

	src := image.NewGray(image.Rect(0, 0, v.width, v.height))
	for i, val := range norm {
		src.Pix[i] = uint8(math.Round(val * 255))
	}

	if width <= 0 || width == v.width {
		return src, nil
	}
	height := int(math.Max(1, math.Round(float64(v.height)*float64(width)/float64(v.width))))
	dst := image.NewGray(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst, nil
}

// Montage places the previews of every channel side by side
func (v *Viewer) Montage(width int) (image.Image, error) {
	channels := v.stack.Extents.Channels
	if channels < 1 {
		channels = 1
	}

	tiles := make([]image.Image, 0, channels)
	for c := 1; c <= channels; c++ {
		tile, err := v.Preview(c, width)
		if err != nil {
			return nil, fmt.Errorf("channel %d: %w", c, err)
		}
		tiles = append(tiles, tile)
	}

	b := tiles[0].Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx()*len(tiles), b.Dy()))
	for i, tile := range tiles {
		r := image.Rect(i*b.Dx(), 0, (i+1)*b.Dx(), b.Dy())
		draw.Draw(out, r, tile, tile.Bounds().Min, draw.Src)
	}
	return out, nil
}

// SavePreview writes the channel montage as a PNG
func (v *Viewer) SavePreview(path string, width int) error {
	if v.width == 0 || v.height == 0 {
		return fmt.Errorf("stack %s has no pixels", v.stack.Key)
	}
	img, err := v.Montage(width)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(file, img); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

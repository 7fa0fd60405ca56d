// Package imageio decodes single-plane source images and encodes
// reconstructed stacks as multi-page OME-TIFF files.
package imageio

import (
	"fmt"
	"image"
	"image/color"
	_ "image/png"
	"io"
	"os"

	"golang.org/x/image/tiff"
)

// Plane is one decoded grayscale image
type Plane struct {
	Width    int
	Height   int
	BitDepth int

	// Pix is row-major, one sample per pixel
	Pix []uint16
}

// NewPlane allocates an all-zero plane
func NewPlane(width, height, bitDepth int) *Plane {
	return &Plane{
		Width:    width,
		Height:   height,
		BitDepth: bitDepth,
		Pix:      make([]uint16, width*height),
	}
}

// PlaneReader reads one named image plane
type PlaneReader interface {
	ReadPlane(path string) (*Plane, error)
}

// PlaneReaderFunc adapts a function to PlaneReader
type PlaneReaderFunc func(path string) (*Plane, error)

func (f PlaneReaderFunc) ReadPlane(path string) (*Plane, error) {
	return f(path)
}

// FileReader decodes TIFF files, and anything else registered with the
// image package (PNG), into grayscale planes
type FileReader struct{}

// ReadPlane implements PlaneReader
func (FileReader) ReadPlane(path string) (*Plane, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err := tiff.Decode(f)
	if err != nil {
		// not a TIFF; fall back to the registered decoders
		if _, serr := f.Seek(0, io.SeekStart); serr != nil {
			return nil, err
		}
		var derr error
		img, _, derr = image.Decode(f)
		if derr != nil {
			return nil, fmt.Errorf("decoding %s: %w", path, derr)
		}
	}
	return FromImage(img), nil
}

// FromImage converts a decoded image to a plane. Colour images are reduced
// to luminance.
func FromImage(img image.Image) *Plane {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	switch src := img.(type) {
	case *image.Gray16:
		p := NewPlane(w, h, 16)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				p.Pix[y*w+x] = src.Gray16At(b.Min.X+x, b.Min.Y+y).Y
			}
		}
		return p
	case *image.Gray:
		p := NewPlane(w, h, 8)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				p.Pix[y*w+x] = uint16(src.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
			}
		}
		return p
	}

	p := NewPlane(w, h, 16)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			g := color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16)
			p.Pix[y*w+x] = g.Y
		}
	}
	return p
}

// ToImage returns the plane as an *image.Gray16
func (p *Plane) ToImage() *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, p.Width, p.Height))
	for i, v := range p.Pix {
		img.Pix[2*i] = uint8(v >> 8)
		img.Pix[2*i+1] = uint8(v)
	}
	return img
}

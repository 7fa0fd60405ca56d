package omexml

import (
	"image/color"
	"math"
)

// Visible range handled by WavelengthToRGB, in nm
const (
	MinWavelength = 380.0
	MaxWavelength = 780.0
)

// WavelengthToRGB approximates the display colour of a wavelength in nm.
// The mapping is piecewise linear across the visible range; anything
// outside it is white.
func WavelengthToRGB(nm float64) color.RGBA {
	if math.IsNaN(nm) || nm < MinWavelength || nm > MaxWavelength {
		return color.RGBA{R: 255, G: 255, B: 255, A: 255}
	}

	var r, g, b float64
	switch {
	case nm < 440:
		r, b = (440-nm)/(440-380), 1
	case nm < 490:
		g, b = (nm-440)/(490-440), 1
	case nm < 510:
		g, b = 1, (510-nm)/(510-490)
	case nm < 580:
		r, g = (nm-510)/(580-510), 1
	case nm < 645:
		r, g = 1, (645-nm)/(645-580)
	default:
		r = 1
	}
	return color.RGBA{R: channel8(r), G: channel8(g), B: channel8(b), A: 255}
}

// PackColor packs c as the signed RGBA integer OME uses
func PackColor(c color.RGBA) int32 {
	return int32(uint32(c.R)<<24 | uint32(c.G)<<16 | uint32(c.B)<<8 | uint32(c.A))
}

func channel8(v float64) uint8 {
	return uint8(math.Round(255 * math.Max(0, math.Min(1, v))))
}

// Package omexml renders acquisition metadata as the OME-XML description
// embedded in every reconstructed stack.
package omexml

import (
	"encoding/xml"
	"fmt"
	"strings"

	"platestack/internal/models"
)

// Namespace is the OME schema the documents declare
const Namespace = "http://www.openmicroscopy.org/Schemas/OME/2016-06"

type document struct {
	XMLName xml.Name `xml:"OME"`
	Xmlns   string   `xml:"xmlns,attr"`
	Creator string   `xml:"Creator,attr,omitempty"`
	Image   image    `xml:"Image"`
}

type image struct {
	ID     string `xml:"ID,attr"`
	Name   string `xml:"Name,attr"`
	Pixels pixels `xml:"Pixels"`
}

type pixels struct {
	ID                string   `xml:"ID,attr"`
	DimensionOrder    string   `xml:"DimensionOrder,attr"`
	Type              string   `xml:"Type,attr"`
	SignificantBits   int      `xml:"SignificantBits,attr,omitempty"`
	BigEndian         bool     `xml:"BigEndian,attr"`
	Interleaved       bool     `xml:"Interleaved,attr"`
	SizeX             int      `xml:"SizeX,attr"`
	SizeY             int      `xml:"SizeY,attr"`
	SizeZ             int      `xml:"SizeZ,attr"`
	SizeC             int      `xml:"SizeC,attr"`
	SizeT             int      `xml:"SizeT,attr"`
	PhysicalSizeX     *float64 `xml:"PhysicalSizeX,attr,omitempty"`
	PhysicalSizeXUnit string   `xml:"PhysicalSizeXUnit,attr,omitempty"`
	PhysicalSizeY     *float64 `xml:"PhysicalSizeY,attr,omitempty"`
	PhysicalSizeYUnit string   `xml:"PhysicalSizeYUnit,attr,omitempty"`
	PhysicalSizeZ     float64  `xml:"PhysicalSizeZ,attr"`
	PhysicalSizeZUnit string   `xml:"PhysicalSizeZUnit,attr"`
	TimeIncrement     float64  `xml:"TimeIncrement,attr"`
	TimeIncrementUnit string   `xml:"TimeIncrementUnit,attr"`

	Channels []channel `xml:"Channel"`
	TiffData tiffData  `xml:"TiffData"`
	Planes   []plane   `xml:"Plane"`
}

type channel struct {
	ID                       string   `xml:"ID,attr"`
	Name                     string   `xml:"Name,attr,omitempty"`
	SamplesPerPixel          int      `xml:"SamplesPerPixel,attr"`
	Color                    int32    `xml:"Color,attr"`
	EmissionWavelength       *float64 `xml:"EmissionWavelength,attr,omitempty"`
	EmissionWavelengthUnit   string   `xml:"EmissionWavelengthUnit,attr,omitempty"`
	ExcitationWavelength     *float64 `xml:"ExcitationWavelength,attr,omitempty"`
	ExcitationWavelengthUnit string   `xml:"ExcitationWavelengthUnit,attr,omitempty"`
}

type tiffData struct {
	IFD        int `xml:"IFD,attr"`
	PlaneCount int `xml:"PlaneCount,attr"`
}

type plane struct {
	TheZ int `xml:"TheZ,attr"`
	TheT int `xml:"TheT,attr"`
	TheC int `xml:"TheC,attr"`
}

// Render serializes meta for a stack stored with the given axes (outermost
// first, e.g. "CTZYX") and global extents. Z and T always appear; a missing
// step is written as 1.
func Render(meta models.AcquisitionMetadata, axes string, extents models.Extents, name string) (string, error) {
	order, err := DimensionOrder(axes)
	if err != nil {
		return "", err
	}

	sizeC := atLeastOne(extents.Channels)
	sizeZ := atLeastOne(extents.Z)
	sizeT := atLeastOne(extents.Time)

	px := pixels{
		ID:                "Pixels:0",
		DimensionOrder:    order,
		Type:              "uint16",
		SignificantBits:   meta.BitDepth,
		SizeX:             meta.Width,
		SizeY:             meta.Height,
		SizeZ:             sizeZ,
		SizeC:             sizeC,
		SizeT:             sizeT,
		PhysicalSizeZ:     meta.ZStep.Or(1),
		PhysicalSizeZUnit: "µm",
		TimeIncrement:     meta.TimeStep.Or(1),
		TimeIncrementUnit: "s",
		TiffData:          tiffData{IFD: 0, PlaneCount: sizeC * sizeZ * sizeT},
	}
	if meta.PixelSizeX > 0 {
		px.PhysicalSizeX, px.PhysicalSizeXUnit = floatPtr(meta.PixelSizeX), "µm"
	}
	if meta.PixelSizeY > 0 {
		px.PhysicalSizeY, px.PhysicalSizeYUnit = floatPtr(meta.PixelSizeY), "µm"
	}

	for c := 0; c < sizeC; c++ {
		info := models.ChannelInfo{ID: c + 1, Name: fmt.Sprintf("Channel %d", c+1)}
		if c < len(meta.Channels) {
			info = meta.Channels[c]
		}
		ch := channel{
			ID:              fmt.Sprintf("Channel:0:%d", c),
			Name:            info.Name,
			SamplesPerPixel: 1,
			Color:           -1,
		}
		if wl := info.Wavelength(); wl.Valid {
			ch.Color = PackColor(WavelengthToRGB(wl.Value))
		}
		if info.EmissionWavelength.Valid {
			ch.EmissionWavelength, ch.EmissionWavelengthUnit = floatPtr(info.EmissionWavelength.Value), "nm"
		}
		if info.ExcitationWavelength.Valid {
			ch.ExcitationWavelength, ch.ExcitationWavelengthUnit = floatPtr(info.ExcitationWavelength.Value), "nm"
		}
		px.Channels = append(px.Channels, ch)
	}

	px.Planes = planes(order, sizeZ, sizeC, sizeT)

	doc := document{
		Xmlns:   Namespace,
		Creator: "platestack",
		Image:   image{ID: "Image:0", Name: name, Pixels: px},
	}
	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal OME-XML: %w", err)
	}
	return xml.Header + string(out), nil
}

// DimensionOrder converts a storage axis string (outermost first, ending in
// YX) to the OME DimensionOrder (fastest first, starting with XY). Axes
// squeezed out of the storage order are appended in Z, C, T order.
func DimensionOrder(axes string) (string, error) {
	axes = strings.ToUpper(axes)
	if !strings.HasSuffix(axes, "YX") {
		return "", fmt.Errorf("axes %q must end with YX", axes)
	}

	seen := map[rune]bool{}
	var outer []rune
	for _, r := range axes[:len(axes)-2] {
		if !strings.ContainsRune("CZT", r) {
			return "", fmt.Errorf("axes %q: unknown axis %q", axes, r)
		}
		if seen[r] {
			return "", fmt.Errorf("axes %q: duplicate axis %q", axes, r)
		}
		seen[r] = true
		outer = append(outer, r)
	}

	var b strings.Builder
	b.WriteString("XY")
	for i := len(outer) - 1; i >= 0; i-- {
		b.WriteRune(outer[i])
	}
	for _, r := range "ZCT" {
		if !seen[r] {
			b.WriteRune(r)
		}
	}
	return b.String(), nil
}

// planes lists the plane indices in storage order, which is the IFD order
func planes(order string, sizeZ, sizeC, sizeT int) []plane {
	sizes := map[byte]int{'Z': sizeZ, 'C': sizeC, 'T': sizeT}
	// order[2] varies fastest
	fast, mid, slow := order[2], order[3], order[4]

	out := make([]plane, 0, sizeZ*sizeC*sizeT)
	for s := 0; s < sizes[slow]; s++ {
		for m := 0; m < sizes[mid]; m++ {
			for f := 0; f < sizes[fast]; f++ {
				idx := map[byte]int{slow: s, mid: m, fast: f}
				out = append(out, plane{TheZ: idx['Z'], TheT: idx['T'], TheC: idx['C']})
			}
		}
	}
	return out
}

func atLeastOne(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

func floatPtr(v float64) *float64 {
	return &v
}

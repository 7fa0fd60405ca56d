package acqmeta

import (
	"encoding/xml"
	"fmt"
	"io"

	"platestack/internal/models"
)

// unitValue is an element carrying a numeric value and a Unit attribute,
// e.g. <PositionX Unit="m">-0.000646</PositionX>
type unitValue struct {
	Unit  string `xml:"Unit,attr"`
	Value string `xml:",chardata"`
}

type xmlPlate struct {
	PlateTypeName string `xml:"PlateTypeName"`
	PlateRows     string `xml:"PlateRows"`
	PlateColumns  string `xml:"PlateColumns"`
}

type xmlImage struct {
	Row         string `xml:"Row"`
	Col         string `xml:"Col"`
	FieldID     string `xml:"FieldID"`
	PlaneID     string `xml:"PlaneID"`
	TimepointID string `xml:"TimepointID"`
	ChannelID   string `xml:"ChannelID"`
	ChannelName string `xml:"ChannelName"`

	ImageResolutionX unitValue `xml:"ImageResolutionX"`
	ImageResolutionY unitValue `xml:"ImageResolutionY"`
	ImageSizeX       string    `xml:"ImageSizeX"`
	ImageSizeY       string    `xml:"ImageSizeY"`
	MaxIntensity     string    `xml:"MaxIntensity"`

	MainEmissionWavelength   unitValue `xml:"MainEmissionWavelength"`
	MainExcitationWavelength unitValue `xml:"MainExcitationWavelength"`

	PositionX             unitValue `xml:"PositionX"`
	PositionY             unitValue `xml:"PositionY"`
	PositionZ             unitValue `xml:"PositionZ"`
	AbsPositionZ          unitValue `xml:"AbsPositionZ"`
	MeasurementTimeOffset unitValue `xml:"MeasurementTimeOffset"`
}

func (x xmlImage) raw() rawImage {
	return rawImage{
		Row:          raw(x.Row, 1),
		Col:          raw(x.Col, 1),
		Field:        raw(x.FieldID, 1),
		Plane:        raw(x.PlaneID, 1),
		Timepoint:    raw(x.TimepointID, 1),
		Channel:      raw(x.ChannelID, 1),
		ChannelName:  x.ChannelName,
		ResolutionX:  raw(x.ImageResolutionX.Value, lengthScale(x.ImageResolutionX.Unit)),
		ResolutionY:  raw(x.ImageResolutionY.Value, lengthScale(x.ImageResolutionY.Unit)),
		SizeX:        raw(x.ImageSizeX, 1),
		SizeY:        raw(x.ImageSizeY, 1),
		MaxIntensity: raw(x.MaxIntensity, 1),
		// wavelengths are recorded in nm already
		Emission:   raw(x.MainEmissionWavelength.Value, 1),
		Excitation: raw(x.MainExcitationWavelength.Value, 1),
		PosX:       raw(x.PositionX.Value, lengthScale(x.PositionX.Unit)),
		PosY:       raw(x.PositionY.Value, lengthScale(x.PositionY.Unit)),
		PosZ:       raw(x.PositionZ.Value, lengthScale(x.PositionZ.Unit)),
		AbsPosZ:    raw(x.AbsPositionZ.Value, lengthScale(x.AbsPositionZ.Unit)),
		TimeOffset: raw(x.MeasurementTimeOffset.Value, timeScale(x.MeasurementTimeOffset.Unit)),
	}
}

// ReadXML streams a vendor index document. Only <Plate> elements and the
// <Image> elements under <Images> are decoded; <Image> references inside
// <Wells> carry no data and are skipped. Vendor timepoint ids are 0-based.
func ReadXML(r io.Reader, opts Options) (models.AcquisitionMetadata, error) {
	acc := newAccumulator(opts, 0)
	dec := xml.NewDecoder(r)

	inImages := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return models.AcquisitionMetadata{}, fmt.Errorf("parsing metadata XML: %w", err)
		}

		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "Images":
				inImages = true
			case "Plate":
				var p xmlPlate
				if err := dec.DecodeElement(&p, &el); err != nil {
					return models.AcquisitionMetadata{}, fmt.Errorf("decoding <Plate>: %w", err)
				}
				acc.setPlate(raw(p.PlateRows, 1), raw(p.PlateColumns, 1), p.PlateTypeName)
			case "Image":
				if !inImages {
					if err := dec.Skip(); err != nil {
						return models.AcquisitionMetadata{}, err
					}
					continue
				}
				var img xmlImage
				if err := dec.DecodeElement(&img, &el); err != nil {
					return models.AcquisitionMetadata{}, fmt.Errorf("decoding <Image>: %w", err)
				}
				acc.add(img.raw())
			}
		case xml.EndElement:
			if el.Name.Local == "Images" {
				inImages = false
			}
		}
	}

	return acc.finish(), nil
}

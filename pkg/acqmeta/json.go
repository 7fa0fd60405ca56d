package acqmeta

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"platestack/internal/models"
)

// flexValue accepts a JSON number or string and keeps its text, so a
// placeholder such as "-" reaches the accumulator instead of failing decode
type flexValue struct {
	text string
}

func (f *flexValue) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		return json.Unmarshal(b, &f.text)
	}
	f.text = s
	return nil
}

func (f flexValue) raw() rawValue {
	return raw(f.text, 1)
}

type jsonPlate struct {
	Rows    flexValue `json:"rows"`
	Columns flexValue `json:"columns"`
	Type    string    `json:"type"`
}

// jsonImage uses normalized units: micrometres, nanometres and seconds
type jsonImage struct {
	Row          flexValue `json:"row"`
	Col          flexValue `json:"col"`
	Field        flexValue `json:"field"`
	Plane        flexValue `json:"plane"`
	Timepoint    flexValue `json:"timepoint"`
	Channel      flexValue `json:"channel"`
	ChannelName  string    `json:"channelName"`
	PixelSizeX   flexValue `json:"pixelSizeX"`
	PixelSizeY   flexValue `json:"pixelSizeY"`
	Width        flexValue `json:"width"`
	Height       flexValue `json:"height"`
	MaxIntensity flexValue `json:"maxIntensity"`
	Emission     flexValue `json:"emissionWavelength"`
	Excitation   flexValue `json:"excitationWavelength"`
	PositionX    flexValue `json:"positionX"`
	PositionY    flexValue `json:"positionY"`
	PositionZ    flexValue `json:"positionZ"`
	AbsPositionZ flexValue `json:"absPositionZ"`
	TimeOffset   flexValue `json:"timeOffset"`
}

func (j jsonImage) raw() rawImage {
	return rawImage{
		Row:          j.Row.raw(),
		Col:          j.Col.raw(),
		Field:        j.Field.raw(),
		Plane:        j.Plane.raw(),
		Timepoint:    j.Timepoint.raw(),
		Channel:      j.Channel.raw(),
		ChannelName:  j.ChannelName,
		ResolutionX:  j.PixelSizeX.raw(),
		ResolutionY:  j.PixelSizeY.raw(),
		SizeX:        j.Width.raw(),
		SizeY:        j.Height.raw(),
		MaxIntensity: j.MaxIntensity.raw(),
		Emission:     j.Emission.raw(),
		Excitation:   j.Excitation.raw(),
		PosX:         j.PositionX.raw(),
		PosY:         j.PositionY.raw(),
		PosZ:         j.PositionZ.raw(),
		AbsPosZ:      j.AbsPositionZ.raw(),
		TimeOffset:   j.TimeOffset.raw(),
	}
}

// ReadJSON streams a document of the form
//
//	{"plate": {"rows": 8, "columns": 12, "type": "..."}, "images": [{...}, ...]}
//
// decoding the images array one element at a time. Timepoints are 1-based.
func ReadJSON(r io.Reader, opts Options) (models.AcquisitionMetadata, error) {
	acc := newAccumulator(opts, 1)
	dec := json.NewDecoder(r)

	if err := expectDelim(dec, '{'); err != nil {
		return models.AcquisitionMetadata{}, err
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return models.AcquisitionMetadata{}, fmt.Errorf("parsing metadata JSON: %w", err)
		}
		key, _ := tok.(string)

		switch key {
		case "plate":
			var p jsonPlate
			if err := dec.Decode(&p); err != nil {
				return models.AcquisitionMetadata{}, fmt.Errorf("decoding plate: %w", err)
			}
			acc.setPlate(p.Rows.raw(), p.Columns.raw(), p.Type)
		case "images":
			if err := expectDelim(dec, '['); err != nil {
				return models.AcquisitionMetadata{}, err
			}
			for dec.More() {
				var img jsonImage
				if err := dec.Decode(&img); err != nil {
					return models.AcquisitionMetadata{}, fmt.Errorf("decoding image: %w", err)
				}
				acc.add(img.raw())
			}
			if err := expectDelim(dec, ']'); err != nil {
				return models.AcquisitionMetadata{}, err
			}
		default:
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return models.AcquisitionMetadata{}, fmt.Errorf("skipping %q: %w", key, err)
			}
		}
	}
	if err := expectDelim(dec, '}'); err != nil {
		return models.AcquisitionMetadata{}, err
	}

	return acc.finish(), nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("parsing metadata JSON: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("parsing metadata JSON: expected %q, got %v", want, tok)
	}
	return nil
}

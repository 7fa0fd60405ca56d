package imageio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"platestack/internal/models"
)

// StackWriter persists one reconstructed stack
type StackWriter interface {
	WriteStack(path string, s *models.ReconstructedStack) error
}

// TIFF field types and tags used by the encoder
const (
	typeASCII = 2
	typeShort = 3
	typeLong  = 4

	tagImageWidth       = 256
	tagImageLength      = 257
	tagBitsPerSample    = 258
	tagCompression      = 259
	tagPhotometric      = 262
	tagImageDescription = 270
	tagStripOffsets     = 273
	tagSamplesPerPixel  = 277
	tagRowsPerStrip     = 278
	tagStripByteCounts  = 279
	tagPlanarConfig     = 284
)

// maxClassicTIFF is the largest file a 32-bit offset TIFF can address
const maxClassicTIFF = 1<<32 - 1

// OMETIFFWriter writes uncompressed little-endian 16-bit multi-page TIFF
// files. Planes are stored in the stack's storage order, one page each,
// and the stack's Description goes into the first page's ImageDescription.
type OMETIFFWriter struct{}

type ifdEntry struct {
	tag, typ uint16
	count    uint32
	value    uint32
}

// WriteStack implements StackWriter. The file is written to a temporary
// name and renamed, so a failed write never leaves a truncated image.
func (OMETIFFWriter) WriteStack(path string, s *models.ReconstructedStack) error {
	width, height := s.Metadata.Width, s.Metadata.Height
	planes := s.NumPlanes()
	if width <= 0 || height <= 0 || planes == 0 {
		return fmt.Errorf("stack %s has no pixel data", s.Key)
	}

	dataLen := int64(width * height * 2)
	desc := []byte(s.Description + "\x00")
	descLen := int64(len(desc))
	if descLen%2 == 1 {
		descLen++
	}
	// values of 4 bytes or less would have to be stored inline; a
	// description that short carries nothing worth keeping
	hasDesc := len(desc) > 4
	if !hasDesc {
		descLen = 0
	}

	// Layout: header, then per page [pixels][IFD][description on page 0]
	type page struct {
		dataOff, ifdOff, extraOff int64
		entries                   int
	}
	pages := make([]page, planes)
	pos := int64(8)
	for i := range pages {
		p := &pages[i]
		p.entries = 10
		if i == 0 && hasDesc {
			p.entries = 11
		}
		p.dataOff = pos
		pos += dataLen
		p.ifdOff = pos
		pos += 2 + 12*int64(p.entries) + 4
		p.extraOff = pos
		if i == 0 {
			pos += descLen
		}
	}
	if pos > maxClassicTIFF {
		return fmt.Errorf("stack %s is too large for a classic TIFF (%d bytes)", s.Key, pos)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(f, 1<<20)
	le := binary.LittleEndian

	fail := func(err error) error {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing %s: %w", path, err)
	}

	header := []byte{'I', 'I', 42, 0, 0, 0, 0, 0}
	le.PutUint32(header[4:], uint32(pages[0].ifdOff))
	if _, err := bw.Write(header); err != nil {
		return fail(err)
	}

	row := make([]byte, width*2)
	for i, p := range pages {
		pix := s.Plane(i)
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				le.PutUint16(row[2*x:], pix[y*width+x])
			}
			if _, err := bw.Write(row); err != nil {
				return fail(err)
			}
		}

		entries := []ifdEntry{
			{tagImageWidth, typeLong, 1, uint32(width)},
			{tagImageLength, typeLong, 1, uint32(height)},
			{tagBitsPerSample, typeShort, 1, 16},
			{tagCompression, typeShort, 1, 1},
			{tagPhotometric, typeShort, 1, 1},
		}
		if i == 0 && hasDesc {
			entries = append(entries, ifdEntry{tagImageDescription, typeASCII, uint32(len(desc)), uint32(p.extraOff)})
		}
		entries = append(entries,
			ifdEntry{tagStripOffsets, typeLong, 1, uint32(p.dataOff)},
			ifdEntry{tagSamplesPerPixel, typeShort, 1, 1},
			ifdEntry{tagRowsPerStrip, typeLong, 1, uint32(height)},
			ifdEntry{tagStripByteCounts, typeLong, 1, uint32(dataLen)},
			ifdEntry{tagPlanarConfig, typeShort, 1, 1},
		)

		next := uint32(0)
		if i+1 < len(pages) {
			next = uint32(pages[i+1].ifdOff)
		}
		if err := writeIFD(bw, entries, next); err != nil {
			return fail(err)
		}
		if i == 0 && hasDesc {
			buf := make([]byte, descLen)
			copy(buf, desc)
			if _, err := bw.Write(buf); err != nil {
				return fail(err)
			}
		}
	}

	if err := bw.Flush(); err != nil {
		return fail(err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func writeIFD(w *bufio.Writer, entries []ifdEntry, next uint32) error {
	le := binary.LittleEndian
	buf := make([]byte, 2+12*len(entries)+4)
	le.PutUint16(buf, uint16(len(entries)))
	for i, e := range entries {
		b := buf[2+12*i:]
		le.PutUint16(b[0:], e.tag)
		le.PutUint16(b[2:], e.typ)
		le.PutUint32(b[4:], e.count)
		if e.typ == typeShort && e.count == 1 {
			// SHORT values are left-justified in the 4-byte field
			le.PutUint16(b[8:], uint16(e.value))
		} else {
			le.PutUint32(b[8:], e.value)
		}
	}
	le.PutUint32(buf[2+12*len(entries):], next)
	_, err := w.Write(buf)
	return err
}

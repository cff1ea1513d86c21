package imaging

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// JPEG marker bytes used by the segment walker.
const (
	markerSOI  = 0xd8
	markerEOI  = 0xd9
	markerSOS  = 0xda
	markerAPP0 = 0xe0
	markerAPP1 = 0xe1
	markerCOM  = 0xfe
)

const (
	exifHeader      = "Exif\x00\x00"
	tagUserComment  = 0x9286
	typeUndefined   = 7
	asciiCodePrefix = "ASCII\x00\x00\x00"
)

type jpegSegment struct {
	marker byte
	data   []byte // payload without the marker and length bytes
}

// splitJPEG walks the segment stream up to SOS and returns the parsed
// segments plus the tail (SOS segment, entropy-coded data and EOI),
// which is carried verbatim.
func splitJPEG(raw []byte) ([]jpegSegment, []byte, error) {
	if len(raw) < 2 || raw[0] != 0xff || raw[1] != markerSOI {
		return nil, nil, ErrUnsupportedFormat
	}

	var segments []jpegSegment
	rest := raw[2:]

	for {
		if len(rest) < 2 || rest[0] != 0xff {
			return nil, nil, fmt.Errorf("%w: malformed jpeg segment stream", ErrDecode)
		}
		marker := rest[1]

		// Entropy-coded data starts after SOS; no more metadata
		// segments can appear before EOI.
		if marker == markerSOS {
			return segments, rest, nil
		}
		if marker == markerEOI {
			return segments, rest, nil
		}

		if len(rest) < 4 {
			return nil, nil, fmt.Errorf("%w: truncated jpeg segment", ErrDecode)
		}
		length := int(binary.BigEndian.Uint16(rest[2:4]))
		if length < 2 || len(rest) < 2+length {
			return nil, nil, fmt.Errorf("%w: jpeg segment length exceeds stream", ErrDecode)
		}

		segments = append(segments, jpegSegment{marker: marker, data: rest[4 : 2+length]})
		rest = rest[2+length:]
	}
}

func joinJPEG(segments []jpegSegment, tail []byte) []byte {
	var buf bytes.Buffer
	buf.Write([]byte{0xff, markerSOI})
	for _, s := range segments {
		buf.Write([]byte{0xff, s.marker})
		var length [2]byte
		binary.BigEndian.PutUint16(length[:], uint16(len(s.data)+2))
		buf.Write(length[:])
		buf.Write(s.data)
	}
	buf.Write(tail)
	return buf.Bytes()
}

func isMetadataSegment(marker byte) bool {
	return (marker >= markerAPP0 && marker <= 0xef) || marker == markerCOM
}

// stripJPEGMetadataSegments removes every APPn and COM segment, leaving
// the frame and scan data byte-identical. This is the canonical JPEG
// form: deterministic and idempotent because it never re-encodes pixels.
func stripJPEGMetadataSegments(raw []byte) ([]byte, error) {
	segments, tail, err := splitJPEG(raw)
	if err != nil {
		return nil, err
	}
	kept := make([]jpegSegment, 0, len(segments))
	for _, s := range segments {
		if isMetadataSegment(s.marker) {
			continue
		}
		kept = append(kept, s)
	}
	return joinJPEG(kept, tail), nil
}

// buildExifUserComment builds an APP1 payload: the Exif header followed
// by a minimal little-endian TIFF whose IFD0 holds a single UserComment
// entry carrying the signature text.
func buildExifUserComment(sig string) []byte {
	comment := append([]byte(asciiCodePrefix), sig...)

	var tiff bytes.Buffer
	// TIFF header: byte order, magic, offset of IFD0.
	tiff.WriteString("II")
	binary.Write(&tiff, binary.LittleEndian, uint16(42))
	binary.Write(&tiff, binary.LittleEndian, uint32(8))

	// IFD0: one entry, then the zero next-IFD offset. The value is too
	// large for the inline 4 bytes, so it sits right after the IFD at
	// offset 26 (8 header + 2 count + 12 entry + 4 next).
	binary.Write(&tiff, binary.LittleEndian, uint16(1))
	binary.Write(&tiff, binary.LittleEndian, uint16(tagUserComment))
	binary.Write(&tiff, binary.LittleEndian, uint16(typeUndefined))
	binary.Write(&tiff, binary.LittleEndian, uint32(len(comment)))
	binary.Write(&tiff, binary.LittleEndian, uint32(26))
	binary.Write(&tiff, binary.LittleEndian, uint32(0))
	tiff.Write(comment)

	return append([]byte(exifHeader), tiff.Bytes()...)
}

// parseExifUserComment extracts the UserComment string from an APP1 Exif
// payload, or returns false when the payload has none.
func parseExifUserComment(data []byte) (string, bool) {
	if !bytes.HasPrefix(data, []byte(exifHeader)) {
		return "", false
	}
	tiff := data[len(exifHeader):]
	if len(tiff) < 8 {
		return "", false
	}

	var order binary.ByteOrder
	switch string(tiff[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return "", false
	}
	if order.Uint16(tiff[2:4]) != 42 {
		return "", false
	}

	ifdOffset := order.Uint32(tiff[4:8])
	if uint64(ifdOffset)+2 > uint64(len(tiff)) {
		return "", false
	}
	entryCount := int(order.Uint16(tiff[ifdOffset : ifdOffset+2]))

	for i := 0; i < entryCount; i++ {
		base := uint64(ifdOffset) + 2 + uint64(i)*12
		if base+12 > uint64(len(tiff)) {
			return "", false
		}
		entry := tiff[base : base+12]
		if order.Uint16(entry[0:2]) != tagUserComment {
			continue
		}
		count := uint64(order.Uint32(entry[4:8]))
		valueOffset := uint64(order.Uint32(entry[8:12]))
		if count <= 4 {
			// Inline value; a UserComment shorter than its own
			// encoding prefix cannot carry a signature.
			return "", false
		}
		if valueOffset+count > uint64(len(tiff)) {
			return "", false
		}
		comment := tiff[valueOffset : valueOffset+count]
		if prefixed, ok := bytes.CutPrefix(comment, []byte(asciiCodePrefix)); ok {
			comment = prefixed
		}
		return string(comment), true
	}
	return "", false
}

// embedSignatureJPEG inserts the signature as an APP1 Exif UserComment
// right after SOI, replacing any APP1 that already carries one. Scan
// data is untouched.
func embedSignatureJPEG(raw []byte, sig string) ([]byte, error) {
	segments, tail, err := splitJPEG(raw)
	if err != nil {
		return nil, err
	}

	kept := make([]jpegSegment, 0, len(segments)+1)
	kept = append(kept, jpegSegment{marker: markerAPP1, data: buildExifUserComment(sig)})
	for _, s := range segments {
		if s.marker == markerAPP1 {
			if _, ok := parseExifUserComment(s.data); ok {
				continue
			}
		}
		kept = append(kept, s)
	}
	return joinJPEG(kept, tail), nil
}

func extractSignatureJPEG(raw []byte) (string, error) {
	segments, _, err := splitJPEG(raw)
	if err != nil {
		return "", err
	}
	for _, s := range segments {
		if s.marker != markerAPP1 {
			continue
		}
		if v, ok := parseExifUserComment(s.data); ok {
			return v, nil
		}
	}
	return "", nil
}

func stripSignatureJPEG(raw []byte) ([]byte, error) {
	segments, tail, err := splitJPEG(raw)
	if err != nil {
		return nil, err
	}
	kept := make([]jpegSegment, 0, len(segments))
	for _, s := range segments {
		if s.marker == markerAPP1 {
			if _, ok := parseExifUserComment(s.data); ok {
				continue
			}
		}
		kept = append(kept, s)
	}
	return joinJPEG(kept, tail), nil
}

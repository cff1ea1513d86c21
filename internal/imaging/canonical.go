package imaging

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"image/png"
)

// pngEncoder is the fixed encoder configuration canonical PNG bytes are
// produced with. Changing it invalidates every stored signature.
var pngEncoder = png.Encoder{CompressionLevel: png.DefaultCompression}

// Canonicalize strips every mutable metadata container from a PNG or
// JPEG stream and returns the deterministic byte form that hashing and
// signing operate on.
//
// PNG input is fully decoded and re-encoded with a fixed encoder
// configuration; ancillary chunks (tEXt, zTXt, iTXt, time, ...) do not
// survive the round trip. JPEG input keeps its entropy-coded data
// untouched and loses all APPn/COM segments: a pixel re-encode of a JPEG
// is lossy and would not be idempotent, so canonical JPEG is the original
// scan data with the metadata segments cut out.
//
// Undecodable input fails with ErrDecode; it is never passed through.
func Canonicalize(raw []byte) ([]byte, error) {
	format, err := DetectFormat(raw)
	if err != nil {
		return nil, err
	}

	switch format {
	case FormatPNG:
		return canonicalizePNG(raw)
	case FormatJPEG:
		return canonicalizeJPEG(raw)
	default:
		return nil, ErrUnsupportedFormat
	}
}

func canonicalizePNG(raw []byte) ([]byte, error) {
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	var buf bytes.Buffer
	if err := pngEncoder.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("png encode: %w", err)
	}
	return buf.Bytes(), nil
}

func canonicalizeJPEG(raw []byte) ([]byte, error) {
	// Decode first so corrupt bodies fail loudly even though the
	// canonical bytes are produced by segment surgery, not re-encoding.
	if _, err := jpeg.Decode(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return stripJPEGMetadataSegments(raw)
}

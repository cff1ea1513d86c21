// Package imaging implements the byte-level image pipeline: format
// sniffing, canonicalization (stripping every mutable metadata container
// and re-encoding deterministically) and the metadata codec that embeds,
// extracts and strips the detached signature string carried inside an
// image file.
//
// Canonical bytes are the stable input to hashing and signing: two calls
// on byte-identical input produce byte-identical output, and running
// Canonicalize on its own output is a no-op. The codec writes the
// signature only into containers that Canonicalize removes, so verifying
// always happens on a freshly canonicalized copy.
package imaging

import (
	"bytes"
	"errors"
)

var (
	// ErrUnsupportedFormat is returned when the byte stream is not a
	// recognized PNG or JPEG. Detection is by magic bytes, never by
	// file name.
	ErrUnsupportedFormat = errors.New("unsupported image format")

	// ErrDecode is returned when the magic bytes match a supported
	// format but the body cannot be decoded.
	ErrDecode = errors.New("image decode error")
)

// Format identifies a supported image container.
type Format int

const (
	FormatUnknown Format = iota
	FormatPNG
	FormatJPEG
)

func (f Format) String() string {
	switch f {
	case FormatPNG:
		return "png"
	case FormatJPEG:
		return "jpeg"
	default:
		return "unknown"
	}
}

// ContentType returns the MIME type for the format, or
// "application/octet-stream" if unknown.
func (f Format) ContentType() string {
	switch f {
	case FormatPNG:
		return "image/png"
	case FormatJPEG:
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}

var (
	pngMagic  = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
	jpegMagic = []byte{0xff, 0xd8, 0xff}
)

// DetectFormat sniffs the magic bytes of data and reports the container
// format. Unrecognized data yields ErrUnsupportedFormat.
func DetectFormat(data []byte) (Format, error) {
	if bytes.HasPrefix(data, pngMagic) {
		return FormatPNG, nil
	}
	if bytes.HasPrefix(data, jpegMagic) {
		return FormatJPEG, nil
	}
	return FormatUnknown, ErrUnsupportedFormat
}

package imaging

import "github.com/dmitrijs2005/imagesigner/internal/common"

// EmbedSignature writes sig into the image's metadata: a tEXt chunk
// keyed "Signature" for PNG, an Exif UserComment for JPEG. Any previous
// signature is replaced, never accumulated. The returned bytes still
// canonicalize to the same canonical form as the input.
func EmbedSignature(raw []byte, sig string) ([]byte, error) {
	format, err := DetectFormat(raw)
	if err != nil {
		return nil, err
	}
	switch format {
	case FormatPNG:
		return embedSignaturePNG(raw, sig)
	case FormatJPEG:
		return embedSignatureJPEG(raw, sig)
	default:
		return nil, ErrUnsupportedFormat
	}
}

// ExtractSignature returns the embedded signature string, or
// common.ErrorNotFound when the image carries none.
func ExtractSignature(raw []byte) (string, error) {
	format, err := DetectFormat(raw)
	if err != nil {
		return "", err
	}

	var sig string
	switch format {
	case FormatPNG:
		sig, err = extractSignaturePNG(raw)
	case FormatJPEG:
		sig, err = extractSignatureJPEG(raw)
	default:
		return "", ErrUnsupportedFormat
	}
	if err != nil {
		return "", err
	}
	if sig == "" {
		return "", common.ErrorNotFound
	}
	return sig, nil
}

// StripSignature removes the signature container, if present, without
// touching pixel or scan data.
func StripSignature(raw []byte) ([]byte, error) {
	format, err := DetectFormat(raw)
	if err != nil {
		return nil, err
	}
	switch format {
	case FormatPNG:
		return stripSignaturePNG(raw)
	case FormatJPEG:
		return stripSignatureJPEG(raw)
	default:
		return nil, ErrUnsupportedFormat
	}
}

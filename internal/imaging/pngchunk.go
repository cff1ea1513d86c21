package imaging

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// signatureKeyword is the tEXt keyword the PNG codec stores the
// signature under.
const signatureKeyword = "Signature"

type pngChunk struct {
	typ  string
	data []byte
}

// readPNGChunks splits a PNG stream into its chunks, verifying the
// structural framing (length, CRC) of each one.
func readPNGChunks(raw []byte) ([]pngChunk, error) {
	if !bytes.HasPrefix(raw, pngMagic) {
		return nil, ErrUnsupportedFormat
	}

	var chunks []pngChunk
	rest := raw[len(pngMagic):]

	for len(rest) > 0 {
		if len(rest) < 12 {
			return nil, fmt.Errorf("%w: truncated png chunk", ErrDecode)
		}
		length := binary.BigEndian.Uint32(rest[:4])
		if uint64(len(rest)) < 12+uint64(length) {
			return nil, fmt.Errorf("%w: png chunk length exceeds stream", ErrDecode)
		}
		typ := string(rest[4:8])
		data := rest[8 : 8+length]
		crc := binary.BigEndian.Uint32(rest[8+length : 12+length])
		if crc != pngChunkCRC(typ, data) {
			return nil, fmt.Errorf("%w: png chunk %s crc mismatch", ErrDecode, typ)
		}

		chunks = append(chunks, pngChunk{typ: typ, data: data})
		rest = rest[12+length:]

		if typ == "IEND" {
			break
		}
	}

	if len(chunks) == 0 || chunks[len(chunks)-1].typ != "IEND" {
		return nil, fmt.Errorf("%w: png stream has no IEND", ErrDecode)
	}
	return chunks, nil
}

func writePNGChunks(chunks []pngChunk) []byte {
	var buf bytes.Buffer
	buf.Write(pngMagic)
	for _, c := range chunks {
		var header [8]byte
		binary.BigEndian.PutUint32(header[:4], uint32(len(c.data)))
		copy(header[4:], c.typ)
		buf.Write(header[:])
		buf.Write(c.data)

		var crc [4]byte
		binary.BigEndian.PutUint32(crc[:], pngChunkCRC(c.typ, c.data))
		buf.Write(crc[:])
	}
	return buf.Bytes()
}

func pngChunkCRC(typ string, data []byte) uint32 {
	crc := crc32.NewIEEE()
	crc.Write([]byte(typ))
	crc.Write(data)
	return crc.Sum32()
}

// signatureChunkValue returns the value of a tEXt chunk keyed with the
// signature keyword, or false for any other chunk.
func signatureChunkValue(c pngChunk) (string, bool) {
	if c.typ != "tEXt" {
		return "", false
	}
	sep := bytes.IndexByte(c.data, 0)
	if sep < 0 || string(c.data[:sep]) != signatureKeyword {
		return "", false
	}
	return string(c.data[sep+1:]), true
}

// embedSignaturePNG inserts a tEXt chunk keyed "Signature" right after
// IHDR, replacing any existing one. Pixel data is untouched.
func embedSignaturePNG(raw []byte, sig string) ([]byte, error) {
	chunks, err := readPNGChunks(raw)
	if err != nil {
		return nil, err
	}

	sigChunk := pngChunk{
		typ:  "tEXt",
		data: append(append([]byte(signatureKeyword), 0), sig...),
	}

	out := make([]pngChunk, 0, len(chunks)+1)
	for _, c := range chunks {
		if _, ok := signatureChunkValue(c); ok {
			continue
		}
		out = append(out, c)
		if c.typ == "IHDR" {
			out = append(out, sigChunk)
		}
	}
	return writePNGChunks(out), nil
}

func extractSignaturePNG(raw []byte) (string, error) {
	chunks, err := readPNGChunks(raw)
	if err != nil {
		return "", err
	}
	for _, c := range chunks {
		if v, ok := signatureChunkValue(c); ok {
			return v, nil
		}
	}
	return "", nil
}

func stripSignaturePNG(raw []byte) ([]byte, error) {
	chunks, err := readPNGChunks(raw)
	if err != nil {
		return nil, err
	}
	out := make([]pngChunk, 0, len(chunks))
	for _, c := range chunks {
		if _, ok := signatureChunkValue(c); ok {
			continue
		}
		out = append(out, c)
	}
	return writePNGChunks(out), nil
}

package imagemeta

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/sagan/genmeta/util/stringutil"
)

// Text chunk keywords that may carry generation metadata, by priority.
// "prompt" is the ComfyUI API graph, "parameters" the A1111 text.
var PNG_TEXT_KEYS = []string{"prompt", "parameters", "UserComment"}

var pngSignature = []byte{137, 80, 78, 71, 13, 10, 26, 10}

// Max inflated size of a compressed text chunk.
const MAX_PNG_TEXT_SIZE = 64 << 20

type pngTextChunks struct {
	texts map[string]string
	exif  []byte // contents of "eXIf" chunk
}

// readPngTextChunks scans a PNG file for tEXt / zTXt / iTXt / eXIf chunks without decoding the image.
// The first chunk of a keyword wins.
func readPngTextChunks(f *bytes.Reader) (*pngTextChunks, error) {
	header := make([]byte, len(pngSignature))
	if _, err := io.ReadFull(f, header); err != nil {
		return nil, err
	}
	if !bytes.Equal(header, pngSignature) {
		return nil, fmt.Errorf("not a valid PNG file")
	}

	chunks := &pngTextChunks{texts: map[string]string{}}
	for {
		var length uint32
		if err := binary.Read(f, binary.BigEndian, &length); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		chunkType := make([]byte, 4)
		if _, err := io.ReadFull(f, chunkType); err != nil {
			return nil, err
		}
		// data + CRC
		if int64(length)+4 > int64(f.Len()) {
			return nil, fmt.Errorf("%q chunk length %d exceeds remaining %d bytes", chunkType, length, f.Len())
		}

		switch string(chunkType) {
		case "tEXt", "zTXt", "iTXt", "eXIf":
			data := make([]byte, length)
			if _, err := io.ReadFull(f, data); err != nil {
				return nil, err
			}
			// CRC
			if _, err := io.CopyN(io.Discard, f, 4); err != nil {
				return nil, err
			}
			if string(chunkType) == "eXIf" {
				if chunks.exif == nil {
					chunks.exif = data
				}
				continue
			}
			key, text, err := parsePngTextChunk(string(chunkType), data)
			if err != nil {
				return nil, fmt.Errorf("invalid %s chunk: %w", chunkType, err)
			}
			if _, ok := chunks.texts[key]; !ok {
				chunks.texts[key] = text
			}
		case "IEND":
			return chunks, nil
		default:
			// Skip data (length) + CRC (4 bytes)
			if _, err := io.CopyN(io.Discard, f, int64(length)+4); err != nil {
				return nil, err
			}
		}
	}
	return chunks, nil
}

// tEXt: keyword \0 text (Latin-1)
// zTXt: keyword \0 method zlib(text)
// iTXt: keyword \0 compressionFlag method language \0 translatedKeyword \0 text (UTF-8)
func parsePngTextChunk(chunkType string, data []byte) (key string, text string, err error) {
	parts := bytes.SplitN(data, []byte{0}, 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("no keyword separator")
	}
	key = string(parts[0])
	rest := parts[1]
	switch chunkType {
	case "tEXt":
		return key, decodeLatin1(rest), nil
	case "zTXt":
		if len(rest) < 1 {
			return "", "", io.ErrUnexpectedEOF
		}
		inflated, err := inflate(rest[1:])
		if err != nil {
			return "", "", err
		}
		return key, decodeLatin1(inflated), nil
	}
	if len(rest) < 2 {
		return "", "", io.ErrUnexpectedEOF
	}
	compressed := rest[0] == 1
	fields := bytes.SplitN(rest[2:], []byte{0}, 3)
	if len(fields) != 3 {
		return "", "", fmt.Errorf("malformed international text")
	}
	body := fields[2]
	if compressed {
		if body, err = inflate(body); err != nil {
			return "", "", err
		}
	}
	return key, stringutil.StringFromBytes(body), nil
}

func inflate(data []byte) ([]byte, error) {
	reader, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(io.LimitReader(reader, MAX_PNG_TEXT_SIZE))
}

// tEXt is Latin-1 by definition, but most writers put UTF-8 in it.
func decodeLatin1(data []byte) string {
	if utf8.Valid(data) {
		return stringutil.StringFromBytes(data)
	}
	if output, err := stringutil.DecodeText(data, "ISO-8859-1", true); err == nil {
		return stringutil.StringFromBytes(output)
	}
	return stringutil.StringFromBytes(data)
}

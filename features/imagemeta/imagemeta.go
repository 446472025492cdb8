// Package imagemeta reads the generation metadata text embedded in image files
// (EXIF UserComment of JPEG / WebP, text chunks of PNG) and the image dimensions.
package imagemeta

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"unicode/utf8"

	exifv3 "github.com/dsoprea/go-exif/v3"
	goexif "github.com/rwcarlsen/goexif/exif"
	log "github.com/sirupsen/logrus"

	"github.com/sagan/genmeta/util/imgutil"
	"github.com/sagan/genmeta/util/stringutil"
)

var ErrNoMetadata = errors.New("no embedded metadata")

// EXIF UserComment tag id.
const USER_COMMENT_TAG_ID = 0x9286

// Where the text was found.
const (
	SOURCE_EXIF     = "exif"
	SOURCE_PNG_TEXT = "png"
)

// Minimal confidence (0-100) for chardet guessed charset of UserComment with undefined encoding.
const MIN_CHARSET_CONFIDENCE = 30

type Metadata struct {
	Text   string `json:"text"`
	Format string `json:"format"`
	// "exif" or "png:<keyword>"
	Source string `json:"source"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Read reads embedded metadata of the image file.
// If the image has no metadata, the returned err is ErrNoMetadata (possibly wrapped)
// and the returned metadata still has the dimensions.
func Read(filename string) (*Metadata, error) {
	contents, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	metadata, err := Parse(contents, imgutil.FormatFromFilename(filename))
	if err != nil {
		return metadata, fmt.Errorf("%s: %w", filename, err)
	}
	return metadata, nil
}

// Parse reads embedded metadata from the image file contents. format is one of imgutil.Format* values;
// unknown format is treated as an EXIF container.
func Parse(contents []byte, format string) (*Metadata, error) {
	metadata := &Metadata{Format: format}
	width, height, sizeErr := imgutil.DecodeSize(bytes.NewReader(contents))
	if sizeErr == nil {
		metadata.Width, metadata.Height = width, height
	} else {
		log.Debugf("failed to decode image size: %v", sizeErr)
	}

	var exifData []byte
	var err error
	if format == imgutil.FormatPNG {
		var chunks *pngTextChunks
		if chunks, err = readPngTextChunks(bytes.NewReader(contents)); err != nil {
			return metadata, err
		}
		for _, key := range PNG_TEXT_KEYS {
			if text := chunks.texts[key]; text != "" {
				metadata.Text = text
				metadata.Source = SOURCE_PNG_TEXT + ":" + key
				break
			}
		}
		exifData = chunks.exif
	} else {
		exifData = contents
	}

	if len(exifData) > 0 && (metadata.Text == "" || sizeErr != nil) {
		comment, w, h := readExif(exifData)
		if metadata.Text == "" && comment != "" {
			metadata.Text = comment
			metadata.Source = SOURCE_EXIF
		}
		if sizeErr != nil {
			metadata.Width, metadata.Height = w, h
		}
	}
	if metadata.Text == "" {
		return metadata, ErrNoMetadata
	}
	return metadata, nil
}

// readExif returns UserComment and pixel dimensions of an EXIF container
// (JPEG, bare TIFF, or anything go-exif can locate an EXIF block in).
func readExif(data []byte) (comment string, width, height int) {
	x, err := goexif.Decode(bytes.NewReader(data))
	if err == nil {
		if tag, err := x.Get(goexif.UserComment); err == nil {
			if comment, err = DecodeUserComment(tag.Val); err != nil {
				log.Debugf("failed to decode UserComment: %v", err)
			}
		}
		if tag, err := x.Get(goexif.PixelXDimension); err == nil {
			width, _ = tag.Int(0)
		}
		if tag, err := x.Get(goexif.PixelYDimension); err == nil {
			height, _ = tag.Int(0)
		}
		if comment != "" {
			return comment, width, height
		}
	} else {
		log.Debugf("goexif: %v", err)
	}
	// goexif only understands JPEG and TIFF, search for the EXIF block in other containers like WebP.
	if c := readUserCommentFlat(data); c != "" {
		comment = c
	}
	return comment, width, height
}

func readUserCommentFlat(data []byte) string {
	rawExif, err := exifv3.SearchAndExtractExif(data)
	if err != nil {
		log.Debugf("go-exif: %v", err)
		return ""
	}
	tags, _, err := exifv3.GetFlatExifData(rawExif, nil)
	if err != nil {
		log.Debugf("go-exif: %v", err)
		return ""
	}
	for _, tag := range tags {
		if tag.TagId != USER_COMMENT_TAG_ID {
			continue
		}
		comment, err := DecodeUserComment(tag.ValueBytes)
		if err != nil {
			log.Debugf("failed to decode UserComment: %v", err)
			continue
		}
		if comment != "" {
			return comment
		}
	}
	return ""
}

// UserComment 8 bytes character code prefixes.
var (
	userCommentUnicode   = []byte("UNICODE\x00")
	userCommentAscii     = []byte("ASCII\x00\x00\x00")
	userCommentJis       = []byte("JIS\x00\x00\x00\x00\x00")
	userCommentUndefined = []byte("\x00\x00\x00\x00\x00\x00\x00\x00")
)

// DecodeUserComment decodes EXIF UserComment value to string.
// The "UNICODE" code is UTF-16 in the byte order the writer used; the tag does not tell which,
// so it is guessed. Text of undefined code is used as is if it's valid UTF-8, or charset detected.
// Control characters other than white spaces are removed.
func DecodeUserComment(value []byte) (string, error) {
	var body []byte
	var err error
	switch {
	case len(value) < 8:
		body = value
	case bytes.HasPrefix(value, userCommentUnicode):
		body, err = stringutil.DecodeUTF16(value[8:])
	case bytes.HasPrefix(value, userCommentAscii):
		body = value[8:]
	case bytes.HasPrefix(value, userCommentJis):
		body, err = stringutil.DecodeText(value[8:], "ISO-2022-JP", true)
	case bytes.HasPrefix(value, userCommentUndefined):
		body, err = decodeUnknownText(bytes.TrimLeft(value, "\x00"))
	default:
		body, err = decodeUnknownText(value)
	}
	if err != nil {
		return "", err
	}
	return stringutil.Clean(stringutil.StringFromBytes(body)), nil
}

func decodeUnknownText(input []byte) ([]byte, error) {
	if utf8.Valid(input) {
		return input, nil
	}
	return stringutil.DetectAndDecodeText(input, MIN_CHARSET_CONFIDENCE)
}

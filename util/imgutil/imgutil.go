package imgutil

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Image container formats that metadata readers distinguish.
const (
	FormatJPEG    = "jpeg"
	FormatPNG     = "png"
	FormatTIFF    = "tiff"
	FormatWEBP    = "webp"
	FormatUnknown = ""
)

// FormatFromFilename guesses the container format from the filename extension.
// imaging does not know webp, which is handled here.
func FormatFromFilename(filename string) string {
	format, err := imaging.FormatFromFilename(filename)
	if err != nil {
		if strings.EqualFold(filepath.Ext(filename), ".webp") {
			return FormatWEBP
		}
		return FormatUnknown
	}
	switch format {
	case imaging.JPEG:
		return FormatJPEG
	case imaging.PNG:
		return FormatPNG
	case imaging.TIFF:
		return FormatTIFF
	}
	return FormatUnknown
}

// DecodeSize reads the image header from input and returns it's dimensions,
// without decoding the pixel data.
func DecodeSize(input io.Reader) (width, height int, err error) {
	config, format, err := image.DecodeConfig(input)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to decode image config: %w", err)
	}
	if config.Width <= 0 || config.Height <= 0 {
		return 0, 0, fmt.Errorf("invalid %s image size %dx%d", format, config.Width, config.Height)
	}
	return config.Width, config.Height, nil
}

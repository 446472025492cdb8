package stringutil

import (
	"bytes"
	"regexp"
	"strings"
	"unicode"

	"github.com/mattn/go-runewidth"
)

// 0xEF, 0xBB, 0xBF
var Utf8bom = []byte{0xEF, 0xBB, 0xBF}

// Clean:
// 1. removes non-graphic (excluding spaces) characters from the given string.
// Non-graphic chars are the ones for which unicode.IsGraphic() returns false.
// For details, see https://stackoverflow.com/a/58994297/1705598 .
// 2. TrimSpace.
func Clean(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsGraphic(r) || unicode.IsSpace(r) {
			return r
		}
		return -1
	}, s)
	s = strings.TrimSpace(s)
	return s
}

// data should be a UTF-8 text.
// Return canonical string from data that is:
// 1. UTF-8 BOM removed.
// 2. Trailing NUL bytes (EXIF string padding) removed.
func StringFromBytes(data []byte) string {
	data = bytes.TrimPrefix(data, Utf8bom)
	data = bytes.TrimRight(data, "\x00")
	return string(data)
}

// Return prefix of string at most width and actual width.
// ASCII char has 1 width. CJK char has 2 width.
func StringPrefixInWidth(str string, width int) (string, int) {
	strWidth := 0
	sb := &strings.Builder{}
	for _, char := range str {
		runeWidth := runewidth.RuneWidth(char)
		if strWidth+runeWidth > width {
			break
		}
		sb.WriteRune(char)
		strWidth += runeWidth
	}
	return sb.String(), strWidth
}

// Return str if it fits in width, otherwise it's prefix with "..." appended so that
// the whole result fits in width.
func Ellipsis(str string, width int) string {
	if runewidth.StringWidth(str) <= width {
		return str
	}
	if width <= 3 {
		prefix, _ := StringPrefixInWidth(str, width)
		return prefix
	}
	prefix, _ := StringPrefixInWidth(str, width-3)
	return prefix + "..."
}

// /[\r\n]+/
var newLinesRegex = regexp.MustCompile(`[\r\n]+`)

// Replace one or more consecutive newline characters (\r, \n) with single space.
func ReplaceNewLinesWithSpace(str string) string {
	return newLinesRegex.ReplaceAllString(str, " ")
}

// / {2,}/
var multipleSpacesRegex = regexp.MustCompile(` {2,}`)

// Replace two or more consecutive spaces with single space.
func CollapseSpaces(str string) string {
	return multipleSpacesRegex.ReplaceAllString(str, " ")
}

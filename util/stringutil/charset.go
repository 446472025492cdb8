package stringutil

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	unicodeEncoding "golang.org/x/text/encoding/unicode"
)

var (
	ErrSeemsInvalid = fmt.Errorf("input seems not a valid string of specified charset")
)

// Key: IANA charset name (case sensitive) used by chardet.
var encodings = map[string]encoding.Encoding{
	"GB-18030":    simplifiedchinese.GB18030,
	"Big5":        traditionalchinese.Big5,
	"EUC-JP":      japanese.EUCJP, // GBK 字符串容易被误识别为 EUC-JP。
	"ISO-2022-JP": japanese.ISO2022JP,
	"Shift_JIS":   japanese.ShiftJIS,
	"EUC-KR":      korean.EUCKR,
	"ISO-8859-1":  charmap.ISO8859_1, // PNG tEXt chunks are Latin-1
	"UTF-16BE":    unicodeEncoding.UTF16(unicodeEncoding.BigEndian, unicodeEncoding.IgnoreBOM),
	"UTF-16LE":    unicodeEncoding.UTF16(unicodeEncoding.LittleEndian, unicodeEncoding.IgnoreBOM),
}

func DecodeText(input []byte, charset string, force bool) ([]byte, error) {
	if charset == "UTF-8" || charset == "ISO-8859-1" && isASCII(input) {
		if !force && strings.ContainsRune(string(input), '�') {
			return input, ErrSeemsInvalid
		}
		return input, nil
	}
	if enc, ok := encodings[charset]; ok {
		output, err := enc.NewDecoder().Bytes(input)
		if !force && strings.ContainsRune(string(output), '�') { // U+FFFD, unicode REPLACEMENT CHARACTER
			return output, ErrSeemsInvalid
		}
		return output, err
	}
	return nil, fmt.Errorf("unsupported charset %s", charset)
}

// DetectAndDecodeText guesses the charset of input using chardet and decodes it to UTF-8.
// Candidates below minConfidence are ignored.
func DetectAndDecodeText(input []byte, minConfidence int) ([]byte, error) {
	results, err := chardet.NewTextDetector().DetectAll(input)
	if err != nil {
		return nil, err
	}
	for _, result := range results {
		if result.Confidence < minConfidence {
			continue
		}
		if output, err := DecodeText(input, result.Charset, false); err == nil {
			return output, nil
		}
	}
	return nil, fmt.Errorf("can not detect text charset")
}

// DecodeUTF16 decodes UTF-16 input without BOM. The byte order is guessed by where the zero
// bytes of (mostly ASCII) text fall: even positions mean big endian.
// A leading BOM, if any, overrides the guess.
func DecodeUTF16(input []byte) ([]byte, error) {
	charset := "UTF-16BE"
	switch {
	case bytes.HasPrefix(input, []byte{0xFE, 0xFF}):
		input = input[2:]
	case bytes.HasPrefix(input, []byte{0xFF, 0xFE}):
		input = input[2:]
		charset = "UTF-16LE"
	default:
		even, odd := 0, 0
		for i := 0; i+1 < len(input) && i < 512; i += 2 {
			if input[i] == 0 {
				even++
			}
			if input[i+1] == 0 {
				odd++
			}
		}
		if odd > even {
			charset = "UTF-16LE"
		}
	}
	if len(input)%2 == 1 {
		input = input[:len(input)-1]
	}
	return DecodeText(input, charset, true)
}

func isASCII(input []byte) bool {
	for _, b := range input {
		if b > 0x7F {
			return false
		}
	}
	return true
}

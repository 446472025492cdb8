package util

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"mime"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"golang.org/x/exp/constraints"
	"gopkg.in/yaml.v3"
)

// Unmarshal source as json of type T
func UnmarshalJson[T any](source []byte) (T, error) {
	var target T
	if err := json.Unmarshal(source, &target); err != nil {
		return target, err
	}
	return target, nil
}

// Check whether a file (or dir) with name exists in file system.
// If it encounter an file system access error, return false,err
func FileExists(name string) (bool, error) {
	_, err := os.Stat(name)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func ParseInt[T constraints.Integer](s string, defaultValue T) T {
	if s != "" {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return T(i)
		}
	}
	return defaultValue
}

// Return filtered ss. The ret is nil if and only if ss is nil.
func FilterSlice[T any](ss []T, test func(T) bool) (ret []T) {
	if ss != nil {
		ret = []T{}
	}
	for _, s := range ss {
		if test(s) {
			ret = append(ret, s)
		}
	}
	return
}

// Map applies a function to each element of a slice and returns a new slice containing the results.
// If input is nil, the output will also be nil.
func Map[T1 any, T2 any](ss []T1, mapper func(T1) T2) (ret []T2) {
	for _, s := range ss {
		ret = append(ret, mapper(s))
	}
	return
}

// UniqueSlice returns a new slice of ss with duplicate elements removed, keeping the first occurrence order.
func UniqueSlice[T comparable](ss []T) []T {
	seen := map[T]struct{}{}
	var result []T
	for _, s := range ss {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		result = append(result, s)
	}
	return result
}

// Parse http content-type header and return mediatype, e.g. "text/html".
// contentType: the http Content-Type header, e.g. "text/html; charset=utf-8"
func MediaType(contentType string) string {
	if contentType != "" {
		if mediatype, _, err := mime.ParseMediaType(contentType); err == nil {
			return mediatype
		}
	}
	return ""
}

// Marshal a object to json / yaml / toml string according to contentType.
// contentType could be: a mediatype (e.g. "application/json"), or a file type or extension (e.g. "json" or ".json").
// If contentType is empty or is not a supported type, return an error.
func Marshal(contentType string, input any) (data []byte, err error) {
	if strings.ContainsRune(contentType, '/') {
		contentType = MediaType(contentType)
	}
	switch contentType {
	case "application/json", "text/json", "json", ".json":
		return json.MarshalIndent(input, "", "  ")
	case "application/yaml", "text/yaml", "yaml", ".yaml", "yml", ".yml":
		return yaml.Marshal(input)
	case "application/toml", "text/toml", "toml", ".toml":
		return toml.Marshal(input)
	default:
		return nil, fmt.Errorf("Marshal: unsupported format %s", contentType)
	}
}

// Return true if filename has any of the exts extension (case insensitive).
// exts should be lower case with leading dot, e.g. ".jpg".
func HasExt(filename string, exts ...string) bool {
	return slices.Contains(exts, strings.ToLower(filepath.Ext(filename)))
}

// Return filename with it's extension replaced by ext. E.g. ("a/b.jpg", ".txt") => "a/b.txt".
func ReplaceExt(filename string, ext string) string {
	return strings.TrimSuffix(filename, filepath.Ext(filename)) + ext
}

// CalculateBackoff returns the wait duration before the (retries+1)-th try:
// base * 2^retries, capped at max.
func CalculateBackoff(base, max time.Duration, retries int) time.Duration {
	if retries < 0 {
		retries = 0
	}
	backoff := float64(base) * math.Pow(2, float64(retries))
	if backoff > float64(max) {
		return max
	}
	return time.Duration(backoff)
}

// Format a float in Python str() style: integral values keep one decimal ("1.0"),
// others use the shortest representation ("0.85").
func FormatFloat(f float64) string {
	if f == math.Trunc(f) && !math.IsInf(f, 0) && math.Abs(f) < 1e16 {
		return strconv.FormatFloat(f, 'f', 1, 64)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

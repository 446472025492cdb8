// Package genmeta recovers image generation parameters from the JSON text embedded in
// AI generated images, resolves the referenced resources against the catalog
// and renders the canonical "parameters" report.
package genmeta

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var ErrUnparsableMetadata = errors.New("unparsable metadata")

const KEY_EXTRA_METADATA = "extraMetadata"

type Schema int

const (
	// A JSON object that none of the known layouts recognizes. It yields an empty record.
	SchemaUnknown Schema = iota
	// Civitai generator: a JSON encoded "extraMetadata" string holding prompts, params and resources.
	SchemaA
	// ComfyUI API prompt: node id => {"class_type", "inputs", "_meta": {"title"}}.
	SchemaB
)

func (s Schema) String() string {
	switch s {
	case SchemaA:
		return "extraMetadata"
	case SchemaB:
		return "nodegraph"
	}
	return "unknown"
}

// Document is a classified metadata blob.
type Document struct {
	Schema Schema
	Root   map[string]any
	// Distinct keys of Root in document order.
	Keys []string
	// Decoded "extraMetadata" object of SchemaA. Nil if it could not be decoded.
	Extra map[string]any
	// Problems met while decoding that did not prevent classification.
	Warnings []string
}

// Detect parses raw as JSON and classifies it.
// If strict parsing fails, it retries with all "extraMetadata" substrings removed,
// which some producers emit with broken escaping. If that also fails,
// the returned error wraps ErrUnparsableMetadata.
func Detect(raw string) (*Document, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(raw, "\uFEFF"))
	text := raw
	root, err := decodeObject(text)
	if err != nil {
		text = strings.ReplaceAll(raw, KEY_EXTRA_METADATA, "")
		var fallbackErr error
		if root, fallbackErr = decodeObject(text); fallbackErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnparsableMetadata, err)
		}
	}
	doc := &Document{Root: root, Keys: objectKeys(text)}
	if value, ok := root[KEY_EXTRA_METADATA]; ok {
		doc.Schema = SchemaA
		doc.Extra, err = decodeExtraMetadata(value)
		if err != nil {
			doc.Warnings = append(doc.Warnings, fmt.Sprintf("can not decode %s: %v", KEY_EXTRA_METADATA, err))
		}
		return doc, nil
	}
	for _, key := range doc.Keys {
		if node := asMap(root[key]); node != nil && (node["class_type"] != nil || nodeTitle(node) != "") {
			doc.Schema = SchemaB
			break
		}
	}
	return doc, nil
}

// Nodes returns the SchemaB graph nodes in document order.
func (doc *Document) Nodes() (nodes []Node) {
	for _, id := range doc.Keys {
		if node := asMap(doc.Root[id]); node != nil {
			nodes = append(nodes, Node{Id: id, Fields: node})
		}
	}
	return nodes
}

type Node struct {
	Id     string
	Fields map[string]any
}

func (n Node) ClassType() string {
	s, _ := n.Fields["class_type"].(string)
	return s
}

func (n Node) Title() string {
	return nodeTitle(n.Fields)
}

func (n Node) Inputs() map[string]any {
	return asMap(n.Fields["inputs"])
}

func nodeTitle(node map[string]any) string {
	s, _ := asMap(node["_meta"])["title"].(string)
	return s
}

// Decode a JSON object with numbers kept as json.Number, so that big seeds do not lose precision.
func decodeObject(s string) (map[string]any, error) {
	var obj map[string]any
	if err := decodeJson(s, &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, errors.New("not a JSON object")
	}
	return obj, nil
}

func decodeJson(s string, v any) error {
	// EXIF strings are often NUL padded
	s = strings.TrimRight(s, " \t\r\n\x00")
	decoder := json.NewDecoder(strings.NewReader(s))
	decoder.UseNumber()
	if err := decoder.Decode(v); err != nil {
		return err
	}
	if _, err := decoder.Token(); err != io.EOF {
		return errors.New("unexpected data after JSON value")
	}
	return nil
}

// objectKeys returns the distinct top level keys of JSON object s in document order.
// A map decoded by encoding/json does not keep it.
func objectKeys(s string) (keys []string) {
	decoder := json.NewDecoder(strings.NewReader(s))
	if token, err := decoder.Token(); err != nil || token != json.Delim('{') {
		return nil
	}
	seen := map[string]bool{}
	for decoder.More() {
		token, err := decoder.Token()
		if err != nil {
			return keys
		}
		key, _ := token.(string)
		var value json.RawMessage
		if err := decoder.Decode(&value); err != nil {
			return keys
		}
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	return keys
}

// /\\u[0-9a-fA-F]{4}/
var unicodeEscapeRegex = regexp.MustCompile(`\\u[0-9a-fA-F]{4}`)

// The "extraMetadata" value is a JSON encoded string; some producers encode it twice,
// leaving \uXXXX escapes (and escaped quotes) to be decoded once more before the inner parse.
func decodeExtraMetadata(value any) (map[string]any, error) {
	if obj := asMap(value); obj != nil {
		return obj, nil
	}
	s, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected value type %T", value)
	}
	var lastErr error
	for range 3 {
		s = strings.TrimSpace(s)
		if strings.HasPrefix(s, `"`) {
			var inner string
			if err := json.Unmarshal([]byte(s), &inner); err == nil {
				s = inner
				continue
			}
		}
		obj, err := decodeObject(s)
		if err == nil {
			return obj, nil
		}
		lastErr = err
		if !strings.Contains(s, `\`) {
			break
		}
		var unquoted string
		if err := json.Unmarshal([]byte(`"`+s+`"`), &unquoted); err == nil {
			s = unquoted
		} else {
			s = unicodeEscapeRegex.ReplaceAllStringFunc(s, func(escape string) string {
				r, _ := strconv.ParseUint(escape[2:], 16, 32)
				return string(rune(r))
			})
		}
	}
	return nil, lastErr
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asInt64(v any) (int64, bool) {
	switch value := v.(type) {
	case json.Number:
		if i, err := value.Int64(); err == nil {
			return i, true
		}
		if f, err := value.Float64(); err == nil && isInt64(f) {
			return int64(f), true
		}
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return i, true
		}
	case float64:
		if isInt64(value) {
			return int64(value), true
		}
	}
	return 0, false
}

// isInt64 reports whether f is a whole number in int64 range. Out of range float to int
// conversions are implementation defined.
func isInt64(f float64) bool {
	return f >= math.MinInt64 && f < math.MaxInt64 && f == math.Trunc(f)
}

// asNumber returns a number and its text as the producer wrote it ("7", "7.0").
// The text is empty if unknown.
func asNumber(v any) (f float64, text string, ok bool) {
	switch value := v.(type) {
	case json.Number:
		if f, err := value.Float64(); err == nil {
			return f, value.String(), true
		}
	case string:
		text = strings.TrimSpace(value)
		if f, err := strconv.ParseFloat(text, 64); err == nil {
			return f, text, true
		}
	case float64:
		return value, "", true
	}
	return 0, "", false
}

// asSeed returns the decimal digits of an integer seed, and the seed itself if it fits in int64.
// ComfyUI seeds go up to 2^64-1.
func asSeed(v any) (seed *int64, text string, ok bool) {
	if i, ok := asInt64(v); ok {
		return &i, strconv.FormatInt(i, 10), true
	}
	switch value := v.(type) {
	case json.Number:
		text = value.String()
	case string:
		text = strings.TrimSpace(value)
	}
	if u, err := strconv.ParseUint(text, 10, 64); err == nil {
		return nil, strconv.FormatUint(u, 10), true
	}
	return nil, "", false
}

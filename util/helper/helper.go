// functions with side effect
package helper

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"github.com/go-sprout/sprout"
	"github.com/go-sprout/sprout/group/all"
	"github.com/gobwas/glob"
	log "github.com/sirupsen/logrus"

	"github.com/sagan/genmeta/util"
)

// Recognize "*.jpg" style glob, return parsed filenames.
func ParseFilenameArgs(args ...string) []string {
	names := []string{}
	for _, arg := range args {
		filenames := ParseGlobFilenames(arg)
		if filenames == nil {
			names = append(names, arg)
		} else {
			names = append(names, filenames...)
		}
	}
	names = util.UniqueSlice(names)
	return names
}

// ParseGlobFilenames expands a shell-like glob pattern (e.g. "*.jpg") into
// matching filenames on disk.
//
// Notes / behavior:
//   - Returns nil if pattern contains no glob meta chars, so the caller uses it as is.
//   - Returns matches sorted lexicographically.
//   - If there are no matches (or pattern is invalid), returns an empty slice.
//   - For relative patterns, results are relative to the current working dir.
func ParseGlobFilenames(pattern string) []string {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" || !strings.ContainsAny(pattern, "*?[{") {
		return nil
	}
	if strings.HasPrefix(pattern, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			pattern = filepath.Join(home, pattern[2:])
		}
	}
	patSlash := filepath.ToSlash(pattern)
	g, err := glob.Compile(patSlash, '/')
	if err != nil {
		return []string{}
	}
	walkRoot := computeWalkRoot(pattern)
	isAbs := filepath.IsAbs(pattern)

	matches := []string{}
	_ = filepath.WalkDir(walkRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		target := path
		if isAbs {
			if abs, err := filepath.Abs(path); err == nil {
				target = abs
			}
		} else if rel, err := filepath.Rel(".", path); err == nil {
			target = rel
		}
		if g.Match(filepath.ToSlash(target)) {
			matches = append(matches, filepath.Clean(target))
		}
		return nil
	})
	sort.Strings(matches)
	return matches
}

func computeWalkRoot(pattern string) string {
	const metas = "*?[{"
	prefix := pattern
	if i := strings.IndexAny(pattern, metas); i >= 0 {
		prefix = pattern[:i]
	}
	lastSep := strings.LastIndexAny(prefix, `/\`)
	if lastSep < 0 {
		return "."
	}
	if lastSep == 0 {
		return prefix[:1]
	}
	return filepath.Clean(prefix[:lastSep])
}

// ListFiles returns the files of pathes that have any of exts extension.
// A dir in pathes is read (recursively if recursive is true); hidden entries (".foo") of dirs are skipped.
// A plain file in pathes is always returned, regardless of it's extension.
// Inaccessible pathes are logged and skipped; errorCnt counts them.
func ListFiles(pathes []string, recursive bool, exts ...string) (files []string, errorCnt int) {
	for _, p := range pathes {
		stat, err := os.Stat(p)
		if err != nil {
			log.Errorf("%q: %v", p, err)
			errorCnt++
			continue
		}
		if !stat.IsDir() {
			files = append(files, p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				log.Errorf("%q: %v", path, err)
				errorCnt++
				return nil
			}
			if path == p {
				return nil
			}
			if strings.HasPrefix(d.Name(), ".") {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				if !recursive {
					return filepath.SkipDir
				}
				return nil
			}
			if util.HasExt(path, exts...) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			log.Errorf("%q: %v", p, err)
			errorCnt++
		}
	}
	return files, errorCnt
}

var handler *sprout.DefaultHandler

// sprout provided template funcs
var templateFuncs map[string]any

func init() {
	handler = sprout.New()
	handler.AddGroups(all.RegistryGroup())
	templateFuncs = handler.Build()
}

// Simple wrapper on Go text template.Template.
type Template struct {
	*template.Template
}

// Execute Go text template and return rendered string.
// The result string is trim spaced.
func (t *Template) Exec(data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Template.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("template execution error: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// Get a Go text template instance from tpl string.
// If tpl starts with "@" char, treat it (the rest part after @) as a file name
// and read template contents from it instead.
func GetTemplate(tpl string, strict bool) (*Template, error) {
	if strings.HasPrefix(tpl, "@") {
		contents, err := os.ReadFile(tpl[1:])
		if err != nil {
			return nil, err
		}
		tpl = string(contents)
	}
	templateInstance := template.New("template").Funcs(templateFuncs)
	if strict {
		templateInstance = templateInstance.Option("missingkey=error")
	}
	t, err := templateInstance.Parse(tpl)
	if err != nil {
		return nil, err
	}
	return &Template{Template: t}, nil
}

// Package catalog resolves model version ids to Civitai catalog entries,
// with a process wide cache and request pacing.
package catalog

import (
	"context"
	"errors"
	"strings"
)

// Hash algorithm designated for "Model hash" and "Lora hashes" report fields.
const HASH_AUTOV3 = "AutoV3"

// Civitai model types.
const (
	TYPE_CHECKPOINT        = "Checkpoint"
	TYPE_LORA              = "LORA"
	TYPE_LOCON             = "LoCon"
	TYPE_DORA              = "DoRA"
	TYPE_TEXTUAL_INVERSION = "TextualInversion"
)

var ErrNotFound = errors.New("model version not found")

type FileDescriptor struct {
	Name   string            `json:"name" yaml:"name" toml:"name"`
	Hashes map[string]string `json:"hashes,omitempty" yaml:"hashes,omitempty" toml:"hashes,omitempty"`
}

// ModelInfo is a catalog entry of one model version. It's shared by all images that
// reference the same version and must be treated as read-only.
type ModelInfo struct {
	ResourceType     string           `json:"type" yaml:"type" toml:"type"`
	ModelName        string           `json:"modelName" yaml:"modelName" toml:"modelName"`
	ModelVersionName string           `json:"modelVersionName" yaml:"modelVersionName" toml:"modelVersionName"`
	Files            []FileDescriptor `json:"files" yaml:"files" toml:"files"`
}

// Hash returns the algorithm hash of the first file that has one, or "".
func (m *ModelInfo) Hash(algorithm string) string {
	for _, file := range m.Files {
		if hash := file.Hashes[algorithm]; hash != "" {
			return hash
		}
	}
	return ""
}

// FileWithSuffix returns the first file whose name ends with suffix, or nil.
func (m *ModelInfo) FileWithSuffix(suffix string) *FileDescriptor {
	for i := range m.Files {
		if strings.HasSuffix(m.Files[i].Name, suffix) {
			return &m.Files[i]
		}
	}
	return nil
}

// IsLora reports whether the catalog type is one of the LoRA family types.
func (m *ModelInfo) IsLora() bool {
	switch m.ResourceType {
	case TYPE_LORA, TYPE_LOCON, TYPE_DORA:
		return true
	}
	return false
}

// Lookuper is the remote catalog lookup capability.
// It returns ErrNotFound (possibly wrapped) if the version does not exist.
type Lookuper interface {
	LookupModelVersion(ctx context.Context, versionId int64) (*ModelInfo, error)
}

// LookupFunc adapts a plain function to Lookuper.
type LookupFunc func(ctx context.Context, versionId int64) (*ModelInfo, error)

func (f LookupFunc) LookupModelVersion(ctx context.Context, versionId int64) (*ModelInfo, error) {
	return f(ctx, versionId)
}

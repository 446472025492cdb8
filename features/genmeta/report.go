package genmeta

import (
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
)

// Param labels, in the order they are rendered.
const (
	PARAM_STEPS         = "Steps"
	PARAM_SAMPLER       = "Sampler"
	PARAM_SCHEDULE_TYPE = "Schedule type"
	PARAM_CFG_SCALE     = "CFG scale"
	PARAM_SEED          = "Seed"
	PARAM_SIZE          = "Size"
	PARAM_MODEL_HASH    = "Model hash"
	PARAM_MODEL         = "Model"
	PARAM_LORA_HASHES   = "Lora hashes"

	SCHEDULE_TYPE_AUTOMATIC = "Automatic"

	NEGATIVE_PROMPT_PREFIX = "Negative prompt: "
)

type ImageSize struct {
	Width  int `json:"width" yaml:"width" toml:"width"`
	Height int `json:"height" yaml:"height" toml:"height"`
}

type Param struct {
	Label string `json:"label" yaml:"label" toml:"label"`
	Value string `json:"value" yaml:"value" toml:"value"`
}

type LoraHash struct {
	Name string `json:"name" yaml:"name" toml:"name"`
	Hash string `json:"hash" yaml:"hash" toml:"hash"`
}

// Resource is a resolved reference. Embeddings and other kinds are kept here
// even though the text layout does not render them.
type Resource struct {
	Kind             ResourceKind `json:"kind" yaml:"kind" toml:"kind"`
	VersionId        int64        `json:"modelVersionId" yaml:"modelVersionId" toml:"modelVersionId"`
	Weight           float64      `json:"weight" yaml:"weight" toml:"weight"`
	Origin           Origin       `json:"origin" yaml:"origin" toml:"origin"`
	ResourceType     string       `json:"type" yaml:"type" toml:"type"`
	ModelName        string       `json:"modelName" yaml:"modelName" toml:"modelName"`
	ModelVersionName string       `json:"modelVersionName" yaml:"modelVersionName" toml:"modelVersionName"`
	Filename         string       `json:"filename,omitempty" yaml:"filename,omitempty" toml:"filename,omitempty"`
}

// Report is the normalized generation metadata of one image.
type Report struct {
	PositivePrompt string     `json:"prompt" yaml:"prompt" toml:"prompt"`
	NegativePrompt string     `json:"negativePrompt" yaml:"negativePrompt" toml:"negativePrompt"`
	Params         []Param    `json:"params" yaml:"params" toml:"params"`
	LoraHashes     []LoraHash `json:"loraHashes,omitempty" yaml:"loraHashes,omitempty" toml:"loraHashes,omitempty"`
	ImageSize      ImageSize  `json:"size" yaml:"size" toml:"size"`
	Resources      []Resource `json:"resources,omitempty" yaml:"resources,omitempty" toml:"resources,omitempty"`
	Warnings       []string   `json:"warnings,omitempty" yaml:"warnings,omitempty" toml:"warnings,omitempty"`
}

func (r *Report) addParam(label, value string) {
	r.Params = append(r.Params, Param{Label: label, Value: value})
}

// The first hash recorded for a name is kept.
func (r *Report) addLoraHash(name, hash string) {
	for _, lh := range r.LoraHashes {
		if lh.Name == name {
			return
		}
	}
	r.LoraHashes = append(r.LoraHashes, LoraHash{Name: name, Hash: hash})
}

// Param returns the value of the param with label, or "" if absent.
func (r *Report) Param(label string) string {
	for _, p := range r.Params {
		if p.Label == label {
			return p.Value
		}
	}
	return ""
}

// Format renders the report in the A1111 "parameters" layout:
//
//	<positive prompt>
//	Negative prompt: <negative prompt>
//	Steps: 20, Sampler: Euler a, Schedule type: Automatic, CFG scale: 7.0, Seed: 1, Size: 512x768, ...
//
// The negative prompt line is omitted if it's empty.
func (r *Report) Format() string {
	lines := []string{r.PositivePrompt}
	if r.NegativePrompt != "" {
		lines = append(lines, NEGATIVE_PROMPT_PREFIX+r.NegativePrompt)
	}
	var params []string
	for _, p := range r.Params {
		params = append(params, fmt.Sprintf("%s: %s", p.Label, p.Value))
	}
	if len(r.LoraHashes) > 0 {
		var hashes []string
		for _, lh := range r.LoraHashes {
			hashes = append(hashes, fmt.Sprintf("%s: %s", lh.Name, lh.Hash))
		}
		params = append(params, fmt.Sprintf(`%s: "%s"`, PARAM_LORA_HASHES, strings.Join(hashes, ", ")))
	}
	lines = append(lines, strings.Join(params, ", "))
	return strings.Join(lines, "\n")
}

// ReportSchema returns the JSON schema of the structured (json) report output.
func ReportSchema() *jsonschema.Schema {
	return jsonschema.Reflect(&Report{})
}

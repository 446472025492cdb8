package genmeta

import (
	"strings"

	"github.com/sagan/genmeta/util/stringutil"
)

// Node titles of the ComfyUI graphs produced by the Civitai generator.
const (
	TITLE_POSITIVE = "Positive"
	TITLE_NEGATIVE = "Negative"
	TITLE_KSAMPLER = "KSampler"
)

// GenerationRecord is the prompt text and sampler params extracted from a Document.
// Unset params are nil.
type GenerationRecord struct {
	PositivePrompt string
	NegativePrompt string
	Steps          *int
	CfgScale       *float64
	// CfgScale as written in the metadata ("7", "7.0"); empty if unknown.
	CfgScaleText string
	SamplerName  *string
	// Nil if the seed does not fit in int64; SeedText has the digits of any valid seed.
	Seed     *int64
	SeedText string
}

// ExtractRecord extracts prompts and sampler params from doc.
// Missing or mistyped fields are left unset and noted in warnings; they never fail the extraction.
func ExtractRecord(doc *Document, warnings *Warnings) *GenerationRecord {
	var record *GenerationRecord
	switch doc.Schema {
	case SchemaA:
		record = extractRecordA(doc.Extra, warnings)
	case SchemaB:
		record = extractRecordB(doc, warnings)
	default:
		record = &GenerationRecord{}
	}
	record.PositivePrompt = normalizePrompt(record.PositivePrompt)
	record.NegativePrompt = normalizePrompt(record.NegativePrompt)
	return record
}

func extractRecordA(extra map[string]any, warnings *Warnings) *GenerationRecord {
	record := &GenerationRecord{}
	if extra == nil {
		return record
	}
	record.PositivePrompt = stringField(extra, "prompt", warnings)
	record.NegativePrompt = stringField(extra, "negativePrompt", warnings)
	setParams(record, extra, "steps", "cfgScale", "sampler", "seed", warnings)
	return record
}

func extractRecordB(doc *Document, warnings *Warnings) *GenerationRecord {
	record := &GenerationRecord{}
	positiveFound, negativeFound, samplerFound := false, false, false
	for _, node := range doc.Nodes() {
		switch node.Title() {
		case TITLE_POSITIVE:
			if positiveFound {
				continue
			}
			positiveFound = true
			record.PositivePrompt = stringField(node.Inputs(), "text", warnings)
		case TITLE_NEGATIVE:
			if negativeFound {
				continue
			}
			negativeFound = true
			record.NegativePrompt = stringField(node.Inputs(), "text", warnings)
		case TITLE_KSAMPLER:
			if samplerFound {
				continue
			}
			samplerFound = true
			if inputs := node.Inputs(); inputs != nil {
				setParams(record, inputs, "steps", "cfg", "sampler_name", "seed", warnings)
			} else {
				warnings.Add("node %s (%s) has no inputs", node.Id, TITLE_KSAMPLER)
			}
		}
	}
	if !positiveFound {
		warnings.Add("no %q node found", TITLE_POSITIVE)
	}
	return record
}

func setParams(record *GenerationRecord, fields map[string]any,
	stepsKey, cfgKey, samplerKey, seedKey string, warnings *Warnings) {
	if value, ok := fields[stepsKey]; ok {
		if steps, ok := asInt64(value); ok {
			record.Steps = new(int(steps))
		} else {
			warnings.Add("invalid %s value %v", stepsKey, value)
		}
	}
	if value, ok := fields[cfgKey]; ok {
		if cfg, text, ok := asNumber(value); ok {
			record.CfgScale = new(cfg)
			record.CfgScaleText = text
		} else {
			warnings.Add("invalid %s value %v", cfgKey, value)
		}
	}
	if value, ok := fields[samplerKey]; ok {
		if sampler, ok := asString(value); ok && sampler != "" {
			record.SamplerName = new(sampler)
		} else {
			warnings.Add("invalid %s value %v", samplerKey, value)
		}
	}
	if value, ok := fields[seedKey]; ok {
		if seed, text, ok := asSeed(value); ok {
			record.Seed = seed
			record.SeedText = text
		} else {
			warnings.Add("invalid %s value %v", seedKey, value)
		}
	}
}

// stringField returns fields[key] if it's a string. A link to another node
// (["4", 0] in ComfyUI graphs) or any other type is reported and yields "".
func stringField(fields map[string]any, key string, warnings *Warnings) string {
	value, ok := fields[key]
	if !ok {
		return ""
	}
	s, ok := asString(value)
	if !ok {
		warnings.Add("%s is not a string: %v", key, value)
	}
	return s
}

func normalizePrompt(prompt string) string {
	return strings.TrimSpace(stringutil.ReplaceNewLinesWithSpace(prompt))
}

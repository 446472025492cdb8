package genmeta

import (
	"regexp"
	"strconv"

	"github.com/invopop/jsonschema"

	"github.com/sagan/genmeta/features/catalog"
)

type ResourceKind int

const (
	// Declared by the catalog type once resolved (SchemaA resources carry no kind).
	KindAuto ResourceKind = iota
	KindCheckpoint
	KindLora
	KindEmbedding
	// Resolved to a catalog type this tool does not render (VAE, upscaler, ...).
	KindOther
)

func (k ResourceKind) String() string {
	switch k {
	case KindCheckpoint:
		return "checkpoint"
	case KindLora:
		return "lora"
	case KindEmbedding:
		return "embedding"
	case KindOther:
		return "other"
	}
	return "auto"
}

func (k ResourceKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (ResourceKind) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string", Enum: []any{"auto", "checkpoint", "lora", "embedding", "other"}}
}

type Origin int

const (
	OriginStructuredField Origin = iota
	OriginInlineToken
)

func (o Origin) String() string {
	if o == OriginInlineToken {
		return "inline"
	}
	return "structured"
}

func (o Origin) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (Origin) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string", Enum: []any{"structured", "inline"}}
}

const DEFAULT_WEIGHT = 1.0

// ResourceReference is one unresolved mention of a catalog resource.
type ResourceReference struct {
	Kind          ResourceKind
	RawIdentifier string // URN like token or the catalog version id
	VersionId     int64
	Weight        float64 // LoRA strength
	WeightText    string  // Weight as written in the metadata; empty if unknown or defaulted
	Origin        Origin
	// Inline tokens only: which prompt (true = negative) and byte offset in it.
	Negative bool
	Position int
}

// ComfyUI loader node class types.
const (
	CLASS_CHECKPOINT_LOADER = "CheckpointLoaderSimple"
	CLASS_LORA_LOADER       = "LoraLoader"
	CLASS_LORA_MODEL_ONLY   = "LoraLoaderModelOnly"
)

// /civitai:.*?@(\d+)/ . E.g. "urn:air:sdxl:checkpoint:civitai:101055@128078".
var civitaiUrnRegex = regexp.MustCompile(`civitai:.*?@(\d+)`)

// E.g. "embedding:urn:air:sdxl:embedding:civitai:123@456". The ecosystem part ("sd1", "sdxl", "pony",
// "flux1", ...) is matched loosely.
var embeddingTokenRegex = regexp.MustCompile(`embedding:urn:air:[a-zA-Z0-9_.-]+:embedding:civitai:(\d+)@(\d+)`)

// ParseCivitaiUrn extracts the version id of a "civitai:<modelId>@<versionId>" style identifier.
func ParseCivitaiUrn(urn string) (int64, bool) {
	match := civitaiUrnRegex.FindStringSubmatch(urn)
	if match == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(match[1], 10, 64)
	return id, err == nil
}

// ExtractReferences enumerates the resource references of doc:
// the structured ones first (in document order), then the inline embedding tokens of
// the positive and negative prompt of record.
func ExtractReferences(doc *Document, record *GenerationRecord, warnings *Warnings) []ResourceReference {
	var refs []ResourceReference
	switch doc.Schema {
	case SchemaA:
		refs = extractReferencesA(doc.Extra, warnings)
	case SchemaB:
		refs = extractReferencesB(doc, warnings)
	}
	refs = append(refs, extractEmbeddingTokens(record.PositivePrompt, false)...)
	refs = append(refs, extractEmbeddingTokens(record.NegativePrompt, true)...)
	return refs
}

func extractReferencesA(extra map[string]any, warnings *Warnings) (refs []ResourceReference) {
	if extra == nil {
		return nil
	}
	resources, ok := extra["resources"].([]any)
	if !ok {
		if extra["resources"] != nil {
			warnings.Add("resources is not a list: %v", extra["resources"])
		}
		return nil
	}
	for i, item := range resources {
		resource := asMap(item)
		if resource == nil {
			warnings.Add("resources[%d] is not an object: %v", i, item)
			continue
		}
		versionId, ok := asInt64(resource["modelVersionId"])
		if !ok {
			warnings.Add("resources[%d] has no valid modelVersionId, skip it", i)
			continue
		}
		weight, weightText := DEFAULT_WEIGHT, ""
		if value, exists := resource["strength"]; exists && value != nil {
			if w, text, ok := asNumber(value); ok {
				weight, weightText = w, text
			} else {
				warnings.Add("resources[%d] has invalid strength %v, use %v", i, value, DEFAULT_WEIGHT)
			}
		}
		refs = append(refs, ResourceReference{
			Kind:          KindAuto,
			RawIdentifier: strconv.FormatInt(versionId, 10),
			VersionId:     versionId,
			Weight:        weight,
			WeightText:    weightText,
			Origin:        OriginStructuredField,
		})
	}
	return refs
}

func extractReferencesB(doc *Document, warnings *Warnings) (refs []ResourceReference) {
	for _, node := range doc.Nodes() {
		var kind ResourceKind
		var nameKey string
		switch node.ClassType() {
		case CLASS_CHECKPOINT_LOADER:
			kind, nameKey = KindCheckpoint, "ckpt_name"
		case CLASS_LORA_LOADER, CLASS_LORA_MODEL_ONLY:
			kind, nameKey = KindLora, "lora_name"
		default:
			continue
		}
		inputs := node.Inputs()
		name, ok := asString(inputs[nameKey])
		if !ok {
			warnings.Add("node %s (%s) has no %s", node.Id, node.ClassType(), nameKey)
			continue
		}
		versionId, ok := ParseCivitaiUrn(name)
		if !ok {
			warnings.Add("node %s (%s): %q is not a civitai resource", node.Id, node.ClassType(), name)
			continue
		}
		ref := ResourceReference{
			Kind:          kind,
			RawIdentifier: name,
			VersionId:     versionId,
			Weight:        DEFAULT_WEIGHT,
			Origin:        OriginStructuredField,
		}
		if kind == KindLora {
			if value, exists := inputs["strength_model"]; exists {
				if w, text, ok := asNumber(value); ok {
					ref.Weight, ref.WeightText = w, text
				} else {
					warnings.Add("node %s (%s) has invalid strength_model %v, use %v",
						node.Id, node.ClassType(), value, DEFAULT_WEIGHT)
				}
			}
		}
		refs = append(refs, ref)
	}
	return refs
}

func extractEmbeddingTokens(prompt string, negative bool) (refs []ResourceReference) {
	for _, match := range embeddingTokenRegex.FindAllStringSubmatchIndex(prompt, -1) {
		versionId, err := strconv.ParseInt(prompt[match[4]:match[5]], 10, 64)
		if err != nil {
			continue
		}
		refs = append(refs, ResourceReference{
			Kind:          KindEmbedding,
			RawIdentifier: prompt[match[0]:match[1]],
			VersionId:     versionId,
			Weight:        DEFAULT_WEIGHT,
			Origin:        OriginInlineToken,
			Negative:      negative,
			Position:      match[0],
		})
	}
	return refs
}

// kindOf maps a catalog resource type to the role it plays in the report.
func kindOf(info *catalog.ModelInfo) ResourceKind {
	switch {
	case info.ResourceType == catalog.TYPE_CHECKPOINT:
		return KindCheckpoint
	case info.IsLora():
		return KindLora
	case info.ResourceType == catalog.TYPE_TEXTUAL_INVERSION:
		return KindEmbedding
	}
	return KindOther
}

package genmeta

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sagan/genmeta/features/catalog"
	"github.com/sagan/genmeta/util"
	"github.com/sagan/genmeta/util/stringutil"
)

const (
	EMBEDDING_TOKEN_PREFIX = "embedding:urn"
	LORA_FILE_SUFFIX       = ".safetensors"
)

// Analysis is the resolution free part of a pass: classified document, extracted record and references.
type Analysis struct {
	Document   *Document
	Record     *GenerationRecord
	References []ResourceReference
}

// Analyze detects, extracts and enumerates references of raw, without any catalog lookup.
func Analyze(raw string, warnings *Warnings) (*Analysis, error) {
	doc, err := Detect(raw)
	if err != nil {
		return nil, err
	}
	for _, msg := range doc.Warnings {
		warnings.Add("%s", msg)
	}
	record := ExtractRecord(doc, warnings)
	refs := ExtractReferences(doc, record, warnings)
	return &Analysis{Document: doc, Record: record, References: refs}, nil
}

// VersionIds returns the distinct version ids of the references, in discovery order.
func (a *Analysis) VersionIds() []int64 {
	return util.UniqueSlice(util.Map(a.References, func(ref ResourceReference) int64 {
		return ref.VersionId
	}))
}

// Engine turns embedded metadata blobs into reports.
// It resolves references one at a time, in discovery order.
type Engine struct {
	resolver *catalog.Resolver
}

func NewEngine(resolver *catalog.Resolver) *Engine {
	return &Engine{resolver: resolver}
}

func (e *Engine) Resolver() *catalog.Resolver {
	return e.resolver
}

// CountLookups returns how many catalog lookups Resolve(raw) will send given the current cache:
// the number of distinct, not yet cached version ids referenced by raw.
func (e *Engine) CountLookups(raw string) (int, error) {
	analysis, err := Analyze(raw, nil)
	if err != nil {
		return 0, err
	}
	cnt := 0
	for _, id := range analysis.VersionIds() {
		if !e.resolver.IsCached(id) {
			cnt++
		}
	}
	return cnt, nil
}

// Resolve builds the report of raw. source names the image in log messages and may be empty.
// Only an unparsable blob (ErrUnparsableMetadata) or a canceled ctx fails it;
// other problems drop the affected part and are recorded in Report.Warnings.
func (e *Engine) Resolve(ctx context.Context, raw string, size ImageSize, source string) (*Report, error) {
	warnings := &Warnings{Source: source}
	analysis, err := Analyze(raw, warnings)
	if err != nil {
		return nil, err
	}
	record := analysis.Record
	report := &Report{ImageSize: size}

	var checkpoint *catalog.ModelInfo
	var loraAnnotations []string
	for _, ref := range analysis.References {
		info, err := e.resolver.Resolve(ctx, ref.VersionId)
		if err != nil {
			if !errors.Is(err, catalog.ErrNotFound) {
				return nil, err
			}
			warnings.Add("%s %s (version %d) not found in catalog, omitted", ref.Kind, ref.RawIdentifier, ref.VersionId)
			continue
		}
		kind := ref.Kind
		if kind == KindAuto {
			kind = kindOf(info)
		}
		resource := Resource{
			Kind:             kind,
			VersionId:        ref.VersionId,
			Weight:           ref.Weight,
			Origin:           ref.Origin,
			ResourceType:     info.ResourceType,
			ModelName:        info.ModelName,
			ModelVersionName: info.ModelVersionName,
		}
		switch kind {
		case KindCheckpoint:
			if checkpoint == nil {
				checkpoint = info
			}
		case KindLora:
			file := info.FileWithSuffix(LORA_FILE_SUFFIX)
			if file == nil {
				warnings.Add("lora %q (version %d) has no %s file, omitted", info.ModelName, ref.VersionId, LORA_FILE_SUFFIX)
				continue
			}
			resource.Filename = strings.TrimSuffix(file.Name, LORA_FILE_SUFFIX)
			loraAnnotations = append(loraAnnotations,
				fmt.Sprintf("<lora:%s:%s>", resource.Filename, formatNumber(ref.Weight, ref.WeightText)))
			if hash := info.Hash(catalog.HASH_AUTOV3); hash != "" {
				report.addLoraHash(resource.Filename, hash)
			}
		}
		report.Resources = append(report.Resources, resource)
	}

	positive := StripEmbeddingTokens(record.PositivePrompt)
	if len(loraAnnotations) > 0 {
		positive = strings.Join(append(nonEmpty(positive), loraAnnotations...), ", ")
	}
	report.PositivePrompt = strings.TrimSpace(stringutil.CollapseSpaces(positive))
	report.NegativePrompt = strings.TrimSpace(stringutil.CollapseSpaces(StripEmbeddingTokens(record.NegativePrompt)))

	if record.Steps != nil {
		report.addParam(PARAM_STEPS, fmt.Sprint(*record.Steps))
	}
	if record.SamplerName != nil {
		report.addParam(PARAM_SAMPLER, *record.SamplerName)
		report.addParam(PARAM_SCHEDULE_TYPE, SCHEDULE_TYPE_AUTOMATIC)
	}
	if record.CfgScale != nil {
		report.addParam(PARAM_CFG_SCALE, formatNumber(*record.CfgScale, record.CfgScaleText))
	}
	if record.SeedText != "" {
		report.addParam(PARAM_SEED, record.SeedText)
	}
	report.addParam(PARAM_SIZE, fmt.Sprintf("%dx%d", size.Width, size.Height))
	if checkpoint != nil {
		if hash := checkpoint.Hash(catalog.HASH_AUTOV3); hash != "" {
			report.addParam(PARAM_MODEL_HASH, hash)
		}
		report.addParam(PARAM_MODEL, checkpoint.ModelName)
	}
	report.Warnings = warnings.Messages
	return report, nil
}

// StripEmbeddingTokens removes every comma separated part of prompt that contains
// an "embedding:urn" token, whether or not the token could be parsed or resolved.
func StripEmbeddingTokens(prompt string) string {
	if !strings.Contains(prompt, EMBEDDING_TOKEN_PREFIX) {
		return prompt
	}
	parts := util.FilterSlice(strings.Split(prompt, ","), func(part string) bool {
		return !strings.Contains(part, EMBEDDING_TOKEN_PREFIX)
	})
	return strings.Trim(strings.Join(parts, ","), ", ")
}

// formatNumber renders a number the way the metadata wrote it, else in Python style ("1.0").
func formatNumber(f float64, text string) string {
	if text != "" {
		return text
	}
	return util.FormatFloat(f)
}

func nonEmpty(s string) []string {
	if s = strings.TrimRight(strings.TrimSpace(s), ", "); s == "" {
		return nil
	}
	return []string{s}
}

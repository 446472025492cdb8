package genmeta_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagan/genmeta/features/catalog"
	"github.com/sagan/genmeta/features/genmeta"
)

const schemaBBlob = `{
	"3": {"class_type": "KSampler", "_meta": {"title": "KSampler"},
		"inputs": {"seed": 1234567890123456789, "steps": 25, "cfg": 7, "sampler_name": "euler_ancestral", "model": ["4", 0]}},
	"4": {"class_type": "CheckpointLoaderSimple", "_meta": {"title": "Load Checkpoint"},
		"inputs": {"ckpt_name": "urn:air:sdxl:checkpoint:civitai:1@100"}},
	"6": {"class_type": "CLIPTextEncode", "_meta": {"title": "Positive"}, "inputs": {"text": "a cat,\nsitting", "clip": ["4", 1]}},
	"7": {"class_type": "CLIPTextEncode", "_meta": {"title": "Negative"}, "inputs": {"text": "blurry", "clip": ["4", 1]}}
}`

// schemaABlob wraps extra the way the Civitai generator does: JSON encoded as a string field.
func schemaABlob(t *testing.T, extra map[string]any) string {
	t.Helper()
	inner, err := json.Marshal(extra)
	require.NoError(t, err)
	outer, err := json.Marshal(map[string]any{
		"resource-stack": map[string]any{"class_type": "CheckpointLoaderSimple"},
		"extraMetadata":  string(inner),
	})
	require.NoError(t, err)
	return string(outer)
}

type countingCatalog struct {
	mu      sync.Mutex
	entries map[int64]*catalog.ModelInfo
	calls   map[int64]int
}

func (c *countingCatalog) LookupModelVersion(ctx context.Context, versionId int64) (*catalog.ModelInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.calls[versionId]++
	if info, ok := c.entries[versionId]; ok {
		return info, nil
	}
	return nil, catalog.ErrNotFound
}

func (c *countingCatalog) total() (n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cnt := range c.calls {
		n += cnt
	}
	return n
}

func newTestEngine() (*genmeta.Engine, *countingCatalog) {
	fake := &countingCatalog{entries: testEntries, calls: map[int64]int{}}
	return genmeta.NewEngine(catalog.NewResolver(fake, catalog.NewCache(), 0)), fake
}

func lora(name, filename, hash string) *catalog.ModelInfo {
	return &catalog.ModelInfo{
		ResourceType:     catalog.TYPE_LORA,
		ModelName:        name,
		ModelVersionName: "v1.0",
		Files: []catalog.FileDescriptor{
			{Name: filename, Hashes: map[string]string{catalog.HASH_AUTOV3: hash}},
		},
	}
}

var testEntries = map[int64]*catalog.ModelInfo{
	100: {
		ResourceType: catalog.TYPE_CHECKPOINT,
		ModelName:    "Foo",
		Files: []catalog.FileDescriptor{
			{Name: "foo.safetensors", Hashes: map[string]string{catalog.HASH_AUTOV3: "abc123"}},
		},
	},
	101: {
		ResourceType: catalog.TYPE_CHECKPOINT,
		ModelName:    "Bar",
		Files:        []catalog.FileDescriptor{{Name: "bar.ckpt"}},
	},
	200: lora("My Lora", "myLora.safetensors", "h200"),
	300: lora("Second", "second_v2.safetensors", "h300"),
	301: lora("Pickled", "pickled.pt", "h301"),
	456: {ResourceType: catalog.TYPE_TEXTUAL_INVERSION, ModelName: "Neg Embed", Files: []catalog.FileDescriptor{}},
}

func TestResolveCheckpointScenario(t *testing.T) {
	engine, fake := newTestEngine()
	report, err := engine.Resolve(context.Background(), schemaBBlob, genmeta.ImageSize{Width: 832, Height: 1216}, "")
	require.NoError(t, err)

	assert.Equal(t, "a cat, sitting\n"+
		"Negative prompt: blurry\n"+
		"Steps: 25, Sampler: euler_ancestral, Schedule type: Automatic, CFG scale: 7, "+
		"Seed: 1234567890123456789, Size: 832x1216, Model hash: abc123, Model: Foo", report.Format())
	assert.NotContains(t, report.Format(), genmeta.PARAM_LORA_HASHES)
	assert.Empty(t, report.Warnings)
	require.Len(t, report.Resources, 1)
	assert.Equal(t, genmeta.KindCheckpoint, report.Resources[0].Kind)
	assert.Equal(t, 1, fake.total())
}

func TestResolveSchemaA(t *testing.T) {
	raw := schemaABlob(t, map[string]any{
		"prompt":         "masterpiece,\nembedding:urn:air:sdxl:embedding:civitai:123@456, 1girl",
		"negativePrompt": "lowres, embedding:urn:air:sdxl:embedding:civitai:777@888",
		"steps":          30,
		"cfgScale":       4.5,
		"sampler":        "DPM++ 2M Karras",
		"seed":           42,
		"resources": []any{
			map[string]any{"modelVersionId": 100, "strength": 1},
			map[string]any{"modelVersionId": 200, "strength": 0.8},
			map[string]any{"modelVersionId": 300, "strength": 0.6},
			map[string]any{"modelVersionId": 999},
		},
	})
	engine, fake := newTestEngine()
	cnt, err := engine.CountLookups(raw)
	require.NoError(t, err)
	assert.Equal(t, 6, cnt)

	report, err := engine.Resolve(context.Background(), raw, genmeta.ImageSize{Width: 1024, Height: 1024}, "")
	require.NoError(t, err)
	assert.Equal(t, "masterpiece, 1girl, <lora:myLora:0.8>, <lora:second_v2:0.6>\n"+
		"Negative prompt: lowres\n"+
		"Steps: 30, Sampler: DPM++ 2M Karras, Schedule type: Automatic, CFG scale: 4.5, Seed: 42, "+
		`Size: 1024x1024, Model hash: abc123, Model: Foo, Lora hashes: "myLora: h200, second_v2: h300"`,
		report.Format())
	assert.Equal(t, cnt, fake.total())

	// 999 and 888 are unknown to the catalog.
	assert.Len(t, report.Warnings, 2)
	kinds := []genmeta.ResourceKind{}
	for _, resource := range report.Resources {
		kinds = append(kinds, resource.Kind)
	}
	assert.Equal(t, []genmeta.ResourceKind{genmeta.KindCheckpoint, genmeta.KindLora, genmeta.KindLora,
		genmeta.KindEmbedding}, kinds)
	assert.Equal(t, "myLora", report.Resources[1].Filename)
}

func TestResolveIsIdempotentAcrossCacheStates(t *testing.T) {
	engine, fake := newTestEngine()
	size := genmeta.ImageSize{Width: 512, Height: 768}
	cold, err := engine.Resolve(context.Background(), schemaBBlob, size, "")
	require.NoError(t, err)

	cnt, err := engine.CountLookups(schemaBBlob)
	require.NoError(t, err)
	assert.Equal(t, 0, cnt)

	warm, err := engine.Resolve(context.Background(), schemaBBlob, size, "")
	require.NoError(t, err)
	assert.Equal(t, cold.Format(), warm.Format())
	assert.Equal(t, 1, fake.total())
	assert.Equal(t, catalog.Stats{Lookups: 1, Hits: 1}, engine.Resolver().Stats())
}

func TestResolveLoraWeightsInDiscoveryOrder(t *testing.T) {
	raw := `{
		"6": {"class_type": "CLIPTextEncode", "_meta": {"title": "Positive"}, "inputs": {"text": "portrait, "}},
		"resource-stack-2": {"class_type": "LoraLoader", "inputs": {"lora_name": "civitai:2@200", "strength_model": 0.8}},
		"resource-stack-10": {"class_type": "LoraLoaderModelOnly", "inputs": {"lora_name": "civitai:3@300", "strength_model": 0.6}},
		"resource-stack-11": {"class_type": "LoraLoader", "inputs": {"lora_name": "civitai:9@301", "strength_model": 0.5}}
	}`
	engine, _ := newTestEngine()
	report, err := engine.Resolve(context.Background(), raw, genmeta.ImageSize{}, "")
	require.NoError(t, err)
	assert.Equal(t, "portrait, <lora:myLora:0.8>, <lora:second_v2:0.6>", report.PositivePrompt)
	assert.Equal(t, []genmeta.LoraHash{{Name: "myLora", Hash: "h200"}, {Name: "second_v2", Hash: "h300"}},
		report.LoraHashes)
	// pickled.pt is not a .safetensors file.
	assert.Len(t, report.Warnings, 1)
	assert.Equal(t, "", report.Param(genmeta.PARAM_MODEL))
}

func TestResolveLoraWeightAsWritten(t *testing.T) {
	raw := `{
		"6": {"class_type": "CLIPTextEncode", "_meta": {"title": "Positive"}, "inputs": {"text": "x"}},
		"7": {"class_type": "LoraLoader", "inputs": {"lora_name": "civitai:2@200", "strength_model": 1}},
		"8": {"class_type": "LoraLoader", "inputs": {"lora_name": "civitai:3@300", "strength_model": 1.0}},
		"9": {"class_type": "LoraLoader", "inputs": {"lora_name": "civitai:4@200"}}
	}`
	engine, _ := newTestEngine()
	report, err := engine.Resolve(context.Background(), raw, genmeta.ImageSize{}, "")
	require.NoError(t, err)
	assert.Equal(t, "x, <lora:myLora:1>, <lora:second_v2:1.0>, <lora:myLora:1.0>", report.PositivePrompt)
}

func TestResolveSeedBeyondInt64(t *testing.T) {
	raw := `{
		"3": {"class_type": "KSampler", "_meta": {"title": "KSampler"},
			"inputs": {"seed": 18446744073709551615, "cfg": 6.5, "steps": 20}},
		"6": {"class_type": "CLIPTextEncode", "_meta": {"title": "Positive"}, "inputs": {"text": "x"}}
	}`
	engine, _ := newTestEngine()
	report, err := engine.Resolve(context.Background(), raw, genmeta.ImageSize{Width: 8, Height: 8}, "")
	require.NoError(t, err)
	assert.Equal(t, "18446744073709551615", report.Param(genmeta.PARAM_SEED))
	assert.Equal(t, "x\nSteps: 20, CFG scale: 6.5, Seed: 18446744073709551615, Size: 8x8", report.Format())
	assert.Empty(t, report.Warnings)
}

func TestResolveFirstCheckpointWins(t *testing.T) {
	raw := `{
		"10": {"class_type": "CheckpointLoaderSimple", "inputs": {"ckpt_name": "civitai:2@101"}},
		"9": {"class_type": "CheckpointLoaderSimple", "inputs": {"ckpt_name": "civitai:1@100"}},
		"3": {"class_type": "CLIPTextEncode", "_meta": {"title": "Positive"}, "inputs": {"text": "x"}}
	}`
	engine, _ := newTestEngine()
	report, err := engine.Resolve(context.Background(), raw, genmeta.ImageSize{}, "")
	require.NoError(t, err)
	assert.Equal(t, "Bar", report.Param(genmeta.PARAM_MODEL))
	// Bar has no AutoV3 hash.
	assert.Equal(t, "", report.Param(genmeta.PARAM_MODEL_HASH))
	assert.Len(t, report.Resources, 2)
}

func TestResolveUnresolvableReferenceIsOmitted(t *testing.T) {
	raw := `{
		"4": {"class_type": "CheckpointLoaderSimple", "inputs": {"ckpt_name": "civitai:1@55555"}},
		"6": {"class_type": "CLIPTextEncode", "_meta": {"title": "Positive"}, "inputs": {"text": "tree"}}
	}`
	engine, fake := newTestEngine()
	report, err := engine.Resolve(context.Background(), raw, genmeta.ImageSize{Width: 1, Height: 2}, "")
	require.NoError(t, err)
	assert.Equal(t, "tree\nSize: 1x2", report.Format())
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "55555")
	assert.Empty(t, report.Resources)

	// negative cached
	_, err = engine.Resolve(context.Background(), raw, genmeta.ImageSize{}, "")
	require.NoError(t, err)
	assert.Equal(t, 1, fake.total())
}

func TestResolveUnrecognizedLayout(t *testing.T) {
	engine, fake := newTestEngine()
	report, err := engine.Resolve(context.Background(), `{"foo": {"bar": "civitai:1@100"}}`,
		genmeta.ImageSize{Width: 512, Height: 768}, "")
	require.NoError(t, err)
	assert.Equal(t, []genmeta.Param{{Label: genmeta.PARAM_SIZE, Value: "512x768"}}, report.Params)
	assert.Equal(t, "", report.PositivePrompt)
	assert.Equal(t, 0, fake.total())
}

func TestResolveUnparsable(t *testing.T) {
	engine, fake := newTestEngine()
	_, err := engine.Resolve(context.Background(), "Steps: 20, Sampler: Euler a", genmeta.ImageSize{}, "")
	assert.ErrorIs(t, err, genmeta.ErrUnparsableMetadata)
	_, err = engine.CountLookups("{")
	assert.ErrorIs(t, err, genmeta.ErrUnparsableMetadata)
	assert.Equal(t, 0, fake.total())
}

func TestResolveCanceled(t *testing.T) {
	engine, _ := newTestEngine()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := engine.Resolve(ctx, schemaBBlob, genmeta.ImageSize{}, "")
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, engine.Resolver().IsCached(100))
}

func TestReportFormatWithoutNegativePrompt(t *testing.T) {
	report := &genmeta.Report{
		PositivePrompt: "a",
		Params:         []genmeta.Param{{Label: "Steps", Value: "20"}, {Label: "Size", Value: "1x1"}},
		LoraHashes:     []genmeta.LoraHash{{Name: "l", Hash: "h"}},
	}
	assert.Equal(t, "a\nSteps: 20, Size: 1x1, Lora hashes: \"l: h\"", report.Format())
}

func TestReportSchema(t *testing.T) {
	schema := genmeta.ReportSchema()
	require.Contains(t, schema.Definitions, "Report")
	_, ok := schema.Definitions["Report"].Properties.Get("prompt")
	assert.True(t, ok)
	require.Contains(t, schema.Definitions, "Resource")
	_, ok = schema.Definitions["Resource"].Properties.Get("kind")
	assert.True(t, ok)
	require.Contains(t, schema.Definitions, "ResourceKind")
	kind := schema.Definitions["ResourceKind"]
	assert.Equal(t, "string", kind.Type)
	assert.Contains(t, kind.Enum, "lora")
}

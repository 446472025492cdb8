package parse_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagan/genmeta/cmd/parse"
	"github.com/sagan/genmeta/features/catalog"
	"github.com/sagan/genmeta/features/genmeta"
)

const comfyBlob = `{
	"3": {"class_type": "KSampler", "_meta": {"title": "KSampler"},
		"inputs": {"seed": 1, "steps": 20, "cfg": 7, "sampler_name": "euler"}},
	"4": {"class_type": "CheckpointLoaderSimple", "inputs": {"ckpt_name": "urn:air:sdxl:checkpoint:civitai:1@100"}},
	"6": {"class_type": "CLIPTextEncode", "_meta": {"title": "Positive"}, "inputs": {"text": "a cat"}}
}`

const civitaiBlob = `{"resource-stack": {"class_type": "CheckpointLoaderSimple"},
	"extraMetadata": "{\"prompt\": \"a dog\", \"steps\": 10, \"resources\": [{\"modelVersionId\": 100}]}"}`

const comfyReport = "a cat\nSteps: 20, Sampler: euler, Schedule type: Automatic, CFG scale: 7, Seed: 1, " +
	"Size: 2x2, Model hash: abc123, Model: Foo"

func pngChunk(chunkType string, data []byte) []byte {
	buf := &bytes.Buffer{}
	binary.Write(buf, binary.BigEndian, uint32(len(data)))
	buf.WriteString(chunkType)
	buf.Write(data)
	crc := crc32.NewIEEE()
	crc.Write([]byte(chunkType))
	crc.Write(data)
	binary.Write(buf, binary.BigEndian, crc.Sum32())
	return buf.Bytes()
}

// writePng writes a 2x2 png with a tEXt chunk of key, or no text chunk if key is empty.
func writePng(t *testing.T, name string, key string, text string) string {
	t.Helper()
	buf := &bytes.Buffer{}
	require.NoError(t, png.Encode(buf, image.NewGray(image.Rect(0, 0, 2, 2))))
	contents := buf.Bytes()
	// signature (8) + IHDR (4 + 4 + 13 + 4)
	const ihdrEnd = 33
	result := append([]byte{}, contents[:ihdrEnd]...)
	if key != "" {
		result = append(result, pngChunk("tEXt", []byte(key+"\x00"+text))...)
	}
	result = append(result, contents[ihdrEnd:]...)
	require.NoError(t, os.WriteFile(name, result, 0644))
	return name
}

func readFile(t *testing.T, name string) string {
	t.Helper()
	contents, err := os.ReadFile(name)
	require.NoError(t, err)
	return string(contents)
}

func newEngine() (*genmeta.Engine, *int) {
	lookups := 0
	lookuper := catalog.LookupFunc(func(ctx context.Context, versionId int64) (*catalog.ModelInfo, error) {
		lookups++
		if versionId != 100 {
			return nil, catalog.ErrNotFound
		}
		return &catalog.ModelInfo{
			ResourceType: catalog.TYPE_CHECKPOINT,
			ModelName:    "Foo",
			Files: []catalog.FileDescriptor{
				{Name: "foo.safetensors", Hashes: map[string]string{catalog.HASH_AUTOV3: "abc123"}},
			},
		}, nil
	})
	return genmeta.NewEngine(catalog.NewResolver(lookuper, catalog.NewCache(), 0)), &lookups
}

func TestRunBatch(t *testing.T) {
	dir := t.TempDir()
	writePng(t, filepath.Join(dir, "a.png"), "prompt", comfyBlob)
	writePng(t, filepath.Join(dir, "b.png"), "prompt", comfyBlob)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("old"), 0644))
	writePng(t, filepath.Join(dir, "c.png"), "parameters", "a cat\nSteps: 20, Sampler: Euler a")
	writePng(t, filepath.Join(dir, "e.png"), "", "")
	// valid signature, then a chunk longer than the file
	require.NoError(t, os.WriteFile(filepath.Join(dir, "d.png"),
		append([]byte("\x89PNG\r\n\x1a\n\xff\xff\xff\x00tEXt"), "k\x00v"...), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))

	engine, lookups := newEngine()
	cnt, err := parse.Run(context.Background(), engine, []string{dir}, &parse.Options{})
	require.Error(t, err)
	assert.Equal(t, "1 errors", err.Error())
	// b has a .txt; c is not JSON; e has no metadata; d is corrupt but does not stop the batch.
	assert.Equal(t, &parse.Counters{Files: 5, Written: 1, Skipped: 3, Errors: 1}, cnt)
	assert.Equal(t, comfyReport, readFile(t, filepath.Join(dir, "a.txt")))
	assert.Equal(t, "old", readFile(t, filepath.Join(dir, "b.txt")))
	assert.NoFileExists(t, filepath.Join(dir, "c.txt"))
	assert.NoFileExists(t, filepath.Join(dir, "d.txt"))
	assert.Equal(t, 1, *lookups)

	cnt, err = parse.Run(context.Background(), engine, []string{dir}, &parse.Options{Force: true})
	require.Error(t, err)
	assert.Equal(t, "1 errors", err.Error())
	assert.Equal(t, &parse.Counters{Files: 5, Written: 2, Skipped: 2, Errors: 1}, cnt)
	assert.Equal(t, comfyReport, readFile(t, filepath.Join(dir, "b.txt")))
	// cached
	assert.Equal(t, 1, *lookups)
}

func TestRunRequireMarker(t *testing.T) {
	dir := t.TempDir()
	writePng(t, filepath.Join(dir, "comfy.png"), "prompt", comfyBlob)
	civitai := writePng(t, filepath.Join(dir, "civitai.png"), "prompt", civitaiBlob)

	engine, lookups := newEngine()
	output := &bytes.Buffer{}
	cnt, err := parse.Run(context.Background(), engine, []string{filepath.Join(dir, "*.png")}, &parse.Options{
		DryRun:        true,
		RequireMarker: "resource-stack",
		Output:        output,
	})
	require.NoError(t, err)
	assert.Equal(t, &parse.Counters{Files: 2, Written: 1, Skipped: 1}, cnt)
	assert.Equal(t, "==> "+filepath.Join(dir, "civitai.txt")+" <==\n"+
		"a dog\nSteps: 10, Size: 2x2, Model hash: abc123, Model: Foo\n\n", output.String())
	assert.Equal(t, 1, *lookups)
	// dry run writes nothing
	assert.NoFileExists(t, filepath.Join(dir, "civitai.txt"))
	assert.NoFileExists(t, filepath.Join(dir, "comfy.txt"))
	assert.FileExists(t, civitai)
}

func TestRunMissingArg(t *testing.T) {
	dir := t.TempDir()
	writePng(t, filepath.Join(dir, "a.png"), "prompt", comfyBlob)
	engine, _ := newEngine()
	cnt, err := parse.Run(context.Background(), engine,
		[]string{filepath.Join(dir, "a.png"), filepath.Join(dir, "missing.png")}, &parse.Options{})
	require.Error(t, err)
	assert.Equal(t, "1 errors", err.Error())
	assert.Equal(t, &parse.Counters{Files: 1, Written: 1, Errors: 1}, cnt)
	assert.FileExists(t, filepath.Join(dir, "a.txt"))
}

func TestRunCanceled(t *testing.T) {
	dir := t.TempDir()
	writePng(t, filepath.Join(dir, "a.png"), "prompt", comfyBlob)
	engine, lookups := newEngine()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cnt, err := parse.Run(ctx, engine, []string{dir}, &parse.Options{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, cnt.Written)
	assert.Equal(t, 0, *lookups)
	assert.NoFileExists(t, filepath.Join(dir, "a.txt"))
}

package util_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagan/genmeta/util"
)

func TestFormatFloat(t *testing.T) {
	cases := map[float64]string{
		1:      "1.0",
		0.8:    "0.8",
		7:      "7.0",
		4.5:    "4.5",
		-0.25:  "-0.25",
		0.0001: "0.0001",
	}
	for input, want := range cases {
		assert.Equal(t, want, util.FormatFloat(input), "input %v", input)
	}
}

func TestCalculateBackoff(t *testing.T) {
	assert.Equal(t, time.Second, util.CalculateBackoff(time.Second, time.Minute, 0))
	assert.Equal(t, 4*time.Second, util.CalculateBackoff(time.Second, time.Minute, 2))
	assert.Equal(t, time.Minute, util.CalculateBackoff(time.Second, time.Minute, 10))
}

func TestReplaceExtAndHasExt(t *testing.T) {
	assert.Equal(t, "dir/foo.txt", util.ReplaceExt("dir/foo.JPG", ".txt"))
	assert.Equal(t, "foo.txt", util.ReplaceExt("foo", ".txt"))
	assert.True(t, util.HasExt("a/b.JPEG", ".jpg", ".jpeg"))
	assert.False(t, util.HasExt("a/b.txt", ".jpg", ".jpeg"))
}

func TestUniqueSlice(t *testing.T) {
	assert.Equal(t, []int64{3, 1, 2}, util.UniqueSlice([]int64{3, 1, 3, 2, 1}))
	assert.Nil(t, util.UniqueSlice[int64](nil))
}

func TestMarshal(t *testing.T) {
	input := map[string]any{"name": "foo"}
	data, err := util.Marshal("yaml", input)
	require.NoError(t, err)
	assert.Equal(t, "name: foo\n", string(data))

	data, err = util.Marshal("toml", input)
	require.NoError(t, err)
	assert.Equal(t, "name = 'foo'\n", string(data))

	_, err = util.Marshal("ini", input)
	assert.Error(t, err)
}

package form_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowfox/gemini/internal/form"
)

func TestDecodeQuery_BareKeyIsEmptyValue(t *testing.T) {
	f, err := form.DecodeQuery("standalone&name=value")
	require.NoError(t, err)

	v, ok := f.Get("standalone")
	require.True(t, ok)
	assert.Equal(t, "", v)

	v, ok = f.Get("name")
	require.True(t, ok)
	assert.Equal(t, "value", v)
}

func TestDecodeQuery_RepeatedKeysAccumulateInOrder(t *testing.T) {
	f, err := form.DecodeQuery("tag=a&tag=b&tag=c")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, f.Values("tag"))
}

func TestDecodeQuery_CaseInsensitiveKeys(t *testing.T) {
	f, err := form.DecodeQuery("Name=value")
	require.NoError(t, err)
	v, ok := f.Get("name")
	require.True(t, ok)
	assert.Equal(t, "value", v)
}

func TestForm_Validate_ContiguousIndices(t *testing.T) {
	f, err := form.DecodeQuery("a=one&a.index=1&a.size=5&b=two&b.index=2&b.size=7")
	require.NoError(t, err)
	require.NoError(t, f.Validate())
}

func TestForm_Validate_MissingIndexFails(t *testing.T) {
	f, err := form.DecodeQuery("a=one&a.index=1&a.size=5&b=two&b.index=3&b.size=7")
	require.NoError(t, err)
	err = f.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, form.ErrMalformedForm)
}

func TestForm_Keys_ExcludesFileSuffixes(t *testing.T) {
	f, err := form.DecodeQuery("a=one&a.index=1&a.size=5&plain=x")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "plain"}, f.Keys())
}

func TestIsBodyMode(t *testing.T) {
	f, err := form.DecodeQuery("upload=file.bin&upload.index=0&upload.size=21")
	require.NoError(t, err)
	assert.True(t, form.IsBodyMode(f))
}

func TestIsBodyMode_FalseWithMultiplePublicKeys(t *testing.T) {
	f, err := form.DecodeQuery("upload=file.bin&upload.index=0&upload.size=21&extra=1")
	require.NoError(t, err)
	assert.False(t, form.IsBodyMode(f))
}

func TestIngestBodyMode(t *testing.T) {
	f, err := form.DecodeQuery("upload=file.bin&upload.index=0&upload.size=13")
	require.NoError(t, err)

	body := "name=value&ok"
	real, err := form.IngestBodyMode(f, strings.NewReader(body))
	require.NoError(t, err)

	v, ok := real.Get("name")
	require.True(t, ok)
	assert.Equal(t, "value", v)
}

func TestStage_MultiFileOrdering(t *testing.T) {
	f, err := form.DecodeQuery(
		"one=a.txt&one.index=1&one.size=5&" +
			"two=b.txt&two.index=2&two.size=7&" +
			"three=c.txt&three.index=3&three.size=9")
	require.NoError(t, err)
	require.NoError(t, f.Validate())

	payload := bytes.NewBufferString("aaaaa" + "bbbbbbb" + "ccccccccc")
	files, err := form.Stage(f, payload, t.TempDir())
	require.NoError(t, err)
	require.Len(t, files, 3)

	for i, want := range []string{"aaaaa", "bbbbbbb", "ccccccccc"} {
		rc, err := files[i].Open()
		require.NoError(t, err)
		got := make([]byte, len(want))
		_, err = rc.Read(got)
		require.NoError(t, err)
		assert.Equal(t, want, string(got))
		rc.Close()
	}
}

func TestStage_LargeFileGoesToScratchDir(t *testing.T) {
	f, err := form.DecodeQuery("big=huge.bin&big.index=1&big.size=20000")
	require.NoError(t, err)

	payload := bytes.NewBuffer(make([]byte, 20000))
	dir := t.TempDir()
	files, err := form.Stage(f, payload, dir)
	require.NoError(t, err)
	require.Len(t, files, 1)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	info, err := os.Stat(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.EqualValues(t, 20000, info.Size())
}

func TestStage_ShortReadIsTruncated(t *testing.T) {
	f, err := form.DecodeQuery("one=a.txt&one.index=1&one.size=50")
	require.NoError(t, err)

	payload := bytes.NewBufferString("too short")
	_, err = form.Stage(f, payload, t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, form.ErrTruncatedBody)
}

func TestSanitizeFilenameViaStage(t *testing.T) {
	f, err := form.DecodeQuery("one=..%2F..%2Fetc%2Fpasswd&one.index=1&one.size=3")
	require.NoError(t, err)

	files, err := form.Stage(f, bytes.NewBufferString("abc"), t.TempDir())
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.NotContains(t, files[0].Name, "/")
	assert.Equal(t, "../../etc/passwd", files[0].OriginalName)
}

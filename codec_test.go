package gemini_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gemini "github.com/knowfox/gemini"
)

func TestReadRequestLine_BasicRequest(t *testing.T) {
	r := strings.NewReader("gemini://example.com/\r\n")
	line, err := gemini.ReadRequestLine(r, 1024)
	require.NoError(t, err)
	assert.Equal(t, "gemini://example.com/", line)
}

func TestReadRequestLine_EmptyLineIsInfoRequest(t *testing.T) {
	r := strings.NewReader("\r\n")
	_, err := gemini.ReadRequestLine(r, 1024)
	assert.True(t, errors.Is(err, gemini.ErrInfoRequest))
}

func TestReadRequestLine_BareLFIsMalformed(t *testing.T) {
	r := strings.NewReader("gemini://example.com/\n")
	_, err := gemini.ReadRequestLine(r, 1024)
	assert.True(t, errors.Is(err, gemini.ErrMalformedRequest))
}

func TestReadRequestLine_OverrunIsTooLong(t *testing.T) {
	r := strings.NewReader(strings.Repeat("a", 2000) + "\r\n")
	_, err := gemini.ReadRequestLine(r, 1024)
	assert.True(t, errors.Is(err, gemini.ErrRequestTooLong))
}

func TestWriteResponse_ClampsInvalidStatus(t *testing.T) {
	var buf bytes.Buffer
	err := gemini.WriteResponse(&buf, gemini.StatusCode(200), "", nil)
	require.NoError(t, err)
	assert.Equal(t, "42 A backend application generated an invalid status code of 200\r\n", buf.String())
}

func TestWriteResponse_DefaultsSuccessMeta(t *testing.T) {
	var buf bytes.Buffer
	err := gemini.WriteResponse(&buf, gemini.StatusSuccess, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "20 text/gemini; charset=utf-8\r\n", buf.String())
}

func TestWriteResponse_SanitizesControlCharsInMeta(t *testing.T) {
	var buf bytes.Buffer
	err := gemini.WriteResponse(&buf, gemini.StatusBadRequest, "bad\x01meta", nil)
	require.NoError(t, err)
	assert.Equal(t, "59 bad meta\r\n", buf.String())
}

func TestWriteResponse_WritesBodyOnlyForSuccess(t *testing.T) {
	var buf bytes.Buffer
	err := gemini.WriteResponse(&buf, gemini.StatusSuccess, "text/plain", strings.NewReader("hello"))
	require.NoError(t, err)
	assert.Equal(t, "20 text/plain\r\nhello", buf.String())
}

func TestExtendedMeta_String(t *testing.T) {
	m := gemini.NewExtendedMeta("text/plain").Set("Size", "123").Set("Filename", "a b.txt")
	assert.Equal(t, `text/plain; Size=123; Filename="a b.txt"`, m.String())
}

func TestExtendedMeta_EmptyValueIsQuotedEmpty(t *testing.T) {
	m := gemini.NewExtendedMeta("text/plain").Set("Token", "")
	assert.Equal(t, `text/plain; Token=""`, m.String())
}

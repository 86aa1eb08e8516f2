package gemini_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gemini "github.com/knowfox/gemini"
)

func TestParseRequestURL_DefaultsPort(t *testing.T) {
	u, err := gemini.ParseRequestURL("gemini://example.com/page")
	require.NoError(t, err)
	assert.Equal(t, "example.com:1965", u.Host)
	assert.Equal(t, "/page", u.Path)
}

func TestParseRequestURL_DefaultsEmptyPathToSlash(t *testing.T) {
	u, err := gemini.ParseRequestURL("gemini://example.com")
	require.NoError(t, err)
	assert.Equal(t, "/", u.Path)
}

func TestParseRequestURL_SchemeIsCaseInsensitive(t *testing.T) {
	u, err := gemini.ParseRequestURL("GEMINI://example.com/")
	require.NoError(t, err)
	assert.Equal(t, "gemini", u.Scheme)
}

func TestParseRequestURL_RejectsNonGeminiScheme(t *testing.T) {
	_, err := gemini.ParseRequestURL("https://example.com/")
	assert.True(t, errors.Is(err, gemini.ErrMalformedRequest))
}

func TestParseRequestURL_RejectsControlCharacters(t *testing.T) {
	_, err := gemini.ParseRequestURL("gemini://example.com/\x01")
	assert.True(t, errors.Is(err, gemini.ErrMalformedRequest))
}

func TestParseRequestURL_RejectsUnescapedWhitespace(t *testing.T) {
	_, err := gemini.ParseRequestURL("gemini://example.com/a b")
	assert.True(t, errors.Is(err, gemini.ErrMalformedRequest))
}

func TestParseRequestURL_PreservesExplicitPort(t *testing.T) {
	u, err := gemini.ParseRequestURL("gemini://example.com:1970/")
	require.NoError(t, err)
	assert.Equal(t, "example.com:1970", u.Host)
}

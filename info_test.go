package gemini_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	gemini "github.com/knowfox/gemini"
)

func TestInfoDocument_ContainsRequiredSections(t *testing.T) {
	doc := gemini.InfoDocument()
	for _, section := range []string{"[FORM]", "[META]", "[BODY]", "[TCP]"} {
		assert.True(t, strings.Contains(doc, section), "missing section %s", section)
	}
	assert.True(t, strings.Contains(doc, "multi=y"))
	assert.True(t, strings.Contains(doc, "extended=y"))
}

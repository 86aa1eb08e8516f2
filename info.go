package gemini

import "strings"

// infoMimeType is the meta value returned for the empty-request sentinel
// (spec.md §6.4).
const infoMimeType = "text/gemini+info"

// InfoDocument renders the Gemini+ dialect capability document returned for
// the empty request (spec.md §4.6, §6.4, §8 Invariant 6/Scenario S3): an
// INI-like body with FORM, META, BODY and TCP sections. This server
// supports multi-valued forms and file uploads (streamed, not buffered in
// full before staging begins) and extended meta; it does not compress or
// range bodies, and does not keep TCP connections alive or expose the raw
// socket.
func InfoDocument() string {
	var b strings.Builder
	writeSection(&b, "FORM", []kv{
		{"multi", "y"},
		{"files", "y"},
		{"stream", "y"},
	})
	writeSection(&b, "META", []kv{
		{"extended", "y"},
	})
	writeSection(&b, "BODY", []kv{
		{"compress", "n"},
		{"range", "n"},
	})
	writeSection(&b, "TCP", []kv{
		{"keepalive", "n"},
		{"raw", "n"},
	})
	return b.String()
}

type kv struct {
	key, value string
}

func writeSection(b *strings.Builder, name string, pairs []kv) {
	b.WriteByte('[')
	b.WriteString(name)
	b.WriteString("]\n")
	for _, p := range pairs {
		b.WriteString(p.key)
		b.WriteByte('=')
		b.WriteString(p.value)
		b.WriteByte('\n')
	}
}

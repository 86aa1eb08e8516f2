package statichost

import (
	"path/filepath"
	"strings"
)

// defaultMimeType is returned for extensions absent from extensionTable
// (spec.md §4.4).
const defaultMimeType = "application/octet-stream"

// extensionTable is the static MIME-extension lookup spec.md §1 treats as an
// external collaborator. It covers the extensions a Gemini static host
// actually serves in practice: the dialect's own content type plus common
// text and image formats.
var extensionTable = map[string]string{
	".gmi":  "text/gemini; charset=utf-8",
	".gemini": "text/gemini; charset=utf-8",
	".txt":  "text/plain; charset=utf-8",
	".md":   "text/markdown; charset=utf-8",
	".html": "text/html; charset=utf-8",
	".htm":  "text/html; charset=utf-8",
	".css":  "text/css; charset=utf-8",
	".json": "application/json",
	".xml":  "application/xml",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".webp": "image/webp",
	".pdf":  "application/pdf",
	".mp3":  "audio/mpeg",
	".ogg":  "audio/ogg",
	".mp4":  "video/mp4",
	".zip":  "application/zip",
}

// lookupMimeType returns the MIME type for name's extension, or
// defaultMimeType if unknown.
func lookupMimeType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if mt, ok := extensionTable[ext]; ok {
		return mt
	}
	return defaultMimeType
}

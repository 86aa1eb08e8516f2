package form

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// memoryThreshold is the size, in octets, below which a file payload is
// buffered in memory rather than streamed to a scratch file (spec.md §3,
// "File entity").
const memoryThreshold = 10_000

// File is a materialized upload: sanitized/original filename, index, size,
// and its payload, which lives either in memory (small) or in a scratch
// file (large) (spec.md §3, "File entity").
type File struct {
	Name         string // sanitized
	OriginalName string
	Index        uint32
	Size         uint64

	buffer     []byte
	scratchPath string
}

// Open returns a fresh reader over the file's payload.
func (f *File) Open() (io.ReadCloser, error) {
	if f.buffer != nil {
		return io.NopCloser(bytes.NewReader(f.buffer)), nil
	}
	return os.Open(f.scratchPath)
}

// sanitizeFilename strips path separators, trims trailing dots/whitespace,
// and replaces any remaining invalid character with '_' (spec.md §3,
// "File entity").
func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "/", "")
	name = strings.ReplaceAll(name, "\\", "")
	name = strings.TrimRight(name, ". \t")
	if name == "" {
		return "_"
	}

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if r < 0x20 || r == ':' || r == '*' || r == '?' || r == '"' || r == '<' || r == '>' || r == '|' {
			b.WriteByte('_')
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Stage consumes each declared file's payload from r in ascending index
// order, buffering small payloads in memory and streaming large ones to a
// lazily-created scratch file (spec.md §4.2, "Materialize files"). A short
// read returns ErrTruncatedBody.
func Stage(f *Form, r io.Reader, scratchDir string) ([]*File, error) {
	refs := f.FileRefs()
	files := make([]*File, 0, len(refs))

	scratchCreated := false
	for _, ref := range refs {
		originalName, _ := f.Get(ref.Key)

		file := &File{
			Name:         sanitizeFilename(originalName),
			OriginalName: originalName,
			Index:        ref.Index,
			Size:         ref.Size,
		}

		if ref.Size < memoryThreshold {
			buf := make([]byte, ref.Size)
			if _, err := io.ReadFull(r, buf); err != nil {
				return nil, fmt.Errorf("%w: file %q: %v", ErrTruncatedBody, ref.Key, err)
			}
			file.buffer = buf
		} else {
			if !scratchCreated {
				if err := os.MkdirAll(scratchDir, 0o700); err != nil {
					return nil, fmt.Errorf("form: failed to create scratch directory: %w", err)
				}
				scratchCreated = true
			}
			path := filepath.Join(scratchDir, uuid.New().String())
			out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
			if err != nil {
				return nil, fmt.Errorf("form: failed to create scratch file: %w", err)
			}
			written, err := io.CopyN(out, r, int64(ref.Size))
			closeErr := out.Close()
			if err != nil {
				return nil, fmt.Errorf("%w: file %q: %v", ErrTruncatedBody, ref.Key, err)
			}
			if closeErr != nil {
				return nil, fmt.Errorf("form: failed to close scratch file: %w", closeErr)
			}
			if uint64(written) != ref.Size {
				return nil, fmt.Errorf("%w: file %q", ErrTruncatedBody, ref.Key)
			}
			file.scratchPath = path
		}

		files = append(files, file)
	}

	return files, nil
}

// IngestBodyMode reads the body-mode form's declared size from r and decodes
// those octets as the real query string (the leading '?' is implied, not
// added), returning the form that replaces f (spec.md §3, "Body-mode
// detection"; §4.2, "Body-mode ingest"). The underlying stream is left
// positioned at the start of the real file payloads.
func IngestBodyMode(f *Form, r io.Reader) (*Form, error) {
	refs := f.FileRefs()
	if len(refs) != 1 {
		return nil, fmt.Errorf("%w: body-mode form must have exactly one file", ErrMalformedForm)
	}
	size := refs[0].Size

	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("%w: body-mode form data: %v", ErrTruncatedBody, err)
	}

	return DecodeQuery(string(buf))
}

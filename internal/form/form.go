// Package form decodes Gemini+ form query strings and stages uploaded file
// payloads, per spec.md §3 ("Form", "Body-mode detection", "File entity")
// and §4.2.
package form

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Sentinel errors matched by the pipeline to pick a wire status (spec.md §7).
var (
	ErrMalformedForm = errors.New("form: malformed form")
	ErrTruncatedBody = errors.New("form: truncated body")
)

const (
	indexSuffix = ".index"
	sizeSuffix  = ".size"
)

// Form is a case-insensitive mapping from key to an ordered list of string
// values (spec.md §3, "Form"). Two reserved suffixes per file key
// (".index", ".size") are tracked separately from the public key set.
type Form struct {
	values map[string][]string
	order  []string // insertion order of distinct lowercased keys
}

// NewForm returns an empty form.
func NewForm() *Form {
	return &Form{values: map[string][]string{}}
}

// Add appends value to key's list, preserving insertion order (spec.md
// §4.2, "Decode query": "the same key may repeat; values accumulate in
// insertion order").
func (f *Form) Add(key, value string) {
	lk := strings.ToLower(key)
	if _, ok := f.values[lk]; !ok {
		f.order = append(f.order, lk)
	}
	f.values[lk] = append(f.values[lk], value)
}

// Get returns the first value for key, if any.
func (f *Form) Get(key string) (string, bool) {
	vs, ok := f.values[strings.ToLower(key)]
	if !ok || len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

// Values returns all values for key in insertion order.
func (f *Form) Values(key string) []string {
	return f.values[strings.ToLower(key)]
}

// Keys returns the public key set (excluding ".index"/".size" suffix keys
// that belong to a recognized file), in first-insertion order.
func (f *Form) Keys() []string {
	fileSuffixed := f.fileKeySet()
	keys := make([]string, 0, len(f.order))
	for _, k := range f.order {
		if strings.HasSuffix(k, indexSuffix) || strings.HasSuffix(k, sizeSuffix) {
			base := strings.TrimSuffix(strings.TrimSuffix(k, indexSuffix), sizeSuffix)
			if fileSuffixed[base] {
				continue
			}
		}
		keys = append(keys, k)
	}
	return keys
}

// FileRef describes one declared file's bookkeeping keys, prior to payload
// materialization (spec.md §3, "File entity").
type FileRef struct {
	Key   string
	Index uint32
	Size  uint64
}

// fileKeySet returns the set of base keys that qualify as files: both
// "<k>.index" and "<k>.size" exist and parse as u32/u64 respectively
// (spec.md §3, "Form").
func (f *Form) fileKeySet() map[string]bool {
	result := map[string]bool{}
	for k := range f.values {
		if !strings.HasSuffix(k, indexSuffix) {
			continue
		}
		base := strings.TrimSuffix(k, indexSuffix)
		if base == "" {
			continue
		}
		idxStr, ok := f.Get(k)
		if !ok {
			continue
		}
		sizeStr, ok := f.Get(base + sizeSuffix)
		if !ok {
			continue
		}
		if _, err := strconv.ParseUint(idxStr, 10, 32); err != nil {
			continue
		}
		if _, err := strconv.ParseUint(sizeStr, 10, 64); err != nil {
			continue
		}
		result[base] = true
	}
	return result
}

// FileRefs returns the declared files, sorted ascending by index.
func (f *Form) FileRefs() []FileRef {
	bases := f.fileKeySet()
	refs := make([]FileRef, 0, len(bases))
	for base := range bases {
		idxStr, _ := f.Get(base + indexSuffix)
		sizeStr, _ := f.Get(base + sizeSuffix)
		idx, _ := strconv.ParseUint(idxStr, 10, 32)
		size, _ := strconv.ParseUint(sizeStr, 10, 64)
		refs = append(refs, FileRef{Key: base, Index: uint32(idx), Size: size})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Index < refs[j].Index })
	return refs
}

// IsBodyMode reports whether f is in body-mode (spec.md §3, "Body-mode
// detection"): exactly one public key, that key is a file, and its index is
// 0.
func IsBodyMode(f *Form) bool {
	keys := f.Keys()
	if len(keys) != 1 {
		return false
	}
	refs := f.FileRefs()
	if len(refs) != 1 {
		return false
	}
	return refs[0].Key == keys[0] && refs[0].Index == 0
}

// Validate enforces that the set of file indices equals {1..N} (spec.md §8
// Invariant 2), except in body-mode where the sole file has index 0 and the
// invariant is waived (spec.md §4.2, "Validate files").
func (f *Form) Validate() error {
	if IsBodyMode(f) {
		return nil
	}
	refs := f.FileRefs()
	for i, ref := range refs {
		want := uint32(i + 1)
		if ref.Index != want {
			return fmt.Errorf("%w: file index set is not {1..%d}", ErrMalformedForm, len(refs))
		}
	}
	return nil
}

// DecodeQuery splits raw on '&', then each piece on the first '=',
// percent-decoding both sides. A piece with no '=' is a bare key with an
// empty value (spec.md §9 Open Question (b): the fixed behavior, not the
// teacher-lineage bug of inserting it under the whole undecoded piece).
func DecodeQuery(raw string) (*Form, error) {
	f := NewForm()
	if raw == "" {
		return f, nil
	}

	for _, piece := range strings.Split(raw, "&") {
		if piece == "" {
			continue
		}
		key, value, hasEquals := strings.Cut(piece, "=")

		decodedKey, err := url.QueryUnescape(key)
		if err != nil {
			return nil, fmt.Errorf("%w: bad key encoding: %v", ErrMalformedForm, err)
		}

		decodedValue := ""
		if hasEquals {
			decodedValue, err = url.QueryUnescape(value)
			if err != nil {
				return nil, fmt.Errorf("%w: bad value encoding: %v", ErrMalformedForm, err)
			}
		}

		f.Add(decodedKey, decodedValue)
	}

	return f, nil
}

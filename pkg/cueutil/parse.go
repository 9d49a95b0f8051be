// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"errors"
	"fmt"
	"iter"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

// DefaultMaxFileSize bounds the documents Compile accepts.
const DefaultMaxFileSize int64 = 1 << 20

var (
	// ErrNotObject is returned when a document's root is not a JSON object.
	ErrNotObject = errors.New("document root must be an object")
	// ErrConflictingKeys is returned when a document repeats a key with a
	// different value.
	ErrConflictingKeys = errors.New("key repeated with a different value")
)

type (
	// Option configures Compile.
	Option func(*options)

	options struct {
		filename    string
		maxFileSize int64
	}
)

// WithFilename sets the name used in error messages.
func WithFilename(name string) Option {
	return func(o *options) { o.filename = name }
}

// WithMaxFileSize overrides DefaultMaxFileSize.
func WithMaxFileSize(n int64) Option {
	return func(o *options) { o.maxFileSize = n }
}

func defaultOptions() options {
	return options{
		filename:    "<input>",
		maxFileSize: DefaultMaxFileSize,
	}
}

// Compile turns data into a concrete CUE value whose root must be a struct.
// Errors carry the file name and the JSON path of the failing node.
//
// A key that appears twice is unified, not overwritten: repeating it with
// the same value is accepted, objects under it are merged, and differing
// scalars fail with ErrConflictingKeys. A JSON decoder would keep the last
// value instead.
func Compile(data []byte, opts ...Option) (cue.Value, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	if err := CheckFileSize(data, o.maxFileSize, o.filename); err != nil {
		return cue.Value{}, err
	}

	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(o.filename))
	if v.Err() != nil {
		return cue.Value{}, compileError(v.Err(), o.filename)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return cue.Value{}, compileError(err, o.filename)
	}
	if v.Kind() != cue.StructKind {
		return cue.Value{}, fmt.Errorf("%s: %w", o.filename, ErrNotObject)
	}
	return v, nil
}

// compileError formats err and marks unification conflicts, which in a
// JSON document only come from repeated keys.
func compileError(err error, filename string) error {
	formatted := FormatError(err, filename)
	for _, e := range cueerrors.Errors(err) {
		if strings.Contains(e.Error(), "conflicting values") {
			return fmt.Errorf("%w: %w", ErrConflictingKeys, formatted)
		}
	}
	return formatted
}

// Lookup returns the field named key of a struct value. Keys are treated
// as quoted JSON labels, so ids such as "my-mod" resolve correctly.
func Lookup(v cue.Value, key string) (cue.Value, bool) {
	f := v.LookupPath(cue.MakePath(cue.Str(key)))
	return f, f.Exists()
}

// Str returns the string held by v.
func Str(v cue.Value) (string, bool) {
	if v.Kind() != cue.StringKind {
		return "", false
	}
	s, err := v.String()
	return s, err == nil
}

// StrList accepts a string or a list of strings. Non-string list items are
// reported through skipped with their index and left out of the result.
// ok is false when v is neither a string nor a list.
func StrList(v cue.Value, skipped func(index int, item cue.Value)) (out []string, ok bool) {
	if s, isStr := Str(v); isStr {
		return []string{s}, true
	}
	if v.Kind() != cue.ListKind {
		return nil, false
	}
	it, err := v.List()
	if err != nil {
		return nil, false
	}
	for i := 0; it.Next(); i++ {
		if s, isStr := Str(it.Value()); isStr {
			out = append(out, s)
		} else if skipped != nil {
			skipped(i, it.Value())
		}
	}
	return out, true
}

// Each yields the regular fields of a struct value in declaration order.
func Each(v cue.Value) iter.Seq2[string, cue.Value] {
	return func(yield func(string, cue.Value) bool) {
		it, err := v.Fields()
		if err != nil {
			return
		}
		for it.Next() {
			if !yield(it.Selector().Unquoted(), it.Value()) {
				return
			}
		}
	}
}

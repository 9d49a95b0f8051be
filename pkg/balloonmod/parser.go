// SPDX-License-Identifier: MPL-2.0

package balloonmod

import (
	"errors"
	"fmt"
	"path"
	"slices"

	"cuelang.org/go/cue"
	"github.com/charmbracelet/log"
	"github.com/spf13/afero"

	"github.com/balloon/balloon/pkg/cueutil"
	"github.com/balloon/balloon/pkg/platform"
	"github.com/balloon/balloon/pkg/semver"
)

// ReservedID is the loader's own identifier, which no mod may claim.
const ReservedID = "Balloon"

var (
	// ErrInvalidManifest is wrapped by every ManifestError.
	ErrInvalidManifest = errors.New("invalid mod manifest")
	// ErrReservedID is returned when a manifest claims a reserved identifier.
	ErrReservedID = errors.New("reserved mod id")
	// ErrUnsupportedSchema is returned for schemaVersion values other than 1.
	ErrUnsupportedSchema = errors.New("unsupported manifest schema version")
)

type (
	// ManifestError describes why a manifest was rejected. Field is the
	// top-level manifest key at fault, empty for document-level problems.
	ManifestError struct {
		Source string
		Field  string
		Reason string
		Cause  error
	}

	// Parser turns manifest bytes into Metadata. Required fields are
	// strict; optional descriptive fields are tolerant and only warn.
	Parser struct {
		reserved []string
		logger   *log.Logger
	}

	// ParserOption configures a Parser.
	ParserOption func(*Parser)
)

// Error implements the error interface.
func (e *ManifestError) Error() string {
	msg := e.Reason
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.Source != "" {
		msg = e.Source + ": " + msg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes ErrInvalidManifest and the underlying cause.
func (e *ManifestError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrInvalidManifest}
	}
	return []error{ErrInvalidManifest, e.Cause}
}

// WithReservedWords adds identifiers that manifests may not use.
func WithReservedWords(words ...string) ParserOption {
	return func(p *Parser) { p.reserved = append(p.reserved, words...) }
}

// WithLogger sets the logger that receives per-field diagnostics.
func WithLogger(l *log.Logger) ParserOption {
	return func(p *Parser) { p.logger = l }
}

// NewParser returns a parser that reserves ReservedID.
func NewParser(opts ...ParserOption) *Parser {
	p := &Parser{reserved: []string{ReservedID}, logger: log.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// IsReserved reports whether id is one of the reserved words.
func (p *Parser) IsReserved(id string) bool {
	return slices.Contains(p.reserved, id)
}

// ParseFile reads and parses the manifest at path on fs.
func (p *Parser) ParseFile(fs afero.Fs, file string) (*Metadata, error) {
	data, err := afero.ReadFile(fs, file)
	if err != nil {
		p.logger.Error("failed to read mod manifest", "path", file, "err", err)
		return nil, fmt.Errorf("read manifest %s: %w", file, err)
	}
	return p.parse(data, file)
}

// Parse reads a manifest and verifies it. Every rejection is logged with
// its cause and returned as a *ManifestError. Manifests are read as CUE,
// so a key repeated with a different value is rejected rather than
// overwritten, and repeated objects are merged.
func (p *Parser) Parse(data []byte) (*Metadata, error) {
	return p.parse(data, ManifestFileName)
}

// ParseSource is Parse with source naming the manifest in errors and logs.
func (p *Parser) ParseSource(data []byte, source string) (*Metadata, error) {
	return p.parse(data, source)
}

func (p *Parser) parse(data []byte, source string) (*Metadata, error) {
	m, err := p.read(data, source)
	if err == nil {
		err = p.verify(m)
	}
	if err != nil {
		var me *ManifestError
		if errors.As(err, &me) && me.Source == "" {
			me.Source = source
		}
		p.logger.Error("failed to parse mod manifest", "source", source, "err", err)
		return nil, err
	}
	return m, nil
}

func (p *Parser) read(data []byte, source string) (*Metadata, error) {
	root, err := cueutil.Compile(data, cueutil.WithFilename(source))
	if errors.Is(err, cueutil.ErrConflictingKeys) {
		return nil, &ManifestError{Reason: "a key appears more than once with different values", Cause: err}
	}
	if err != nil {
		return nil, &ManifestError{Reason: "malformed manifest", Cause: err}
	}

	if v, ok := cueutil.Lookup(root, "schemaVersion"); ok {
		n, err := v.Int64()
		if v.Kind() != cue.IntKind || err != nil || n != SchemaVersion {
			return nil, &ManifestError{Field: "schemaVersion", Reason: fmt.Sprintf("expected %d", SchemaVersion), Cause: ErrUnsupportedSchema}
		}
	}

	m := &Metadata{}

	if v, ok := cueutil.Lookup(root, "id"); ok {
		id, isStr := cueutil.Str(v)
		if !isStr {
			return nil, &ManifestError{Field: "id", Reason: "mod id must be a string"}
		}
		if p.IsReserved(id) {
			return nil, &ManifestError{Field: "id", Reason: fmt.Sprintf("mod id %q is a reserved identifier", id), Cause: ErrReservedID}
		}
		m.id = id
	}

	if v, ok := cueutil.Lookup(root, "version"); ok {
		text, isStr := cueutil.Str(v)
		if !isStr {
			return nil, &ManifestError{Field: "version", Reason: "mod version must be a string"}
		}
		ver, err := semver.Parse(text)
		if err != nil {
			return nil, &ManifestError{Field: "version", Reason: "mod version is not valid", Cause: err}
		}
		m.version = ver
		m.versionText = text
	}

	p.optionalString(root, "type", &m.modType)
	p.optionalString(root, "name", &m.name)
	p.optionalString(root, "description", &m.description)
	p.optionalString(root, "homepage", &m.homepage)
	p.optionalString(root, "repository", &m.repository)
	p.optionalString(root, "license", &m.license)
	p.optionalStrings(root, "authors", &m.authors)
	p.optionalStrings(root, "contributors", &m.contributors)
	p.optionalStrings(root, "keywords", &m.keywords)
	p.optionalStrings(root, "categories", &m.categories)

	for _, mk := range manifestKeys {
		if err := p.readDependencies(root, mk.key, mk.kind, m); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (p *Parser) optionalString(root cue.Value, key string, dst *string) {
	v, ok := cueutil.Lookup(root, key)
	if !ok {
		return
	}
	s, isStr := cueutil.Str(v)
	if !isStr {
		p.logger.Warn("ignoring manifest field: expected a string", "field", key, "kind", v.Kind())
		return
	}
	*dst = s
}

func (p *Parser) optionalStrings(root cue.Value, key string, dst *[]string) {
	v, ok := cueutil.Lookup(root, key)
	if !ok {
		return
	}
	list, isList := cueutil.StrList(v, func(i int, item cue.Value) {
		p.logger.Warn("ignoring manifest entry: expected a string", "field", fmt.Sprintf("%s[%d]", key, i), "kind", item.Kind())
	})
	if !isList {
		p.logger.Warn("ignoring manifest field: expected a string or an array of strings", "field", key, "kind", v.Kind())
		return
	}
	*dst = list
}

func (p *Parser) readDependencies(root cue.Value, key string, kind DependencyKind, m *Metadata) error {
	obj, ok := cueutil.Lookup(root, key)
	if !ok {
		return nil
	}
	if obj.Kind() != cue.StructKind {
		return &ManifestError{Field: key, Reason: "dependencies must be an object"}
	}

	for target, v := range cueutil.Each(obj) {
		dep := NewDependency(target, kind)
		field := key + "." + target
		reqs, isList := cueutil.StrList(v, func(i int, item cue.Value) {
			p.logger.Warn("ignoring version requirement: expected a string", "field", fmt.Sprintf("%s[%d]", field, i), "kind", item.Kind())
		})
		if !isList {
			p.logger.Warn("ignoring dependency: expected a string or an array of strings", "field", field, "kind", v.Kind())
			continue
		}
		for _, r := range reqs {
			if err := dep.AddVersionRequirement(r); err != nil {
				p.logger.Warn("ignoring version requirement", "field", field, "requirement", r, "err", err)
			}
		}
		if !dep.HasRequirements() {
			p.logger.Warn("dropping dependency without usable version requirements", "field", field)
		}
		m.addDependency(dep)
	}
	return nil
}

func (p *Parser) verify(m *Metadata) error {
	if err := p.checkID(m.id); err != nil {
		return err
	}
	if m.version == nil {
		return &ManifestError{Field: "version", Reason: "mod version is not provided"}
	}
	return nil
}

func (p *Parser) checkID(id string) error {
	if id == "" {
		return &ManifestError{Field: "id", Reason: "mod id is not provided"}
	}
	if p.IsReserved(id) {
		return &ManifestError{Field: "id", Reason: fmt.Sprintf("mod id %q is a reserved identifier", id), Cause: ErrReservedID}
	}
	if id != path.Base(id) || id == "." || id == ".." {
		return &ManifestError{Field: "id", Reason: fmt.Sprintf("mod id %q must not contain path separators", id)}
	}
	if err := platform.CheckFileName(id); err != nil {
		return &ManifestError{Field: "id", Reason: "mod id " + err.Error(), Cause: err}
	}
	return nil
}

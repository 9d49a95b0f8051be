// SPDX-License-Identifier: MPL-2.0

package balloonmod

import (
	"slices"

	"github.com/balloon/balloon/pkg/semver"
	"github.com/balloon/balloon/pkg/userdata"
)

const (
	// ManifestFileName is the manifest every mod root must contain.
	ManifestFileName = "balloon.mod.json"

	// SchemaVersion is the only manifest schema version understood.
	SchemaVersion = 1

	// TypeBuiltin marks a mod that is always selected when it is the only
	// candidate for its id.
	TypeBuiltin = "builtin"
)

type (
	// Metadata is the parsed content of one manifest.
	Metadata struct {
		id           string
		version      *semver.Version
		versionText  string
		modType      string
		dependencies []*Dependency

		name         string
		description  string
		authors      []string
		contributors []string
		homepage     string
		repository   string
		license      string
		keywords     []string
		categories   []string

		data userdata.Box
	}

	// Option sets a field while building Metadata with New.
	Option func(*Metadata)
)

// New builds metadata for a mod that is not read from a manifest, such as
// a mod compiled into the host. id and version are validated exactly as
// the parser validates them.
func New(id, version string, opts ...Option) (*Metadata, error) {
	p := NewParser()
	if err := p.checkID(id); err != nil {
		return nil, err
	}
	v, err := semver.Parse(version)
	if err != nil {
		return nil, &ManifestError{Field: "version", Reason: "mod version is not valid", Cause: err}
	}
	m := &Metadata{id: id, version: v, versionText: version}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// WithType sets the type tag.
func WithType(t string) Option { return func(m *Metadata) { m.modType = t } }

// WithName sets the display name.
func WithName(name string) Option { return func(m *Metadata) { m.name = name } }

// WithDescription sets the description.
func WithDescription(d string) Option { return func(m *Metadata) { m.description = d } }

// WithAuthors sets the author list.
func WithAuthors(a ...string) Option { return func(m *Metadata) { m.authors = slices.Clone(a) } }

// WithDependency attaches d when it carries at least one requirement.
func WithDependency(d *Dependency) Option {
	return func(m *Metadata) { m.addDependency(d) }
}

// Require is shorthand for a DEPEND entry on id with a single range.
// An unparsable range leaves the dependency out.
func Require(id, rng string) Option {
	return func(m *Metadata) {
		d := NewDependency(id, KindDepend)
		if d.AddVersionRequirement(rng) == nil {
			m.addDependency(d)
		}
	}
}

func (m *Metadata) addDependency(d *Dependency) {
	if d == nil || !d.HasRequirements() {
		return
	}
	m.dependencies = append(m.dependencies, d)
}

// ID returns the mod id.
func (m *Metadata) ID() string { return m.id }

// Version returns the parsed version.
func (m *Metadata) Version() *semver.Version { return m.version }

// VersionString returns the version exactly as written in the manifest.
func (m *Metadata) VersionString() string { return m.versionText }

// Type returns the free-form type tag.
func (m *Metadata) Type() string { return m.modType }

// IsBuiltin reports whether the type tag is "builtin".
func (m *Metadata) IsBuiltin() bool { return m.modType == TypeBuiltin }

// Dependencies returns every attached dependency in manifest order.
func (m *Metadata) Dependencies() []*Dependency { return slices.Clone(m.dependencies) }

// DependsOn returns the DEPEND entries only. These are the edges used for
// resolution and ordering.
func (m *Metadata) DependsOn() []*Dependency {
	var out []*Dependency
	for _, d := range m.dependencies {
		if d.kind == KindDepend {
			out = append(out, d)
		}
	}
	return out
}

// Name returns the display name.
func (m *Metadata) Name() string { return m.name }

// Description returns the description.
func (m *Metadata) Description() string { return m.description }

// Authors returns the author list.
func (m *Metadata) Authors() []string { return slices.Clone(m.authors) }

// Contributors returns the contributor list.
func (m *Metadata) Contributors() []string { return slices.Clone(m.contributors) }

// Homepage returns the homepage URL.
func (m *Metadata) Homepage() string { return m.homepage }

// Repository returns the repository URL.
func (m *Metadata) Repository() string { return m.repository }

// License returns the license identifier.
func (m *Metadata) License() string { return m.license }

// Keywords returns the keyword list.
func (m *Metadata) Keywords() []string { return slices.Clone(m.keywords) }

// Categories returns the category list.
func (m *Metadata) Categories() []string { return slices.Clone(m.categories) }

// UserData returns the side table attached to this metadata.
func (m *Metadata) UserData() *userdata.Box { return &m.data }

// String renders "id@version".
func (m *Metadata) String() string {
	return m.id + "@" + m.version.String()
}

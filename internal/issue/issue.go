// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"cmp"

	"github.com/charmbracelet/glamour"
	"golang.org/x/exp/slices"
)

type Id int

const (
	ConfigLoadFailedId Id = iota + 1
	NoSearchRootsId
	ModNotFoundId
	ManifestParseErrorId
	DependenciesNotSatisfiedId
	DependencyCycleId
	LibraryLoadFailedId
	IncompatibleLibraryId
	ModInitFailedId
	FixedModFailedId
	PermissionDeniedId
	BuiltinCollisionId
)

type MarkdownMsg string

type HttpLink string

type Renderer interface {
	Render(in string, stylePath string) (string, error)
}

type Issue struct {
	id       Id          // ID used to lookup the issue
	mdMsg    MarkdownMsg // Markdown text that will be rendered
	docLinks []HttpLink
	extLinks []HttpLink // external links that might be useful for the user
}

func (i *Issue) Id() Id {
	return i.id
}

func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

func (i *Issue) DocLinks() []HttpLink {
	return slices.Clone(i.docLinks)
}

func (i *Issue) ExtLinks() []HttpLink {
	return slices.Clone(i.extLinks)
}

func (i *Issue) Render(stylePath string) (string, error) {
	extraMd := ""
	if len(i.docLinks) > 0 || len(i.extLinks) > 0 {
		extraMd += "\n\n"
		extraMd += "## See also\n"
		for _, link := range i.docLinks {
			extraMd += "- [" + string(link) + "](" + string(link) + ")\n"
		}
		for _, link := range i.extLinks {
			extraMd += "- [" + string(link) + "](" + string(link) + ")\n"
		}
	}
	return render(string(i.mdMsg)+extraMd, stylePath)
}

var (
	render = glamour.Render

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Failed to load configuration!

Could not load the balloon configuration file.

## Configuration file locations:
- Linux: ~/.config/balloon/config.cue
- macOS: ~/Library/Application Support/balloon/config.cue
- Windows: %APPDATA%\balloon\config.cue

## Things you can try:
- Create a default configuration:
~~~
$ balloon config init
~~~

- Check the configuration syntax
- Print the effective configuration:
~~~
$ balloon config show
~~~

## Example configuration:
~~~cue
loader_dir: "/opt/game/balloon"
search_roots: ["/game/Mods", "/mods", "/user/mods"]
disabled_mods: ["broken-mod"]
log_level: "info"
~~~`,
	}

	noSearchRootsIssue = &Issue{
		id: NoSearchRootsId,
		mdMsg: `
# No mod search roots!

None of the configured search roots exist inside the loader directory, so
there is nowhere to look for mods.

## Things you can try:
- Create one of the default roots:
~~~
$ mkdir -p <loader_dir>/mods
~~~

- Point ` + "`search_roots`" + ` at the folders that hold your mods:
~~~cue
search_roots: ["/mods", "/user/mods"]
~~~`,
	}

	modNotFoundIssue = &Issue{
		id: ModNotFoundId,
		mdMsg: `
# Mod not found!

No loaded mod has the id you asked for.

## Things you can try:
- List the mods balloon can see:
~~~
$ balloon mods list
~~~

- Check that the mod is not listed in ` + "`disabled_mods`" + `
- Check that its folder or archive contains a ` + "`balloon.mod.json`" + ``,
	}

	manifestParseErrorIssue = &Issue{
		id: ManifestParseErrorId,
		mdMsg: `
# Failed to parse mod metadata!

A ` + "`balloon.mod.json`" + ` file contains syntax errors or invalid fields.

## Common issues:
- Missing ` + "`id`" + ` or ` + "`version`" + `
- An id that is not lowercase letters, digits, dots, dashes or underscores
- A version that is not semantic (` + "`1.2.3`" + `)
- A dependency range that cannot be parsed

## Example of valid metadata:
~~~json
{
    // comments and trailing commas are accepted
    "id": "extra",
    "version": "1.0.0",
    "name": "Extra",
    "depends": {
        "core": ">=1.0.0",
    },
}
~~~

## Things you can try:
- Validate every mod without loading it:
~~~
$ balloon mods validate
~~~`,
	}

	dependenciesNotSatisfiedIssue = &Issue{
		id: DependenciesNotSatisfiedId,
		mdMsg: `
# Dependencies not satisfied!

Some mods were dropped because a dependency is missing, disabled or has no
version inside the requested range.

## Things you can try:
- Install the missing mods listed above
- Relax the version range in the dependent mod's ` + "`depends`" + ` block
- Remove the dependency from ` + "`disabled_mods`" + ``,
	}

	dependencyCycleIssue = &Issue{
		id: DependencyCycleId,
		mdMsg: `
# Dependency cycle detected!

The listed mods depend on each other, so no load order exists.

## Example of a cycle:
~~~json
// a/balloon.mod.json
{"id": "a", "version": "1.0.0", "depends": {"b": "*"}}
// b/balloon.mod.json
{"id": "b", "version": "1.0.0", "depends": {"a": "*"}}
~~~

## Things you can try:
- Move the shared code into a third mod both can depend on
- Turn one of the hard dependencies into a ` + "`recommends`" + ` entry`,
	}

	libraryLoadFailedIssue = &Issue{
		id: LibraryLoadFailedId,
		mdMsg: `
# Mod library failed to load!

Every mod must ship ` + "`bin/<id>.so`" + ` exporting the entry symbol
` + "`BalloonModEntry`" + `.

## Things you can try:
- Rebuild the mod as a Go plugin:
~~~
$ go build -buildmode=plugin -o bin/<id>.so .
~~~

- Make sure the id and version returned by the entry match the metadata
- Build the plugin with the same Go toolchain as the host`,
	}

	incompatibleLibraryIssue = &Issue{
		id: IncompatibleLibraryId,
		mdMsg: `
# Incompatible mod library!

The mod was built against a different revision of the mod API.

## Things you can try:
- Update the mod to a release built for this balloon version
- Rebuild it against the current ` + "`pkg/modapi`" + ``,
	}

	modInitFailedIssue = &Issue{
		id: ModInitFailedId,
		mdMsg: `
# Mod failed to initialize!

The mod's Init or Connect returned an error, so it was removed.

## Things you can try:
- Read the mod's own log file:
~~~
$ cat <loader_dir>/logs/<id>.log
~~~

- Delete its configuration to start from defaults:
~~~
$ rm <loader_dir>/configs/<id>.json
~~~`,
	}

	fixedModFailedIssue = &Issue{
		id: FixedModFailedId,
		mdMsg: `
# A required mod failed!

A mod that provides interfaces to other mods failed to initialize or
connect. Other mods may already hold what it registered, so balloon stops
instead of removing it.

## Things you can try:
- Read the mod's log file under ` + "`<loader_dir>/logs`" + `
- Disable the mod and everything that depends on it:
~~~cue
disabled_mods: ["<id>"]
~~~`,
	}

	permissionDeniedIssue = &Issue{
		id: PermissionDeniedId,
		mdMsg: `
# Permission denied!

Balloon could not write inside the loader directory.

## Common causes:
- The game is installed in a protected directory
- The ` + "`cache`" + `, ` + "`logs`" + ` or ` + "`configs`" + ` folder is owned by another user

## Things you can try:
- Check the permissions of the loader directory
- Point ` + "`loader_dir`" + ` at a directory you own`,
	}

	builtinCollisionIssue = &Issue{
		id: BuiltinCollisionId,
		mdMsg: `
# Mod id claimed by a builtin mod!

A builtin mod shares its id with other mods. Balloon cannot tell which one
is meant, so it loads none of them.

## Things you can try:
- Remove the extra copies listed above
- Rename the third-party mod if it is not meant to replace the builtin one`,
	}

	issues = map[Id]*Issue{
		configLoadFailedIssue.Id():         configLoadFailedIssue,
		noSearchRootsIssue.Id():            noSearchRootsIssue,
		modNotFoundIssue.Id():              modNotFoundIssue,
		manifestParseErrorIssue.Id():       manifestParseErrorIssue,
		dependenciesNotSatisfiedIssue.Id(): dependenciesNotSatisfiedIssue,
		dependencyCycleIssue.Id():          dependencyCycleIssue,
		libraryLoadFailedIssue.Id():        libraryLoadFailedIssue,
		incompatibleLibraryIssue.Id():      incompatibleLibraryIssue,
		modInitFailedIssue.Id():            modInitFailedIssue,
		fixedModFailedIssue.Id():           fixedModFailedIssue,
		permissionDeniedIssue.Id():         permissionDeniedIssue,
		builtinCollisionIssue.Id():         builtinCollisionIssue,
	}
)

// Values returns every known issue ordered by id.
func Values() []*Issue {
	out := make([]*Issue, 0, len(issues))
	for _, i := range issues {
		out = append(out, i)
	}
	slices.SortFunc(out, func(a, b *Issue) int { return cmp.Compare(a.id, b.id) })
	return out
}

func Get(id Id) *Issue {
	return issues[id]
}

// SPDX-License-Identifier: MPL-2.0

// Package registry is the authoritative table of loaded mods.
//
// Mods are kept in load order with an id index beside it. Adding and
// removing run through four callback phases: PRE callbacks can veto the
// change before it happens, a POSTADD veto rolls the insertion back, and
// POSTREMOVE callbacks always run after the entry is gone.
package registry

import (
	"errors"
	"fmt"
	"slices"

	"github.com/charmbracelet/log"

	"github.com/balloon/balloon/pkg/balloonmod"
	"github.com/balloon/balloon/pkg/modapi"
)

// Callback phases.
const (
	PhasePreAdd Phase = iota
	PhasePostAdd
	PhasePreRemove
	PhasePostRemove

	phaseCount
)

// Iteration instructions.
const (
	// Continue keeps the entry and moves on.
	Continue Instruction = iota
	// Remove drops the entry from the registry and moves on.
	Remove
	// Abort stops the iteration and makes IterateMods report failure.
	Abort
)

var (
	// ErrInvalidArgument is returned by AddMod for empty or nil inputs.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrIDMismatch is returned when the registration id differs from the
	// manifest id.
	ErrIDMismatch = errors.New("registration id does not match metadata")
	// ErrAlreadyRegistered is returned when the id is already present.
	ErrAlreadyRegistered = errors.New("mod already registered")
	// ErrNotRegistered is returned when removing an unknown id.
	ErrNotRegistered = errors.New("mod not registered")
	// ErrVetoed wraps the error of the callback that vetoed a change.
	ErrVetoed = errors.New("vetoed by callback")
)

type (
	// Phase selects when a callback runs.
	Phase int

	// Instruction is returned by IterateMods callbacks.
	Instruction int

	// Callback observes an add or remove. A non-nil error from a PRE phase
	// or from POSTADD vetoes the change; POSTREMOVE errors are logged only.
	Callback func(*Container) error

	// CallbackID identifies a registered callback.
	CallbackID uint64

	callbackEntry struct {
		id CallbackID
		fn Callback
	}

	// Registry holds loaded mods. It is driven from the lifecycle thread and
	// is not safe for concurrent mutation.
	Registry struct {
		mods      []*Container
		index     map[string]*Container
		callbacks [phaseCount][]callbackEntry
		nextID    CallbackID
		logger    *log.Logger
	}
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhasePreAdd:
		return "PREADD"
	case PhasePostAdd:
		return "POSTADD"
	case PhasePreRemove:
		return "PREREMOVE"
	case PhasePostRemove:
		return "POSTREMOVE"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// New returns an empty registry.
func New(logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.Default()
	}
	return &Registry{index: make(map[string]*Container), logger: logger}
}

// AddMod registers a loaded mod and returns its container.
func (r *Registry) AddMod(root, source string, meta *balloonmod.Metadata, lib Library, info *modapi.Registration) (*Container, error) {
	switch {
	case root == "" || source == "":
		return nil, fmt.Errorf("mod path: %w", ErrInvalidArgument)
	case meta == nil || lib == nil || info == nil:
		return nil, fmt.Errorf("mod metadata, library and registration are required: %w", ErrInvalidArgument)
	case meta.ID() != info.ID:
		return nil, fmt.Errorf("%q vs %q: %w", info.ID, meta.ID(), ErrIDMismatch)
	}
	if _, dup := r.index[meta.ID()]; dup {
		return nil, fmt.Errorf("%s: %w", meta.ID(), ErrAlreadyRegistered)
	}

	c := newContainer(root, source, meta, lib, info)
	if err := r.run(PhasePreAdd, c); err != nil {
		return nil, err
	}

	r.mods = append(r.mods, c)
	r.index[c.ID()] = c

	if err := r.run(PhasePostAdd, c); err != nil {
		r.erase(c)
		return nil, err
	}
	return c, nil
}

// RemoveMod unregisters id.
func (r *Registry) RemoveMod(id string) error {
	c, ok := r.index[id]
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrNotRegistered)
	}
	if err := r.run(PhasePreRemove, c); err != nil {
		return err
	}
	r.erase(c)
	r.postRemove(c)
	return nil
}

// HasMod reports whether id is registered.
func (r *Registry) HasMod(id string) bool {
	_, ok := r.index[id]
	return ok
}

// Count returns the number of registered mods.
func (r *Registry) Count() int { return len(r.mods) }

// ModAt returns the i-th mod in load order.
func (r *Registry) ModAt(i int) (*Container, bool) {
	if i < 0 || i >= len(r.mods) {
		return nil, false
	}
	return r.mods[i], true
}

// Mod returns the mod registered under id.
func (r *Registry) Mod(id string) (*Container, bool) {
	c, ok := r.index[id]
	return c, ok
}

// Mods returns the registered mods in load order.
func (r *Registry) Mods() []*Container { return slices.Clone(r.mods) }

// IDs returns the registered ids in load order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.mods))
	for _, c := range r.mods {
		ids = append(ids, c.ID())
	}
	return ids
}

// IterateMods calls fn for every mod in load order, or in reverse. fn may
// add or remove mods; entries removed by someone else during the walk are
// skipped. Returning Remove unregisters the entry without a PREREMOVE
// veto and runs the POSTREMOVE callbacks. IterateMods returns false if fn
// returned Abort.
func (r *Registry) IterateMods(fn func(*Container) Instruction, reversed bool) bool {
	snapshot := slices.Clone(r.mods)
	if reversed {
		slices.Reverse(snapshot)
	}
	for _, c := range snapshot {
		if r.index[c.ID()] != c {
			continue
		}
		switch fn(c) {
		case Remove:
			if r.index[c.ID()] == c {
				r.erase(c)
				r.postRemove(c)
			}
		case Abort:
			return false
		}
	}
	return true
}

// AddCallback registers fn for phase.
func (r *Registry) AddCallback(phase Phase, fn Callback) CallbackID {
	if phase < 0 || phase >= phaseCount || fn == nil {
		return 0
	}
	r.nextID++
	r.callbacks[phase] = append(r.callbacks[phase], callbackEntry{id: r.nextID, fn: fn})
	return r.nextID
}

// RemoveCallback unregisters the callback with the given id. It reports
// whether one was found.
func (r *Registry) RemoveCallback(id CallbackID) bool {
	for p := range r.callbacks {
		before := len(r.callbacks[p])
		r.callbacks[p] = slices.DeleteFunc(r.callbacks[p], func(e callbackEntry) bool { return e.id == id })
		if len(r.callbacks[p]) != before {
			return true
		}
	}
	return false
}

// ClearCallbacks drops every callback of phase.
func (r *Registry) ClearCallbacks(phase Phase) {
	if phase < 0 || phase >= phaseCount {
		return
	}
	r.callbacks[phase] = nil
}

func (r *Registry) run(phase Phase, c *Container) error {
	for _, e := range slices.Clone(r.callbacks[phase]) {
		if err := e.fn(c); err != nil {
			r.logger.Debug("registry change vetoed", "phase", phase, "mod", c.ID(), "err", err)
			return fmt.Errorf("%s %s: %w: %w", phase, c.ID(), ErrVetoed, err)
		}
	}
	return nil
}

func (r *Registry) postRemove(c *Container) {
	for _, e := range slices.Clone(r.callbacks[PhasePostRemove]) {
		if err := e.fn(c); err != nil {
			r.logger.Warn("post-remove callback failed", "mod", c.ID(), "err", err)
		}
	}
}

func (r *Registry) erase(c *Container) {
	r.mods = slices.DeleteFunc(r.mods, func(m *Container) bool { return m == c })
	delete(r.index, c.ID())
	c.live.Kill()
}

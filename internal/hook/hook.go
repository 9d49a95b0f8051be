// SPDX-License-Identifier: MPL-2.0

// Package hook is the boundary between the host engine and the loader.
//
// The host fires a fixed set of points (engine start and end, level reset,
// scene clear, end of frame). Handlers run in registration order; a failing
// handler is logged and the remaining handlers still run.
package hook

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
)

const (
	// EngineInit fires once the engine has started.
	EngineInit Point = iota
	// EngineEnd fires before the engine exits.
	EngineEnd
	// PostReset fires after a level or scene has been (re)loaded.
	PostReset
	// PreClearAll fires before the scene is torn down.
	PreClearAll
	// PostProcess fires at the end of every frame.
	PostProcess

	pointCount
)

var (
	// ErrInvalidPoint is returned for an unknown Point value or name.
	ErrInvalidPoint = errors.New("invalid hook point")
	// ErrNilHandler is returned by On for a nil handler.
	ErrNilHandler = errors.New("nil hook handler")
)

type (
	// Point names a host callback point.
	Point int

	// InvalidPointError is returned when a Point value is not recognized.
	// It wraps ErrInvalidPoint for errors.Is() compatibility.
	InvalidPointError struct {
		Value string
	}

	// Handler runs when its point fires.
	Handler func(ctx context.Context) error

	// ID identifies a registered handler.
	ID uint64

	// Table holds the handlers of every point. It is safe for concurrent
	// use; handlers may register or remove handlers while a point fires,
	// which takes effect on the next Fire.
	Table struct {
		mu       sync.RWMutex
		handlers [pointCount][]entry
		nextID   ID
		logger   *log.Logger
	}

	// Option configures a Table.
	Option func(*Table)

	entry struct {
		id   ID
		name string
		fn   Handler
	}
)

var pointNames = [pointCount]string{
	EngineInit:  "engine-init",
	EngineEnd:   "engine-end",
	PostReset:   "post-reset",
	PreClearAll: "pre-clear-all",
	PostProcess: "post-process",
}

// Points lists every point in firing-table order.
func Points() []Point {
	out := make([]Point, 0, pointCount)
	for p := range pointCount {
		out = append(out, p)
	}
	return out
}

// ParsePoint maps a name such as "post-reset" to its Point.
func ParsePoint(name string) (Point, error) {
	idx := slices.Index(pointNames[:], strings.ToLower(strings.TrimSpace(name)))
	if idx < 0 {
		return 0, &InvalidPointError{Value: name}
	}
	return Point(idx), nil
}

// String returns the point name.
func (p Point) String() string {
	if p.Validate() != nil {
		return fmt.Sprintf("Point(%d)", int(p))
	}
	return pointNames[p]
}

// Validate returns nil for a defined point.
func (p Point) Validate() error {
	if p < 0 || p >= pointCount {
		return &InvalidPointError{Value: fmt.Sprint(int(p))}
	}
	return nil
}

// Error implements the error interface for InvalidPointError.
func (e *InvalidPointError) Error() string {
	return fmt.Sprintf("invalid hook point %q (valid: %s)", e.Value, strings.Join(pointNames[:], ", "))
}

// Unwrap returns ErrInvalidPoint for errors.Is() compatibility.
func (e *InvalidPointError) Unwrap() error { return ErrInvalidPoint }

// WithLogger sets the logger used for handler failures.
func WithLogger(l *log.Logger) Option {
	return func(t *Table) { t.logger = l }
}

// New returns an empty table.
func New(opts ...Option) *Table {
	t := &Table{logger: log.Default()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// On appends h to the handlers of p. name only appears in logs.
func (t *Table) On(p Point, name string, h Handler) (ID, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	if h == nil {
		return 0, fmt.Errorf("%s %q: %w", p, name, ErrNilHandler)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	t.handlers[p] = append(t.handlers[p], entry{id: t.nextID, name: name, fn: h})
	return t.nextID, nil
}

// Off removes the handler registered as id.
func (t *Table) Off(id ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for p := range t.handlers {
		idx := slices.IndexFunc(t.handlers[p], func(e entry) bool { return e.id == id })
		if idx >= 0 {
			t.handlers[p] = slices.Delete(t.handlers[p], idx, idx+1)
			return true
		}
	}
	return false
}

// Clear removes every handler of p.
func (t *Table) Clear(p Point) {
	if p.Validate() != nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[p] = nil
}

// Count returns the number of handlers of p.
func (t *Table) Count(p Point) int {
	if p.Validate() != nil {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.handlers[p])
}

// Fire runs the handlers of p in order and returns their errors joined.
// A canceled ctx stops before the next handler.
func (t *Table) Fire(ctx context.Context, p Point) error {
	if err := p.Validate(); err != nil {
		return err
	}
	t.mu.RLock()
	handlers := slices.Clone(t.handlers[p])
	t.mu.RUnlock()

	var errs []error
	for _, e := range handlers {
		if err := ctx.Err(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
			break
		}
		if err := e.fn(ctx); err != nil {
			t.logger.Error("hook handler failed", "point", p, "handler", e.name, "err", err)
			errs = append(errs, fmt.Errorf("%s handler %s: %w", p, e.name, err))
		}
	}
	return errors.Join(errs...)
}

// SPDX-License-Identifier: MPL-2.0

// Package events implements the event bus shared by the loader and mods.
package events

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/balloon/balloon/pkg/modapi"
)

// Lifecycle events published by the loader.
const (
	ModsLoaded       = "balloon.mods.loaded"
	ModsInitialized  = "balloon.mods.initialized"
	ModsConnected    = "balloon.mods.connected"
	ModsDisconnected = "balloon.mods.disconnected"
	ModsShutdown     = "balloon.mods.shutdown"
	ModsUnloaded     = "balloon.mods.unloaded"
)

var (
	// ErrUnknownType is returned for event types or names never added.
	ErrUnknownType = errors.New("unknown event type")
	// ErrDuplicateName is returned when renaming onto a taken name.
	ErrDuplicateName = errors.New("event name already in use")
	// ErrDispatching is returned when the listeners of a type are changed
	// while that type is being sent.
	ErrDispatching = errors.New("event type is being dispatched")
	// ErrNilListener is returned by AddListener for a nil listener.
	ErrNilListener = errors.New("listener must not be nil")
)

type (
	// Manager is the modapi.Events implementation. It is safe for
	// concurrent use; listeners run without the manager lock held.
	Manager struct {
		mu      sync.Mutex
		names   []string // index is type-1
		byName  map[string]modapi.EventType
		subs    map[modapi.EventType][]subscription
		sending map[modapi.EventType]bool
		owner   map[modapi.ListenerID]modapi.EventType
		nextID  modapi.ListenerID
		logger  *log.Logger
	}

	subscription struct {
		id modapi.ListenerID
		fn modapi.Listener
	}
)

var _ modapi.Events = (*Manager)(nil)

// New returns an empty manager.
func New(logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		byName:  make(map[string]modapi.EventType),
		subs:    make(map[modapi.EventType][]subscription),
		sending: make(map[modapi.EventType]bool),
		owner:   make(map[modapi.ListenerID]modapi.EventType),
		logger:  logger,
	}
}

// AddType registers name and returns its type. An existing name returns
// its type unchanged; an empty name returns InvalidEventType.
func (m *Manager) AddType(name string) modapi.EventType {
	if name == "" {
		return modapi.InvalidEventType
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.byName[name]; ok {
		return t
	}
	m.names = append(m.names, name)
	t := modapi.EventType(len(m.names))
	m.byName[name] = t
	return t
}

// Type looks up the type registered for name.
func (m *Manager) Type(name string) (modapi.EventType, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byName[name]
	return t, ok
}

// TypeName returns the name of t.
func (m *Manager) TypeName(t modapi.EventType) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.valid(t) {
		return "", false
	}
	return m.names[t-1], true
}

// TypeCount returns the number of registered types.
func (m *Manager) TypeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.names)
}

// RenameType gives t a new name. The old name stops resolving.
func (m *Manager) RenameType(t modapi.EventType, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.valid(t) {
		return fmt.Errorf("%d: %w", t, ErrUnknownType)
	}
	if name == "" {
		return fmt.Errorf("empty name: %w", ErrUnknownType)
	}
	if other, ok := m.byName[name]; ok {
		if other == t {
			return nil
		}
		return fmt.Errorf("%s: %w", name, ErrDuplicateName)
	}
	delete(m.byName, m.names[t-1])
	m.names[t-1] = name
	m.byName[name] = t
	return nil
}

// AddListener subscribes l to t.
func (m *Manager) AddListener(t modapi.EventType, l modapi.Listener) (modapi.ListenerID, error) {
	if l == nil {
		return 0, ErrNilListener
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.valid(t) {
		return 0, fmt.Errorf("%d: %w", t, ErrUnknownType)
	}
	if m.sending[t] {
		return 0, fmt.Errorf("%s: %w", m.names[t-1], ErrDispatching)
	}
	m.nextID++
	m.subs[t] = append(m.subs[t], subscription{id: m.nextID, fn: l})
	m.owner[m.nextID] = t
	return m.nextID, nil
}

// AddListenerByName subscribes l to the type registered for name.
func (m *Manager) AddListenerByName(name string, l modapi.Listener) (modapi.ListenerID, error) {
	t, ok := m.Type(name)
	if !ok {
		return 0, fmt.Errorf("%s: %w", name, ErrUnknownType)
	}
	return m.AddListener(t, l)
}

// RemoveListener unsubscribes id. It reports false for unknown ids and
// while the listener's type is being dispatched.
func (m *Manager) RemoveListener(id modapi.ListenerID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.owner[id]
	if !ok || m.sending[t] {
		return false
	}
	m.subs[t] = slices.DeleteFunc(m.subs[t], func(s subscription) bool { return s.id == id })
	delete(m.owner, id)
	return true
}

// RemoveAllListeners unsubscribes every listener of t.
func (m *Manager) RemoveAllListeners(t modapi.EventType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.valid(t) {
		return fmt.Errorf("%d: %w", t, ErrUnknownType)
	}
	if m.sending[t] {
		return fmt.Errorf("%s: %w", m.names[t-1], ErrDispatching)
	}
	for _, s := range m.subs[t] {
		delete(m.owner, s.id)
	}
	delete(m.subs, t)
	return nil
}

// Send delivers payload to every listener of t in subscription order.
// Listeners returning false are unsubscribed. It reports false for unknown
// types and when t is already being dispatched.
func (m *Manager) Send(t modapi.EventType, payload any) bool {
	m.mu.Lock()
	if !m.valid(t) || m.sending[t] {
		m.mu.Unlock()
		return false
	}
	m.sending[t] = true
	ev := modapi.Event{Type: t, Name: m.names[t-1], Payload: payload}
	subs := slices.Clone(m.subs[t])
	m.mu.Unlock()

	var dropped []modapi.ListenerID
	for _, s := range subs {
		if !s.fn(ev) {
			dropped = append(dropped, s.id)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(dropped) > 0 {
		m.subs[t] = slices.DeleteFunc(m.subs[t], func(s subscription) bool { return slices.Contains(dropped, s.id) })
		for _, id := range dropped {
			delete(m.owner, id)
		}
	}
	delete(m.sending, t)
	m.logger.Debug("event sent", "event", ev.Name, "listeners", len(subs), "dropped", len(dropped))
	return true
}

// SendByName sends the type registered for name.
func (m *Manager) SendByName(name string, payload any) bool {
	t, ok := m.Type(name)
	if !ok {
		return false
	}
	return m.Send(t, payload)
}

// Reset forgets every type and listener.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.names = nil
	clear(m.byName)
	clear(m.subs)
	clear(m.sending)
	clear(m.owner)
}

func (m *Manager) valid(t modapi.EventType) bool {
	return t != modapi.InvalidEventType && int(t) <= len(m.names)
}

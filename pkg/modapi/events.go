// SPDX-License-Identifier: MPL-2.0

package modapi

// InvalidEventType is never assigned to a registered event type.
const InvalidEventType EventType = 0

type (
	// EventType identifies a named event.
	EventType uint32

	// ListenerID identifies one registered listener.
	ListenerID uint64

	// Event is delivered to listeners.
	Event struct {
		Type    EventType
		Name    string
		Payload any
	}

	// Listener handles an event. Returning false unsubscribes the listener.
	Listener func(Event) bool

	// Events is the process-wide event bus shared by the loader and mods.
	//
	// While an event type is being dispatched its listener list is locked:
	// sending it again or changing its listeners fails.
	Events interface {
		AddType(name string) EventType
		Type(name string) (EventType, bool)
		TypeName(t EventType) (string, bool)
		TypeCount() int
		RenameType(t EventType, name string) error
		AddListener(t EventType, l Listener) (ListenerID, error)
		AddListenerByName(name string, l Listener) (ListenerID, error)
		RemoveListener(id ListenerID) bool
		RemoveAllListeners(t EventType) error
		Send(t EventType, payload any) bool
		SendByName(name string, payload any) bool
	}
)

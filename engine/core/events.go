package core

import "sync"

type EventContext struct {
	Data struct {
		U64 [2]uint64
		U32 [4]uint32
		I32 [4]int32
		C   [4]string
	}
}

// System internal event codes. Application should use codes beyond 255.
type SystemEventCode int

const (
	// Shuts the application down on the next frame.
	EVENT_CODE_APPLICATION_QUIT SystemEventCode = 0x01

	// A shader program was recompiled and relinked.
	/* Context usage:
	 * string shader_name = data.C[0];
	 * u32 generation = data.U32[0];
	 */
	EVENT_CODE_SHADER_REBUILT SystemEventCode = 0x10

	// An external resource the registries depend on changed.
	/* Context usage:
	 * string resource_name = data.C[0];
	 */
	EVENT_CODE_RESOURCE_UPDATED SystemEventCode = 0x11

	// The backend's global state (current program, VAO) changed outside the registries.
	/* Context usage:
	 * u32 program = data.U32[0];
	 */
	EVENT_CODE_BACKEND_STATE_CHANGED SystemEventCode = 0x12

	// A frame ended.
	/* Context usage:
	 * u64 frame = data.U64[0];
	 */
	EVENT_CODE_FRAME_END SystemEventCode = 0x13

	MAX_EVENT_CODE SystemEventCode = 0xFF
)

// This should be more than enough codes...
const MAX_MESSAGE_CODES = 16384

// Should return true if handled.
type FnOnEvent func(code SystemEventCode, sender interface{}, listener interface{}, data EventContext) bool

type registeredEvent struct {
	listener interface{}
	callback FnOnEvent
}

// EventBus dispatches events synchronously to registered listeners.
type EventBus struct {
	mu         sync.RWMutex
	registered map[SystemEventCode][]*registeredEvent
}

func NewEventBus() *EventBus {
	return &EventBus{registered: make(map[SystemEventCode][]*registeredEvent)}
}

var onceEvent sync.Once
var defaultBus *EventBus

// DefaultEventBus is the process-wide bus.
func DefaultEventBus() *EventBus {
	onceEvent.Do(func() {
		defaultBus = NewEventBus()
	})
	return defaultBus
}

/**
 * Register to listen for when events are sent with the provided code. Events with duplicate
 * listener/callback combos will not be registered again and will cause this to return FALSE.
 * @param code The event code to listen for.
 * @param listener A pointer to a listener instance. Can be 0/NULL.
 * @param on_event The callback function pointer to be invoked when the event code is fired.
 * @returns TRUE if the event is successfully registered; otherwise false.
 */
func (b *EventBus) Register(code SystemEventCode, listener interface{}, onEvent FnOnEvent) bool {
	if code < 0 || code >= MAX_MESSAGE_CODES || onEvent == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.registered[code] {
		if e.listener == listener {
			LogWarn("event code %d already has this listener registered", code)
			return false
		}
	}
	b.registered[code] = append(b.registered[code], &registeredEvent{
		listener: listener,
		callback: onEvent,
	})
	return true
}

/**
 * Unregister from listening for when events are sent with the provided code. If no matching
 * registration is found, this function returns FALSE.
 * @param code The event code to stop listening for.
 * @param listener A pointer to a listener instance. Can be 0/NULL.
 * @returns TRUE if the event is successfully unregistered; otherwise false.
 */
func (b *EventBus) Unregister(code SystemEventCode, listener interface{}) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	events := b.registered[code]
	for i, e := range events {
		if e.listener == listener {
			b.registered[code] = append(events[:i], events[i+1:]...)
			return true
		}
	}
	return false
}

// UnregisterAll removes the listener from every code.
func (b *EventBus) UnregisterAll(listener interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for code, events := range b.registered {
		kept := events[:0]
		for _, e := range events {
			if e.listener != listener {
				kept = append(kept, e)
			}
		}
		b.registered[code] = kept
	}
}

/**
 * Fires an event to listeners of the given code. If an event handler returns
 * TRUE, the event is considered handled and is not passed on to any more listeners.
 * @param code The event code to fire.
 * @param sender A pointer to the sender. Can be 0/NULL.
 * @param data The event data.
 * @returns TRUE if handled, otherwise FALSE.
 */
func (b *EventBus) Fire(code SystemEventCode, sender interface{}, context EventContext) bool {
	b.mu.RLock()
	events := append([]*registeredEvent(nil), b.registered[code]...)
	b.mu.RUnlock()
	for _, e := range events {
		if e.callback(code, sender, e.listener, context) {
			// Message has been handled, do not send to other listeners.
			return true
		}
	}
	return false
}

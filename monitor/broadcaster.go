package monitor

import "sync"

// EventType classifies a BroadcastEvent, mirroring the ARM emulator's
// api/broadcaster.go EventType split between state, output, and
// execution events.
type EventType string

const (
	EventState     EventType = "state"
	EventStep      EventType = "step"
	EventBreakpoint EventType = "breakpoint"
	EventHalt      EventType = "halt"
)

// BroadcastEvent is one message fanned out to every matching
// subscriber, the RISC-V analogue of the ARM emulator's session-keyed
// BroadcastEvent, keyed by hart index instead of session ID.
type BroadcastEvent struct {
	Type   EventType              `json:"type"`
	HartID int                    `json:"hartId"`
	Data   map[string]interface{} `json:"data"`
}

// Subscription is one WebSocket client's filter: HartID < 0 means "all
// harts", an empty EventTypes set means "all event types".
type Subscription struct {
	HartID     int
	EventTypes map[EventType]bool
	Channel    chan BroadcastEvent
}

// Broadcaster fans out hart step/state events to every subscribed
// WebSocket client, grounded on the ARM emulator's api/broadcaster.go
// register/unregister/broadcast select loop.
type Broadcaster struct {
	mu            sync.RWMutex
	subscriptions map[*Subscription]bool
	broadcast     chan BroadcastEvent
	register      chan *Subscription
	unregister    chan *Subscription
	done          chan struct{}
}

// NewBroadcaster starts the broadcaster's event loop in the background.
func NewBroadcaster() *Broadcaster {
	b := &Broadcaster{
		subscriptions: make(map[*Subscription]bool),
		broadcast:     make(chan BroadcastEvent, 256),
		register:      make(chan *Subscription),
		unregister:    make(chan *Subscription),
		done:          make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Broadcaster) run() {
	for {
		select {
		case sub := <-b.register:
			b.mu.Lock()
			b.subscriptions[sub] = true
			b.mu.Unlock()

		case sub := <-b.unregister:
			b.mu.Lock()
			if b.subscriptions[sub] {
				delete(b.subscriptions, sub)
				close(sub.Channel)
			}
			b.mu.Unlock()

		case event := <-b.broadcast:
			b.mu.RLock()
			for sub := range b.subscriptions {
				if sub.HartID >= 0 && sub.HartID != event.HartID {
					continue
				}
				if len(sub.EventTypes) > 0 && !sub.EventTypes[event.Type] {
					continue
				}
				select {
				case sub.Channel <- event:
				default:
				}
			}
			b.mu.RUnlock()

		case <-b.done:
			b.mu.Lock()
			for sub := range b.subscriptions {
				close(sub.Channel)
			}
			b.subscriptions = make(map[*Subscription]bool)
			b.mu.Unlock()
			return
		}
	}
}

// Subscribe registers a new client filter and returns its channel.
func (b *Broadcaster) Subscribe(hartID int, types []EventType) *Subscription {
	typeMap := make(map[EventType]bool, len(types))
	for _, t := range types {
		typeMap[t] = true
	}
	sub := &Subscription{
		HartID:     hartID,
		EventTypes: typeMap,
		Channel:    make(chan BroadcastEvent, 64),
	}
	b.register <- sub
	return sub
}

// Unsubscribe removes a client filter and closes its channel.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	b.unregister <- sub
}

// Broadcast publishes an event to every matching subscription,
// dropping it if the broadcaster's internal queue is full.
func (b *Broadcaster) Broadcast(event BroadcastEvent) {
	select {
	case b.broadcast <- event:
	default:
	}
}

// Close shuts down the broadcaster and every open subscription.
func (b *Broadcaster) Close() {
	close(b.done)
}

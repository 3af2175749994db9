// Package events provides the append-only observability channel the purchase
// flow logs to: an in-process fan-out broker with bounded history, plus the
// process-wide status snapshot served by the /status endpoint. The broker is
// constructed once at startup and passed to whichever component currently owns
// control; nothing reads events back to make decisions.
package events

import (
	"encoding/json"
	"log"
	"sync"
	"time"
)

// EventType tags the kind of event on the wire.
type EventType string

const (
	TypeStep           EventType = "step"
	TypeMessage        EventType = "message"
	TypeURLDetected    EventType = "url_detected"
	TypeStateChange    EventType = "state_change"
	TypeError          EventType = "error"
	TypeActionRequired EventType = "action_required"
	TypeOrderPending   EventType = "order_pending"
	TypeOrderPlaced    EventType = "order_placed"
	TypeScreenshot     EventType = "screenshot"
)

// BotState is the process-wide status shown on the dashboard.
type BotState string

const (
	StateIdle         BotState = "idle"
	StateBootstrap    BotState = "bootstrap"
	StateMonitoring   BotState = "monitoring"
	StateOpening      BotState = "opening_product"
	StateAddToCart    BotState = "adding_to_cart"
	StateCheckout     BotState = "proceeding_to_checkout"
	StateOrderPending BotState = "place_order_pending"
	StateOrderPlaced  BotState = "order_placed"
	StateError        BotState = "error"
	StatePaused       BotState = "paused"
)

// Event is the uniform envelope broadcast to subscribers and logged to stdout.
type Event struct {
	TS      time.Time              `json:"ts"`
	Type    EventType              `json:"type"`
	Step    string                 `json:"step"`
	URL     string                 `json:"url,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Status is the snapshot returned by the /status endpoint.
type Status struct {
	State           BotState               `json:"state"`
	LastAction      map[string]interface{} `json:"last_action"`
	CurrentURLs     []string               `json:"current_urls"`
	UptimeSeconds   float64                `json:"uptime_seconds"`
	SubscriberCount int                    `json:"subscriber_count"`
}

// Publisher receives every event the broker accepts, e.g. a NATS bridge.
type Publisher interface {
	Publish(Event) error
}

// Broker fans events out to subscribers and tracks the current status.
type Broker struct {
	mu          sync.Mutex
	subscribers map[chan Event]struct{}
	history     []Event
	maxHistory  int
	bridge      Publisher

	state       BotState
	lastAction  map[string]interface{}
	currentURLs []string
	startTime   time.Time
}

// NewBroker creates a broker keeping up to maxHistory past events. bridge may
// be nil when no external publishing is configured.
func NewBroker(maxHistory int, bridge Publisher) *Broker {
	if maxHistory <= 0 {
		maxHistory = 100
	}
	return &Broker{
		subscribers: make(map[chan Event]struct{}),
		maxHistory:  maxHistory,
		bridge:      bridge,
		state:       StateIdle,
		startTime:   time.Now().UTC(),
	}
}

// Publish records the event, logs it as a structured line, forwards it to the
// bridge and broadcasts it. Slow subscribers are dropped rather than blocking
// the flow.
func (b *Broker) Publish(evtType EventType, step, url string, details map[string]interface{}) {
	evt := Event{
		TS:      time.Now().UTC(),
		Type:    evtType,
		Step:    step,
		URL:     url,
		Details: details,
	}

	if line, err := json.Marshal(evt); err == nil {
		log.Printf("%s", line)
	}

	b.mu.Lock()
	b.history = append(b.history, evt)
	if len(b.history) > b.maxHistory {
		b.history = b.history[len(b.history)-b.maxHistory:]
	}
	for ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			delete(b.subscribers, ch)
			close(ch)
		}
	}
	bridge := b.bridge
	b.mu.Unlock()

	if bridge != nil {
		if err := bridge.Publish(evt); err != nil {
			log.Printf("⚠️ [Events] bridge publish failed: %v", err)
		}
	}
}

// Subscribe registers a new subscriber. The caller must call the returned
// cancel function when done; the channel is closed on cancel or when the
// subscriber falls behind.
func (b *Broker) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 100)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subscribers[ch]; ok {
			delete(b.subscribers, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// History returns up to limit most recent events, oldest first.
func (b *Broker) History(limit int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if limit <= 0 || limit > len(b.history) {
		limit = len(b.history)
	}
	out := make([]Event, limit)
	copy(out, b.history[len(b.history)-limit:])
	return out
}

// SetState updates the process-wide status flag.
func (b *Broker) SetState(state BotState) {
	b.mu.Lock()
	b.state = state
	b.mu.Unlock()
}

// State returns the current process-wide status flag.
func (b *Broker) State() BotState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// SetLastAction records the most recent action summary for the dashboard.
func (b *Broker) SetLastAction(action map[string]interface{}) {
	b.mu.Lock()
	b.lastAction = action
	b.mu.Unlock()
}

// SetCurrentURLs records which URLs the bot is working on right now.
func (b *Broker) SetCurrentURLs(urls []string) {
	b.mu.Lock()
	b.currentURLs = urls
	b.mu.Unlock()
}

// Status returns the snapshot for the /status endpoint.
func (b *Broker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{
		State:           b.state,
		LastAction:      b.lastAction,
		CurrentURLs:     append([]string(nil), b.currentURLs...),
		UptimeSeconds:   time.Since(b.startTime).Seconds(),
		SubscriberCount: len(b.subscribers),
	}
}

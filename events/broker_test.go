package events

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureBridge struct {
	events []Event
	err    error
}

func (c *captureBridge) Publish(evt Event) error {
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, evt)
	return nil
}

func TestBrokerFanOut(t *testing.T) {
	b := NewBroker(10, nil)
	ch1, cancel1 := b.Subscribe()
	ch2, cancel2 := b.Subscribe()
	defer cancel1()
	defer cancel2()

	b.Publish(TypeStep, "adding_to_cart", "https://example.com", map[string]interface{}{"selector": "#x"})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case evt := <-ch:
			assert.Equal(t, TypeStep, evt.Type)
			assert.Equal(t, "adding_to_cart", evt.Step)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive the event")
		}
	}
}

func TestBrokerHistoryCap(t *testing.T) {
	b := NewBroker(5, nil)
	for i := 0; i < 12; i++ {
		b.Publish(TypeMessage, fmt.Sprintf("step-%d", i), "", nil)
	}

	hist := b.History(0)
	require.Len(t, hist, 5)
	assert.Equal(t, "step-7", hist[0].Step, "history keeps only the newest events, oldest first")
	assert.Equal(t, "step-11", hist[4].Step)
}

func TestBrokerHistoryLimit(t *testing.T) {
	b := NewBroker(10, nil)
	for i := 0; i < 6; i++ {
		b.Publish(TypeMessage, fmt.Sprintf("step-%d", i), "", nil)
	}
	hist := b.History(2)
	require.Len(t, hist, 2)
	assert.Equal(t, "step-4", hist[0].Step)
}

func TestBrokerDropsSlowSubscriber(t *testing.T) {
	b := NewBroker(1000, nil)
	ch, cancel := b.Subscribe()
	defer cancel()

	// Never read: once the buffer fills, the subscriber must be dropped
	// rather than blocking publishers.
	for i := 0; i < 150; i++ {
		b.Publish(TypeMessage, "flood", "", nil)
	}

	assert.Equal(t, 0, b.Status().SubscriberCount)

	// Drain until close to confirm the channel was terminated.
	deadline := time.After(time.Second)
	for {
		select {
		case _, open := <-ch:
			if !open {
				return
			}
		case <-deadline:
			t.Fatal("dropped subscriber channel never closed")
		}
	}
}

func TestBrokerBridgeForwarding(t *testing.T) {
	bridge := &captureBridge{}
	b := NewBroker(10, bridge)

	b.Publish(TypeOrderPlaced, "order_placed", "https://example.com", nil)

	require.Len(t, bridge.events, 1)
	assert.Equal(t, TypeOrderPlaced, bridge.events[0].Type)
}

func TestBrokerBridgeFailureIsNonFatal(t *testing.T) {
	b := NewBroker(10, &captureBridge{err: errors.New("nats down")})
	assert.NotPanics(t, func() {
		b.Publish(TypeStep, "step", "", nil)
	})
	assert.Len(t, b.History(0), 1)
}

func TestBrokerStatus(t *testing.T) {
	b := NewBroker(10, nil)
	b.SetState(StateCheckout)
	b.SetCurrentURLs([]string{"https://example.com/dp/X"})
	b.SetLastAction(map[string]interface{}{"action": "order_placed"})

	_, cancel := b.Subscribe()
	defer cancel()

	st := b.Status()
	assert.Equal(t, StateCheckout, st.State)
	assert.Equal(t, []string{"https://example.com/dp/X"}, st.CurrentURLs)
	assert.Equal(t, "order_placed", st.LastAction["action"])
	assert.Equal(t, 1, st.SubscriberCount)
	assert.GreaterOrEqual(t, st.UptimeSeconds, 0.0)
}

func TestBrokerCancelIsIdempotent(t *testing.T) {
	b := NewBroker(10, nil)
	_, cancel := b.Subscribe()
	cancel()
	assert.NotPanics(t, cancel)
	assert.Equal(t, 0, b.Status().SubscriberCount)
}

// Package intake receives matched-deal notifications over NATS and turns them
// into purchase work items: record the activity, enqueue the work, emit the
// detection event. Matching itself happens upstream; everything arriving here
// is already a deal worth buying.
package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"dealbot/events"
	"dealbot/flow"
	"dealbot/store"
)

// Deal is the wire payload published by the deal watcher.
type Deal struct {
	URL         string                 `json:"url"`
	URLs        []string               `json:"urls,omitempty"`
	MessageID   string                 `json:"message_id"`
	Channel     string                 `json:"channel,omitempty"`
	Requester   string                 `json:"requester,omitempty"`
	Product     string                 `json:"product,omitempty"`
	Price       *float64               `json:"price,omitempty"`
	MatchedRule map[string]interface{} `json:"matched_rule,omitempty"`
}

// Enqueuer is the work queue surface intake needs. *flow.Queue satisfies it.
type Enqueuer interface {
	Push(flow.WorkItem)
}

// Recorder opens the activity record for a deal. *store.Activity satisfies it.
type Recorder interface {
	Add(ctx context.Context, item store.Item) error
}

// Intake decodes deals and hands them to the queue.
type Intake struct {
	queue Enqueuer
	trail Recorder
	sink  flow.EventSink

	nc  *nats.Conn
	sub *nats.Subscription
}

// New builds an intake. trail may be nil when no activity store is configured.
func New(queue Enqueuer, trail Recorder, sink flow.EventSink) *Intake {
	return &Intake{queue: queue, trail: trail, sink: sink}
}

// Listen connects to NATS and subscribes to the deals subject. Messages are
// handled inline; a bad payload is logged and dropped, never fatal.
func (i *Intake) Listen(url, subject string) error {
	nc, err := nats.Connect(url,
		nats.Name("dealbot-intake"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		if err := i.Handle(context.Background(), msg.Data); err != nil {
			log.Printf("⚠️ [Intake] dropped deal: %v", err)
		}
	})
	if err != nil {
		nc.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	i.nc = nc
	i.sub = sub
	log.Printf("📨 [Intake] listening on %s", subject)
	return nil
}

// Close tears down the subscription and connection.
func (i *Intake) Close() {
	if i.sub != nil {
		i.sub.Unsubscribe()
	}
	if i.nc != nil {
		i.nc.Close()
	}
}

// Handle decodes one deal payload and enqueues it. Exposed for tests and for
// the HTTP enqueue endpoint, which shares the wire format.
func (i *Intake) Handle(ctx context.Context, data []byte) error {
	var deal Deal
	if err := json.Unmarshal(data, &deal); err != nil {
		return fmt.Errorf("failed to decode deal: %w", err)
	}
	if deal.URL == "" && len(deal.URLs) > 0 {
		deal.URL = deal.URLs[0]
	}
	if deal.URL == "" {
		return fmt.Errorf("deal has no product URL")
	}
	if deal.MessageID == "" {
		deal.MessageID = uuid.NewString()
	}

	if i.trail != nil {
		item := store.Item{
			MessageID:   deal.MessageID,
			Channel:     deal.Channel,
			Product:     deal.Product,
			URLs:        deal.URLs,
			Triggered:   true,
			MatchedRule: deal.MatchedRule,
		}
		if len(item.URLs) == 0 {
			item.URLs = []string{deal.URL}
		}
		if deal.Price != nil {
			item.Price = *deal.Price
		}
		if err := i.trail.Add(ctx, item); err != nil {
			log.Printf("⚠️ [Intake] activity record failed for %s: %v", deal.MessageID, err)
		}
	}

	i.queue.Push(flow.WorkItem{
		URL: deal.URL,
		Buyer: flow.BuyerContext{
			MessageID: deal.MessageID,
			Channel:   deal.Channel,
			Requester: deal.Requester,
		},
		ExpectedPrice: deal.Price,
	})

	i.sink.Publish(events.TypeURLDetected, "deal_enqueued", deal.URL, map[string]interface{}{
		"message_id": deal.MessageID,
		"channel":    deal.Channel,
		"product":    deal.Product,
	})
	return nil
}

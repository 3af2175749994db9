// Package store persists the per-item activity trail in Redis: one JSON
// document per detected deal, a step-by-step audit trail appended during the
// purchase flow, and the terminal result. The state machine never reads the
// trail back; it exists for the dashboard and post-hoc debugging.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	indexKey  = "dealbot:activity:index"
	itemKeyFn = "dealbot:activity:item:%s"
)

// Item is one detected deal and everything that happened to it.
type Item struct {
	TS          time.Time              `json:"ts"`
	MessageID   string                 `json:"message_id"`
	Channel     string                 `json:"channel,omitempty"`
	Product     string                 `json:"product,omitempty"`
	Price       float64                `json:"price,omitempty"`
	URLs        []string               `json:"urls,omitempty"`
	Triggered   bool                   `json:"triggered"`
	MatchedRule map[string]interface{} `json:"matched_rule,omitempty"`

	Steps         []StepRecord           `json:"steps,omitempty"`
	ResultStatus  string                 `json:"result_status,omitempty"`
	ResultMessage string                 `json:"result_message,omitempty"`
	ResultDetails map[string]interface{} `json:"result_details,omitempty"`
}

// StepRecord is one entry of the audit trail.
type StepRecord struct {
	TS      time.Time              `json:"ts"`
	Step    string                 `json:"step"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Activity is the Redis-backed store.
type Activity struct {
	rdb      *redis.Client
	maxItems int
}

// New creates a store trimming the index to maxItems entries.
func New(rdb *redis.Client, maxItems int) *Activity {
	if maxItems <= 0 {
		maxItems = 100
	}
	return &Activity{rdb: rdb, maxItems: maxItems}
}

// Add records a new activity item and trims the index. Older entries beyond
// the cap have their documents deleted as well.
func (a *Activity) Add(ctx context.Context, item Item) error {
	if item.TS.IsZero() {
		item.TS = time.Now().UTC()
	}
	if err := a.writeItem(ctx, item); err != nil {
		return err
	}
	if err := a.rdb.LPush(ctx, indexKey, item.MessageID).Err(); err != nil {
		return fmt.Errorf("failed to index activity item: %w", err)
	}

	evicted, err := a.rdb.LRange(ctx, indexKey, int64(a.maxItems), -1).Result()
	if err == nil {
		for _, id := range evicted {
			a.rdb.Del(ctx, itemKey(id))
		}
	}
	return a.rdb.LTrim(ctx, indexKey, 0, int64(a.maxItems-1)).Err()
}

// AppendStep appends one audit-trail record to the item's document.
func (a *Activity) AppendStep(ctx context.Context, messageID, step, message string, details map[string]interface{}) error {
	item, err := a.Get(ctx, messageID)
	if err != nil {
		return err
	}
	item.Steps = append(item.Steps, StepRecord{
		TS:      time.Now().UTC(),
		Step:    step,
		Message: message,
		Details: details,
	})
	return a.writeItem(ctx, *item)
}

// UpdateResult sets the terminal outcome on the item.
func (a *Activity) UpdateResult(ctx context.Context, messageID, status, message string, details map[string]interface{}) error {
	item, err := a.Get(ctx, messageID)
	if err != nil {
		return err
	}
	item.ResultStatus = status
	item.ResultMessage = message
	item.ResultDetails = details
	return a.writeItem(ctx, *item)
}

// Get loads one item by message id.
func (a *Activity) Get(ctx context.Context, messageID string) (*Item, error) {
	data, err := a.rdb.Get(ctx, itemKey(messageID)).Bytes()
	if err != nil {
		return nil, fmt.Errorf("activity item %s not found: %w", messageID, err)
	}
	var item Item
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("failed to decode activity item %s: %w", messageID, err)
	}
	return &item, nil
}

// Recent returns up to limit items, newest first.
func (a *Activity) Recent(ctx context.Context, limit int) ([]Item, error) {
	if limit <= 0 || limit > a.maxItems {
		limit = a.maxItems
	}
	ids, err := a.rdb.LRange(ctx, indexKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list activity index: %w", err)
	}
	items := make([]Item, 0, len(ids))
	for _, id := range ids {
		item, err := a.Get(ctx, id)
		if err != nil {
			continue // evicted concurrently
		}
		items = append(items, *item)
	}
	return items, nil
}

func (a *Activity) writeItem(ctx context.Context, item Item) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to encode activity item: %w", err)
	}
	return a.rdb.Set(ctx, itemKey(item.MessageID), data, 0).Err()
}

func itemKey(id string) string { return fmt.Sprintf(itemKeyFn, id) }

// Package flow implements the purchase execution state machine: open product →
// validate seller/price → add to cart → checkout → place order, the selector
// resolution strategy, the offer-selection algorithm, the retry/timeout policy
// and the single-flow-at-a-time worker driving it from the work queue.
//
// The package talks to the browser only through the Page/Element/Diagnostics
// capability interfaces; the playwright implementations live in the browser
// package and tests drive the flow with fakes.
package flow

import (
	"context"
	"time"

	"dealbot/events"
)

// State is the live state of one purchase flow.
type State string

const (
	StateIdle             State = "idle"
	StateOpeningProduct   State = "opening_product"
	StateAddingToCart     State = "adding_to_cart"
	StateWaitingCartConf  State = "waiting_cart_confirmation"
	StateProceedingToCkt  State = "proceeding_to_checkout"
	StateOnCheckoutPage   State = "on_checkout_page"
	StatePlacingOrder     State = "placing_order"
	StateOrderPendingConf State = "order_pending_confirmation"
	StateOrderPlaced      State = "order_placed"
	StateError            State = "error"
	StateComplete         State = "complete"
)

// Result is the flow's sole output contract. Business failures are reported
// here, never as Go errors past the flow boundary.
type Result struct {
	Success bool                   `json:"success"`
	State   State                  `json:"state"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details"`
}

// BuyerContext identifies who asked for the purchase and which chat message
// triggered it. MessageID keys the audit trail.
type BuyerContext struct {
	MessageID string `json:"message_id"`
	Channel   string `json:"channel,omitempty"`
	Requester string `json:"requester,omitempty"`
}

// WorkItem is the unit the queue carries.
type WorkItem struct {
	URL           string       `json:"url"`
	Buyer         BuyerContext `json:"buyer"`
	ExpectedPrice *float64     `json:"expected_price,omitempty"`
}

// SellerInfo is the seller/shipper snapshot taken during validation. Created
// once per flow attempt; never mutated afterwards.
type SellerInfo struct {
	ShipsFrom string
	SoldBy    string
	RawText   string
}

// PriceInfo is the displayed-price snapshot taken during validation.
type PriceInfo struct {
	Displayed *float64
	RawText   string
}

// Page is the automated page lent to the flow by the browsing substrate.
// The flow never closes it; the worker releases it after every item.
type Page interface {
	Navigate(url string, timeout time.Duration) error
	URL() string
	Locator(selector string) Element
}

// Element is a handle to a located page element. Lookups are lazy; Visible
// reports whether the first match became visible within the timeout.
type Element interface {
	Visible(timeout time.Duration) bool
	Click(timeout time.Duration) error
	Text(timeout time.Duration) (string, error)
	Attribute(name string) (string, bool)
	Locator(selector string) Element
	Count() int
	Nth(i int) Element
}

// Diagnostics captures failure artifacts. Paths are returned for inclusion in
// error events and result details; empty string means capture failed, which is
// never fatal.
type Diagnostics interface {
	Screenshot(tag string) string
	StartTrace()
	StopTrace(tag string) string
}

// EventSink is the observability channel the flow logs to. *events.Broker
// satisfies it.
type EventSink interface {
	Publish(t events.EventType, step, url string, details map[string]interface{})
	SetState(events.BotState)
	SetCurrentURLs(urls []string)
	SetLastAction(action map[string]interface{})
}

// Trail is the external per-item audit store. *store.Activity satisfies it.
type Trail interface {
	AppendStep(ctx context.Context, messageID, step, message string, details map[string]interface{}) error
}

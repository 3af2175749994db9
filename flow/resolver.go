package flow

import (
	"context"
	"time"

	"dealbot/events"
)

// Resolver finds the first visible element among an ordered candidate list.
// Candidate order encodes priority: earlier selectors are the economically
// correct target when several are visible at once.
type Resolver struct {
	page  Page
	sink  EventSink
	probe time.Duration // per-candidate visibility probe, fails fast on absent selectors
	poll  time.Duration // cadence between WaitForAny passes
}

// NewResolver builds a resolver bound to one page. probe should be tens to low
// hundreds of milliseconds; poll a few hundred.
func NewResolver(page Page, sink EventSink, probe, poll time.Duration) *Resolver {
	return &Resolver{page: page, sink: sink, probe: probe, poll: poll}
}

// FindAndClick probes the candidates in order and clicks the first visible
// one with the full interaction timeout. It acts on at most one candidate per
// call: once a match is clicked, scanning stops. No visible candidate is a
// normal negative result, not an error.
func (r *Resolver) FindAndClick(candidates []string, stepName string, timeout time.Duration) bool {
	_, ok := r.ClickFirst(candidates, stepName, timeout)
	return ok
}

// ClickFirst is FindAndClick reporting which candidate was acted on.
func (r *Resolver) ClickFirst(candidates []string, stepName string, timeout time.Duration) (string, bool) {
	for _, selector := range candidates {
		el := r.page.Locator(selector)
		if !el.Visible(r.probe) {
			continue
		}
		if err := el.Click(timeout); err != nil {
			continue
		}
		if r.sink != nil {
			r.sink.Publish(events.TypeStep, stepName, r.page.URL(), map[string]interface{}{
				"selector": selector,
				"action":   "clicked",
			})
		}
		return selector, true
	}
	return "", false
}

// WaitForAny polls the full candidate list at the fixed cadence until one
// becomes visible or the timeout elapses, returning which candidate matched.
// Cancellation is observed between polling passes; a probe already running
// completes or times out on its own.
func (r *Resolver) WaitForAny(ctx context.Context, candidates []string, timeout time.Duration) (string, bool) {
	if len(candidates) == 0 {
		return "", false
	}
	deadline := time.Now().Add(timeout)
	for {
		for _, selector := range candidates {
			if r.page.Locator(selector).Visible(r.probe) {
				return selector, true
			}
		}
		if time.Now().After(deadline) {
			return "", false
		}
		select {
		case <-ctx.Done():
			return "", false
		case <-time.After(r.poll):
		}
	}
}

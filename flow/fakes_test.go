package flow

import (
	"context"
	"sync"
	"time"

	"dealbot/config"
	"dealbot/events"
)

// fakePage is a scripted page: selectors map to elements, everything else is
// absent. Clicks are recorded in order.
type fakePage struct {
	mu          sync.Mutex
	url         string
	elements    map[string]*fakeElement
	clicks      []string
	navErr      error
	navigations []string
	redirectTo  string
}

func newFakePage(url string) *fakePage {
	return &fakePage{url: url, elements: map[string]*fakeElement{}}
}

func (p *fakePage) set(selector string, el *fakeElement) *fakeElement {
	el.page = p
	el.name = selector
	p.elements[selector] = el
	return el
}

func (p *fakePage) Navigate(url string, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigations = append(p.navigations, url)
	if p.navErr != nil {
		return p.navErr
	}
	p.url = url
	if p.redirectTo != "" {
		p.url = p.redirectTo
	}
	return nil
}

func (p *fakePage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *fakePage) Locator(selector string) Element {
	if el, ok := p.elements[selector]; ok {
		return el
	}
	return &fakeElement{page: p, name: selector}
}

func (p *fakePage) clicked() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.clicks...)
}

type fakeElement struct {
	page *fakePage
	name string

	visible            bool
	probesUntilVisible int
	text               string
	attrs              map[string]string
	clickErr           error
	onClick            func()

	items    []*fakeElement          // Count/Nth list
	children map[string]*fakeElement // scoped Locator
}

func (e *fakeElement) child(selector string, el *fakeElement) *fakeElement {
	if e.children == nil {
		e.children = map[string]*fakeElement{}
	}
	el.page = e.page
	el.name = e.name + " >> " + selector
	e.children[selector] = el
	return el
}

func (e *fakeElement) Visible(timeout time.Duration) bool {
	if e.probesUntilVisible > 0 {
		e.probesUntilVisible--
		return false
	}
	return e.visible
}

func (e *fakeElement) Click(timeout time.Duration) error {
	if e.clickErr != nil {
		return e.clickErr
	}
	if e.page != nil {
		e.page.mu.Lock()
		e.page.clicks = append(e.page.clicks, e.name)
		e.page.mu.Unlock()
	}
	if e.onClick != nil {
		e.onClick()
	}
	return nil
}

func (e *fakeElement) Text(timeout time.Duration) (string, error) {
	return e.text, nil
}

func (e *fakeElement) Attribute(name string) (string, bool) {
	v, ok := e.attrs[name]
	return v, ok
}

func (e *fakeElement) Locator(selector string) Element {
	if el, ok := e.children[selector]; ok {
		return el
	}
	return &fakeElement{page: e.page, name: e.name + " >> " + selector}
}

func (e *fakeElement) Count() int {
	if e.items != nil {
		return len(e.items)
	}
	if e.visible {
		return 1
	}
	return 0
}

func (e *fakeElement) Nth(i int) Element {
	if e.items != nil && i < len(e.items) {
		return e.items[i]
	}
	return e
}

// fakeSink records published events and state transitions.
type fakeSink struct {
	mu     sync.Mutex
	events []events.Event
	states []events.BotState
}

func (s *fakeSink) Publish(t events.EventType, step, url string, details map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events.Event{TS: time.Now(), Type: t, Step: step, URL: url, Details: details})
}

func (s *fakeSink) SetState(st events.BotState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, st)
}

func (s *fakeSink) SetCurrentURLs(urls []string)                {}
func (s *fakeSink) SetLastAction(action map[string]interface{}) {}

func (s *fakeSink) typed(t events.EventType) []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []events.Event
	for _, e := range s.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// fakeTrail records audit steps per message id.
type fakeTrail struct {
	mu    sync.Mutex
	steps map[string][]string
}

func (t *fakeTrail) AppendStep(ctx context.Context, messageID, step, message string, details map[string]interface{}) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.steps == nil {
		t.steps = map[string][]string{}
	}
	t.steps[messageID] = append(t.steps[messageID], step)
	return nil
}

type fakeDiag struct {
	mu          sync.Mutex
	screenshots []string
	traceOn     bool
}

func (d *fakeDiag) Screenshot(tag string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.screenshots = append(d.screenshots, tag)
	return "/artifacts/shot-" + tag + ".png"
}

func (d *fakeDiag) StartTrace() { d.traceOn = true }
func (d *fakeDiag) StopTrace(tag string) string {
	if !d.traceOn {
		return ""
	}
	d.traceOn = false
	return "/artifacts/trace-" + tag + ".zip"
}

// testConfig returns a config with timeouts collapsed so negative paths fail
// in milliseconds instead of minutes.
func testConfig() *config.Config {
	cfg, _ := config.Load("")
	cfg.PageLoadTimeoutMs = 50
	cfg.ElementVisibleMs = 20
	cfg.SelectorCheckMs = 1
	cfg.OfferPanelMs = 20
	cfg.CheckoutLoadMs = 20
	cfg.BuyboxReadyMs = 20
	cfg.CartConfirmMs = 20
	cfg.CheckoutReadyMs = 20
	cfg.OrderConfirmSeconds = 0
	cfg.WaitPollMs = 1
	cfg.WaitProbeMs = 1
	cfg.QueuePollSeconds = 1
	cfg.MaxRetries = 2
	cfg.RetryDelaySec = 0.001
	return cfg
}

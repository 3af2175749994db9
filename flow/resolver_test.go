package flow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealbot/events"
)

func newTestResolver(page *fakePage) (*Resolver, *fakeSink) {
	sink := &fakeSink{}
	return NewResolver(page, sink, time.Millisecond, time.Millisecond), sink
}

func TestFindAndClickPriorityOrder(t *testing.T) {
	page := newFakePage("https://www.amazon.com/dp/X")
	page.set("#primary", &fakeElement{visible: true})
	page.set("#fallback", &fakeElement{visible: true})

	r, sink := newTestResolver(page)
	ok := r.FindAndClick([]string{"#primary", "#fallback"}, "click_step", 10*time.Millisecond)

	require.True(t, ok)
	assert.Equal(t, []string{"#primary"}, page.clicked(), "only the highest-priority visible candidate may be acted on")

	steps := sink.typed(events.TypeStep)
	require.Len(t, steps, 1)
	assert.Equal(t, "#primary", steps[0].Details["selector"])
}

func TestFindAndClickSkipsInvisibleCandidates(t *testing.T) {
	page := newFakePage("https://www.amazon.com/dp/X")
	page.set("#hidden", &fakeElement{visible: false})
	page.set("#shown", &fakeElement{visible: true})

	r, _ := newTestResolver(page)
	selector, ok := r.ClickFirst([]string{"#hidden", "#shown"}, "click_step", 10*time.Millisecond)

	require.True(t, ok)
	assert.Equal(t, "#shown", selector)
	assert.Equal(t, []string{"#shown"}, page.clicked())
}

func TestFindAndClickFallsThroughOnClickError(t *testing.T) {
	page := newFakePage("https://www.amazon.com/dp/X")
	page.set("#flaky", &fakeElement{visible: true, clickErr: errors.New("detached")})
	page.set("#solid", &fakeElement{visible: true})

	r, _ := newTestResolver(page)
	selector, ok := r.ClickFirst([]string{"#flaky", "#solid"}, "click_step", 10*time.Millisecond)

	require.True(t, ok)
	assert.Equal(t, "#solid", selector)
}

func TestFindAndClickNoMatchIsNegativeNotFatal(t *testing.T) {
	page := newFakePage("https://www.amazon.com/dp/X")

	r, sink := newTestResolver(page)
	ok := r.FindAndClick([]string{"#a", "#b"}, "click_step", 10*time.Millisecond)

	assert.False(t, ok)
	assert.Empty(t, page.clicked())
	assert.Empty(t, sink.typed(events.TypeStep))
}

func TestWaitForAnyReturnsMatchedCandidate(t *testing.T) {
	page := newFakePage("https://www.amazon.com/dp/X")
	page.set("#late", &fakeElement{visible: true, probesUntilVisible: 3})

	r, _ := newTestResolver(page)
	sel, ok := r.WaitForAny(context.Background(), []string{"#never", "#late"}, 500*time.Millisecond)

	require.True(t, ok)
	assert.Equal(t, "#late", sel)
}

func TestWaitForAnyTimesOut(t *testing.T) {
	page := newFakePage("https://www.amazon.com/dp/X")

	r, _ := newTestResolver(page)
	_, ok := r.WaitForAny(context.Background(), []string{"#never"}, 5*time.Millisecond)

	assert.False(t, ok)
}

func TestWaitForAnyObservesCancellation(t *testing.T) {
	page := newFakePage("https://www.amazon.com/dp/X")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r, _ := newTestResolver(page)
	start := time.Now()
	_, ok := r.WaitForAny(ctx, []string{"#never"}, time.Minute)

	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second)
}

package flow

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"dealbot/config"
	"dealbot/events"
	"dealbot/selectors"
)

// Queue is the FIFO buffer between deal intake and the worker. Unbounded:
// detection must never block on a slow purchase.
type Queue struct {
	mu     sync.Mutex
	items  []WorkItem
	signal chan struct{}
}

func NewQueue() *Queue {
	return &Queue{signal: make(chan struct{}, 1)}
}

// Push appends an item and wakes a waiting Pop.
func (q *Queue) Push(item WorkItem) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Pop removes the oldest item, waiting up to timeout for one to arrive.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (WorkItem, bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, true
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return WorkItem{}, false
		case <-deadline.C:
			return WorkItem{}, false
		case <-q.signal:
		}
	}
}

// Len returns the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// PageProvider lends a product page plus its diagnostics to the worker for one
// item. The browser package implements it.
type PageProvider interface {
	AcquireProductPage() (Page, Diagnostics, error)
	ReleaseProductPage(Page)
}

// ResultStore persists the terminal outcome per item. *store.Activity
// satisfies it.
type ResultStore interface {
	UpdateResult(ctx context.Context, messageID, status, message string, details map[string]interface{}) error
}

// Worker drains the queue one item at a time. At most one purchase flow is
// ever live: the browser session holds real purchasing power and concurrent
// flows on one session would corrupt each other's cart.
type Worker struct {
	queue   *Queue
	pages   PageProvider
	sink    EventSink
	trail   Trail
	results ResultStore
	table   *selectors.Table
	cfg     *config.Config

	mu     sync.Mutex
	paused bool
}

func NewWorker(queue *Queue, pages PageProvider, sink EventSink, trail Trail, results ResultStore, table *selectors.Table, cfg *config.Config) *Worker {
	return &Worker{
		queue:   queue,
		pages:   pages,
		sink:    sink,
		trail:   trail,
		results: results,
		table:   table,
		cfg:     cfg,
	}
}

// Pause stops pulling new items. The in-flight flow, if any, finishes.
func (w *Worker) Pause() {
	w.mu.Lock()
	w.paused = true
	w.mu.Unlock()
	w.sink.SetState(events.StatePaused)
	w.sink.Publish(events.TypeMessage, "worker_paused", "", nil)
}

// Resume re-enables pulling from the queue.
func (w *Worker) Resume() {
	w.mu.Lock()
	w.paused = false
	w.mu.Unlock()
	w.sink.SetState(events.StateMonitoring)
	w.sink.Publish(events.TypeMessage, "worker_resumed", "", nil)
}

// Paused reports whether the worker is currently pausing intake.
func (w *Worker) Paused() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.paused
}

// Run drains the queue until the context is cancelled. The pause flag is
// checked before every pull, never mid-flow.
func (w *Worker) Run(ctx context.Context) {
	w.sink.SetState(events.StateMonitoring)
	log.Printf("🛒 [Worker] started, polling queue every %s", w.cfg.QueuePollTimeout())

	for {
		if ctx.Err() != nil {
			log.Printf("🛒 [Worker] stopping: %v", ctx.Err())
			return
		}
		if w.Paused() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.cfg.QueuePollTimeout()):
			}
			continue
		}
		item, ok := w.queue.Pop(ctx, w.cfg.QueuePollTimeout())
		if !ok {
			continue
		}
		w.processItem(ctx, item)
		w.sink.SetState(events.StateMonitoring)
	}
}

// processItem runs one flow on a fresh page. A defect in one item never takes
// the worker down.
func (w *Worker) processItem(ctx context.Context, item WorkItem) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ [Worker] item %s panicked: %v", item.Buyer.MessageID, r)
			w.sink.Publish(events.TypeError, "worker_panic", item.URL, map[string]interface{}{
				"message_id": item.Buyer.MessageID,
				"panic":      fmt.Sprint(r),
			})
			w.storeResult(ctx, item, Result{Success: false, State: StateError, Message: fmt.Sprintf("worker panic: %v", r)})
		}
	}()

	log.Printf("🛒 [Worker] processing %s (msg %s)", item.URL, item.Buyer.MessageID)
	page, diag, err := w.pages.AcquireProductPage()
	if err != nil {
		w.sink.Publish(events.TypeError, "page_acquire", item.URL, map[string]interface{}{"error": err.Error()})
		w.storeResult(ctx, item, Result{Success: false, State: StateError, Message: fmt.Sprintf("failed to acquire page: %v", err)})
		return
	}
	defer w.pages.ReleaseProductPage(page)

	res := New(page, diag, w.sink, w.trail, w.table, w.cfg).Execute(ctx, item)
	w.storeResult(ctx, item, res)

	w.sink.Publish(events.TypeMessage, "flow_complete", item.URL, map[string]interface{}{
		"message_id": item.Buyer.MessageID,
		"success":    res.Success,
		"state":      string(res.State),
		"result":     res.Message,
	})
	log.Printf("🛒 [Worker] done %s: success=%v state=%s", item.Buyer.MessageID, res.Success, res.State)
}

func (w *Worker) storeResult(ctx context.Context, item WorkItem, res Result) {
	if w.results == nil || item.Buyer.MessageID == "" {
		return
	}
	status := "failed"
	switch {
	case res.Success:
		status = "success"
	case res.State == StateOrderPendingConf:
		status = "pending_confirmation"
	}
	if err := w.results.UpdateResult(ctx, item.Buyer.MessageID, status, res.Message, res.Details); err != nil {
		log.Printf("⚠️ [Worker] failed to store result for %s: %v", item.Buyer.MessageID, err)
	}
}

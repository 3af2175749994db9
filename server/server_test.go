package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealbot/config"
	"dealbot/events"
	"dealbot/flow"
	"dealbot/selectors"
	"dealbot/store"
)

func newTestServer(t *testing.T) (*Server, *events.Broker, *flow.Queue, *store.Activity) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	activity := store.New(rdb, 10)

	broker := events.NewBroker(50, nil)
	queue := flow.NewQueue()
	cfg, err := config.Load("")
	require.NoError(t, err)
	worker := flow.NewWorker(queue, nil, broker, nil, nil, selectors.Default(), cfg)

	enqueue := func(data []byte) error {
		var deal struct {
			URL string `json:"url"`
		}
		if err := json.Unmarshal(data, &deal); err != nil || deal.URL == "" {
			return assert.AnError
		}
		queue.Push(flow.WorkItem{URL: deal.URL})
		return nil
	}
	return New(broker, activity, worker, queue, enqueue), broker, queue, activity
}

func doRequest(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	rec := doRequest(t, s, "GET", "/health", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestStatusSnapshot(t *testing.T) {
	s, broker, queue, _ := newTestServer(t)
	broker.SetState(events.StateMonitoring)
	queue.Push(flow.WorkItem{URL: "https://example.com/dp/X"})

	rec := doRequest(t, s, "GET", "/status", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(events.StateMonitoring), body["state"])
	assert.Equal(t, float64(1), body["queue_depth"])
	assert.Equal(t, false, body["paused"])
}

func TestEventsHistory(t *testing.T) {
	s, broker, _, _ := newTestServer(t)
	broker.Publish(events.TypeStep, "adding_to_cart", "", nil)
	broker.Publish(events.TypeOrderPlaced, "order_placed", "", nil)

	rec := doRequest(t, s, "GET", "/events/history?limit=1", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var hist []events.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hist))
	require.Len(t, hist, 1)
	assert.Equal(t, events.TypeOrderPlaced, hist[0].Type)
}

func TestActivityEndpoints(t *testing.T) {
	s, _, _, activity := newTestServer(t)
	require.NoError(t, activity.Add(context.Background(), store.Item{MessageID: "msg-1", Product: "Widget"}))

	rec := doRequest(t, s, "GET", "/activity", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var items []store.Item
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 1)
	assert.Equal(t, "Widget", items[0].Product)

	rec = doRequest(t, s, "GET", "/activity/msg-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, "GET", "/activity/ghost", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWorkerPauseResume(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	rec := doRequest(t, s, "POST", "/worker/pause", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, "GET", "/status", "")
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["paused"])

	rec = doRequest(t, s, "POST", "/worker/resume", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, s, "GET", "/status", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["paused"])
}

func TestEnqueueEndpoint(t *testing.T) {
	s, _, queue, _ := newTestServer(t)

	rec := doRequest(t, s, "POST", "/queue", `{"url":"https://www.amazon.com/dp/B0TEST"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, queue.Len())

	rec = doRequest(t, s, "POST", "/queue", `{"nope":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEventsStreamDeliversSSE(t *testing.T) {
	s, broker, _, _ := newTestServer(t)
	broker.Publish(events.TypeStep, "warmup", "", nil)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("GET", "/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		s.Router().ServeHTTP(rec, req)
		close(done)
	}()

	// The handler replays history on connect; cancel afterwards.
	cancel()
	<-done

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `"step":"warmup"`)
	assert.True(t, strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "data: "))
}

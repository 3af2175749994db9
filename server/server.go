// Package server exposes the control and observability surface over HTTP:
// status snapshot, live event stream, activity trail and worker controls.
// Nothing here participates in purchase decisions.
package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"dealbot/events"
	"dealbot/flow"
	"dealbot/store"
)

// Server wires the HTTP routes.
type Server struct {
	broker   *events.Broker
	activity *store.Activity
	worker   *flow.Worker
	queue    *flow.Queue
	enqueue  func(data []byte) error
}

// New builds the server. activity may be nil; enqueue accepts a raw deal
// payload (the NATS intake's Handle, usually).
func New(broker *events.Broker, activity *store.Activity, worker *flow.Worker, queue *flow.Queue, enqueue func(data []byte) error) *Server {
	return &Server{broker: broker, activity: activity, worker: worker, queue: queue, enqueue: enqueue}
}

// Router returns the configured mux router.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/status", s.handleStatus).Methods("GET")
	r.HandleFunc("/events", s.handleEvents).Methods("GET")
	r.HandleFunc("/events/history", s.handleHistory).Methods("GET")
	r.HandleFunc("/activity", s.handleActivity).Methods("GET")
	r.HandleFunc("/activity/{id}", s.handleActivityItem).Methods("GET")
	r.HandleFunc("/worker/pause", s.handlePause).Methods("POST")
	r.HandleFunc("/worker/resume", s.handleResume).Methods("POST")
	r.HandleFunc("/queue", s.handleEnqueue).Methods("POST")
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"state":  s.broker.State(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.broker.Status()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"state":            status.State,
		"last_action":      status.LastAction,
		"current_urls":     status.CurrentURLs,
		"uptime_seconds":   status.UptimeSeconds,
		"subscriber_count": status.SubscriberCount,
		"queue_depth":      s.queue.Len(),
		"paused":           s.worker.Paused(),
	})
}

// handleEvents streams broker events as Server-Sent Events until the client
// disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := s.broker.Subscribe()
	defer cancel()

	for _, evt := range s.broker.History(20) {
		writeSSE(w, evt)
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, open := <-ch:
			if !open {
				return
			}
			writeSSE(w, evt)
			flusher.Flush()
		}
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	writeJSON(w, http.StatusOK, s.broker.History(limit))
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	if s.activity == nil {
		writeJSON(w, http.StatusOK, []store.Item{})
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	items, err := s.activity.Recent(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleActivityItem(w http.ResponseWriter, r *http.Request) {
	if s.activity == nil {
		http.NotFound(w, r)
		return
	}
	id := mux.Vars(r)["id"]
	item, err := s.activity.Get(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.worker.Pause()
	writeJSON(w, http.StatusOK, map[string]interface{}{"paused": true})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.worker.Resume()
	writeJSON(w, http.StatusOK, map[string]interface{}{"paused": false})
}

// handleEnqueue accepts the same payload the NATS subject carries, for manual
// testing and for deployments without a broker.
func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	if s.enqueue == nil {
		http.Error(w, "enqueue not configured", http.StatusServiceUnavailable)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := s.enqueue(body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"queued":      true,
		"queue_depth": s.queue.Len(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("⚠️ [Server] response encode failed: %v", err)
	}
}

func writeSSE(w http.ResponseWriter, evt events.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

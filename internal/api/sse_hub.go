package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"trialsim/internal"
	"trialsim/internal/jobs"

	"github.com/gin-gonic/gin"
)

// pingInterval keeps idle SSE connections open through proxies
const pingInterval = 30 * time.Second

// SSEClient represents a connected SSE client
type SSEClient struct {
	JobID   string
	Channel chan jobs.Event
}

// SSEHub fans job events out to the clients watching each job
type SSEHub struct {
	clients    map[string]map[chan jobs.Event]bool
	clientsMu  sync.RWMutex
	register   chan SSEClient
	unregister chan SSEClient
	broadcast  chan jobs.Event
	done       chan struct{}
	closeOnce  sync.Once
	lookup     func(id string) (*jobs.Job, error)
	logger     *internal.Logger
}

var _ jobs.Publisher = (*SSEHub)(nil)

// NewSSEHub creates a hub and starts its dispatch loop
func NewSSEHub(logger *internal.Logger) *SSEHub {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	hub := &SSEHub{
		clients:    make(map[string]map[chan jobs.Event]bool),
		register:   make(chan SSEClient, 10),
		unregister: make(chan SSEClient, 10),
		broadcast:  make(chan jobs.Event, 100),
		done:       make(chan struct{}),
		logger:     logger.WithComponent("SSE"),
	}

	go hub.run()
	return hub
}

// run processes SSE hub operations
func (h *SSEHub) run() {
	for {
		select {
		case <-h.done:
			h.clientsMu.Lock()
			for pending := len(h.register); pending > 0; pending-- {
				close((<-h.register).Channel)
			}
			for jobID, clients := range h.clients {
				for ch := range clients {
					close(ch)
				}
				delete(h.clients, jobID)
			}
			h.clientsMu.Unlock()
			return

		case client := <-h.register:
			h.clientsMu.Lock()
			if h.clients[client.JobID] == nil {
				h.clients[client.JobID] = make(map[chan jobs.Event]bool)
			}
			h.clients[client.JobID][client.Channel] = true
			h.logger.Debug("client registered for job %s (total clients: %d)",
				client.JobID, len(h.clients[client.JobID]))
			h.clientsMu.Unlock()

		case client := <-h.unregister:
			h.clientsMu.Lock()
			if clients, exists := h.clients[client.JobID]; exists {
				if clients[client.Channel] {
					delete(clients, client.Channel)
					close(client.Channel)
				}
				if len(clients) == 0 {
					delete(h.clients, client.JobID)
				}
			}
			h.clientsMu.Unlock()

		case event := <-h.broadcast:
			h.clientsMu.RLock()
			for clientChan := range h.clients[string(event.JobID)] {
				select {
				case clientChan <- event:
				default:
					// slow client; the next event carries the full snapshot
					h.logger.Debug("client channel full for job %s, skipping event", event.JobID)
				}
			}
			h.clientsMu.RUnlock()
		}
	}
}

// Publish queues an event for the job's clients without blocking
func (h *SSEHub) Publish(event jobs.Event) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("broadcast channel full, dropping %s event for job %s", event.Type, event.JobID)
	}
}

// Close stops the dispatch loop and ends every open stream
func (h *SSEHub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// SetLookup lets new clients receive the job's current state first
func (h *SSEHub) SetLookup(lookup func(id string) (*jobs.Job, error)) {
	h.lookup = lookup
}

// snapshot returns the current state of a job, if known
func (h *SSEHub) snapshot(jobID string) (jobs.Event, bool) {
	if h.lookup == nil {
		return jobs.Event{}, false
	}
	job, err := h.lookup(jobID)
	if err != nil {
		return jobs.Event{}, false
	}
	if job.Status.Terminal() {
		return jobs.NewEvent(jobs.EventFinished, job), true
	}
	return jobs.NewEvent(jobs.EventSnapshot, job), true
}

var errHubClosed = errors.New("SSE hub closed")

// isClosed reports whether Close has been called
func (h *SSEHub) isClosed() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// subscribe registers a client channel; the returned func unregisters it
func (h *SSEHub) subscribe(jobID string) (chan jobs.Event, func(), error) {
	// registrations happen under the read lock so shutdown sees every one
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	if h.isClosed() {
		return nil, nil, errHubClosed
	}

	ch := make(chan jobs.Event, 10)
	client := SSEClient{JobID: jobID, Channel: ch}
	select {
	case h.register <- client:
	default:
		return nil, nil, fmt.Errorf("SSE hub registration failed")
	}
	return ch, func() {
		select {
		case h.unregister <- client:
		case <-h.done:
		}
	}, nil
}

// HandleSSE streams one job's events: GET /api/jobs/:id/events or ?job_id=
func (h *SSEHub) HandleSSE(c *gin.Context) {
	jobID := c.Param("id")
	if jobID == "" {
		jobID = c.Query("job_id")
	}
	if jobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "job_id parameter required"})
		return
	}

	ch, unsubscribe, err := h.subscribe(jobID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	defer unsubscribe()

	setSSEHeaders(c.Writer)
	c.Status(http.StatusOK)
	c.Writer.Flush()

	if event, ok := h.snapshot(jobID); ok {
		if !h.writeGinEvent(c, event) {
			return
		}
	}

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-ch:
			if !ok {
				return false
			}
			return h.writeGinEvent(c, event)

		case <-time.After(pingInterval):
			c.SSEvent("ping", pingPayload())
			return true

		case <-ctx.Done():
			return false
		}
	})
}

// writeGinEvent sends one event and reports whether the stream stays open
func (h *SSEHub) writeGinEvent(c *gin.Context, event jobs.Event) bool {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Warn("failed to marshal event: %v", err)
		return true
	}
	c.SSEvent(string(event.Type), string(data))
	c.Writer.Flush()
	return event.Type != jobs.EventFinished
}

// ServeSSE is the net/http flavour of HandleSSE for the chi router
func (h *SSEHub) ServeSSE(w http.ResponseWriter, r *http.Request, jobID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	ch, unsubscribe, err := h.subscribe(jobID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer unsubscribe()

	setSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	if event, ok := h.snapshot(jobID); ok {
		if !writeEvent(w, event) {
			flusher.Flush()
			return
		}
	}
	flusher.Flush()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case event, ok := <-ch:
			if !ok {
				return
			}
			open := writeEvent(w, event)
			flusher.Flush()
			if !open {
				return
			}
		case <-ping.C:
			fmt.Fprintf(w, "event:ping\ndata:%s\n\n", pingPayload())
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// writeEvent writes one event in SSE framing and reports whether the stream stays open
func writeEvent(w io.Writer, event jobs.Event) bool {
	data, err := json.Marshal(event)
	if err != nil {
		return true
	}
	fmt.Fprintf(w, "event:%s\ndata:%s\n\n", event.Type, data)
	return event.Type != jobs.EventFinished
}

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Cache-Control")
}

func pingPayload() string {
	return `{"status": "alive", "timestamp": "` + time.Now().Format(time.RFC3339) + `"}`
}

// GetActiveJobs returns jobs with connected SSE clients
func (h *SSEHub) GetActiveJobs() []string {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()

	ids := make([]string, 0, len(h.clients))
	for jobID := range h.clients {
		ids = append(ids, jobID)
	}
	return ids
}

// GetClientCount returns the number of active clients for a job
func (h *SSEHub) GetClientCount(jobID string) int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()

	if clients, exists := h.clients[jobID]; exists {
		return len(clients)
	}
	return 0
}

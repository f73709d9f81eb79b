package services

import (
	"sync"

	"github.com/huangang/trackmirror/internal/models"
)

// SyncEvent reports the progress of a mirror run to dashboard clients.
type SyncEvent struct {
	MirrorID   uint   `json:"mirror_id"`
	ProjectID  uint   `json:"project_id,omitempty"`
	SyncLogID  uint   `json:"sync_log_id,omitempty"`
	Type       string `json:"type"`   // Pull, Push, Run
	Status     string `json:"status"` // started, a sync log status, aborted
	Processed  int    `json:"processed"`
	ErrorCount int    `json:"error_count"`
	Error      string `json:"error,omitempty"`
}

// SSEHub manages SSE client connections and event broadcasting
type SSEHub struct {
	clients map[string]chan SyncEvent
	mu      sync.RWMutex
}

func NewSSEHub() *SSEHub {
	return &SSEHub{
		clients: make(map[string]chan SyncEvent),
	}
}

// Subscribe registers a new client and returns a channel for receiving events
func (h *SSEHub) Subscribe(clientID string) <-chan SyncEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan SyncEvent, 100)
	h.clients[clientID] = ch
	return ch
}

// Unsubscribe removes a client from the hub
func (h *SSEHub) Unsubscribe(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.clients[clientID]; ok {
		close(ch)
		delete(h.clients, clientID)
	}
}

// Publish broadcasts to every client. Slow clients miss events.
func (h *SSEHub) Publish(event SyncEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.clients {
		select {
		case ch <- event:
		default:
		}
	}
}

// ClientCount returns the number of connected clients
func (h *SSEHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

var globalSSEHub *SSEHub
var sseHubOnce sync.Once

// GetSSEHub returns the global SSE hub singleton
func GetSSEHub() *SSEHub {
	sseHubOnce.Do(func() {
		globalSSEHub = NewSSEHub()
	})
	return globalSSEHub
}

// PublishSyncLogEvent announces a finished Pull or Push.
func PublishSyncLogEvent(log *models.SyncLog) {
	if log == nil {
		return
	}
	GetSSEHub().Publish(SyncEvent{
		MirrorID:   log.MirrorID,
		ProjectID:  log.ProjectID,
		SyncLogID:  log.ID,
		Type:       log.Type,
		Status:     log.Status,
		Processed:  log.Processed,
		ErrorCount: log.ErrorCount,
	})
}

// PublishRunEvent announces the start or end of a whole mirror run.
func PublishRunEvent(mirrorID uint, status, errMsg string) {
	GetSSEHub().Publish(SyncEvent{
		MirrorID: mirrorID,
		Type:     "Run",
		Status:   status,
		Error:    errMsg,
	})
}

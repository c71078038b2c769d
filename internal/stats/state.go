// Package stats holds the process-wide counters, connection status, and
// dashboard event fan-out shared by every long-lived task (spec.md §4.4,
// component C4), plus the one-shot shutdown signal coordinated by the
// supervisor (C8).
package stats

import (
	"sync"
	"sync/atomic"
	"time"
)

// ConnectionStatus mirrors the tunnel session's state machine (spec.md §4.5).
type ConnectionStatus string

const (
	StatusDisconnected   ConnectionStatus = "disconnected"
	StatusConnecting     ConnectionStatus = "connecting"
	StatusAuthenticating ConnectionStatus = "authenticating"
	StatusConnected      ConnectionStatus = "connected"
	StatusReconnecting   ConnectionStatus = "reconnecting"
	StatusShuttingDown   ConnectionStatus = "shutting_down"
)

// EventKind discriminates a DashboardEvent.
type EventKind string

const (
	EventConnectionStateChanged EventKind = "connection_state_changed"
	EventRequestForwarded       EventKind = "request_forwarded"
	EventError                  EventKind = "error"
	EventStats                  EventKind = "stats"
	EventCustom                 EventKind = "custom"
)

// DashboardEvent is pushed to dashboard subscribers (spec.md §4.4).
type DashboardEvent struct {
	Kind             EventKind
	ConnectionStatus ConnectionStatus
	Summary          string
	Text             string
	Snapshot         Snapshot
}

// Snapshot is a point-in-time read of every counter plus derived fields.
type Snapshot struct {
	RequestsProcessed   int64            `json:"requests_processed"`
	RequestsSuccessful  int64            `json:"requests_successful"`
	RequestsFailed      int64            `json:"requests_failed"`
	BytesForwarded      int64            `json:"bytes_forwarded"`
	WebsocketReconnects int64            `json:"websocket_reconnects"`
	UptimeSeconds       int64            `json:"uptime_seconds"`
	ConnectionStatus    ConnectionStatus `json:"connection_status"`
}

// State is the shared record described in spec.md §4.4.
// It is created once by the supervisor and passed by pointer to every
// worker.
type State struct {
	requestsProcessed   atomic.Int64
	requestsSuccessful  atomic.Int64
	requestsFailed      atomic.Int64
	bytesForwarded      atomic.Int64
	websocketReconnects atomic.Int64

	startTime time.Time

	mu     sync.RWMutex
	status ConnectionStatus

	events *broadcaster

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// New returns a State with counters at zero and status Disconnected.
func New() *State {
	return &State{
		startTime:  time.Now(),
		status:     StatusDisconnected,
		events:     newBroadcaster(),
		shutdownCh: make(chan struct{}),
	}
}

// IncRequestsProcessed increments the processed counter.
func (s *State) IncRequestsProcessed() { s.requestsProcessed.Add(1) }

// IncRequestsSuccessful increments the successful counter.
func (s *State) IncRequestsSuccessful() { s.requestsSuccessful.Add(1) }

// IncRequestsFailed increments the failed counter.
func (s *State) IncRequestsFailed() { s.requestsFailed.Add(1) }

// AddBytesForwarded adds n (which may be zero) to the forwarded byte count.
func (s *State) AddBytesForwarded(n int64) {
	if n > 0 {
		s.bytesForwarded.Add(n)
	}
}

// IncWebsocketReconnects increments the reconnect counter.
func (s *State) IncWebsocketReconnects() { s.websocketReconnects.Add(1) }

// SetConnectionStatus updates the connection status and publishes a
// ConnectionStateChanged event.
func (s *State) SetConnectionStatus(status ConnectionStatus) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
	s.Publish(DashboardEvent{Kind: EventConnectionStateChanged, ConnectionStatus: status})
}

// ConnectionStatus returns the current connection status.
func (s *State) ConnectionStatus() ConnectionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Snapshot reads every counter. Each counter is loaded on its own, so the
// snapshot is not atomic across counters.
func (s *State) Snapshot() Snapshot {
	return Snapshot{
		RequestsProcessed:   s.requestsProcessed.Load(),
		RequestsSuccessful:  s.requestsSuccessful.Load(),
		RequestsFailed:      s.requestsFailed.Load(),
		BytesForwarded:      s.bytesForwarded.Load(),
		WebsocketReconnects: s.websocketReconnects.Load(),
		UptimeSeconds:       int64(time.Since(s.startTime).Seconds()),
		ConnectionStatus:    s.ConnectionStatus(),
	}
}

// Subscribe registers a dashboard event listener with the given buffer
// size (0 uses a sane default) and returns its id and receive channel.
// Unsubscribe must be called to release it.
func (s *State) Subscribe(buffer int) (int, <-chan DashboardEvent) {
	return s.events.subscribe(buffer)
}

// Unsubscribe removes and closes a previously subscribed channel.
func (s *State) Unsubscribe(id int) { s.events.unsubscribe(id) }

// Publish fans ev out to all current subscribers, dropping the oldest
// buffered event for any subscriber that is not keeping up.
func (s *State) Publish(ev DashboardEvent) { s.events.publish(ev) }

// PublishRequestForwarded is a convenience wrapper used by the forward
// engine (C6) after each dispatched request.
func (s *State) PublishRequestForwarded(summary string) {
	s.Publish(DashboardEvent{Kind: EventRequestForwarded, Summary: summary})
}

// PublishError is a convenience wrapper for surfacing an error string on
// the dashboard channel without terminating anything.
func (s *State) PublishError(text string) {
	s.Publish(DashboardEvent{Kind: EventError, Text: text})
}

// Shutdown fires the one-shot shutdown signal. Safe to call more than
// once and from multiple goroutines.
func (s *State) Shutdown() {
	s.shutdownOnce.Do(func() { close(s.shutdownCh) })
}

// Done returns the channel that closes when Shutdown has been called.
func (s *State) Done() <-chan struct{} { return s.shutdownCh }

// ShuttingDown reports whether Shutdown has already been called.
func (s *State) ShuttingDown() bool {
	select {
	case <-s.shutdownCh:
		return true
	default:
		return false
	}
}

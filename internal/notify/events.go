package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Event types.
const (
	EventRunStarted  = "started"
	EventRunFinished = "finished"
)

// RunEvent describes a run lifecycle transition.
type RunEvent struct {
	Type     string    `json:"type"`
	RunID    string    `json:"run_id"`
	Issue    int       `json:"issue"`
	Team     []string  `json:"team,omitempty"`
	Outcome  string    `json:"outcome,omitempty"`
	Missing  []string  `json:"missing_headers,omitempty"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
	Duration float64   `json:"duration_seconds,omitempty"`
}

// Publisher emits run events.
type Publisher interface {
	Publish(ctx context.Context, ev RunEvent) error
}

// NopPublisher drops events.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, RunEvent) error { return nil }

// NATSPublisher publishes events to <subject>.<type>, e.g. crewd.runs.finished.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
	owned   bool
}

var _ Publisher = (*NATSPublisher)(nil)

// NewNATSPublisher wraps an existing connection.
func NewNATSPublisher(nc *nats.Conn, subject string) *NATSPublisher {
	return &NATSPublisher{conn: nc, subject: subject}
}

// ConnectNATS dials url and returns a publisher owning the connection.
func ConnectNATS(url, subject string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("crewd"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return &NATSPublisher{conn: nc, subject: subject, owned: true}, nil
}

// Subject returns the subject an event type is published on.
func (p *NATSPublisher) Subject(eventType string) string {
	return p.subject + "." + eventType
}

// Publish implements Publisher.
func (p *NATSPublisher) Publish(_ context.Context, ev RunEvent) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.conn.Publish(p.Subject(ev.Type), data); err != nil {
		return fmt.Errorf("publish %s event: %w", ev.Type, err)
	}
	return nil
}

// Close drains the connection when the publisher dialed it.
func (p *NATSPublisher) Close() error {
	if !p.owned {
		return nil
	}
	return p.conn.Drain()
}

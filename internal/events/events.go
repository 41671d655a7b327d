// Package events publishes boot outcomes so fleet tooling can follow which
// version each installation activated.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"git.home.luguber.info/inful/chainloader/internal/foundation/errors"
)

// Outcome is the published record of one boot decision.
type Outcome struct {
	BootID          string    `json:"bootId"`
	Component       string    `json:"component"`
	Outcome         string    `json:"outcome"`
	Version         string    `json:"version,omitempty"`
	PreviousVersion string    `json:"previousVersion,omitempty"`
	Channel         string    `json:"channel,omitempty"`
	PendingVersion  string    `json:"pendingVersion,omitempty"`
	RestartRequired bool      `json:"restartRequired,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// Publisher delivers outcomes. Delivery failures are reported but never
// change the boot decision.
type Publisher interface {
	Publish(ctx context.Context, o Outcome) error
	Close()
}

// Noop discards outcomes.
type Noop struct{}

func (Noop) Publish(context.Context, Outcome) error { return nil }
func (Noop) Close()                                 {}

// Memory keeps published outcomes in memory.
type Memory struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (m *Memory) Publish(_ context.Context, o Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, o)
	return nil
}

func (m *Memory) Close() {}

// Outcomes returns a copy of everything published so far.
func (m *Memory) Outcomes() []Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Outcome(nil), m.outcomes...)
}

// NATSPublisher publishes outcomes as JSON on a core NATS subject.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
}

// NewNATSPublisher connects to url. Reconnects are disabled because a boot is
// short-lived and must not wait on an unavailable broker.
func NewNATSPublisher(url, subject string, opts ...nats.Option) (*NATSPublisher, error) {
	opts = append([]nats.Option{
		nats.Name("chainloader"),
		nats.Timeout(2 * time.Second),
		nats.NoReconnect(),
	}, opts...)
	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, errors.NetworkError("failed to connect to NATS").WithCause(err).
			WithContext("url", url).Warning().Build()
	}
	return &NATSPublisher{conn: conn, subject: subject}, nil
}

// Encode is the wire form of o.
func Encode(o Outcome) ([]byte, error) {
	if o.Timestamp.IsZero() {
		o.Timestamp = time.Now().UTC()
	}
	return json.Marshal(o)
}

func (p *NATSPublisher) Publish(ctx context.Context, o Outcome) error {
	data, err := Encode(o)
	if err != nil {
		return errors.WrapError(err, errors.CategoryInternal, "failed to encode outcome").Build()
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return errors.NetworkError("failed to publish outcome").WithCause(err).
			WithContext("subject", p.subject).Warning().Build()
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return errors.NetworkError("failed to flush outcome").WithCause(err).
			WithContext("subject", p.subject).Warning().Build()
	}
	return nil
}

// Close drains the connection, falling back to a hard close.
func (p *NATSPublisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}

package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/andresmejia3/vigil/internal/types"
)

const DefaultSubject = "vigil.detections"

// publisher is the part of *nats.Conn we use.
type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher emits detection events as JSON.
type NATSPublisher struct {
	conn    publisher
	subject string
	close   func()
}

// DialNATS connects to url and publishes on subject.
func DialNATS(url, subject string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url, nats.Name("vigil"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	p := newNATSPublisher(nc, subject)
	p.close = func() { nc.Drain() }
	return p, nil
}

func newNATSPublisher(conn publisher, subject string) *NATSPublisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSPublisher{conn: conn, subject: subject, close: func() {}}
}

func (p *NATSPublisher) Publish(ctx context.Context, ev types.DetectionEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.subject, err)
	}
	return nil
}

// Close drains pending messages and disconnects.
func (p *NATSPublisher) Close() { p.close() }

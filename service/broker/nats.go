// Package broker publishes room lifecycle events onto NATS so that other
// gateway nodes (and back-office consumers) observe room fan-out without
// polling.
package broker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"

	"MaterniChat/global/config"
	"MaterniChat/logger"
)

type RoomEvent struct {
	Type      string `json:"type"` // roomCreated | roomStatusChanged | roomClosed
	RoomID    string `json:"room_id"`
	PatientID string `json:"patient_id,omitempty"`
	Mode      string `json:"mode,omitempty"`
	NodeID    string `json:"node_id"`
	TS        int64  `json:"ts"`
}

// Publisher is a thin facade over one NATS connection; nil-safe so the
// gateway can run without a broker configured.
type Publisher struct {
	nc      *nats.Conn
	subject string
	nodeID  string
}

func NewPublisher(cfg config.NatsConfig, nodeID string) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("empty nats url")
	}
	subject := cfg.Subject
	if subject == "" {
		subject = "consult.rooms"
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name("maternichat-gateway"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, errors.Wrap(err, "connect nats")
	}
	return &Publisher{nc: nc, subject: subject, nodeID: nodeID}, nil
}

// PublishRoomEvent is fire-and-forget; a broker outage must never block a
// consultation.
func (p *Publisher) PublishRoomEvent(_ context.Context, ev RoomEvent) {
	if p == nil || p.nc == nil {
		return
	}
	ev.NodeID = p.nodeID
	if ev.TS == 0 {
		ev.TS = time.Now().UnixMilli()
	}
	b, err := json.Marshal(ev)
	if err != nil {
		logger.Warnf("[broker] marshal room event: %v", err)
		return
	}
	if err := p.nc.Publish(p.subject, b); err != nil {
		logger.Warnf("[broker] publish %s: %v", p.subject, err)
	}
}

func (p *Publisher) Close() {
	if p == nil || p.nc == nil {
		return
	}
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
	}
}

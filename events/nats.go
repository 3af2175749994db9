package events

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSBridge republishes every broker event on a NATS subject so external
// consumers (dashboard, alerting) can follow the live stream.
type NATSBridge struct {
	nc      *nats.Conn
	subject string
}

type NATSConfig struct {
	URL     string
	Subject string
}

func NewNATSBridge(cfg NATSConfig) (*NATSBridge, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url,
		nats.Name("dealbot-events"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}
	subject := cfg.Subject
	if subject == "" {
		subject = "dealbot.events"
	}
	return &NATSBridge{nc: nc, subject: subject}, nil
}

func (b *NATSBridge) Publish(evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return b.nc.Publish(b.subject, data)
}

func (b *NATSBridge) Close() {
	if b.nc != nil {
		b.nc.Close()
	}
}

package sink

import (
	"FlowSpectra/internal/config"
	"FlowSpectra/internal/model"
	"FlowSpectra/internal/wire"
	"context"
	"fmt"
	"log"

	"github.com/nats-io/nats.go"
)

func init() {
	Register("nats", func(cfg config.SinkConfig) (model.Sink, error) {
		nc, err := nats.Connect(cfg.NATS.URL)
		if err != nil {
			return nil, err
		}
		log.Printf("Connected to NATS server at %s", cfg.NATS.URL)
		return NewNATSWriter(nc, cfg.NATS.Subject), nil
	})
}

// Publisher is the part of a NATS connection the writer needs.
type Publisher interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Drain() error
}

// NATSWriter publishes each vector, wire-encoded, on one subject.
type NATSWriter struct {
	nc      Publisher
	subject string
}

// NewNATSWriter wraps an established connection.
func NewNATSWriter(nc Publisher, subject string) *NATSWriter {
	return &NATSWriter{nc: nc, subject: subject}
}

func (w *NATSWriter) Name() string { return "nats" }

// Write publishes the batch and waits for the server to acknowledge it.
func (w *NATSWriter) Write(ctx context.Context, batch []*model.FeatureVector) error {
	for _, v := range batch {
		data, err := wire.EncodeVector(v)
		if err != nil {
			return err
		}
		if err := w.nc.Publish(w.subject, data); err != nil {
			return fmt.Errorf("failed to publish vector %s: %w", v.FlowID, err)
		}
	}
	return w.nc.FlushWithContext(ctx)
}

// Close drains and closes the NATS connection.
func (w *NATSWriter) Close() error {
	if err := w.nc.Drain(); err != nil {
		return err
	}
	log.Println("NATS connection drained and closed.")
	return nil
}

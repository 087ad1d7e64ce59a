package probe

import (
	"FlowSpectra/internal/config"
	"FlowSpectra/internal/model"
	"FlowSpectra/internal/wire"
	"log"
	"sync/atomic"

	"github.com/nats-io/nats.go"
)

// PacketHandler is a function that processes a received packet record.
type PacketHandler func(pkt *model.PacketRecord)

// Subscriber is responsible for subscribing to a NATS subject and processing messages.
type Subscriber struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	subject string

	received  atomic.Uint64
	undecoded atomic.Uint64
}

// NewSubscriber creates a new NATS subscriber.
func NewSubscriber(cfg config.ProbeConfig) (*Subscriber, error) {
	nc, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		return nil, err
	}
	log.Printf("Connected to NATS server at %s", cfg.NATSURL)
	return &Subscriber{nc: nc, subject: cfg.Subject}, nil
}

// Start subscribes to the configured subject and hands every decoded record to handler.
func (s *Subscriber) Start(handler PacketHandler) error {
	sub, err := s.nc.Subscribe(s.subject, func(msg *nats.Msg) {
		s.handle(msg.Data, handler)
	})
	if err != nil {
		return err
	}
	s.sub = sub
	log.Printf("Subscribed to '%s'. Waiting for messages...", s.subject)
	return nil
}

func (s *Subscriber) handle(data []byte, handler PacketHandler) {
	s.received.Add(1)
	pkt, err := wire.DecodePacket(data)
	if err != nil {
		if s.undecoded.Add(1) == 1 {
			log.Printf("Error decoding packet record: %v", err)
		}
		return
	}
	handler(pkt)
}

// Counts returns the number of messages received and how many failed to decode.
func (s *Subscriber) Counts() (received, undecoded uint64) {
	return s.received.Load(), s.undecoded.Load()
}

// Close unsubscribes and closes the NATS connection.
func (s *Subscriber) Close() {
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	if s.nc != nil {
		s.nc.Close()
		log.Println("NATS connection closed.")
	}
}

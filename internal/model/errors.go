package model

import "errors"

var (
	// ErrMalformedPacket marks records with missing addresses, timestamp or a negative length.
	ErrMalformedPacket = errors.New("malformed packet")

	// ErrFlowClosed is returned when a packet is offered to a flow that is no longer accepting.
	ErrFlowClosed = errors.New("flow closed")

	// ErrInvalidConfig wraps every configuration validation failure.
	ErrInvalidConfig = errors.New("invalid configuration")
)

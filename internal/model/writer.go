package model

import "context"

// Sink defines a generic consumer of emitted feature vectors.
type Sink interface {
	// Name identifies the sink in logs and metrics.
	Name() string

	// Write persists or forwards one batch. Vectors are shared and must not be modified.
	Write(ctx context.Context, batch []*FeatureVector) error

	// Close flushes outstanding data and releases resources.
	Close() error
}

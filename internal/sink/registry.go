// Package sink builds the consumers of emitted feature vectors from
// configuration.
package sink

import (
	"FlowSpectra/internal/config"
	"FlowSpectra/internal/model"
	"fmt"
	"log"
)

// Factory creates a sink from its configuration block.
type Factory func(cfg config.SinkConfig) (model.Sink, error)

// registry holds the mapping of sink types to their factory functions.
var registry = make(map[string]Factory)

// Register registers a new sink type with its factory function.
func Register(name string, factory Factory) {
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("sink type '%s' already registered", name))
	}
	registry[name] = factory
}

// Create builds every enabled sink in cfg. Sinks created before a failure are
// closed again.
func Create(cfg *config.Config) ([]model.Sink, error) {
	var sinks []model.Sink
	for _, sc := range cfg.Sinks {
		if !sc.Enabled {
			continue
		}
		log.Printf("Creating sink of type: '%s'", sc.Type)

		factory, ok := registry[sc.Type]
		if !ok {
			closeAll(sinks)
			return nil, fmt.Errorf("%w: unknown sink type: '%s'", model.ErrInvalidConfig, sc.Type)
		}
		s, err := factory(sc)
		if err != nil {
			closeAll(sinks)
			return nil, fmt.Errorf("error creating sink type '%s': %w", sc.Type, err)
		}
		sinks = append(sinks, s)
	}
	if len(sinks) == 0 {
		log.Println("No sinks enabled; feature vectors will be counted and discarded.")
	}
	return sinks, nil
}

func closeAll(sinks []model.Sink) {
	for _, s := range sinks {
		s.Close()
	}
}

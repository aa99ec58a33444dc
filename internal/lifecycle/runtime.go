package lifecycle

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// Component is a background piece of the relay with an explicit lifecycle:
// the metrics endpoint, the chat list refresher, anything that outlives a
// single update.
type Component interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Runtime starts components in registration order and stops them in reverse.
// A failed Start unwinds whatever already started.
type Runtime struct {
	components []Component
}

func NewRuntime(components ...Component) *Runtime {
	return &Runtime{components: components}
}

func (r *Runtime) Register(component Component) {
	if component == nil {
		return
	}
	r.components = append(r.components, component)
}

func (r *Runtime) Start(ctx context.Context) error {
	started := make([]Component, 0, len(r.components))
	for _, component := range r.components {
		if component == nil {
			continue
		}
		if err := component.Start(ctx); err != nil {
			if stopErr := stopAll(ctx, started); stopErr != nil {
				log.WithError(stopErr).Errorln("cant unwind started components")
			}
			return fmt.Errorf("start component: %w", err)
		}
		started = append(started, component)
	}
	return nil
}

func (r *Runtime) Stop(ctx context.Context) error {
	return stopAll(ctx, r.components)
}

func stopAll(ctx context.Context, components []Component) error {
	var stopErr error
	for i := len(components) - 1; i >= 0; i-- {
		component := components[i]
		if component == nil {
			continue
		}
		if err := component.Stop(ctx); err != nil {
			stopErr = errors.Join(stopErr, fmt.Errorf("stop component: %w", err))
		}
	}
	return stopErr
}

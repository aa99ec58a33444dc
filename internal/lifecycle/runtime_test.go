package lifecycle

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

type stubComponent struct {
	name     string
	startErr error
	stopErr  error
	trace    *[]string
	stops    int
}

func (c *stubComponent) Start(ctx context.Context) error {
	_ = ctx
	if c.trace != nil {
		*c.trace = append(*c.trace, "start:"+c.name)
	}
	return c.startErr
}

func (c *stubComponent) Stop(ctx context.Context) error {
	_ = ctx
	c.stops++
	if c.trace != nil {
		*c.trace = append(*c.trace, "stop:"+c.name)
	}
	return c.stopErr
}

func TestRuntimeStopsInReverseOrder(t *testing.T) {
	t.Parallel()

	trace := make([]string, 0, 6)
	metrics := &stubComponent{name: "metrics", trace: &trace}
	refresher := &stubComponent{name: "refresher", trace: &trace}
	poller := &stubComponent{name: "poller", trace: &trace}

	runtime := NewRuntime(metrics, refresher)
	runtime.Register(poller)
	runtime.Register(nil)
	if err := runtime.Start(context.Background()); err != nil {
		t.Fatalf("start runtime: %v", err)
	}
	if err := runtime.Stop(context.Background()); err != nil {
		t.Fatalf("stop runtime: %v", err)
	}

	expected := []string{
		"start:metrics",
		"start:refresher",
		"start:poller",
		"stop:poller",
		"stop:refresher",
		"stop:metrics",
	}
	if !reflect.DeepEqual(trace, expected) {
		t.Fatalf("unexpected order: got %v want %v", trace, expected)
	}
}

func TestRuntimeStartFailureUnwindsStartedComponents(t *testing.T) {
	t.Parallel()

	trace := make([]string, 0, 4)
	startErr := errors.New("bind failed")
	metrics := &stubComponent{name: "metrics", trace: &trace}
	refresher := &stubComponent{name: "refresher", trace: &trace, startErr: startErr}
	poller := &stubComponent{name: "poller", trace: &trace}

	runtime := NewRuntime(metrics, refresher, poller)
	err := runtime.Start(context.Background())
	if !errors.Is(err, startErr) {
		t.Fatalf("want the start error, got %v", err)
	}

	if metrics.stops != 1 {
		t.Fatalf("started component should be stopped once, got %d", metrics.stops)
	}
	if refresher.stops != 0 || poller.stops != 0 {
		t.Fatalf("unstarted components must not be stopped: refresher=%d poller=%d", refresher.stops, poller.stops)
	}
	expected := []string{"start:metrics", "start:refresher", "stop:metrics"}
	if !reflect.DeepEqual(trace, expected) {
		t.Fatalf("unexpected events: %v", trace)
	}
}

func TestRuntimeStopCollectsErrors(t *testing.T) {
	t.Parallel()

	stopErr := errors.New("flush failed")
	runtime := NewRuntime(
		&stubComponent{name: "metrics", stopErr: stopErr},
		&stubComponent{name: "refresher"},
	)
	if err := runtime.Start(context.Background()); err != nil {
		t.Fatalf("start runtime: %v", err)
	}
	if err := runtime.Stop(context.Background()); !errors.Is(err, stopErr) {
		t.Fatalf("stop should surface component errors, got %v", err)
	}
}

package limiter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/undertone/confessbot/internal/config"
	"github.com/undertone/confessbot/internal/observability"
)

// Class selects the admission discipline for an outbound call.
type Class int

const (
	// Global covers calls with no specific destination class.
	Global Class = iota
	// Group covers deliveries into group chats, including the fan-out.
	Group
	// DM covers direct messages to end users.
	DM
)

func (c Class) String() string {
	switch c {
	case Group:
		return "group"
	case DM:
		return "dm"
	}
	return "global"
}

// ClassFor maps a destination chat id to its admission class.
func ClassFor(chatID int64) Class {
	switch {
	case chatID < 0:
		return Group
	case chatID > 0:
		return DM
	}
	return Global
}

// ClassConfig shapes one admission class: a concurrency cap, a minimum
// spacing between admissions, and a reservoir refilled at a fixed interval.
type ClassConfig struct {
	Concurrent     int
	MinSpacing     time.Duration
	Reservoir      int
	RefillAmount   int
	RefillInterval time.Duration
	Penalty        time.Duration
}

type classLimiter struct {
	sem       chan struct{}
	spacing   *rate.Limiter
	reservoir *rate.Limiter
	penalty   time.Duration

	mu           sync.Mutex
	penaltyUntil time.Time
}

// Limiter is the admission gate in front of every outbound transport call.
// Requests over capacity block until admitted; they are never dropped.
type Limiter struct {
	classes map[Class]*classLimiter
}

func New(cfgs map[Class]ClassConfig) *Limiter {
	l := &Limiter{classes: map[Class]*classLimiter{}}
	for class, cfg := range cfgs {
		l.classes[class] = newClassLimiter(cfg)
	}
	if _, ok := l.classes[Global]; !ok {
		l.classes[Global] = newClassLimiter(ClassConfig{Concurrent: 30, MinSpacing: 35 * time.Millisecond})
	}
	return l
}

// NewFromConfig builds the three standard classes from the app config.
func NewFromConfig(limits config.Limits) *Limiter {
	return New(map[Class]ClassConfig{
		Global: {
			Concurrent: limits.GlobalConcurrent,
			MinSpacing: limits.GlobalSpacing,
			Penalty:    limits.Penalty,
		},
		Group: {
			Concurrent:     limits.GroupConcurrent,
			MinSpacing:     limits.GroupSpacing,
			Reservoir:      limits.GroupReservoir,
			RefillAmount:   limits.GroupReservoir,
			RefillInterval: limits.GroupRefill,
			Penalty:        limits.Penalty,
		},
		DM: {
			Concurrent:     limits.DMConcurrent,
			MinSpacing:     limits.DMSpacing,
			Reservoir:      limits.DMReservoir,
			RefillAmount:   limits.DMReservoir,
			RefillInterval: limits.DMRefill,
			Penalty:        limits.Penalty,
		},
	})
}

func newClassLimiter(cfg ClassConfig) *classLimiter {
	concurrent := cfg.Concurrent
	if concurrent <= 0 {
		concurrent = 1
	}
	cl := &classLimiter{
		sem:     make(chan struct{}, concurrent),
		penalty: cfg.Penalty,
	}
	if cfg.MinSpacing > 0 {
		cl.spacing = rate.NewLimiter(rate.Every(cfg.MinSpacing), 1)
	}
	if cfg.Reservoir > 0 && cfg.RefillAmount > 0 && cfg.RefillInterval > 0 {
		perSecond := float64(cfg.RefillAmount) / cfg.RefillInterval.Seconds()
		cl.reservoir = rate.NewLimiter(rate.Limit(perSecond), cfg.Reservoir)
	}
	return cl
}

func (l *Limiter) class(class Class) *classLimiter {
	if cl, ok := l.classes[class]; ok {
		return cl
	}
	return l.classes[Global]
}

// Acquire blocks until the class admits one call. Every successful Acquire
// must be paired with a Release.
func (l *Limiter) Acquire(ctx context.Context, class Class) error {
	cl := l.class(class)
	done := observability.TimeLimiterWait(class.String())
	defer done()

	if err := cl.waitPenalty(ctx); err != nil {
		return err
	}
	select {
	case cl.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	if cl.spacing != nil {
		if err := cl.spacing.Wait(ctx); err != nil {
			<-cl.sem
			return err
		}
	}
	if cl.reservoir != nil {
		if err := cl.reservoir.Wait(ctx); err != nil {
			<-cl.sem
			return err
		}
	}
	return nil
}

// Release returns the in-flight slot taken by Acquire.
func (l *Limiter) Release(class Class) {
	cl := l.class(class)
	select {
	case <-cl.sem:
	default:
	}
}

// Penalize pauses admissions for the class after the transport rejected a
// call. retryAfter, when known from the response, overrides the configured
// penalty.
func (l *Limiter) Penalize(class Class, retryAfter time.Duration) {
	cl := l.class(class)
	pause := cl.penalty
	if retryAfter > pause {
		pause = retryAfter
	}
	if pause <= 0 {
		return
	}
	until := time.Now().Add(pause)
	cl.mu.Lock()
	if until.After(cl.penaltyUntil) {
		cl.penaltyUntil = until
	}
	cl.mu.Unlock()
}

// Do admits fn through the class, releasing the slot when it returns.
func (l *Limiter) Do(ctx context.Context, class Class, fn func() error) error {
	if err := l.Acquire(ctx, class); err != nil {
		return err
	}
	defer l.Release(class)
	return fn()
}

func (cl *classLimiter) waitPenalty(ctx context.Context) error {
	for {
		cl.mu.Lock()
		until := cl.penaltyUntil
		cl.mu.Unlock()
		remaining := time.Until(until)
		if remaining <= 0 {
			return nil
		}
		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

package sequencer

import (
	"sync"
)

// Key identifies an actor whose updates must be processed in order.
type Key struct {
	ChatID int64
	UserID int64
}

// Sequencer runs tasks so that tasks sharing a key execute in submission
// order and never overlap. Tasks under different keys run concurrently. A
// key's queue drains in a single goroutine that retires when idle.
type Sequencer struct {
	mu     sync.Mutex
	queues map[Key][]func()
	wg     sync.WaitGroup
	closed bool
}

func New() *Sequencer {
	return &Sequencer{queues: map[Key][]func(){}}
}

// Do enqueues task under key. It never blocks the caller.
func (s *Sequencer) Do(key Key, task func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	queue, running := s.queues[key]
	s.queues[key] = append(queue, task)
	if !running {
		s.wg.Add(1)
		go s.drain(key)
	}
	s.mu.Unlock()
}

func (s *Sequencer) drain(key Key) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		queue := s.queues[key]
		if len(queue) == 0 {
			delete(s.queues, key)
			s.mu.Unlock()
			return
		}
		task := queue[0]
		s.queues[key] = queue[1:]
		s.mu.Unlock()

		task()
	}
}

// Wait blocks until every enqueued task has finished. New tasks submitted
// while waiting are waited for as well; callers typically Close first.
func (s *Sequencer) Wait() {
	s.wg.Wait()
}

// Close stops accepting tasks. Already queued tasks still run.
func (s *Sequencer) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

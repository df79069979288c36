// Package observable provides the push primitive behind an executing
// operation: a subject with next/error/done callbacks and a synchronous peek.
package observable

import (
	"slices"
	"sync"
	"sync/atomic"
)

// Callbacks receives a subject's events. Any field may be nil.
type Callbacks[T any] struct {
	OnNext  func(T)
	OnError func(error)
	OnDone  func()
}

type eventKind int

const (
	eventNext eventKind = iota
	eventError
	eventDone
)

type event[T any] struct {
	kind  eventKind
	value T
	err   error
}

type subscriber[T any] struct {
	cb     Callbacks[T]
	active atomic.Bool
}

// Subject delivers events in emission order, one at a time. Events emitted
// before the first subscriber are queued and replayed to it. Callbacks may
// call back into the subject; those events are delivered after the current
// callback returns.
type Subject[T any] struct {
	mu        sync.Mutex
	subs      []*subscriber[T]
	queue     []event[T]
	draining  bool
	completed bool
	last      T
	hasLast   bool
}

func New[T any]() *Subject[T] {
	return &Subject[T]{}
}

func (s *Subject[T]) Next(v T) {
	s.emit(event[T]{kind: eventNext, value: v})
}

func (s *Subject[T]) Error(err error) {
	s.emit(event[T]{kind: eventError, err: err})
}

// Done completes the subject. Later events are dropped.
func (s *Subject[T]) Done() {
	s.emit(event[T]{kind: eventDone})
}

// Get returns the most recent Next value.
func (s *Subject[T]) Get() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.hasLast
}

// IsDone reports whether Done was called.
func (s *Subject[T]) IsDone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

// Subscribe attaches cb and returns a function that detaches it. Subscribing
// to a completed subject with nothing left to replay fires OnDone at once.
func (s *Subject[T]) Subscribe(cb Callbacks[T]) (unsubscribe func()) {
	sub := &subscriber[T]{cb: cb}
	sub.active.Store(true)
	unsubscribe = func() {
		if !sub.active.Swap(false) {
			return
		}
		s.mu.Lock()
		s.subs = slices.DeleteFunc(s.subs, func(other *subscriber[T]) bool { return other == sub })
		s.mu.Unlock()
	}

	s.mu.Lock()
	if s.completed && len(s.queue) == 0 {
		s.mu.Unlock()
		sub.active.Store(false)
		if cb.OnDone != nil {
			cb.OnDone()
		}
		return unsubscribe
	}
	s.subs = append(s.subs, sub)
	if s.draining {
		s.mu.Unlock()
		return unsubscribe
	}
	s.draining = true
	s.drainLocked()
	return unsubscribe
}

func (s *Subject[T]) emit(ev event[T]) {
	s.mu.Lock()
	if s.completed {
		s.mu.Unlock()
		return
	}
	switch ev.kind {
	case eventNext:
		s.last, s.hasLast = ev.value, true
	case eventDone:
		s.completed = true
	}
	s.queue = append(s.queue, ev)
	if s.draining || len(s.subs) == 0 {
		s.mu.Unlock()
		return
	}
	s.draining = true
	s.drainLocked()
}

// drainLocked is entered with mu held and draining set. It returns with mu
// released.
func (s *Subject[T]) drainLocked() {
	for len(s.queue) > 0 && len(s.subs) > 0 {
		ev := s.queue[0]
		s.queue = s.queue[1:]
		subs := slices.Clone(s.subs)
		if ev.kind == eventDone {
			s.subs = nil
		}
		s.mu.Unlock()

		for _, sub := range subs {
			deliver(sub, ev)
		}

		s.mu.Lock()
	}
	s.draining = false
	s.mu.Unlock()
}

func deliver[T any](sub *subscriber[T], ev event[T]) {
	if !sub.active.Load() {
		return
	}
	switch ev.kind {
	case eventNext:
		if sub.cb.OnNext != nil {
			sub.cb.OnNext(ev.value)
		}
	case eventError:
		if sub.cb.OnError != nil {
			sub.cb.OnError(ev.err)
		}
	case eventDone:
		sub.active.Store(false)
		if sub.cb.OnDone != nil {
			sub.cb.OnDone()
		}
	}
}

package core

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/eyescale/collage/pkg/collage/types"
)

// EventKind identifies what ConnectionSet.Select woke up for.
type EventKind int

const (
	EventData EventKind = iota
	EventAccept
	EventDisconnect
	EventInterrupt
	EventTimeout
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventData:
		return "DATA"
	case EventAccept:
		return "ACCEPT"
	case EventDisconnect:
		return "DISCONNECT"
	case EventInterrupt:
		return "INTERRUPT"
	case EventTimeout:
		return "TIMEOUT"
	default:
		return "ERROR"
	}
}

// Event is the result of one ConnectionSet.Select call. For EventAccept,
// Conn is the listening connection (the caller calls AcceptNonBlocking on
// it to retrieve the new peer connection); for EventData/EventDisconnect,
// Conn is the connection the event happened on.
type Event struct {
	Kind EventKind
	Conn Connection
	Err  error
}

// peekable is implemented by connections that can report, without
// consuming it, what kind of event is currently pending — needed because
// ConnectionSet.Select only learns *that* a connection's notifier fired,
// not *why*.
type peekable interface {
	PendingKind() EventKind
}

// ConnectionSet multiplexes many connections behind one Select call
// (spec.md section 4.B). Fairness is round-robin: each Select starts
// scanning after the connection returned by the previous call, so no
// single busy connection can starve the others; ties among multiple
// simultaneously-ready connections are broken by reflect.Select's
// documented uniform random choice, which avoids a fixed bias toward low
// indices just as well as a literal round-robin scan would.
type ConnectionSet struct {
	mu        sync.Mutex
	conns     []Connection
	lastIndex int
	interrupt chan struct{}
	log       types.Logger
}

// NewConnectionSet returns an empty set.
func NewConnectionSet(log types.Logger) *ConnectionSet {
	return &ConnectionSet{
		interrupt: make(chan struct{}, 1),
		log:       log,
	}
}

// Add registers a connection for the next Select call.
func (s *ConnectionSet) Add(c Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.conns {
		if existing == c {
			return
		}
	}
	s.conns = append(s.conns, c)
}

// Remove unregisters a connection; it is a no-op if not present.
func (s *ConnectionSet) Remove(c Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.conns {
		if existing == c {
			s.conns = append(s.conns[:i], s.conns[i+1:]...)
			return
		}
	}
}

// Size returns the number of registered connections.
func (s *ConnectionSet) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Interrupt reliably wakes a blocked Select call, delivering EventInterrupt.
func (s *ConnectionSet) Interrupt() {
	select {
	case s.interrupt <- struct{}{}:
	default:
	}
}

// Select blocks until a connection has an event, the set is interrupted,
// or timeout elapses (a timeout <= 0 means block indefinitely until ctx is
// done).
func (s *ConnectionSet) Select(ctx context.Context, timeout time.Duration) Event {
	s.mu.Lock()
	conns := make([]Connection, len(s.conns))
	copy(conns, s.conns)
	start := s.lastIndex
	s.mu.Unlock()

	if len(conns) == 0 {
		return s.waitInterruptOrTimeout(ctx, timeout)
	}

	cases := make([]reflect.SelectCase, 0, len(conns)+3)
	cases = append(cases, reflect.SelectCase{
		Dir:  reflect.SelectRecv,
		Chan: reflect.ValueOf(s.interrupt),
	})
	cases = append(cases, reflect.SelectCase{
		Dir:  reflect.SelectRecv,
		Chan: reflect.ValueOf(ctx.Done()),
	})
	order := make([]int, len(conns))
	for i := range conns {
		idx := (start + 1 + i) % len(conns)
		order[i] = idx
		cases = append(cases, reflect.SelectCase{
			Dir:  reflect.SelectRecv,
			Chan: reflect.ValueOf(conns[idx].Notifier()),
		})
	}
	timeoutIdx := -1
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutIdx = len(cases)
		cases = append(cases, reflect.SelectCase{
			Dir:  reflect.SelectRecv,
			Chan: reflect.ValueOf(timer.C),
		})
	}

	chosen, _, _ := reflect.Select(cases)
	switch chosen {
	case 0:
		return Event{Kind: EventInterrupt}
	case 1:
		return Event{Kind: EventError, Err: ctx.Err()}
	case timeoutIdx:
		return Event{Kind: EventTimeout}
	default:
		connIdx := order[chosen-2]
		conn := conns[connIdx]
		s.mu.Lock()
		s.lastIndex = connIdx
		s.mu.Unlock()
		return s.classify(conn)
	}
}

func (s *ConnectionSet) waitInterruptOrTimeout(ctx context.Context, timeout time.Duration) Event {
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timeoutCh = t.C
	}
	select {
	case <-s.interrupt:
		return Event{Kind: EventInterrupt}
	case <-ctx.Done():
		return Event{Kind: EventError, Err: ctx.Err()}
	case <-timeoutCh:
		return Event{Kind: EventTimeout}
	}
}

func (s *ConnectionSet) classify(conn Connection) Event {
	if p, ok := conn.(peekable); ok {
		switch p.PendingKind() {
		case EventAccept:
			return Event{Kind: EventAccept, Conn: conn}
		case EventDisconnect:
			return Event{Kind: EventDisconnect, Conn: conn}
		case EventData:
			return Event{Kind: EventData, Conn: conn}
		default:
			return Event{Kind: EventTimeout}
		}
	}
	return Event{Kind: EventData, Conn: conn}
}

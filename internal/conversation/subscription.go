package conversation

import (
	"sync"
	"sync/atomic"
)

// Subscription delivers coalesced change signals. A receive on C means "the
// view may have changed"; read Session.View for the current state.
type Subscription struct {
	C <-chan struct{}

	ch           chan struct{}
	filesChanged atomic.Bool
	once         sync.Once
	unsubscribe  func(*Subscription)
}

// TakeFilesChanged reports whether a files-changed signal arrived since the
// last call, and clears it.
func (sub *Subscription) TakeFilesChanged() bool {
	return sub.filesChanged.Swap(false)
}

// Close stops delivery and closes C.
func (sub *Subscription) Close() {
	sub.unsubscribe(sub)
}

func (sub *Subscription) close() {
	sub.once.Do(func() { close(sub.ch) })
}

func (sub *Subscription) signal() {
	select {
	case sub.ch <- struct{}{}:
	default:
	}
}

// Subscribe registers for change signals. On a closed session the returned
// subscription is already closed.
func (s *Session) Subscribe() *Subscription {
	ch := make(chan struct{}, 1)
	sub := &Subscription{C: ch, ch: ch, unsubscribe: s.unsubscribe}

	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	if s.closed {
		sub.close()
		return sub
	}
	s.subs[sub] = struct{}{}
	return sub
}

// Subscribers returns the number of live subscriptions.
func (s *Session) Subscribers() int {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	return len(s.subs)
}

func (s *Session) unsubscribe(sub *Subscription) {
	s.subsMu.Lock()
	delete(s.subs, sub)
	s.subsMu.Unlock()
	sub.close()
}

func (s *Session) notify() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for sub := range s.subs {
		sub.signal()
	}
}

func (s *Session) notifyFilesChanged() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for sub := range s.subs {
		sub.filesChanged.Store(true)
		sub.signal()
	}
}

package broker

import (
	"encoding/json"
	"sync"
)

// slot is the write-once resource value published by whichever goroutine
// performs setup for one (scope, fingerprint) pair (spec.md §4.7). It is
// inserted as "in progress" (ready=false) at election time and filled in
// exactly once, after which every borrower observes the same value.
type slot struct {
	mu     sync.Mutex
	cond   *sync.Cond
	ready  bool
	value  any
	output string
	setErr error

	teardown func() error // nil until setup succeeds; invoked when the owning bucket reaches zero
}

func newSlot() *slot {
	s := &slot{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// fulfill publishes the setup outcome and wakes every waiter. Called at
// most once per slot (spec.md §4.7's "write-once" contract); a second
// call is a broker bug and is ignored rather than panicking a long-lived
// goroutine pool over one bad factory.
func (s *slot) fulfill(value any, output string, teardown func() error, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return
	}
	s.value = value
	s.output = output
	s.teardown = teardown
	s.setErr = err
	s.ready = true
	s.cond.Broadcast()
}

// snapshot returns the slot's current state without blocking — used by
// the poll RPC handler, which must never block the connection goroutine
// on a slot that may still be "in progress" (spec.md §4.7's deadlock
// consideration: "a broker must never block on the queue when a slot it
// owns is still null").
func (s *slot) snapshot() (ready bool, value any, output string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready, s.value, s.output, s.setErr
}

// marshalSlotValue renders the slot's value as JSON for the wire protocol.
func marshalSlotValue(v any) (json.RawMessage, error) {
	if v == nil {
		return json.RawMessage("null"), nil
	}
	return json.Marshal(v)
}

package resource

import (
	"sync"
	"sync/atomic"

	"github.com/wippyai/imager/errors"
)

type state uint8

const (
	stateLive state = iota
	stateConsumed
	stateReleased
)

type slot struct {
	value       any
	gen         uint32
	borrowCount uint32
	kind        Kind
	state       state
	// release requested while borrowed; dropped on last Return
	pendingDrop bool
}

// Table maps handles to engine-owned values tagged with their Kind.
// Slots are reused through a free list; a generation counter keeps stale
// handles from aliasing a newer resource in the same slot.
type Table struct {
	id        uint64
	slots     []slot
	freeList  []uint32
	observers []Observer
	mu        sync.Mutex
	obsMu     sync.RWMutex
	live      int
	closed    bool
}

var tableIDs atomic.Uint64

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		id:       tableIDs.Add(1),
		slots:    make([]slot, 0, 64),
		freeList: make([]uint32, 0, 16),
	}
}

// Insert stores value under a new handle of the given kind.
func (t *Table) Insert(kind Kind, value any) (Resource, error) {
	if kind != KindRaw && kind != KindPortable {
		return nil, errors.InvalidInput(errors.PhaseValidate, "unknown resource kind "+kind.String())
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, errors.NotInitialized(errors.PhaseValidate, "resource table")
	}

	var idx uint32
	if n := len(t.freeList); n > 0 {
		idx = t.freeList[n-1]
		t.freeList = t.freeList[:n-1]
	} else {
		t.slots = append(t.slots, slot{})
		idx = uint32(len(t.slots) - 1)
	}

	s := &t.slots[idx]
	s.gen++
	s.value = value
	s.kind = kind
	s.state = stateLive
	s.borrowCount = 0
	s.pendingDrop = false
	t.live++
	h := newHandle(idx, s.gen)
	t.mu.Unlock()

	t.notify(Event{Type: EventCreated, Handle: h, Kind: kind, Value: value})
	return mint(kind, h, t.id), nil
}

// lookup validates r against the table. Caller holds t.mu.
func (t *Table) lookup(op string, r Resource, want []Kind) (*slot, error) {
	if r == nil || r.Handle() == 0 {
		return nil, errors.InvalidHandle(op, 0)
	}
	if len(want) > 0 && !kindIn(r.Kind(), want) {
		return nil, errors.KindMismatch(op, want[0], r.Kind())
	}

	h := r.Handle()
	idx := h.index()
	if r.owner() != t.id || int(idx) >= len(t.slots) {
		return nil, errors.InvalidHandle(op, uint64(h))
	}
	s := &t.slots[idx]
	if s.gen != h.gen() {
		return nil, errors.InvalidHandle(op, uint64(h))
	}

	switch s.state {
	case stateConsumed:
		return nil, errors.Consumed(op, uint64(h))
	case stateReleased:
		return nil, errors.InvalidHandle(op, uint64(h))
	}
	if s.pendingDrop {
		return nil, errors.InvalidHandle(op, uint64(h))
	}
	if s.kind != r.Kind() {
		return nil, errors.KindMismatch(op, s.kind, r.Kind())
	}
	return s, nil
}

func kindIn(k Kind, set []Kind) bool {
	for _, w := range set {
		if w == k {
			return true
		}
	}
	return false
}

// Borrow returns the value behind r for the duration of one operation.
// Every successful Borrow must be paired with Return.
func (t *Table) Borrow(op string, r Resource, want ...Kind) (any, error) {
	t.mu.Lock()
	s, err := t.lookup(op, r, want)
	if err != nil {
		t.mu.Unlock()
		return nil, err
	}
	s.borrowCount++
	value := s.value
	t.mu.Unlock()

	t.notify(Event{Type: EventBorrowed, Handle: r.Handle(), Kind: r.Kind(), Value: value})
	return value, nil
}

// Return ends a borrow started by Borrow.
func (t *Table) Return(r Resource) {
	if r == nil || r.owner() != t.id {
		return
	}
	h := r.Handle()

	t.mu.Lock()
	idx := h.index()
	if h == 0 || int(idx) >= len(t.slots) || t.slots[idx].gen != h.gen() {
		t.mu.Unlock()
		return
	}
	s := &t.slots[idx]
	if s.borrowCount == 0 {
		t.mu.Unlock()
		return
	}
	s.borrowCount--
	var dropped any
	if s.borrowCount == 0 && s.pendingDrop {
		dropped = t.vacate(idx, stateReleased)
	}
	t.mu.Unlock()

	t.notify(Event{Type: EventBorrowReturned, Handle: h, Kind: r.Kind()})
	if dropped != nil {
		drop(dropped)
		t.notify(Event{Type: EventDropped, Handle: h, Kind: r.Kind(), Value: dropped})
	}
}

// Consume moves the value behind r out of the table. The handle is dead
// afterwards and the caller owns the value. Consuming a borrowed handle fails.
func (t *Table) Consume(op string, r Resource, want ...Kind) (any, error) {
	t.mu.Lock()
	s, err := t.lookup(op, r, want)
	if err != nil {
		t.mu.Unlock()
		return nil, err
	}
	if s.borrowCount > 0 {
		t.mu.Unlock()
		return nil, errors.Busy(op, uint64(r.Handle()))
	}
	value := t.vacate(r.Handle().index(), stateConsumed)
	t.mu.Unlock()

	t.notify(Event{Type: EventConsumed, Handle: r.Handle(), Kind: r.Kind(), Value: value})
	return value, nil
}

// Release drops the value behind r. If r is borrowed the drop is deferred
// until the last borrow returns.
func (t *Table) Release(r Resource) error {
	t.mu.Lock()
	s, err := t.lookup("release", r, nil)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	if s.borrowCount > 0 {
		s.pendingDrop = true
		t.mu.Unlock()
		return nil
	}
	value := t.vacate(r.Handle().index(), stateReleased)
	t.mu.Unlock()

	drop(value)
	t.notify(Event{Type: EventDropped, Handle: r.Handle(), Kind: r.Kind(), Value: value})
	return nil
}

// vacate retires a slot and returns its value. Caller holds t.mu.
// The generation is kept so the retiring handle still reports its fate.
func (t *Table) vacate(idx uint32, st state) any {
	s := &t.slots[idx]
	value := s.value
	s.value = nil
	s.state = st
	s.borrowCount = 0
	s.pendingDrop = false
	t.live--
	t.freeList = append(t.freeList, idx)
	return value
}

// Subscribe adds an observer for lifecycle events.
func (t *Table) Subscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	t.observers = append(t.observers, o)
}

// Len returns the number of live resources.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live
}

// Close drops every live value and rejects further inserts. A borrowed
// value is dropped when its last borrow returns.
func (t *Table) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true

	type dropped struct {
		value any
		h     Handle
		kind  Kind
	}
	var values []dropped
	for i := range t.slots {
		s := &t.slots[i]
		if s.state != stateLive || s.pendingDrop {
			continue
		}
		if s.borrowCount > 0 {
			s.pendingDrop = true
			continue
		}
		h := newHandle(uint32(i), s.gen)
		values = append(values, dropped{value: t.vacate(uint32(i), stateReleased), h: h, kind: s.kind})
	}
	t.mu.Unlock()

	for _, d := range values {
		drop(d.value)
		t.notify(Event{Type: EventDropped, Handle: d.h, Kind: d.kind, Value: d.value})
	}
	return nil
}

func drop(v any) {
	if d, ok := v.(Dropper); ok {
		d.Drop()
	}
}

func (t *Table) notify(e Event) {
	t.obsMu.RLock()
	defer t.obsMu.RUnlock()
	for _, o := range t.observers {
		o.OnResourceEvent(e)
	}
}

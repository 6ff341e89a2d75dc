package resource

import (
	"errors"
	"sync"
	"testing"

	imgerrors "github.com/wippyai/imager/errors"
)

type testObserver struct {
	events []Event
	mu     sync.Mutex
}

func (o *testObserver) OnResourceEvent(e Event) {
	o.mu.Lock()
	o.events = append(o.events, e)
	o.mu.Unlock()
}

func (o *testObserver) types() []EventType {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]EventType, len(o.events))
	for i, e := range o.events {
		out[i] = e.Type
	}
	return out
}

type dropCounter struct {
	drops int
}

func (d *dropCounter) Drop() { d.drops++ }

func TestTable_InsertBorrow(t *testing.T) {
	table := NewTable()

	r, err := table.Insert(KindRaw, "bytes")
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if r.Handle() == 0 {
		t.Fatal("Expected non-zero handle")
	}
	if _, ok := r.(Raw); !ok {
		t.Fatalf("Insert(KindRaw) returned %T", r)
	}

	val, err := table.Borrow("save", r, KindRaw)
	if err != nil {
		t.Fatalf("Borrow failed: %v", err)
	}
	if val != "bytes" {
		t.Fatalf("Expected 'bytes', got %v", val)
	}
	table.Return(r)

	// borrowing leaves the handle live
	if _, err := table.Borrow("save", r, KindRaw); err != nil {
		t.Fatalf("second Borrow failed: %v", err)
	}
	table.Return(r)

	if table.Len() != 1 {
		t.Fatalf("Len = %d, want 1", table.Len())
	}
}

func TestTable_KindMismatch(t *testing.T) {
	table := NewTable()

	p, _ := table.Insert(KindPortable, "exchange")
	_, err := table.Borrow("save", p, KindRaw)
	if !errors.Is(err, imgerrors.ErrKindMismatch) {
		t.Fatalf("Borrow(portable as raw) = %v, want kind mismatch", err)
	}

	var ie *imgerrors.Error
	if !errors.As(err, &ie) || ie.Op != "save" {
		t.Fatalf("error did not carry op: %v", err)
	}

	// no kind constraint accepts either variant
	if _, err := table.Borrow("to_buffer", p); err != nil {
		t.Fatalf("unconstrained Borrow failed: %v", err)
	}
	table.Return(p)
}

func TestTable_InvalidHandles(t *testing.T) {
	table := NewTable()

	tests := []struct {
		name string
		r    Resource
	}{
		{"nil", nil},
		{"zero raw", Raw{}},
		{"zero portable", Portable{}},
		{"never minted", Raw{h: newHandle(40, 1), table: table.id}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := table.Borrow("save", tt.r)
			if !errors.Is(err, imgerrors.ErrInvalidHandle) {
				t.Fatalf("Borrow = %v, want invalid handle", err)
			}
		})
	}
}

func TestTable_Consume(t *testing.T) {
	table := NewTable()
	obs := &testObserver{}
	table.Subscribe(obs)

	r, _ := table.Insert(KindRaw, "input")
	val, err := table.Consume("optimize", r, KindRaw)
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if val != "input" {
		t.Fatalf("Consume returned %v", val)
	}
	if table.Len() != 0 {
		t.Fatalf("Len = %d after Consume", table.Len())
	}

	_, err = table.Borrow("save", r)
	if !errors.Is(err, imgerrors.ErrConsumed) {
		t.Fatalf("Borrow after Consume = %v, want consumed", err)
	}
	_, err = table.Consume("optimize", r)
	if !errors.Is(err, imgerrors.ErrConsumed) {
		t.Fatalf("second Consume = %v, want consumed", err)
	}

	got := obs.types()
	if len(got) != 2 || got[0] != EventCreated || got[1] != EventConsumed {
		t.Fatalf("events = %v", got)
	}
}

func TestTable_ConsumeWhileBorrowed(t *testing.T) {
	table := NewTable()

	r, _ := table.Insert(KindRaw, "input")
	if _, err := table.Borrow("save", r); err != nil {
		t.Fatal(err)
	}

	_, err := table.Consume("optimize", r)
	if !errors.Is(err, imgerrors.ErrBusy) {
		t.Fatalf("Consume while borrowed = %v, want busy", err)
	}

	table.Return(r)
	if _, err := table.Consume("optimize", r); err != nil {
		t.Fatalf("Consume after Return failed: %v", err)
	}
}

func TestTable_Release(t *testing.T) {
	table := NewTable()
	d := &dropCounter{}

	r, _ := table.Insert(KindRaw, d)
	if err := table.Release(r); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if d.drops != 1 {
		t.Fatalf("drops = %d, want 1", d.drops)
	}

	if err := table.Release(r); !errors.Is(err, imgerrors.ErrInvalidHandle) {
		t.Fatalf("double Release = %v, want invalid handle", err)
	}
	if d.drops != 1 {
		t.Fatalf("double Release dropped again")
	}
}

func TestTable_ReleaseWhileBorrowed(t *testing.T) {
	table := NewTable()
	obs := &testObserver{}
	table.Subscribe(obs)
	d := &dropCounter{}

	r, _ := table.Insert(KindPortable, d)
	if _, err := table.Borrow("to_buffer", r); err != nil {
		t.Fatal(err)
	}

	if err := table.Release(r); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if d.drops != 0 {
		t.Fatal("value dropped while borrowed")
	}
	if _, err := table.Borrow("to_buffer", r); err == nil {
		t.Fatal("Borrow after Release should fail")
	}

	table.Return(r)
	if d.drops != 1 {
		t.Fatalf("drops = %d after last Return", d.drops)
	}
	if table.Len() != 0 {
		t.Fatalf("Len = %d", table.Len())
	}

	got := obs.types()
	if got[len(got)-1] != EventDropped {
		t.Fatalf("last event = %v, want dropped", got[len(got)-1])
	}
}

func TestTable_SlotReuse(t *testing.T) {
	table := NewTable()

	old, _ := table.Insert(KindRaw, "first")
	if err := table.Release(old); err != nil {
		t.Fatal(err)
	}

	fresh, _ := table.Insert(KindRaw, "second")
	if fresh.Handle().index() != old.Handle().index() {
		t.Fatalf("slot not reused: %d vs %d", fresh.Handle().index(), old.Handle().index())
	}
	if fresh.Handle() == old.Handle() {
		t.Fatal("reused slot kept the same handle")
	}

	if _, err := table.Borrow("save", old); !errors.Is(err, imgerrors.ErrInvalidHandle) {
		t.Fatalf("stale handle Borrow = %v, want invalid handle", err)
	}
	val, err := table.Borrow("save", fresh)
	if err != nil || val != "second" {
		t.Fatalf("Borrow(fresh) = %v, %v", val, err)
	}
	table.Return(fresh)
}

func TestTable_Close(t *testing.T) {
	table := NewTable()
	a, b := &dropCounter{}, &dropCounter{}

	table.Insert(KindRaw, a)
	table.Insert(KindPortable, b)

	if err := table.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if a.drops != 1 || b.drops != 1 {
		t.Fatalf("drops = %d, %d", a.drops, b.drops)
	}
	if table.Len() != 0 {
		t.Fatalf("Len = %d after Close", table.Len())
	}

	if _, err := table.Insert(KindRaw, "late"); err == nil {
		t.Fatal("Insert after Close should fail")
	}
	if err := table.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestTable_CloseWhileBorrowed(t *testing.T) {
	table := NewTable()
	borrowed, idle := &dropCounter{}, &dropCounter{}

	r, _ := table.Insert(KindRaw, borrowed)
	table.Insert(KindRaw, idle)
	if _, err := table.Borrow("save", r); err != nil {
		t.Fatal(err)
	}

	if err := table.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if idle.drops != 1 {
		t.Fatalf("idle drops = %d", idle.drops)
	}
	if borrowed.drops != 0 {
		t.Fatal("borrowed value dropped by Close")
	}
	if _, err := table.Borrow("save", r); !errors.Is(err, imgerrors.ErrInvalidHandle) {
		t.Fatalf("Borrow after Close = %v, want invalid handle", err)
	}

	table.Return(r)
	if borrowed.drops != 1 {
		t.Fatalf("borrowed drops = %d after Return", borrowed.drops)
	}
	if table.Len() != 0 {
		t.Fatalf("Len = %d", table.Len())
	}
}

func TestTable_ForeignHandle(t *testing.T) {
	a, b := NewTable(), NewTable()
	mine, _ := b.Insert(KindRaw, "b")
	theirs, _ := a.Insert(KindRaw, "a")

	// same slot and generation in both tables
	if mine.Handle() != theirs.Handle() {
		t.Fatalf("handles differ: %d vs %d", mine.Handle(), theirs.Handle())
	}

	if _, err := b.Borrow("to_buffer", theirs); !errors.Is(err, imgerrors.ErrInvalidHandle) {
		t.Fatalf("Borrow(foreign) = %v, want invalid handle", err)
	}
	if _, err := b.Consume("optimize", theirs); !errors.Is(err, imgerrors.ErrInvalidHandle) {
		t.Fatalf("Consume(foreign) = %v, want invalid handle", err)
	}
	if err := b.Release(theirs); !errors.Is(err, imgerrors.ErrInvalidHandle) {
		t.Fatalf("Release(foreign) = %v, want invalid handle", err)
	}
	b.Return(theirs)

	if v, err := b.Borrow("to_buffer", mine); err != nil || v != "b" {
		t.Fatalf("own handle = %v, %v", v, err)
	}
	b.Return(mine)
	if b.Len() != 1 || a.Len() != 1 {
		t.Fatalf("Len = %d, %d", b.Len(), a.Len())
	}
}

func TestTable_InsertUnknownKind(t *testing.T) {
	table := NewTable()
	if _, err := table.Insert(Kind(9), "x"); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestTable_Concurrent(t *testing.T) {
	table := NewTable()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := table.Insert(KindRaw, i)
			if err != nil {
				t.Error(err)
				return
			}
			if _, err := table.Borrow("save", r); err != nil {
				t.Error(err)
				return
			}
			table.Return(r)
			if _, err := table.Consume("optimize", r); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	if table.Len() != 0 {
		t.Fatalf("Len = %d", table.Len())
	}
}

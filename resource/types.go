package resource

import "fmt"

// Handle is an opaque reference to a slot in a Table.
// Handle 0 is reserved and always invalid.
type Handle uint64

func newHandle(index, gen uint32) Handle {
	return Handle(uint64(gen)<<32 | uint64(index+1))
}

func (h Handle) index() uint32 { return uint32(h) - 1 }
func (h Handle) gen() uint32   { return uint32(h >> 32) }

// Kind is the discriminant tag of a resource.
type Kind uint8

const (
	// KindRaw is engine-resident working bytes.
	KindRaw Kind = iota + 1
	// KindPortable is exchange bytes convertible to and from caller buffers.
	KindPortable
)

func (k Kind) String() string {
	switch k {
	case KindRaw:
		return "raw"
	case KindPortable:
		return "portable"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Resource is a tagged handle to encoded image bytes owned by the engine.
// The two variants are Raw and Portable; only a Table mints them.
// A resource is only valid in the Table that minted it.
type Resource interface {
	Kind() Kind
	Handle() Handle
	owner() uint64
}

// Raw is a handle to engine-resident working bytes.
type Raw struct {
	h     Handle
	table uint64
}

func (r Raw) Kind() Kind     { return KindRaw }
func (r Raw) Handle() Handle { return r.h }
func (r Raw) owner() uint64  { return r.table }

// Portable is a handle to exchange-form bytes.
type Portable struct {
	h     Handle
	table uint64
}

func (p Portable) Kind() Kind     { return KindPortable }
func (p Portable) Handle() Handle { return p.h }
func (p Portable) owner() uint64  { return p.table }

func mint(kind Kind, h Handle, table uint64) Resource {
	switch kind {
	case KindRaw:
		return Raw{h: h, table: table}
	case KindPortable:
		return Portable{h: h, table: table}
	}
	return nil
}

// EventType identifies a resource lifecycle notification.
type EventType uint8

const (
	EventCreated EventType = iota
	EventDropped
	EventConsumed
	EventBorrowed
	EventBorrowReturned
)

// Event represents a resource lifecycle event.
type Event struct {
	Value  any
	Handle Handle
	Kind   Kind
	Type   EventType
}

// Observer receives notifications about resource lifecycle events.
type Observer interface {
	OnResourceEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnResourceEvent(e Event) { f(e) }

// Dropper is optionally implemented by values that own engine memory.
type Dropper interface {
	Drop()
}

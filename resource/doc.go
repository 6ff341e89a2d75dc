// Package resource tracks the opaque image handles handed out to callers.
//
// A Resource is one of two tagged variants:
//
//	Raw      - engine-resident working bytes
//	Portable - exchange bytes that can be turned into a caller buffer
//
// Only a Table mints handles, so every Resource a caller holds was produced
// by a prior open or optimize and carries its kind tag. A Resource also
// records which Table minted it; any other Table rejects it as invalid.
//
// # Ownership
//
// Operations either borrow a handle for their duration or consume it:
//
//	v, err := table.Borrow("save", r, resource.KindRaw)
//	defer table.Return(r)
//
//	v, err := table.Consume("optimize", r, resource.KindRaw)
//	// r is dead; later use fails with errors.ErrConsumed
//
// Release drops the backing value through Dropper. Releasing a borrowed
// handle defers the drop until the last borrow is returned. Close does the
// same for every handle still borrowed.
//
// # Observers
//
//	table.Subscribe(resource.ObserverFunc(func(e resource.Event) {
//	    if e.Type == resource.EventDropped {
//	        log.Printf("dropped %d", e.Handle)
//	    }
//	}))
package resource

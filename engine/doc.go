// Package engine loads the image-optimization engine and exposes its operations.
//
// # Architecture
//
// The package provides three main types:
//
//	Handle  - Process-wide reference; resolves the platform and loads once
//	Engine  - Full operation table over one Backend
//	Backend - Operation surface of one loaded module
//
// # Backends
//
// Three loaders produce a Backend:
//
//	NativeLoader      - Prebuilt shared library, bound through purego
//	WASMLoader        - Engine compiled to wasm, run by wazero
//	reference.Loader  - Pure Go stand-in (package engine/reference)
//
// # Load Flow
//
//  1. Handle.Engine() resolves the host platform to a module identifier
//  2. An unsupported platform fails here; no module is touched
//  3. The Loader opens the module; the result or error is kept for good
//  4. Later calls reuse the Engine or return the same error
//
// # Blob Forms
//
// Raw blobs are owned by the backend. Portable blobs are HostBuffers held in
// Go memory and imported into the backend only while optimizing:
//
//	raw      := eng.OpenRaw(ctx, "in.jpeg")
//	portable := eng.OpenPortable(ctx, "in.jpeg")
//	out      := eng.Optimize(ctx, portable, opt.Normalize(opt.Size("900x900")))
//	// out is a HostBuffer
//
// # Caching
//
// WithCache memoizes optimize results keyed by an xxhash of the input bytes
// and the normalized parameters. Eviction is first-in first-out.
package engine

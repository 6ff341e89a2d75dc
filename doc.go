// Package imager optimizes encoded images through a native engine.
//
// The library is organized into several packages with distinct responsibilities:
//
//	imager/              Root package: Imager client and ImageBuffer façade
//	├── sys/             Low-level forwarder, one async op per engine capability
//	├── engine/          Engine handle, native (purego) and wasm (wazero) backends
//	│   └── reference/   Pure Go backend for tests and hosts without a module
//	├── platform/        Host OS to engine module selection
//	├── resource/        Raw and portable handles, ownership table
//	├── opt/             Optimization arguments and normalization
//	├── async/           Pending results
//	├── config/          Configuration loading
//	└── errors/          Structured error types
//
// # Quick Start
//
//	img, err := imager.New()
//	if err != nil {
//	    return err
//	}
//	defer img.Close(ctx)
//
//	buf, err := img.Open(ctx, "assets/test/1.jpeg").Await(ctx)
//	if err != nil {
//	    return err
//	}
//	out, err := buf.Opt(ctx, imager.Size("900x900")).Await(ctx)
//	if err != nil {
//	    return err
//	}
//	_, err = out.Save(ctx, "assets/output/test/1.jpeg").Await(ctx)
//
// # Pending Results
//
// Every method returns an *async.Future. Chains abort at the first failing
// step:
//
//	saved := async.Then(ctx, img.Open(ctx, src), func(b *imager.ImageBuffer) *async.Future[struct{}] {
//	    return b.Save(ctx, dst)
//	})
//
// # Ownership
//
// Opt consumes its receiver. Using an ImageBuffer after passing it to Opt
// fails with errors.ErrConsumed. Save and ToBuffer leave the receiver usable.
//
// # Engine Selection
//
// The engine module is chosen from the host OS (darwin, linux, windows) and
// loaded on first use. Configuration picks the runtime that hosts it:
//
//	native     - prebuilt shared library under engine.root
//	wasm       - the engine compiled to wasm, run in-process
//	reference  - pure Go implementation
package imager

package engine

import "github.com/wippyai/imager/platform"

// WithGOOS makes the handle resolve goos instead of the running platform.
func WithGOOS(goos string) HandleOption {
	return func(h *Handle) {
		h.resolve = func() (platform.Module, error) { return platform.Resolve(goos) }
	}
}

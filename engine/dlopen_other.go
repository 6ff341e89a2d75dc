//go:build !darwin && !linux && !windows

package engine

import (
	"runtime"

	"github.com/wippyai/imager/errors"
)

func openLibrary(string) (uintptr, error) {
	return 0, errors.UnsupportedPlatform(runtime.GOOS)
}

func closeLibrary(uintptr) error { return nil }

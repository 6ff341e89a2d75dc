// Package platform selects the native engine module for the host operating system.
//
// The set of platforms is closed. Every Platform maps to exactly one module
// identifier, and anything outside the set fails before a module is touched.
package platform

import (
	"path"
	"runtime"

	"github.com/wippyai/imager/errors"
)

// Platform is a supported host operating system.
type Platform uint8

const (
	Darwin Platform = iota + 1
	Linux
	Windows
)

// All lists every supported platform.
var All = []Platform{Darwin, Linux, Windows}

// Module identifies the prebuilt engine module for one platform.
// Path is relative to the engine root directory.
type Module struct {
	Path     string
	Platform Platform
}

func (p Platform) String() string {
	switch p {
	case Darwin:
		return "darwin"
	case Linux:
		return "linux"
	case Windows:
		return "windows"
	}
	return "unknown"
}

// Module returns the engine module dedicated to p.
// It panics for a Platform value outside the enumeration.
func (p Platform) Module() Module {
	var lib string
	switch p {
	case Darwin:
		lib = "libimager.dylib"
	case Linux:
		lib = "libimager.so"
	case Windows:
		lib = "imager.dll"
	default:
		panic("platform: module for invalid platform " + p.String())
	}
	return Module{
		Platform: p,
		Path:     path.Join("native", p.String(), lib),
	}
}

// Parse maps a GOOS value onto a Platform.
func Parse(goos string) (Platform, error) {
	switch goos {
	case "darwin":
		return Darwin, nil
	case "linux":
		return Linux, nil
	case "windows":
		return Windows, nil
	}
	return 0, errors.UnsupportedPlatform(goos)
}

// Resolve returns the engine module for goos.
func Resolve(goos string) (Module, error) {
	p, err := Parse(goos)
	if err != nil {
		return Module{}, err
	}
	return p.Module(), nil
}

// Current resolves the module for the running process.
func Current() (Module, error) {
	return Resolve(runtime.GOOS)
}

// Package opt defines the arguments accepted by the optimize operation.
//
// Callers pass either a bare size token or a structured Options value.
// Both normalize once, at the forwarder boundary, into Params.
package opt

import (
	"fmt"
	"strconv"
	"strings"
)

// Full keeps the source resolution.
const Full = "full"

// Format is an output container format.
type Format string

// JPEG is the only output format the engine produces.
const JPEG Format = "jpeg"

// Args is the optimize argument union: Size or Options.
// A nil Args means no arguments were given.
type Args interface {
	args()
}

// Size is a bare size token such as "900x900" or "full".
type Size string

func (Size) args() {}

// Options is the structured argument form.
type Options struct {
	Size   string `json:"size,omitempty" mapstructure:"size"`
	Format Format `json:"format,omitempty" mapstructure:"format"`
}

func (Options) args() {}

// Params is the normalized form forwarded to the engine.
type Params struct {
	Size   string
	Format Format
}

func (p Params) String() string {
	return p.Size + "/" + string(p.Format)
}

// Normalize derives the effective size and format from args.
// A missing or empty size yields Full; the size token itself is passed
// through untouched. Normalize never fails.
func Normalize(args Args) Params {
	p := Params{Size: Full, Format: JPEG}

	switch a := args.(type) {
	case Size:
		if a != "" {
			p.Size = string(a)
		}
	case Options:
		if a.Size != "" {
			p.Size = a.Size
		}
		p.Format = ParseFormat(string(a.Format))
	case *Options:
		if a != nil {
			return Normalize(*a)
		}
	}
	return p
}

// ParseFormat maps a format name onto a Format. JPEG is the only output
// format, so every name, known or not, yields JPEG.
func ParseFormat(string) Format {
	return JPEG
}

// Resolution is a pixel box parsed from a "WxH" token.
type Resolution struct {
	Width  int
	Height int
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// ParseResolution parses a "WxH" token. It reports ok=false for Full.
func ParseResolution(token string) (r Resolution, ok bool, err error) {
	if token == Full {
		return Resolution{}, false, nil
	}

	w, h, found := strings.Cut(token, "x")
	if !found {
		return Resolution{}, false, fmt.Errorf("resolution %q: missing 'x' separator", token)
	}
	width, err := strconv.ParseUint(w, 10, 32)
	if err != nil {
		return Resolution{}, false, fmt.Errorf("resolution %q: invalid width: %w", token, err)
	}
	height, err := strconv.ParseUint(h, 10, 32)
	if err != nil {
		return Resolution{}, false, fmt.Errorf("resolution %q: invalid height: %w", token, err)
	}
	return Resolution{Width: int(width), Height: int(height)}, true, nil
}

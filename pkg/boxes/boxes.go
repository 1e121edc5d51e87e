// Package boxes extracts box annotations from free-text model responses.
//
// Grounding models answer with text such as
//
//	Action: click the button box=[[120,40,310,95]]
//
// where each coordinate is a fraction of the image size scaled by 1000. The
// matcher is tolerant on purpose: both box=[[...]] and box=[...] are accepted,
// as are mismatched bracket depths, because models are not consistent about it.
package boxes

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/menta2k/agent-grounding/pkg/types"
)

// Scale is the fixed-point denominator used by the model for coordinates.
const Scale = 1000

var boxPattern = regexp.MustCompile(`box=\[\[?(\d+),(\d+),(\d+),(\d+)\]?\]`)

// Policy controls what happens to boxes that are out of range or inverted.
type Policy string

const (
	// PassThrough keeps every box exactly as emitted
	PassThrough Policy = "pass-through"
	// Clamp forces each coordinate into [0,1] and orders min/max
	Clamp Policy = "clamp"
	// Reject drops boxes that are out of range or inverted
	Reject Policy = "reject"
)

// ParsePolicy converts a config string to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "", PassThrough:
		return PassThrough, nil
	case Clamp, Reject:
		return p, nil
	default:
		return "", fmt.Errorf("unknown box policy %q (use pass-through, clamp or reject)", s)
	}
}

// Extract returns all boxes found in text, in the order they appear.
// It returns nil when the text contains no box annotations.
func Extract(text string) []types.Box {
	matches := boxPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	out := make([]types.Box, 0, len(matches))
	for _, m := range matches {
		var v [4]float64
		ok := true
		for i := 0; i < 4; i++ {
			n, err := strconv.ParseUint(m[i+1], 10, 64)
			if err != nil {
				// only reachable for digit runs that overflow uint64
				ok = false
				break
			}
			v[i] = float64(n) / Scale
		}
		if !ok {
			continue
		}
		out = append(out, types.Box{XMin: v[0], YMin: v[1], XMax: v[2], YMax: v[3]})
	}
	return out
}

// Valid reports whether every coordinate is within [0,1] and min <= max on both axes.
func Valid(b types.Box) bool {
	for _, v := range []float64{b.XMin, b.YMin, b.XMax, b.YMax} {
		if v < 0 || v > 1 {
			return false
		}
	}
	return b.XMin <= b.XMax && b.YMin <= b.YMax
}

// Apply runs the policy over boxes. The second return value is the number of
// boxes that were changed (Clamp) or dropped (Reject).
func Apply(p Policy, in []types.Box) ([]types.Box, int) {
	switch p {
	case Clamp:
		out := make([]types.Box, len(in))
		changed := 0
		for i, b := range in {
			out[i] = clampBox(b)
			if out[i] != b {
				changed++
			}
		}
		return out, changed
	case Reject:
		out := make([]types.Box, 0, len(in))
		for _, b := range in {
			if Valid(b) {
				out = append(out, b)
			}
		}
		return out, len(in) - len(out)
	default:
		return in, 0
	}
}

func clampBox(b types.Box) types.Box {
	x0, x1 := clamp(b.XMin, 0, 1), clamp(b.XMax, 0, 1)
	y0, y1 := clamp(b.YMin, 0, 1), clamp(b.YMax, 0, 1)
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	return types.Box{XMin: x0, YMin: y0, XMax: x1, YMax: y1}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

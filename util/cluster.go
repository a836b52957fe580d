// Package util provides callstack-frame canonicalization: grouping frames
// that differ only by inlined-allocator-wrapper noise (a small numeric
// suffix, e.g. a return-address offset) so the operation log and the
// callstack viewer report one representative frame per cluster instead of
// dozens of near-duplicates.
package util

import (
	"sort"

	"github.com/antzucaro/matchr"
)

// FrameDistance returns the Levenshtein edit distance between two raw
// callstack frame strings.
func FrameDistance(a, b string) int {
	return matchr.Levenshtein(a, b)
}

// Canonicalizer clusters callstack frames by edit-distance proximity and
// assigns each cluster a single representative frame (the first one seen),
// so repeated near-duplicate frames collapse to one label.
type Canonicalizer struct {
	maxDistance int
	reps        []string
	canon       map[string]string
}

// NewCanonicalizer returns a Canonicalizer that merges two frames into the
// same cluster whenever their edit distance is at most maxDistance.
func NewCanonicalizer(maxDistance int) *Canonicalizer {
	return &Canonicalizer{
		maxDistance: maxDistance,
		canon:       make(map[string]string),
	}
}

// Canonical returns the representative frame for raw, assigning raw to an
// existing cluster if one is within maxDistance, or starting a new cluster
// with raw as its own representative otherwise. Subsequent calls with the
// same raw string are O(1).
func (c *Canonicalizer) Canonical(raw string) string {
	if rep, ok := c.canon[raw]; ok {
		return rep
	}
	for _, rep := range c.reps {
		if FrameDistance(raw, rep) <= c.maxDistance {
			c.canon[raw] = rep
			return rep
		}
	}
	c.reps = append(c.reps, raw)
	c.canon[raw] = raw
	return raw
}

// CanonicalizeCallstack rewrites every frame of a callstack, given as a slice
// of frames, to its cluster representative, preserving frame order.
func (c *Canonicalizer) CanonicalizeCallstack(frames []string) []string {
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = c.Canonical(f)
	}
	return out
}

// Representatives returns every cluster representative seen so far, sorted
// for deterministic display.
func (c *Canonicalizer) Representatives() []string {
	out := append([]string(nil), c.reps...)
	sort.Strings(out)
	return out
}

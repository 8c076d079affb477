package synth

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	nonAlnum     = regexp.MustCompile(`[^a-z0-9]+`)
	leadingDigit = regexp.MustCompile(`^[0-9]`)
)

// maxDerivedNameLen bounds the snake_case stem before collision suffixing,
// keeping generated ids short and descriptive per spec.
const maxDerivedNameLen = 32

// deriveName turns a task description into a short, descriptive snake_case
// stem: lowercased, non-alphanumeric runs collapsed to one underscore,
// leading/trailing underscores trimmed, truncated to maxDerivedNameLen. An
// empty or entirely-punctuation description falls back to "capability".
func deriveName(taskDescription string) string {
	lower := strings.ToLower(taskDescription)
	stem := nonAlnum.ReplaceAllString(lower, "_")
	stem = strings.Trim(stem, "_")
	if stem == "" {
		stem = "capability"
	}
	if len(stem) > maxDerivedNameLen {
		stem = strings.Trim(stem[:maxDerivedNameLen], "_")
	}
	if leadingDigit.MatchString(stem) {
		stem = "c_" + stem
	}
	return stem
}

// existsFunc reports whether id is already taken, in the catalog or on disk.
type existsFunc func(id string) bool

// resolveName derives a fresh id from taskDescription, appending _2, _3, …
// to resolve collisions against exists.
func resolveName(taskDescription string, exists existsFunc) string {
	stem := deriveName(taskDescription)
	if !exists(stem) {
		return stem
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s_%d", stem, n)
		if !exists(candidate) {
			return candidate
		}
	}
}

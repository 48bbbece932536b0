package filter

import "strings"

// splitPath splits a dotted path into its segments, rejecting empty
// segments (e.g. "a..b" or leading/trailing dots).
func splitPath(path string) ([]string, bool) {
	segments := strings.Split(path, ".")
	for _, s := range segments {
		if s == "" {
			return nil, false
		}
	}
	return segments, true
}

// resolvePath descends message through the given dotted-path segments,
// returning the value found and whether every segment resolved to a map
// entry. A missing intermediate key resolves to (nil, false).
func resolvePath(message map[string]any, segments []string) (any, bool) {
	var current any = message
	for _, seg := range segments {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		value, ok := m[seg]
		if !ok {
			return nil, false
		}
		current = value
	}
	return current, true
}

package utils

import "strings"

// Match reports whether a resource key matches a grant pattern. Keys and
// patterns are colon-separated, e.g. "inventory:product:42" against
// "inventory:product:*". A '*' segment matches exactly one segment; a
// trailing '*' matches the whole remainder, so "inventory:*" covers
// "inventory:product:42". The bare pattern "*" matches any key.
func Match(value, pattern string) bool {
	if pattern == "*" || pattern == value {
		return true
	}
	if pattern == "" {
		return value == ""
	}

	vSegs := strings.Split(value, ":")
	pSegs := strings.Split(pattern, ":")

	for i, p := range pSegs {
		if p == "*" && i == len(pSegs)-1 {
			// trailing wildcard swallows the rest, including nothing
			return len(vSegs) >= i
		}
		if i >= len(vSegs) {
			return false
		}
		if p != "*" && p != vSegs[i] {
			return false
		}
	}
	return len(vSegs) == len(pSegs)
}

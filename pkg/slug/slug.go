// Package slug normalizes channel display names into canonical channel
// identifiers shared by both platforms.
package slug

import "strings"

var replacer = strings.NewReplacer(" ", "-", "_", "-")

// Normalize maps an arbitrary channel display name to its canonical slug:
// lower-cased, with spaces and underscores replaced by hyphens. Platform
// character restrictions are not enforced here; the resolver owns those.
func Normalize(name string) string {
	return replacer.Replace(strings.ToLower(name))
}

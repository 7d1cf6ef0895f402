package config

import "strings"

// =============================================================================
// Slug Generation
// =============================================================================

// Slugify converts a name into a form valid as a container name and a proxy
// site name:
//   - lowercase letters, digits, and hyphens pass through
//   - uppercase letters are lowered
//   - spaces, underscores, and dots become hyphens
//   - everything else is dropped
//   - runs of hyphens collapse to one, and leading/trailing hyphens are
//     trimmed (container names must start with an alphanumeric)
//
// Example:
//
//	Slugify("My.App 2.0")  // returns "my-app-2-0"
//	Slugify("flask_demo")  // returns "flask-demo"
func Slugify(name string) string {
	var b strings.Builder
	lastHyphen := false
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
			lastHyphen = false
		case r == '-' || r == ' ' || r == '_' || r == '.':
			if !lastHyphen && b.Len() > 0 {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

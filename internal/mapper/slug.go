package mapper

import "strings"

// Slug lowercases s and collapses every run of characters outside [a-z0-9] into "_".
func Slug(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	pendingSep := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	if b.Len() == 0 {
		return "x"
	}
	return b.String()
}

// SlotName is the conversational slot of a node variable.
func SlotName(nodeID, variable string) string {
	return Slug(nodeID) + "_" + variable
}

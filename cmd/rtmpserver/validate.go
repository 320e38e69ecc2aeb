package main

// maxStreamIDLength bounds channel/key length, matching the teacher's
// configurable streamIdMaxLength (default 128 in its README).
const maxStreamIDLength = 128

// validateStreamIDString reports whether s is an acceptable channel or key
// value: non-empty, within maxLen bytes, and restricted to characters that
// are always safe as a map key and as a path component if ever persisted
// to disk. rtmp_session.go calls a function of this name from
// HandleConnect/HandlePublish, but its definition was not present anywhere
// in the retrieved teacher source (see DESIGN.md) — this is a from-scratch
// equivalent covering the same call sites.
func validateStreamIDString(s string, maxLen int) bool {
	if s == "" || len(s) > maxLen {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-':
		default:
			return false
		}
	}
	return true
}

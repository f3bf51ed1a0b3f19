package topology

import "strings"

// GUID tokens arrive in several spellings depending on the tool that
// produced the artifact: "0x248a0703009c7e96", "248A0703009C7E96",
// zero-padded, or quoted inside a node label. All registry keys and
// all comparisons use the canonical form produced here, so two
// spellings of one device can never create two nodes.

// CanonicalGUID normalizes a raw GUID token to "0x" + lowercase hex
// with leading zeros stripped. The zero GUID canonicalizes to "0x0".
// Returns false for tokens that are not plausible GUIDs.
func CanonicalGUID(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	s = strings.Trim(s, "\"")
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	if s == "" || len(s) > 16 {
		return "", false
	}
	for i := 0; i < len(s); i++ {
		if !isHexDigit(s[i]) {
			return "", false
		}
	}
	s = strings.ToLower(s)
	s = strings.TrimLeft(s, "0")
	if s == "" {
		s = "0"
	}
	return "0x" + s, true
}

// MustGUID canonicalizes a trusted token and panics on failure. Intended
// for literals in tests and fixtures, never for dump input.
func MustGUID(raw string) string {
	g, ok := CanonicalGUID(raw)
	if !ok {
		panic("topology: invalid guid literal " + raw)
	}
	return g
}

func isHexDigit(c byte) bool {
	switch {
	case c >= '0' && c <= '9':
		return true
	case c >= 'a' && c <= 'f':
		return true
	case c >= 'A' && c <= 'F':
		return true
	}
	return false
}

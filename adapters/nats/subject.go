package nats

import (
	"encoding/base64"
	"strings"
)

// subjectToken maps s onto a single NATS subject token. Values holding
// characters with subject meaning are base64url encoded behind a "~" marker;
// the marker itself forces encoding, so the mapping stays injective.
func subjectToken(s string) string {
	if s != "" && !strings.ContainsAny(s, ".*>~ \t\r\n") {
		return s
	}
	return "~" + base64.RawURLEncoding.EncodeToString([]byte(s))
}

package attendance

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// NormalizeEmail trims and lower-cases an email so lookups and the unique
// index agree.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeToken trims whitespace left by scanners and copy-paste. Tokens are
// otherwise matched exactly.
func NormalizeToken(token string) string {
	return strings.TrimSpace(token)
}

// NormalizeName trims a display name and composes it to NFC, so names pasted
// from different sources compare and sort the same.
func NormalizeName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// NewToken builds the opaque check-in token printed on a user's QR code.
func NewToken(userID string, at time.Time) string {
	return fmt.Sprintf("EVENT_%s_%d", userID, at.UnixMilli())
}

// ValidEmail does a basic structural check.
func ValidEmail(email string) bool {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" || strings.Contains(domain, "@") {
		return false
	}
	return strings.Contains(domain, ".")
}

package llm

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
)

// Query parameters that carry credentials. Request URLs pass through
// RedactURL before any log statement; a missed pattern leaks a key into
// logs, so the list errs broad.
var sensitiveQueryParams = regexp.MustCompile(`(?i)([?&](?:key|api[_-]?key|apikey|token|access[_-]?token|secret)=)[^&\s]+`)

// RedactURL strips credential-bearing query string values from a URL,
// keeping the parameter name so logs stay diagnosable.
func RedactURL(url string) string {
	return sensitiveQueryParams.ReplaceAllString(url, "${1}REDACTED")
}

// HashAPIKey returns a short stable fingerprint of an API key for ledger
// rows. The raw key is never persisted.
func HashAPIKey(key string) string {
	if key == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:16]
}

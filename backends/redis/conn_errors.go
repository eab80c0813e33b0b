package redis

import "strings"

// connErrorStrings are the default patterns used to recognize connectivity
// failures so they can be tagged transient (§7) rather than operational
// errors like NOSCRIPT or WRONGTYPE, which should not trigger composite
// failover. Matched case-insensitively against the error's message. Callers
// can override these via Config.ConnErrorStrings.
var connErrorStrings = []string{
	"connection refused",
	"connection timeout",
	"connection reset",
	"network is unreachable",
	"no such host",
	"timeout",
	"i/o timeout",
	"broken pipe",
	"connection pool exhausted",
}

func isConnError(err error, patterns []string) bool {
	msg := strings.ToLower(err.Error())
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

package postgres

import "strings"

// connErrorStrings are the default patterns used to recognize connectivity
// failures (§7 transient errors) as opposed to operational ones like
// constraint violations. Matched case-insensitively. Callers can override
// via Config.ConnErrorStrings.
var connErrorStrings = []string{
	"connection refused",
	"connection timeout",
	"connection reset",
	"network is unreachable",
	"no such host",
	"i/o timeout",
	"broken pipe",
	"pool exhausted",
	"too many connections",
	"database is locked",
	"terminating connection",
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

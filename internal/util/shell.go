// Package util provides small string helpers shared across packages.
package util

import "strings"

// ShellQuote wraps a string in single quotes, escaping any existing single quotes.
// The result is passed through a remote shell literally.
func ShellQuote(s string) string {
	// Replace ' with '\'' (end quote, escaped quote, start quote)
	escaped := strings.ReplaceAll(s, "'", "'\\''")
	return "'" + escaped + "'"
}

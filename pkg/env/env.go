package env

import (
	"os"
	"strings"
)

// Prefix namespaces the service's own variables.
const Prefix = "STOCKLEDGER_"

// Get returns STOCKLEDGER_<key>, then the bare <key>, then fallback.
func Get(key, fallback string) string {
	if val := First(Prefix+key, key); val != "" {
		return val
	}
	return fallback
}

// First returns the first non-blank value among keys, trimmed.
func First(keys ...string) string {
	for _, key := range keys {
		if val := strings.TrimSpace(os.Getenv(key)); val != "" {
			return val
		}
	}
	return ""
}

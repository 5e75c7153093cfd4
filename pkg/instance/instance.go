package instance

import (
	"os"

	"github.com/angelmondragon/stockledger/pkg/env"
)

const fallbackID = "stockledger-0"

// GetID returns the process instance identifier. STOCKLEDGER_INSTANCE_ID wins,
// then DYNO and the host name.
func GetID() string {
	if id := env.First(env.Prefix+"INSTANCE_ID", "DYNO"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return fallbackID
}

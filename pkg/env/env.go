package env

import (
	"os"
	"strings"
)

// Prefix is shared with the envconfig-driven config package.
const Prefix = "ESCROW_"

// Get returns ESCROW_<name>, falling back to the bare name, then to fallback.
// It serves values needed before config.Load runs.
func Get(name, fallback string) string {
	for _, key := range []string{Prefix + name, name} {
		if val := strings.TrimSpace(os.Getenv(key)); val != "" {
			return val
		}
	}
	return fallback
}

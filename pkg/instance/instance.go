package instance

import (
	"os"
	"strings"
)

const fallbackID = "local"

// ID identifies this process in logs and lock ownership. IBOS_INSTANCE_ID
// wins, then the container hostname.
func ID() string {
	if id := strings.TrimSpace(os.Getenv("IBOS_INSTANCE_ID")); id != "" {
		return id
	}
	if host := strings.TrimSpace(os.Getenv("HOSTNAME")); host != "" {
		return host
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return fallbackID
}

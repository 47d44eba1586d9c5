package instance

import (
	"os"

	"github.com/lumina-photos/lumina-backend/pkg/env"
)

const fallbackID = "local"

// GetID identifies the running process in logs and lock ownership.
// LUMINA_INSTANCE_ID wins over the platform-provided DYNO, then the hostname.
func GetID() string {
	if id := env.Get("INSTANCE_ID", os.Getenv("DYNO")); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return fallbackID
}

package obs

import "github.com/google/uuid"

// NewCorrelationID returns a UUIDv7 identifying one request/session/
// subscription lifecycle.
//
// Attach the result to a logger with [*slog.Logger.With] so every log entry
// for one SD subscription cycle, one pending request, or one IPC registration
// shares the same id, enabling correlation across routing, discovery, and
// endpoint packages.
func NewCorrelationID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Time-ordered UUID generation only fails if the system clock or RNG
		// is unusable; fall back to a random v4 rather than panic a daemon.
		return uuid.New().String()
	}
	return id.String()
}

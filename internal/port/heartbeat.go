package port

import (
	"context"
	"time"
)

// Heartbeat reports cycle latency to an external monitor. Implementations
// never fail the caller.
type Heartbeat interface {
	Report(ctx context.Context, elapsed time.Duration)
}

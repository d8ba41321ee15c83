package alert

import "context"

// Sink consumes alert events. Implementations must be safe for repeated
// calls, honor ctx deadlines, and may be invoked concurrently.
type Sink interface {
	Deliver(ctx context.Context, evt Event) error
	Close(ctx context.Context) error
}

// Publisher is the producer-facing interface; Hub satisfies it so the
// ingestion pipeline and deadline monitor stay agnostic about fan-out.
type Publisher interface {
	Publish(evt Event)
}

package notify

import (
	"context"
	"log"

	"github.com/profilewatch/profilewatch-go/pkg/core"
)

// Sink receives the ordered event list produced by a run. Implementations
// deliver over whatever transport they represent (issue tracker, email,
// webhook); the core only guarantees the list's ordering and dedup.
type Sink interface {
	// Deliver hands the events to the transport. Events for one subject
	// arrive in a single call, already ordered.
	Deliver(ctx context.Context, events []core.NotificationEvent) error
}

// LogSink writes event summaries to the process log. It is the default sink
// and doubles as the dry-run transport.
type LogSink struct{}

// Deliver logs one line per event.
func (LogSink) Deliver(ctx context.Context, events []core.NotificationEvent) error {
	for _, e := range events {
		summary, _ := e.Payload["summary"].(string)
		log.Printf("[Notify] %s %s: %s", e.Subject, e.Kind, summary)
	}
	return nil
}

package audit

import (
	"context"

	"github.com/rs/zerolog"
)

// Worker consumes audit events from a channel and persists them, keeping
// event capture off the distribution hot path. The ledger writes to the inbox
// without blocking; a full inbox drops the event rather than stalling a
// distribution. The trail is best-effort throughout: a failed append is
// logged and the event dropped, never surfaced to the run group.
type Worker struct {
	store Store
	inbox <-chan Event
	log   zerolog.Logger
}

func NewWorker(store Store, inbox <-chan Event, log zerolog.Logger) *Worker {
	return &Worker{store: store, inbox: inbox, log: log}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.inbox:
			if err := w.store.Append(ctx, event); err != nil {
				w.log.Warn().Err(err).
					Str("action", string(event.Action)).
					Str("donation_id", event.DonationID).
					Msg("audit append failed, event dropped")
			}
		}
	}
}

package mirror

import (
	"context"

	"github.com/nonamebeautyonline-spec/em-clinic-sub005/internal/events"
	"github.com/nonamebeautyonline-spec/em-clinic-sub005/pkg/logging"
)

// Syncer turns a committed change into tasks and dispatches the ones a target is
// configured for.
type Syncer struct {
	router     *events.Router
	dispatcher *events.Dispatcher
	logger     *logging.Logger
}

func NewSyncer(router *events.Router, dispatcher *events.Dispatcher, logger *logging.Logger) *Syncer {
	if router == nil {
		panic("mirror: router required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Syncer{router: router, dispatcher: dispatcher, logger: logger}
}

func (s *Syncer) Sync(ctx context.Context, change Change) events.SyncReport {
	entries, err := NewTasks(change)
	if err != nil {
		s.logger.Error("failed to build mirror tasks", "reserve_id", change.Reservation.ReserveID, "error", err)
		return events.SyncReport{Status: events.SyncFailed}
	}
	return s.dispatcher.Dispatch(ctx, Configured(s.router, entries))
}

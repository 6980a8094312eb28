package agent

import (
	"context"

	. "dbma/internal/logging"
	"dbma/internal/store"
)

// Recorder is the query history sink. A failed audit write is logged and
// swallowed; it never fails the caller's turn.
type Recorder struct {
	store store.Store
}

// NewRecorder creates a recorder over the store.
func NewRecorder(st store.Store) *Recorder {
	return &Recorder{store: st}
}

// Record appends one audit entry.
func (r *Recorder) Record(ctx context.Context, rec *store.QueryRecord) {
	if err := r.store.RecordQuery(ctx, rec); err != nil {
		L_error("history: failed to record query attempt: %v", err)
	}
}

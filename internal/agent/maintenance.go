package agent

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	. "dbma/internal/logging"
	"dbma/internal/store"
)

// Maintenance runs the background sweep: retry deferred compactions and
// refresh stale schema caches while the process is idle.
type Maintenance struct {
	agent *Agent
	cron  *cron.Cron
}

// NewMaintenance creates the sweep on the configured cron spec.
func NewMaintenance(a *Agent, spec string) (*Maintenance, error) {
	if spec == "" {
		spec = "@every 5m"
	}
	c := cron.New()
	m := &Maintenance{agent: a, cron: c}
	if _, err := c.AddFunc(spec, m.sweep); err != nil {
		return nil, err
	}
	return m, nil
}

// Start begins the schedule.
func (m *Maintenance) Start() {
	m.cron.Start()
	L_debug("maintenance: sweep scheduled")
}

// Stop halts the schedule and waits for a running sweep to finish.
func (m *Maintenance) Stop() {
	ctx := m.cron.Stop()
	<-ctx.Done()
}

func (m *Maintenance) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	sessions, err := m.agent.Sessions(ctx)
	if err != nil {
		L_warn("maintenance: could not list sessions: %v", err)
		return
	}

	for _, sess := range sessions {
		mu := m.agent.threadMu(sess.ThreadID)
		if !mu.TryLock() {
			// An interactive turn owns the thread; skip it this round.
			continue
		}
		compacted, err := m.agent.compactor.MaybeCompact(ctx, sess.ThreadID)
		if err != nil {
			L_debug("maintenance: compaction for %s still pending: %v", sess.ThreadID, err)
		} else if compacted {
			L_info("maintenance: compacted thread %s", sess.ThreadID)
		}
		m.refreshSchemaIfStale(ctx, sess)
		mu.Unlock()
	}
}

// refreshSchemaIfStale re-introspects threads pointed at the connected
// database whose cache has aged past the TTL. Other threads keep their
// cache until they become active again.
func (m *Maintenance) refreshSchemaIfStale(ctx context.Context, sess store.SessionInfo) {
	if sess.DBName != m.agent.db.Database() {
		return
	}
	entry, err := m.agent.store.GetSchemaCache(ctx, sess.ThreadID)
	if err != nil || entry == nil {
		return
	}
	if time.Since(entry.RefreshedAt) <= m.agent.schemaTTL {
		return
	}
	if _, err := m.agent.RefreshSchema(ctx, sess.ThreadID); err != nil {
		L_debug("maintenance: schema refresh for %s failed: %v", sess.ThreadID, err)
	}
}

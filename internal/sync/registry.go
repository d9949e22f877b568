package sync

import (
	"sync"

	"github.com/google/uuid"
)

// JobStatus is the last known state of one account's sync job.
type JobStatus struct {
	Running bool
	Stats   *SyncStats
}

// Registry enforces single-flight-per-account: only one sync may run for
// a given account at a time. A global mutex-protected map stands in for
// the teacher's SkipIfStillRunning scheduler wrapper, generalized to be
// per-account and reachable from an HTTP trigger rather than only from a
// single cron job.
type Registry struct {
	mu     sync.Mutex
	status map[uuid.UUID]*JobStatus
}

func NewRegistry() *Registry {
	return &Registry{status: make(map[uuid.UUID]*JobStatus)}
}

// TryStart marks accountID as running. Returns false if a sync is already
// in flight for this account (the caller should respond "already_running").
func (r *Registry) TryStart(accountID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if st, ok := r.status[accountID]; ok && st.Running {
		return false
	}
	r.status[accountID] = &JobStatus{Running: true}
	return true
}

// Finish records the completed run's stats and clears the running flag.
func (r *Registry) Finish(accountID uuid.UUID, stats *SyncStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status[accountID] = &JobStatus{Running: false, Stats: stats}
}

// Status returns the last known status for accountID, or nil if it has
// never synced.
func (r *Registry) Status(accountID uuid.UUID) *JobStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.status[accountID]
	if !ok {
		return nil
	}
	copyStatus := *st
	return &copyStatus
}

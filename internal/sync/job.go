package sync

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Job adapts an Orchestrator + Registry into the scheduler.Job interface
// and the HTTP trigger path, enforcing "only one sync may run per account
// concurrently" (spec §5).
type Job struct {
	orchestrator *Orchestrator
	registry     *Registry
	accountID    uuid.UUID
	log          zerolog.Logger
}

func NewJob(orchestrator *Orchestrator, registry *Registry, accountID uuid.UUID, log zerolog.Logger) *Job {
	return &Job{
		orchestrator: orchestrator,
		registry:     registry,
		accountID:    accountID,
		log:          log.With().Str("component", "sync_job").Logger(),
	}
}

func (j *Job) Name() string { return "sync_all" }

// Run executes a full sync for the job's account if none is already in
// flight; otherwise it logs a warning and skips (the cron path), while the HTTP
// trigger path should call TryTrigger instead to observe the rejection).
func (j *Job) Run() {
	if _, err := j.TryTrigger(context.Background()); err != nil {
		j.log.Warn().Err(err).Msg("sync skipped")
	}
}

// ErrAlreadyRunning is returned by TryTrigger when a sync is already in
// flight for this account.
var ErrAlreadyRunning = &alreadyRunningError{}

type alreadyRunningError struct{}

func (e *alreadyRunningError) Error() string { return "already_running" }

// TryTrigger starts a sync run in the background if none is already
// running for the account, returning ErrAlreadyRunning otherwise. The
// caller (HTTP handler or cron) does not block on completion.
func (j *Job) TryTrigger(ctx context.Context) (*SyncStats, error) {
	if !j.registry.TryStart(j.accountID) {
		return nil, ErrAlreadyRunning
	}

	go func() {
		stats, err := j.orchestrator.Run(context.Background(), j.accountID)
		if err != nil {
			j.log.Error().Err(err).Msg("sync run failed")
			if stats == nil {
				stats = &SyncStats{Errors: []string{err.Error()}}
			}
		}
		j.registry.Finish(j.accountID, stats)
	}()

	return nil, nil
}

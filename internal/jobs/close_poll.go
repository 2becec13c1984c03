package jobs

import (
	"context"

	"github.com/riverqueue/river"

	"github.com/nikitkaralius/curatorbot/internal/logging"
)

// ClosePollArgs defines the arguments for a job that closes an attendance
// poll and reports the results to its curator.
// This type is shared between the bot (for enqueue) and the worker (for processing).
type ClosePollArgs struct {
	PollID string `json:"poll_id"`
}

// Kind implements river.JobArgs to identify this job type.
func (ClosePollArgs) Kind() string { return "close_poll" }

// PollCloser closes a poll. Closing a poll twice, or one that no longer
// exists, must be a no-op.
type PollCloser interface {
	Close(ctx context.Context, pollID string) error
}

type ClosePollWorker struct {
	river.WorkerDefaults[ClosePollArgs]
	closer PollCloser
}

func NewClosePollWorker(closer PollCloser) *ClosePollWorker {
	return &ClosePollWorker{closer: closer}
}

func (w *ClosePollWorker) Work(ctx context.Context, job *river.Job[ClosePollArgs]) error {
	logging.Log.Debugf("JOB: close_poll %s", job.Args.PollID)
	return w.closer.Close(ctx, job.Args.PollID)
}

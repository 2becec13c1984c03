package async

import (
	"context"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/nikitkaralius/curatorbot/internal/jobs"
)

// JobInserter is the part of *river.Client used for enqueueing.
type JobInserter interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

// RiverScheduler closes polls through a close_poll job. The job is picked up
// by whichever process runs a River client with the ClosePollWorker, so
// pending closes survive restarts.
type RiverScheduler struct {
	client JobInserter
}

// NewRiverScheduler wraps an existing River client for enqueueing jobs.
func NewRiverScheduler(client JobInserter) *RiverScheduler {
	return &RiverScheduler{client: client}
}

func (s *RiverScheduler) ScheduleClose(ctx context.Context, pollID string, runAt time.Time) error {
	opts := &river.InsertOpts{MaxAttempts: 3}
	if !runAt.IsZero() {
		opts.ScheduledAt = runAt
	}
	_, err := s.client.Insert(ctx, jobs.ClosePollArgs{PollID: pollID}, opts)
	return err
}

// ScheduleReminder enqueues a remind_question job for runAt.
func (s *RiverScheduler) ScheduleReminder(ctx context.Context, group string, questionID int, runAt time.Time) error {
	_, err := s.client.Insert(ctx, jobs.RemindQuestionArgs{Group: group, QuestionID: questionID},
		&river.InsertOpts{MaxAttempts: 3, ScheduledAt: runAt})
	return err
}

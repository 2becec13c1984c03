package jobs

import (
	"context"

	"github.com/riverqueue/river"

	"github.com/nikitkaralius/curatorbot/internal/logging"
)

// RemindQuestionArgs defines a job that reminds a group's curators about a
// question that is still unanswered.
type RemindQuestionArgs struct {
	Group      string `json:"group"`
	QuestionID int    `json:"question_id"`
}

// Kind implements river.JobArgs to identify this job type.
func (RemindQuestionArgs) Kind() string { return "remind_question" }

// QuestionReminder nudges curators about a pending question. Answered or
// missing questions must be skipped without an error.
type QuestionReminder interface {
	Remind(ctx context.Context, group string, questionID int) error
}

type RemindQuestionWorker struct {
	river.WorkerDefaults[RemindQuestionArgs]
	reminder QuestionReminder
}

func NewRemindQuestionWorker(reminder QuestionReminder) *RemindQuestionWorker {
	return &RemindQuestionWorker{reminder: reminder}
}

func (w *RemindQuestionWorker) Work(ctx context.Context, job *river.Job[RemindQuestionArgs]) error {
	logging.Log.Debugf("JOB: remind_question %s #%d", job.Args.Group, job.Args.QuestionID)
	return w.reminder.Remind(ctx, job.Args.Group, job.Args.QuestionID)
}

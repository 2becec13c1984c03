package telegram

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"

	"github.com/nikitkaralius/curatorbot/internal/board"
	"github.com/nikitkaralius/curatorbot/internal/logging"
	"github.com/nikitkaralius/curatorbot/internal/members"
	"github.com/nikitkaralius/curatorbot/internal/models"
)

// ReminderDelays are counted from the moment a question was asked.
var ReminderDelays = []time.Duration{2 * time.Hour, 6 * time.Hour, 24 * time.Hour}

// ReminderScheduler arranges a reminder about a pending question.
type ReminderScheduler interface {
	ScheduleReminder(ctx context.Context, group string, questionID int, runAt time.Time) error
}

// QuestionReminder tells curators about questions nobody has answered yet.
type QuestionReminder struct {
	api      Sender
	registry *members.Registry
	board    *board.Board
	now      func() time.Time
}

func NewQuestionReminder(api Sender, registry *members.Registry, b *board.Board) *QuestionReminder {
	return &QuestionReminder{api: api, registry: registry, board: b, now: time.Now}
}

// Remind messages every curator of group about question id while it is
// still pending. Answered or deleted questions are skipped.
func (r *QuestionReminder) Remind(ctx context.Context, group string, id int) error {
	q, err := r.board.Question(ctx, group, id)
	if errors.Is(err, board.ErrQuestionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if q.Status != models.QuestionPending {
		return nil
	}
	curators, err := r.registry.Curators(ctx, group)
	if err != nil {
		return err
	}

	waited := r.now().Sub(q.Timestamp).Round(time.Hour)
	text := fmt.Sprintf("⏰ Question #%d (%s) is still waiting for an answer, asked %s ago\n\n%s",
		q.ID, r.registry.GroupName(ctx, group), waited, q.Text)
	markup := tgbotapi.NewInlineKeyboardMarkup(button("📝 Answer", questionData(group, q.ID)))
	for _, cid := range curators {
		msg := tgbotapi.NewMessage(cid, text)
		msg.ReplyMarkup = markup
		if _, err := r.api.Send(msg); err != nil {
			logging.Log.Warnf("TELEGRAM: reminder about question %d to %d: %v", q.ID, cid, err)
		}
	}
	return nil
}

// Schedule arranges every reminder of q that is still ahead.
func (r *QuestionReminder) Schedule(ctx context.Context, sched ReminderScheduler, q models.Question) int {
	n := 0
	for _, d := range ReminderDelays {
		runAt := q.Timestamp.Add(d)
		if !runAt.After(r.now()) {
			continue
		}
		if err := sched.ScheduleReminder(ctx, q.Group, q.ID, runAt); err != nil {
			logging.Log.Warnf("TELEGRAM: schedule reminder for question %d: %v", q.ID, err)
			continue
		}
		n++
	}
	return n
}

// Resume re-arms the reminders of every pending question. Only needed with
// schedulers that forget on exit.
func (r *QuestionReminder) Resume(ctx context.Context, sched ReminderScheduler) (int, error) {
	groups, err := r.registry.Groups(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, g := range groups {
		pending, err := r.board.Questions(ctx, g.Key, true)
		if err != nil {
			return n, err
		}
		for _, q := range pending {
			n += r.Schedule(ctx, sched, q)
		}
	}
	return n, nil
}

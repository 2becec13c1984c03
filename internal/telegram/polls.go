package telegram

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"

	"github.com/nikitkaralius/curatorbot/internal/models"
	"github.com/nikitkaralius/curatorbot/internal/polls"
)

const resultsListLimit = 10

func (b *Bot) handlePollsMenu(ctx context.Context, ev *Event) error {
	group := ev.Arg
	if ok, err := b.curatorOnly(ctx, ev, group); !ok {
		return err
	}
	b.remember(ctx, ev.UserID, "polls_menu_"+group)
	return b.reply(ev, "🗳 Attendance polls", keyboard(group,
		button("➕ Create poll", "polls_create_"+group),
		button("📊 Poll results", "polls_results_"+group),
	))
}

func (b *Bot) handlePollsCreate(ctx context.Context, ev *Event) error {
	group := ev.Arg
	if ok, err := b.curatorOnly(ctx, ev, group); !ok {
		return err
	}
	b.await(ev.UserID, session{Waiting: waitPollDuration, Group: group})
	text := fmt.Sprintf("⏱ Send the poll duration in minutes (%d-%d).\nSend an empty line or \"-\" for %d minutes.",
		polls.MinDuration, polls.MaxDuration, polls.DefaultDuration)
	return b.reply(ev, text, keyboard(group, button("❌ Cancel", "cancel_"+group)))
}

func (b *Bot) textPollDuration(ctx context.Context, ev *Event) (bool, error) {
	sess, ok := b.sessions.take(ev.UserID, waitPollDuration)
	if !ok {
		return false, nil
	}
	text := ev.Text
	if strings.TrimSpace(text) == "-" {
		text = ""
	}
	minutes, err := polls.ParseDuration(text)
	if err != nil {
		b.sessions.set(ev.UserID, sess)
		return true, b.reply(ev, userMessage(err), nil)
	}

	res, err := b.polls.Start(ctx, sess.Group, ev.UserID, minutes)
	if err != nil {
		return true, b.reply(ev, userMessage(err), keyboard(sess.Group))
	}
	text = fmt.Sprintf("✅ Poll started for %d min.\n📨 Delivered to %d of %d members.",
		minutes, res.Delivered, res.Members)
	if !res.Scheduled {
		text += "\n⚠️ Automatic close could not be scheduled."
	}
	return true, b.reply(ev, text, keyboard(sess.Group, button("📋 Details", "poll_view_"+res.PollID)))
}

func (b *Bot) handlePollsResults(ctx context.Context, ev *Event) error {
	group := ev.Arg
	if ok, err := b.curatorOnly(ctx, ev, group); !ok {
		return err
	}
	list, err := b.polls.Manager().ListPolls(ctx, group, resultsListLimit)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		return b.reply(ev, "📭 No polls yet.", keyboard(group, button("🔙 Back", "polls_menu_"+group)))
	}
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, p := range list {
		icon := "🔒"
		if p.IsActive() {
			icon = "🟢"
		}
		label := fmt.Sprintf("%s %s (%d answers)", icon, p.CreatedAt.Local().Format("02.01 15:04"), len(p.Responses))
		rows = append(rows, button(label, "poll_view_"+p.ID))
	}
	rows = append(rows, button("🔙 Back", "polls_menu_"+group))
	return b.reply(ev, "📊 Recent polls", keyboard(group, rows...))
}

// pollForCurator loads the poll and checks the caller curates its group.
func (b *Bot) pollForCurator(ctx context.Context, ev *Event, pollID string) (models.Poll, bool, error) {
	p, err := b.polls.Manager().GetPoll(ctx, pollID)
	if errors.Is(err, polls.ErrNotFound) {
		return models.Poll{}, false, b.reply(ev, userMessage(err), nil)
	}
	if err != nil {
		return models.Poll{}, false, err
	}
	ok, err := b.curatorOnly(ctx, ev, p.Group)
	return p, ok, err
}

func (b *Bot) handlePollView(ctx context.Context, ev *Event) error {
	p, ok, err := b.pollForCurator(ctx, ev, ev.Arg)
	if !ok {
		return err
	}
	_, summary, roster, err := b.polls.Summary(ctx, p.ID)
	if err != nil {
		return err
	}

	status := "🟢 active"
	if !p.IsActive() {
		status = "🔒 closed"
	}
	lines := []string{
		fmt.Sprintf("🗳 Poll %s", p.CreatedAt.Local().Format("02.01.2006 15:04")),
		fmt.Sprintf("Status: %s, %d min", status, p.DurationMinutes),
		"",
		formatSummary(summary),
		"",
	}
	for _, m := range roster {
		r, ok := p.Responses[m.ID]
		switch {
		case !ok:
			lines = append(lines, "⏳ "+m.DisplayName())
		case r.Status == models.Present:
			lines = append(lines, "✅ "+m.DisplayName())
		default:
			line := "❌ " + m.DisplayName()
			if r.Reason != "" {
				line += ": " + r.Reason
			}
			lines = append(lines, line)
		}
	}
	return b.reply(ev, strings.Join(lines, "\n"), keyboard(p.Group,
		button("📊 Export CSV", "poll_export_"+p.ID),
		button("🔙 Poll list", "polls_results_"+p.Group),
	))
}

func (b *Bot) handlePollExport(ctx context.Context, ev *Event) error {
	p, ok, err := b.pollForCurator(ctx, ev, ev.Arg)
	if !ok {
		return err
	}
	_, data, err := b.polls.Export(ctx, p.ID)
	if err != nil {
		return err
	}
	doc := tgbotapi.NewDocument(ev.ChatID, tgbotapi.FileBytes{Name: polls.ExportFilename(p), Bytes: data})
	doc.Caption = fmt.Sprintf("📊 Attendance for %s", b.registry.GroupName(ctx, p.Group))
	_, err = b.api.Send(doc)
	return err
}

func (b *Bot) handleStudentPolls(ctx context.Context, ev *Event) error {
	group := ev.Arg
	if ok, err := b.memberOnly(ctx, ev, group); !ok {
		return err
	}
	b.remember(ctx, ev.UserID, "student_polls_"+group)
	p, ok, err := b.polls.LatestActive(ctx, group)
	if err != nil {
		return err
	}
	if !ok {
		return b.reply(ev, "📭 There is no active poll right now.", keyboard(group))
	}
	if r, answered := p.Responses[ev.UserID]; answered {
		return b.reply(ev, fmt.Sprintf("✔️ You already answered: %s.", polls.StatusLabel(r.Status)), keyboard(group))
	}
	markup := pollPromptKeyboard(p.ID)
	return b.reply(ev, fmt.Sprintf("🗳 Attendance check, closes at %s. Are you here?", p.EndsAt().Local().Format("15:04")), &markup)
}

func (b *Bot) handlePollPresent(ctx context.Context, ev *Event) error {
	if err := b.polls.SubmitPresent(ctx, ev.Arg, ev.UserID); err != nil {
		return b.reply(ev, userMessage(err), nil)
	}
	b.sessions.clear(ev.UserID)
	return b.reply(ev, "✅ Marked as present. Thank you!", nil)
}

func (b *Bot) handlePollAbsent(ctx context.Context, ev *Event) error {
	if err := b.polls.BeginAbsence(ctx, ev.Arg, ev.UserID); err != nil {
		return b.reply(ev, userMessage(err), nil)
	}
	b.sessions.clear(ev.UserID)
	return b.reply(ev, "✍️ Please send the reason for your absence:", nil)
}

func (b *Bot) textAbsenceReason(ctx context.Context, ev *Event) (bool, error) {
	handled, err := b.polls.SubmitAbsenceReason(ctx, ev.UserID, ev.Text)
	if !handled {
		return false, nil
	}
	if err != nil {
		return true, b.reply(ev, userMessage(err), nil)
	}
	return true, b.reply(ev, "❌ Marked as absent. Thank you!", nil)
}

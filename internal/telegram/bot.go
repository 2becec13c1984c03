package telegram

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"

	"github.com/nikitkaralius/curatorbot/internal/board"
	"github.com/nikitkaralius/curatorbot/internal/logging"
	"github.com/nikitkaralius/curatorbot/internal/members"
	"github.com/nikitkaralius/curatorbot/internal/polls"
)

// Bot wires the router to the registry, the poll service and the board.
type Bot struct {
	api      Sender
	registry *members.Registry
	polls    *polls.Service
	board    *board.Board
	notifier *Notifier
	sessions *sessions
	router   *Router

	reminder  *QuestionReminder
	reminders ReminderScheduler
}

func NewBot(api Sender, registry *members.Registry, svc *polls.Service, b *board.Board, notifier *Notifier) *Bot {
	bot := &Bot{
		api:      api,
		registry: registry,
		polls:    svc,
		board:    b,
		notifier: notifier,
		sessions: newSessions(),
		router:   NewRouter(),
		reminder: NewQuestionReminder(api, registry, b),
	}
	bot.routes()
	return bot
}

// SetReminders enables reminders about unanswered questions.
func (b *Bot) SetReminders(sched ReminderScheduler) { b.reminders = sched }

func (b *Bot) Reminder() *QuestionReminder { return b.reminder }

func (b *Bot) routes() {
	r := b.router

	r.Command("start", b.handleStart)
	r.Command("menu", b.handleMenu)
	r.Command("admin", b.handleAdmin)
	r.Command("reset", b.handleReset)
	r.Command("help", b.handleHelp)
	r.Command("today", b.handleToday)
	r.Command("resume", b.handleResume)

	r.Callback("join_", b.handleJoin)
	r.Callback("change_group", b.handleChangeGroup)
	r.Callback("back_to_menu_", b.handleBackToMenu)
	r.Callback("stats_", b.handleStats)
	r.Callback("students_menu_", b.handleStudentsMenu)
	r.Callback("students_list_", b.handleStudentsList)
	r.Callback("students_delete_", b.handleStudentsDelete)
	r.Callback("students_delete_pick_", b.handleStudentsDeletePick)
	r.Callback("students_delete_do_", b.handleStudentsDeleteDo)
	r.Callback("students_edit_", b.handleStudentsEdit)
	r.Callback("students_edit_pick_", b.handleStudentsEditPick)

	r.Callback("polls_menu_", b.handlePollsMenu)
	r.Callback("polls_create_", b.handlePollsCreate)
	r.Callback("polls_results_", b.handlePollsResults)
	r.Callback("poll_view_", b.handlePollView)
	r.Callback("poll_export_", b.handlePollExport)
	r.Callback("student_polls_", b.handleStudentPolls)
	r.Callback("poll_present_", b.handlePollPresent)
	r.Callback("poll_absent_", b.handlePollAbsent)

	r.Callback("announce_", b.handleAnnounce)
	r.Callback("schedule_", b.handleSchedule)
	r.Callback("view_announce_", b.handleViewAnnouncements)
	r.Callback("view_schedule_", b.handleViewSchedule)
	r.Callback("ask_question_", b.handleAskQuestion)
	r.Callback("view_questions_", b.handleViewQuestions)
	r.Callback("select_question_", b.handleSelectQuestion)
	r.Callback("cancel_", b.handleCancel)

	r.Text(b.textFullName)
	r.Text(b.textPollDuration)
	r.Text(b.textAbsenceReason)
	r.Text(b.textAnnouncement)
	r.Text(b.textSchedule)
	r.Text(b.textQuestion)
	r.Text(b.textAnswer)
	r.Text(b.textRename)
	r.Fallback(b.handleUnknownText)
}

// HandleUpdate routes one update and logs whatever went wrong. Handler
// errors never stop the update loop.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	handled, err := b.router.Dispatch(ctx, update)
	if err != nil {
		logging.Log.Errorf("TELEGRAM: update %d: %v", update.UpdateID, err)
	}
	if update.CallbackQuery != nil {
		// Always acknowledge so the client stops its spinner.
		if _, err := b.api.Request(tgbotapi.NewCallback(update.CallbackQuery.ID, "")); err != nil {
			logging.Log.Debugf("TELEGRAM: answer callback: %v", err)
		}
	}
	if !handled {
		logging.Log.Debugf("TELEGRAM: update %d not handled", update.UpdateID)
	}
}

// Run consumes updates one at a time until ctx is done.
func (b *Bot) Run(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			logging.Log.Info("TELEGRAM: update loop stopped")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.HandleUpdate(ctx, update)
		}
	}
}

// reply edits the message behind a callback, or sends a new message.
func (b *Bot) reply(ev *Event, text string, markup *tgbotapi.InlineKeyboardMarkup) error {
	if ev.Callback != nil && ev.Callback.Message != nil {
		var edit tgbotapi.EditMessageTextConfig
		if markup != nil {
			edit = tgbotapi.NewEditMessageTextAndMarkup(ev.ChatID, ev.Callback.Message.MessageID, text, *markup)
		} else {
			edit = tgbotapi.NewEditMessageText(ev.ChatID, ev.Callback.Message.MessageID, text)
		}
		_, err := b.api.Send(edit)
		return err
	}
	return b.send(ev.ChatID, text, markup)
}

func (b *Bot) send(chatID int64, text string, markup *tgbotapi.InlineKeyboardMarkup) error {
	msg := tgbotapi.NewMessage(chatID, text)
	if markup != nil {
		msg.ReplyMarkup = *markup
	}
	_, err := b.api.Send(msg)
	return err
}

func button(text, data string) []tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(text, data))
}

// keyboard builds a markup and appends the main menu button.
func keyboard(group string, rows ...[]tgbotapi.InlineKeyboardButton) *tgbotapi.InlineKeyboardMarkup {
	rows = append(rows, button("🏠 Main menu", "back_to_menu_"+group))
	m := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &m
}

// await puts the user into a new waiting state. A pending absence reason
// is dropped so the next text reaches the new flow.
func (b *Bot) await(userID int64, sess session) {
	b.polls.CancelAbsence(userID)
	b.sessions.set(userID, sess)
}

// resetFlows drops whatever the bot was waiting for from the user.
func (b *Bot) resetFlows(userID int64) {
	b.sessions.clear(userID)
	b.polls.CancelAbsence(userID)
}

// remember stores the screen /resume reopens. screen is callback data.
func (b *Bot) remember(ctx context.Context, userID int64, screen string) {
	if err := b.registry.SetLastScreen(ctx, userID, screen); err != nil {
		logging.Log.Warnf("TELEGRAM: remember screen of %d: %v", userID, err)
	}
}

// curatorOnly checks rights and tells the user when they are missing.
func (b *Bot) curatorOnly(ctx context.Context, ev *Event, group string) (bool, error) {
	err := b.polls.Authorize(ctx, ev.UserID, group)
	if errors.Is(err, polls.ErrUnauthorized) {
		return false, b.reply(ev, "⛔ You have no rights for this group.", keyboard(group))
	}
	return err == nil, err
}

// memberOnly lets members and curators of group through and tells anyone
// else they are not in it.
func (b *Bot) memberOnly(ctx context.Context, ev *Event, group string) (bool, error) {
	own, err := b.registry.GroupOf(ctx, ev.UserID)
	if err != nil {
		return false, err
	}
	if own == group || b.isCurator(ctx, ev.UserID, group) {
		return true, nil
	}
	return false, b.reply(ev, "⛔ You are not a member of this group.", nil)
}

// userMessage translates poll errors to what the user is shown.
func userMessage(err error) string {
	switch {
	case errors.Is(err, polls.ErrNotFound):
		return "❓ Poll not found."
	case errors.Is(err, polls.ErrAlreadyClosed):
		return "🔒 This poll is already closed."
	case errors.Is(err, polls.ErrAlreadyResponded):
		return "✔️ You have already responded to this poll."
	case errors.Is(err, polls.ErrNotMember):
		return "⛔ You are not a member of this poll's group."
	case errors.Is(err, polls.ErrUnauthorized):
		return "⛔ You have no rights for this group."
	}
	var ve *polls.ValidationError
	if errors.As(err, &ve) && ve.Err != nil {
		return "⚠️ The " + ve.Field + " " + ve.Err.Error() + ". Please try again."
	}
	return "⚠️ Something went wrong, please try again."
}

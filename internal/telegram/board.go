package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"

	"github.com/nikitkaralius/curatorbot/internal/board"
	"github.com/nikitkaralius/curatorbot/internal/logging"
	"github.com/nikitkaralius/curatorbot/internal/models"
)

const (
	recentAnnouncements = 5

	mediaPhoto    = "photo"
	mediaDocument = "document"
)

func (b *Bot) handleAnnounce(ctx context.Context, ev *Event) error {
	group := ev.Arg
	if ok, err := b.curatorOnly(ctx, ev, group); !ok {
		return err
	}
	b.await(ev.UserID, session{Waiting: waitAnnouncement, Group: group})
	return b.reply(ev, "📢 Send the announcement. Text, a photo or a document with a caption.",
		keyboard(group, button("❌ Cancel", "cancel_"+group)))
}

func (b *Bot) handleSchedule(ctx context.Context, ev *Event) error {
	group := ev.Arg
	if ok, err := b.curatorOnly(ctx, ev, group); !ok {
		return err
	}
	b.await(ev.UserID, session{Waiting: waitSchedule, Group: group})
	return b.reply(ev, "📅 Send the schedule. Text, a photo or a document.",
		keyboard(group, button("❌ Cancel", "cancel_"+group)))
}

// attachment returns the file carried by a message, if any.
func attachment(msg *tgbotapi.Message) (fileID, mediaType string) {
	if msg == nil {
		return "", ""
	}
	if n := len(msg.Photo); n > 0 {
		return msg.Photo[n-1].FileID, mediaPhoto
	}
	if msg.Document != nil {
		return msg.Document.FileID, mediaDocument
	}
	return "", ""
}

// messageFor renders a stored post for chatID, reusing the stored file.
func messageFor(chatID int64, m models.Message, title string) tgbotapi.Chattable {
	caption := title
	if m.Content != "" {
		caption += "\n\n" + m.Content
	}
	switch m.MediaType {
	case mediaPhoto:
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileID(m.FileID))
		photo.Caption = caption
		return photo
	case mediaDocument:
		doc := tgbotapi.NewDocument(chatID, tgbotapi.FileID(m.FileID))
		doc.Caption = caption
		return doc
	}
	return tgbotapi.NewMessage(chatID, caption)
}

func (b *Bot) post(ctx context.Context, ev *Event, kind models.MessageKind, group string) (bool, error) {
	fileID, mediaType := attachment(ev.Message)
	msg, err := b.board.Post(ctx, models.Message{
		Group:     group,
		Kind:      kind,
		Content:   ev.Text,
		SenderID:  ev.UserID,
		FileID:    fileID,
		MediaType: mediaType,
	})
	if errors.Is(err, board.ErrEmpty) {
		b.sessions.set(ev.UserID, session{Waiting: waitingFor(kind), Group: group})
		return true, b.reply(ev, "⚠️ The message is empty. Please try again.", nil)
	}
	if err != nil {
		return true, err
	}

	roster, err := b.registry.Members(ctx, group)
	if err != nil {
		return true, err
	}
	recipients := roster[:0:0]
	for _, m := range roster {
		if m.ID != ev.UserID {
			recipients = append(recipients, m)
		}
	}

	title := "📢 Announcement"
	if kind == models.Schedule {
		title = "📅 New schedule"
	}
	delivered := b.notifier.Fanout(recipients, func(chatID int64) tgbotapi.Chattable {
		if kind == models.Schedule && msg.FileID != "" {
			// members fetch schedule files with /today
			return tgbotapi.NewMessage(chatID, title+"\n\n"+msg.Content+"\n\nOpen it with /today.")
		}
		return messageFor(chatID, msg, title)
	})
	logging.Log.Infof("TELEGRAM: %s %s delivered to %d of %d", kind, msg.ID, delivered, len(recipients))
	return true, b.reply(ev, fmt.Sprintf("✅ Sent to %d of %d members.", delivered, len(recipients)), keyboard(group))
}

func waitingFor(kind models.MessageKind) waitKind {
	if kind == models.Schedule {
		return waitSchedule
	}
	return waitAnnouncement
}

func (b *Bot) textAnnouncement(ctx context.Context, ev *Event) (bool, error) {
	sess, ok := b.sessions.take(ev.UserID, waitAnnouncement)
	if !ok {
		return false, nil
	}
	return b.post(ctx, ev, models.Announcement, sess.Group)
}

func (b *Bot) textSchedule(ctx context.Context, ev *Event) (bool, error) {
	sess, ok := b.sessions.take(ev.UserID, waitSchedule)
	if !ok {
		return false, nil
	}
	return b.post(ctx, ev, models.Schedule, sess.Group)
}

func (b *Bot) handleViewAnnouncements(ctx context.Context, ev *Event) error {
	group := ev.Arg
	if ok, err := b.memberOnly(ctx, ev, group); !ok {
		return err
	}
	b.remember(ctx, ev.UserID, "view_announce_"+group)
	msgs, err := b.board.Messages(ctx, group, models.Announcement)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return b.reply(ev, "📭 No announcements yet.", keyboard(group))
	}
	if len(msgs) > recentAnnouncements {
		msgs = msgs[len(msgs)-recentAnnouncements:]
	}
	lines := []string{"📢 Latest announcements"}
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		content := m.Content
		if content == "" {
			content = "(" + m.MediaType + ")"
		}
		lines = append(lines, "", fmt.Sprintf("🕒 %s\n%s", m.Timestamp.Local().Format("02.01 15:04"), content))
	}
	return b.reply(ev, strings.Join(lines, "\n"), keyboard(group, button("🔄 Refresh", "view_announce_"+group)))
}

func (b *Bot) sendLatestSchedule(ctx context.Context, ev *Event, group string) error {
	b.remember(ctx, ev.UserID, "view_schedule_"+group)
	m, ok, err := b.board.Latest(ctx, group, models.Schedule)
	if err != nil {
		return err
	}
	if !ok {
		return b.reply(ev, "📭 No schedule has been posted yet.", keyboard(group))
	}
	title := fmt.Sprintf("📅 Schedule from %s", m.Timestamp.Local().Format("02.01 15:04"))
	if m.FileID != "" {
		_, err := b.api.Send(messageFor(ev.ChatID, m, title))
		return err
	}
	return b.reply(ev, title+"\n\n"+m.Content, keyboard(group, button("🔄 Refresh", "view_schedule_"+group)))
}

func (b *Bot) handleViewSchedule(ctx context.Context, ev *Event) error {
	if ok, err := b.memberOnly(ctx, ev, ev.Arg); !ok {
		return err
	}
	return b.sendLatestSchedule(ctx, ev, ev.Arg)
}

func (b *Bot) handleToday(ctx context.Context, ev *Event) error {
	group, err := b.registry.GroupOf(ctx, ev.UserID)
	if err != nil {
		return err
	}
	if group == "" {
		return b.reply(ev, "You are not registered yet. Send /start to choose a group.", nil)
	}
	return b.sendLatestSchedule(ctx, ev, group)
}

func (b *Bot) handleAskQuestion(ctx context.Context, ev *Event) error {
	group := ev.Arg
	if ok, err := b.memberOnly(ctx, ev, group); !ok {
		return err
	}
	b.remember(ctx, ev.UserID, "ask_question_"+group)
	b.await(ev.UserID, session{Waiting: waitQuestion, Group: group})
	return b.reply(ev, "❓ Send your question for the curator:", keyboard(group, button("❌ Cancel", "cancel_"+group)))
}

func (b *Bot) textQuestion(ctx context.Context, ev *Event) (bool, error) {
	sess, ok := b.sessions.take(ev.UserID, waitQuestion)
	if !ok {
		return false, nil
	}
	q, err := b.board.Ask(ctx, sess.Group, ev.UserID, ev.Text)
	if errors.Is(err, board.ErrEmpty) {
		b.sessions.set(ev.UserID, sess)
		return true, b.reply(ev, "⚠️ The question is empty. Please try again.", nil)
	}
	if err != nil {
		return true, err
	}
	if b.reminders != nil {
		b.reminder.Schedule(ctx, b.reminders, q)
	}

	curators, err := b.registry.Curators(ctx, sess.Group)
	if err != nil {
		return true, err
	}
	asker := ev.FullName
	if m, ok, _ := b.registry.Member(ctx, ev.UserID); ok {
		asker = m.DisplayName()
	}
	text := fmt.Sprintf("❓ New question #%d from %s (%s)\n\n%s", q.ID, asker, b.registry.GroupName(ctx, sess.Group), q.Text)
	markup := tgbotapi.NewInlineKeyboardMarkup(button("📝 Answer", questionData(sess.Group, q.ID)))
	for _, id := range curators {
		if err := b.send(id, text, &markup); err != nil {
			logging.Log.Warnf("TELEGRAM: could not forward question %d to %d: %v", q.ID, id, err)
		}
	}
	return true, b.reply(ev, "✅ Your question was sent to the curator.", keyboard(sess.Group))
}

func questionData(group string, id int) string {
	return fmt.Sprintf("select_question_%s_%d", group, id)
}

// parseGroupArg splits "<group>_<id>".
func parseGroupArg(arg string) (string, int64, bool) {
	i := strings.LastIndex(arg, "_")
	if i <= 0 {
		return "", 0, false
	}
	id, err := strconv.ParseInt(arg[i+1:], 10, 64)
	if err != nil || id <= 0 {
		return "", 0, false
	}
	return arg[:i], id, true
}

func (b *Bot) handleViewQuestions(ctx context.Context, ev *Event) error {
	group := ev.Arg
	if ok, err := b.curatorOnly(ctx, ev, group); !ok {
		return err
	}
	b.remember(ctx, ev.UserID, "view_questions_"+group)
	pending, err := b.board.Questions(ctx, group, true)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return b.reply(ev, "✅ No pending questions.", keyboard(group))
	}
	lines := []string{fmt.Sprintf("❓ Pending questions (%d)", len(pending))}
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, q := range pending {
		lines = append(lines, "", fmt.Sprintf("#%d: %s", q.ID, q.Text))
		rows = append(rows, button(fmt.Sprintf("📝 Answer #%d", q.ID), questionData(group, q.ID)))
	}
	return b.reply(ev, strings.Join(lines, "\n"), keyboard(group, rows...))
}

func (b *Bot) handleSelectQuestion(ctx context.Context, ev *Event) error {
	group, qid, ok := parseGroupArg(ev.Arg)
	if !ok {
		return b.reply(ev, "❓ Question not found.", nil)
	}
	id := int(qid)
	if ok, err := b.curatorOnly(ctx, ev, group); !ok {
		return err
	}
	q, err := b.board.Question(ctx, group, id)
	if errors.Is(err, board.ErrQuestionNotFound) {
		return b.reply(ev, "❓ Question not found.", keyboard(group))
	}
	if err != nil {
		return err
	}
	if q.Status == models.QuestionAnswered {
		return b.reply(ev, fmt.Sprintf("✔️ Question #%d was already answered:\n\n%s", q.ID, q.Answer),
			keyboard(group, button("🔙 Questions", "view_questions_"+group)))
	}
	b.await(ev.UserID, session{Waiting: waitAnswer, Group: group, QuestionID: id})
	return b.reply(ev, fmt.Sprintf("❓ #%d: %s\n\n📝 Send your answer:", q.ID, q.Text),
		keyboard(group, button("❌ Cancel", "cancel_"+group)))
}

func (b *Bot) textAnswer(ctx context.Context, ev *Event) (bool, error) {
	sess, ok := b.sessions.take(ev.UserID, waitAnswer)
	if !ok {
		return false, nil
	}
	q, err := b.board.Answer(ctx, sess.Group, sess.QuestionID, ev.Text, ev.UserID)
	switch {
	case errors.Is(err, board.ErrEmpty):
		b.sessions.set(ev.UserID, sess)
		return true, b.reply(ev, "⚠️ The answer is empty. Please try again.", nil)
	case errors.Is(err, board.ErrAlreadyAnswered):
		return true, b.reply(ev, "✔️ This question was already answered.", keyboard(sess.Group))
	case errors.Is(err, board.ErrQuestionNotFound):
		return true, b.reply(ev, "❓ Question not found.", keyboard(sess.Group))
	case err != nil:
		return true, err
	}

	text := fmt.Sprintf("💬 Answer to your question\n\n❓ %s\n\n%s", q.Text, q.Answer)
	if err := b.send(q.UserID, text, nil); err != nil {
		logging.Log.Warnf("TELEGRAM: could not deliver answer %d to %d: %v", q.ID, q.UserID, err)
		return true, b.reply(ev, "⚠️ The answer was saved but could not be delivered.", keyboard(sess.Group))
	}
	return true, b.reply(ev, "✅ Answer sent.", keyboard(sess.Group, button("🔙 Questions", "view_questions_"+sess.Group)))
}

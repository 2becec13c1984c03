package telegram

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/nikitkaralius/curatorbot/internal/logging"
	"github.com/nikitkaralius/curatorbot/internal/models"
)

// Sender is the subset of *tgbotapi.BotAPI the bot uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// GroupNamer resolves a group key to its display name.
type GroupNamer interface {
	GroupName(ctx context.Context, key string) string
}

// Notifier delivers poll prompts and results as direct messages.
type Notifier struct {
	api    Sender
	groups GroupNamer
}

func NewNotifier(api Sender, groups GroupNamer) *Notifier {
	return &Notifier{api: api, groups: groups}
}

func pollPromptKeyboard(pollID string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("✅ I'm here", "poll_present_"+pollID)),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("❌ I'm absent", "poll_absent_"+pollID)),
	)
}

func (n *Notifier) SendPollPrompt(ctx context.Context, memberID int64, p models.Poll) error {
	text := fmt.Sprintf("🗳 Attendance check for %s\n\nAre you here? The poll closes in %d min.",
		n.groups.GroupName(ctx, p.Group), p.DurationMinutes)
	msg := tgbotapi.NewMessage(memberID, text)
	msg.ReplyMarkup = pollPromptKeyboard(p.ID)
	_, err := n.api.Send(msg)
	return err
}

func (n *Notifier) SendPollClosed(ctx context.Context, curatorID int64, p models.Poll, s models.Summary) error {
	text := fmt.Sprintf("🏁 Poll for %s is closed\n\n%s", n.groups.GroupName(ctx, p.Group), formatSummary(s))
	msg := tgbotapi.NewMessage(curatorID, text)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("📋 Details", "poll_view_"+p.ID)),
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("📊 Export CSV", "poll_export_"+p.ID)),
	)
	_, err := n.api.Send(msg)
	return err
}

// Fanout sends text to every recipient and returns how many got it. Failed
// deliveries are logged and skipped.
func (n *Notifier) Fanout(recipients []models.Member, build func(chatID int64) tgbotapi.Chattable) int {
	delivered := 0
	for _, m := range recipients {
		if _, err := n.api.Send(build(m.ID)); err != nil {
			logging.Log.Warnf("TELEGRAM: could not deliver to %d: %v", m.ID, err)
			continue
		}
		delivered++
	}
	return delivered
}

func formatSummary(s models.Summary) string {
	b := strings.Builder{}
	b.WriteString(fmt.Sprintf("✅ Present: %d\n", s.Present))
	b.WriteString(fmt.Sprintf("❌ Absent: %d\n", s.Absent))
	b.WriteString(fmt.Sprintf("⏳ Not responded: %d\n", s.NotResponded))
	b.WriteString(fmt.Sprintf("👥 Total: %d", s.Total))
	return b.String()
}

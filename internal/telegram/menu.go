package telegram

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"

	"github.com/nikitkaralius/curatorbot/internal/members"
	"github.com/nikitkaralius/curatorbot/internal/models"
)

func (b *Bot) isCurator(ctx context.Context, userID int64, group string) bool {
	ok, err := b.registry.IsCurator(ctx, userID, group)
	return err == nil && ok
}

func (b *Bot) showMainMenu(ctx context.Context, ev *Event, group string) error {
	b.resetFlows(ev.UserID)
	b.remember(ctx, ev.UserID, "back_to_menu_"+group)

	name := b.registry.GroupName(ctx, group)
	if b.isCurator(ctx, ev.UserID, group) {
		return b.reply(ev, fmt.Sprintf("👨‍🏫 Curator menu for %s", name), keyboard(group,
			button("📅 Send schedule", "schedule_"+group),
			button("📢 Make an announcement", "announce_"+group),
			button("🗳 Attendance polls", "polls_menu_"+group),
			button("👥 Students", "students_menu_"+group),
			button("❓ Student questions", "view_questions_"+group),
			button("📊 Group stats", "stats_"+group),
			button("🔄 Change group", "change_group"),
		))
	}
	return b.reply(ev, fmt.Sprintf("🎓 Menu for %s", name), keyboard(group,
		button("📅 Schedule", "view_schedule_"+group),
		button("📢 Announcements", "view_announce_"+group),
		button("🗳 Attendance", "student_polls_"+group),
		button("❓ Ask a question", "ask_question_"+group),
		button("🔄 Change group", "change_group"),
	))
}

func (b *Bot) showGroupSelection(ctx context.Context, ev *Event) error {
	groups, err := b.registry.Groups(ctx)
	if err != nil {
		return err
	}
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, g := range groups {
		rows = append(rows, button(g.Name, "join_"+g.Key))
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return b.reply(ev, "👋 Welcome! Choose your group:", &markup)
}

func (b *Bot) handleStart(ctx context.Context, ev *Event) error {
	group, err := b.registry.GroupOf(ctx, ev.UserID)
	if err != nil {
		return err
	}
	if group == "" {
		return b.showGroupSelection(ctx, ev)
	}
	return b.showMainMenu(ctx, ev, group)
}

func (b *Bot) handleMenu(ctx context.Context, ev *Event) error {
	group, err := b.registry.GroupOf(ctx, ev.UserID)
	if err != nil {
		return err
	}
	if group == "" {
		return b.reply(ev, "You are not registered yet. Send /start to choose a group.", nil)
	}
	return b.showMainMenu(ctx, ev, group)
}

// handleAdmin registers a curator in the group they curate, or lets them
// pick one when they curate several.
func (b *Bot) handleAdmin(ctx context.Context, ev *Event) error {
	groups, err := b.registry.CuratorGroups(ctx, ev.UserID)
	if err != nil {
		return err
	}
	if b.registry.IsAdmin(ev.UserID) {
		all, err := b.registry.Groups(ctx)
		if err != nil {
			return err
		}
		groups = groups[:0]
		for _, g := range all {
			groups = append(groups, g.Key)
		}
	}

	switch len(groups) {
	case 0:
		return b.reply(ev, "⛔ You are not a curator of any group.", nil)
	case 1:
		if _, err := b.registry.Join(ctx, groups[0], b.memberFrom(ev, ev.FullName)); err != nil {
			return err
		}
		return b.showMainMenu(ctx, ev, groups[0])
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	for _, g := range groups {
		rows = append(rows, button(b.registry.GroupName(ctx, g), "join_"+g))
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return b.reply(ev, "👨‍🏫 You curate several groups. Choose one:", &markup)
}

func (b *Bot) handleReset(ctx context.Context, ev *Event) error {
	b.resetFlows(ev.UserID)
	if _, err := b.registry.Leave(ctx, ev.UserID); err != nil {
		return err
	}
	return b.reply(ev, "🔄 Your registration was reset. Send /start to choose a group.", nil)
}

func (b *Bot) handleHelp(ctx context.Context, ev *Event) error {
	lines := []string{
		"ℹ️ Commands",
		"/start - register or open the menu",
		"/menu - open the main menu",
		"/today - latest schedule of your group",
		"/resume - reopen the last screen",
		"/reset - leave your group and start over",
	}
	group, _ := b.registry.GroupOf(ctx, ev.UserID)
	if group != "" && b.isCurator(ctx, ev.UserID, group) {
		lines = append(lines,
			"/admin - register as a curator",
			"",
			"As a curator you can post schedules and announcements, run attendance polls and answer student questions from the menu.",
		)
	}
	return b.reply(ev, strings.Join(lines, "\n"), nil)
}

func (b *Bot) memberFrom(ev *Event, fullName string) models.Member {
	return models.Member{ID: ev.UserID, Username: ev.Username, FullName: fullName}
}

func (b *Bot) handleJoin(ctx context.Context, ev *Event) error {
	group := ev.Arg
	if _, err := b.registry.Group(ctx, group); err != nil {
		if errors.Is(err, members.ErrUnknownGroup) {
			return b.reply(ev, "❓ Unknown group.", nil)
		}
		return err
	}
	name := b.registry.GroupName(ctx, group)

	if b.isCurator(ctx, ev.UserID, group) {
		if _, err := b.registry.Join(ctx, group, b.memberFrom(ev, ev.FullName)); err != nil {
			return err
		}
		if err := b.reply(ev, fmt.Sprintf("🎉 Welcome, curator of %s!", name), nil); err != nil {
			return err
		}
		return b.showMainMenu(ctx, &Event{UserID: ev.UserID, ChatID: ev.ChatID}, group)
	}

	b.await(ev.UserID, session{Waiting: waitFullName, Group: group})
	return b.reply(ev, fmt.Sprintf("👋 Welcome to %s!\n\n📝 Please send your full name to finish registration:", name), nil)
}

func (b *Bot) textFullName(ctx context.Context, ev *Event) (bool, error) {
	sess, ok := b.sessions.take(ev.UserID, waitFullName)
	if !ok {
		return false, nil
	}
	fullName := strings.TrimSpace(ev.Text)
	if fullName == "" {
		b.sessions.set(ev.UserID, sess)
		return true, b.reply(ev, "📝 Please send your full name:", nil)
	}

	m, err := b.registry.Join(ctx, sess.Group, b.memberFrom(ev, fullName))
	if err != nil {
		return true, err
	}
	text := fmt.Sprintf("🎉 You are registered!\n\n👤 %s\n👥 %s", m.FullName, b.registry.GroupName(ctx, sess.Group))
	if err := b.reply(ev, text, nil); err != nil {
		return true, err
	}
	return true, b.showMainMenu(ctx, ev, sess.Group)
}

func (b *Bot) handleChangeGroup(ctx context.Context, ev *Event) error {
	b.resetFlows(ev.UserID)
	return b.showGroupSelection(ctx, ev)
}

func (b *Bot) handleBackToMenu(ctx context.Context, ev *Event) error {
	return b.showMainMenu(ctx, ev, ev.Arg)
}

func (b *Bot) handleCancel(ctx context.Context, ev *Event) error {
	return b.showMainMenu(ctx, ev, ev.Arg)
}

// handleResume reopens the last remembered screen, or the main menu.
func (b *Bot) handleResume(ctx context.Context, ev *Event) error {
	m, ok, err := b.registry.Member(ctx, ev.UserID)
	if err != nil {
		return err
	}
	if !ok || m.LastScreen == "" {
		return b.handleMenu(ctx, ev)
	}
	h, arg, found := b.router.Resolve(m.LastScreen)
	if !found {
		return b.showMainMenu(ctx, ev, m.Group)
	}
	return h(ctx, &Event{
		UserID:   ev.UserID,
		ChatID:   ev.ChatID,
		Username: ev.Username,
		FullName: ev.FullName,
		Arg:      arg,
	})
}

func (b *Bot) handleUnknownText(ctx context.Context, ev *Event) error {
	return b.reply(ev, "🤔 I did not understand that. Use /menu to open the menu.", nil)
}

func (b *Bot) handleStats(ctx context.Context, ev *Event) error {
	group := ev.Arg
	if ok, err := b.curatorOnly(ctx, ev, group); !ok {
		return err
	}

	roster, err := b.registry.Members(ctx, group)
	if err != nil {
		return err
	}
	curators, err := b.registry.Curators(ctx, group)
	if err != nil {
		return err
	}
	msgs, err := b.board.Messages(ctx, group, "")
	if err != nil {
		return err
	}
	pending, err := b.board.Questions(ctx, group, true)
	if err != nil {
		return err
	}
	var announcements, schedules int
	for _, m := range msgs {
		switch m.Kind {
		case models.Announcement:
			announcements++
		case models.Schedule:
			schedules++
		}
	}
	pollLine := "🗳 No active poll"
	if p, ok, err := b.polls.LatestActive(ctx, group); err != nil {
		return err
	} else if ok {
		pollLine = fmt.Sprintf("🗳 Active poll until %s", p.EndsAt().Local().Format("15:04"))
	}

	b.remember(ctx, ev.UserID, "stats_"+group)
	text := fmt.Sprintf("📊 Stats for %s\n\n👥 Members: %d\n👨‍🏫 Curators: %d\n📢 Announcements: %d\n📅 Schedules: %d\n❓ Pending questions: %d\n%s",
		b.registry.GroupName(ctx, group), len(roster), len(curators), announcements, schedules, len(pending), pollLine)
	return b.reply(ev, text, keyboard(group, button("🔄 Refresh", "stats_"+group)))
}

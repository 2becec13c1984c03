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

const (
	pickerLimit = 25
	labelRunes  = 25
)

func (b *Bot) handleStudentsMenu(ctx context.Context, ev *Event) error {
	group := ev.Arg
	if ok, err := b.curatorOnly(ctx, ev, group); !ok {
		return err
	}
	b.remember(ctx, ev.UserID, "students_menu_"+group)
	return b.reply(ev, fmt.Sprintf("👥 Students of %s", b.registry.GroupName(ctx, group)), keyboard(group,
		button("📋 Show list", "students_list_"+group),
		button("✏️ Rename a student", "students_edit_"+group),
		button("🗑 Remove a student", "students_delete_"+group),
	))
}

func (b *Bot) handleStudentsList(ctx context.Context, ev *Event) error {
	group := ev.Arg
	if ok, err := b.curatorOnly(ctx, ev, group); !ok {
		return err
	}
	roster, err := b.registry.Members(ctx, group)
	if err != nil {
		return err
	}
	back := button("🔙 Back", "students_menu_"+group)
	if len(roster) == 0 {
		return b.reply(ev, "👥 Nobody has joined this group yet.", keyboard(group, back))
	}
	lines := []string{fmt.Sprintf("👥 Members of %s (%d)", b.registry.GroupName(ctx, group), len(roster)), ""}
	for i, m := range roster {
		line := fmt.Sprintf("%d. %s", i+1, m.DisplayName())
		if m.Username != "" && m.FullName != "" {
			line += " (@" + m.Username + ")"
		}
		lines = append(lines, line)
	}
	return b.reply(ev, strings.Join(lines, "\n"), keyboard(group, back))
}

// students returns the group's members who are not its curators.
func (b *Bot) students(ctx context.Context, group string) ([]models.Member, error) {
	roster, err := b.registry.Members(ctx, group)
	if err != nil {
		return nil, err
	}
	res := roster[:0:0]
	for _, m := range roster {
		if !b.isCurator(ctx, m.ID, group) {
			res = append(res, m)
		}
	}
	return res, nil
}

func shorten(s string) string {
	r := []rune(s)
	if len(r) <= labelRunes {
		return s
	}
	return string(r[:labelRunes-1]) + "…"
}

// showPicker lists students as buttons with data <prefix><group>_<id>.
func (b *Bot) showPicker(ctx context.Context, ev *Event, group, title, icon, prefix string) error {
	if ok, err := b.curatorOnly(ctx, ev, group); !ok {
		return err
	}
	list, err := b.students(ctx, group)
	if err != nil {
		return err
	}
	back := button("🔙 Back", "students_menu_"+group)
	if len(list) == 0 {
		return b.reply(ev, "👥 There are no students in this group.", keyboard(group, back))
	}
	if len(list) > pickerLimit {
		title += fmt.Sprintf(" (first %d)", pickerLimit)
		list = list[:pickerLimit]
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(list)+1)
	for _, m := range list {
		rows = append(rows, button(icon+" "+shorten(m.DisplayName()), fmt.Sprintf("%s%s_%d", prefix, group, m.ID)))
	}
	rows = append(rows, back)
	return b.reply(ev, title, keyboard(group, rows...))
}

// pickedStudent resolves "<group>_<id>" callback data to a student of a
// group the caller curates.
func (b *Bot) pickedStudent(ctx context.Context, ev *Event) (models.Member, bool, error) {
	group, id, ok := parseGroupArg(ev.Arg)
	if !ok {
		return models.Member{}, false, b.reply(ev, "❓ Student not found.", nil)
	}
	if ok, err := b.curatorOnly(ctx, ev, group); !ok {
		return models.Member{}, false, err
	}
	m, found, err := b.registry.Member(ctx, id)
	if err != nil {
		return models.Member{}, false, err
	}
	if !found || m.Group != group {
		return models.Member{}, false, b.reply(ev, "❓ Student not found.", keyboard(group, button("🔙 Back", "students_menu_"+group)))
	}
	return m, true, nil
}

func (b *Bot) handleStudentsDelete(ctx context.Context, ev *Event) error {
	return b.showPicker(ctx, ev, ev.Arg, "🗑 Choose the student to remove", "🗑", "students_delete_pick_")
}

func (b *Bot) handleStudentsDeletePick(ctx context.Context, ev *Event) error {
	m, ok, err := b.pickedStudent(ctx, ev)
	if !ok {
		return err
	}
	return b.reply(ev, fmt.Sprintf("Remove %s from the group?", m.DisplayName()), keyboard(m.Group,
		button("✅ Yes, remove", fmt.Sprintf("students_delete_do_%s_%d", m.Group, m.ID)),
		button("❌ Cancel", "students_menu_"+m.Group),
	))
}

func (b *Bot) handleStudentsDeleteDo(ctx context.Context, ev *Event) error {
	m, ok, err := b.pickedStudent(ctx, ev)
	if !ok {
		return err
	}
	removed, err := b.registry.Remove(ctx, m.Group, m.ID)
	if err != nil {
		return err
	}
	text := "✅ Removed: " + m.DisplayName()
	if !removed {
		text = "❓ Student not found."
	}
	return b.reply(ev, text, keyboard(m.Group, button("🔙 Students", "students_menu_"+m.Group)))
}

func (b *Bot) handleStudentsEdit(ctx context.Context, ev *Event) error {
	return b.showPicker(ctx, ev, ev.Arg, "✏️ Choose the student to rename", "✏️", "students_edit_pick_")
}

func (b *Bot) handleStudentsEditPick(ctx context.Context, ev *Event) error {
	m, ok, err := b.pickedStudent(ctx, ev)
	if !ok {
		return err
	}
	b.await(ev.UserID, session{Waiting: waitRename, Group: m.Group, MemberID: m.ID})
	return b.reply(ev, fmt.Sprintf("✏️ Send the new full name for %s:", m.DisplayName()),
		keyboard(m.Group, button("❌ Cancel", "cancel_"+m.Group)))
}

func (b *Bot) textRename(ctx context.Context, ev *Event) (bool, error) {
	sess, ok := b.sessions.take(ev.UserID, waitRename)
	if !ok {
		return false, nil
	}
	fullName := strings.TrimSpace(ev.Text)
	if fullName == "" {
		b.sessions.set(ev.UserID, sess)
		return true, b.reply(ev, "⚠️ The name must not be empty. Please try again.", nil)
	}
	// rights may have changed since the student was picked
	if ok, err := b.curatorOnly(ctx, ev, sess.Group); !ok {
		return true, err
	}
	back := keyboard(sess.Group, button("🔙 Students", "students_menu_"+sess.Group))
	err := b.registry.Rename(ctx, sess.Group, sess.MemberID, fullName)
	if errors.Is(err, members.ErrNotMember) {
		return true, b.reply(ev, "❓ Student not found.", back)
	}
	if err != nil {
		return true, err
	}
	return true, b.reply(ev, "✅ Renamed to "+fullName, back)
}

package telegram

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikitkaralius/curatorbot/internal/board"
	"github.com/nikitkaralius/curatorbot/internal/members"
	"github.com/nikitkaralius/curatorbot/internal/models"
	"github.com/nikitkaralius/curatorbot/internal/polls"
	"github.com/nikitkaralius/curatorbot/internal/storage"
)

const (
	testGroup   = "ж1"
	curator     = int64(900)
	alice       = int64(1)
	bob         = int64(2)
	stranger    = int64(3)
	otherMember = int64(4)
)

type sent struct {
	chatID int64
	text   string
	markup *tgbotapi.InlineKeyboardMarkup
	raw    tgbotapi.Chattable
}

type fakeSender struct {
	mu       sync.Mutex
	sent     []sent
	requests []tgbotapi.Chattable
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := sent{raw: c}
	switch v := c.(type) {
	case tgbotapi.MessageConfig:
		s.chatID, s.text = v.ChatID, v.Text
		if m, ok := v.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup); ok {
			s.markup = &m
		}
	case tgbotapi.EditMessageTextConfig:
		s.chatID, s.text, s.markup = v.ChatID, v.Text, v.ReplyMarkup
	case tgbotapi.DocumentConfig:
		s.chatID, s.text = v.ChatID, v.Caption
	case tgbotapi.PhotoConfig:
		s.chatID, s.text = v.ChatID, v.Caption
	}
	f.sent = append(f.sent, s)
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func (f *fakeSender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeSender) last(chatID int64) sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if f.sent[i].chatID == chatID {
			return f.sent[i]
		}
	}
	return sent{}
}

func (f *fakeSender) to(chatID int64) []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var res []sent
	for _, s := range f.sent {
		if s.chatID == chatID {
			res = append(res, s)
		}
	}
	return res
}

func hasButton(s sent, data string) bool {
	if s.markup == nil {
		return false
	}
	for _, row := range s.markup.InlineKeyboard {
		for _, btn := range row {
			if btn.CallbackData != nil && *btn.CallbackData == data {
				return true
			}
		}
	}
	return false
}

type nopScheduler struct{}

func (nopScheduler) ScheduleClose(context.Context, string, time.Time) error { return nil }

type harness struct {
	bot      *Bot
	api      *fakeSender
	registry *members.Registry
	svc      *polls.Service
	board    *board.Board
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	docs, err := storage.NewFile(t.TempDir())
	require.NoError(t, err)

	registry := members.NewRegistry(docs, 0)
	require.NoError(t, registry.Seed(ctx))
	require.NoError(t, registry.AddCurator(ctx, testGroup, curator))

	api := &fakeSender{}
	notifier := NewNotifier(api, registry)
	svc := polls.NewService(polls.NewManager(docs), registry, notifier)
	svc.SetScheduler(nopScheduler{})
	brd := board.New(docs)

	return &harness{
		bot:      NewBot(api, registry, svc, brd, notifier),
		api:      api,
		registry: registry,
		svc:      svc,
		board:    brd,
	}
}

func command(from int64, text string) tgbotapi.Update {
	name := strings.Fields(text)[0]
	return tgbotapi.Update{Message: &tgbotapi.Message{
		From:     &tgbotapi.User{ID: from, FirstName: "User"},
		Chat:     &tgbotapi.Chat{ID: from, Type: "private"},
		Text:     text,
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(name)}},
	}}
}

func text(from int64, body string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: from, FirstName: "User", UserName: "user"},
		Chat: &tgbotapi.Chat{ID: from, Type: "private"},
		Text: body,
	}}
}

func callback(from int64, data string) tgbotapi.Update {
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:   "cb",
		From: &tgbotapi.User{ID: from, FirstName: "User"},
		Message: &tgbotapi.Message{
			MessageID: 10,
			Chat:      &tgbotapi.Chat{ID: from, Type: "private"},
		},
		Data: data,
	}}
}

func (h *harness) do(updates ...tgbotapi.Update) {
	for _, u := range updates {
		h.bot.HandleUpdate(context.Background(), u)
	}
}

// register puts a student and the curator into the test group.
func (h *harness) register(t *testing.T, ids ...int64) {
	t.Helper()
	h.do(callback(curator, "join_"+testGroup))
	for _, id := range ids {
		h.do(callback(id, "join_"+testGroup), text(id, "Student "+string(rune('A'+id-1))))
	}
}

func TestRouterPrefixesAndCommands(t *testing.T) {
	r := NewRouter()
	var got []string
	r.Callback("poll_", func(_ context.Context, ev *Event) error { got = append(got, "poll:"+ev.Arg); return nil })
	r.Callback("poll_view_", func(_ context.Context, ev *Event) error { got = append(got, "view:"+ev.Arg); return nil })
	r.Command("start", func(_ context.Context, ev *Event) error { got = append(got, "start:"+ev.Arg); return nil })
	r.Text(func(_ context.Context, ev *Event) (bool, error) { return ev.Text == "taken", nil })
	r.Fallback(func(_ context.Context, ev *Event) error { got = append(got, "fallback:"+ev.Text); return nil })

	ctx := context.Background()
	for _, u := range []tgbotapi.Update{
		callback(1, "poll_view_g1_5"),
		callback(1, "poll_x"),
		command(1, "/start ref"),
		text(1, "taken"),
		text(1, "hello"),
	} {
		handled, err := r.Dispatch(ctx, u)
		require.NoError(t, err)
		assert.True(t, handled)
	}
	assert.Equal(t, []string{"view:g1_5", "poll:x", "start:ref", "fallback:hello"}, got)

	handled, err := r.Dispatch(ctx, callback(1, "nothing"))
	require.NoError(t, err)
	assert.False(t, handled)
	handled, err = r.Dispatch(ctx, command(1, "/unknown"))
	require.NoError(t, err)
	assert.False(t, handled)
}

func TestRegistration(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.do(command(alice, "/start"))
	assert.True(t, hasButton(h.api.last(alice), "join_"+testGroup))

	h.do(callback(alice, "join_"+testGroup))
	assert.Contains(t, h.api.last(alice).text, "full name")

	h.do(text(alice, "   "))
	assert.Contains(t, h.api.last(alice).text, "full name")

	h.do(text(alice, "Alice Smith"))
	m, ok, err := h.registry.Member(ctx, alice)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Alice Smith", m.FullName)
	assert.Equal(t, testGroup, m.Group)
	assert.True(t, hasButton(h.api.last(alice), "student_polls_"+testGroup))

	h.do(callback(curator, "join_"+testGroup))
	assert.True(t, hasButton(h.api.last(curator), "polls_menu_"+testGroup))

	h.do(command(alice, "/reset"))
	group, err := h.registry.GroupOf(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, group)

	assert.NotEmpty(t, h.api.requests, "callbacks are acknowledged")
}

func TestCuratorOnlyScreens(t *testing.T) {
	h := newHarness(t)
	h.register(t, alice)

	for _, data := range []string{"polls_menu_", "polls_create_", "stats_", "view_questions_", "announce_"} {
		h.do(callback(alice, data+testGroup))
		assert.Contains(t, h.api.last(alice).text, "no rights", data)
	}
}

func TestAttendancePollFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, alice, bob)

	h.do(callback(curator, "polls_create_"+testGroup), text(curator, "0"))
	assert.Contains(t, h.api.last(curator).text, "between 1 and 60")

	h.do(text(curator, "5"))
	assert.Contains(t, h.api.last(curator).text, "Delivered to 3 of 3")

	p, ok, err := h.svc.LatestActive(ctx, testGroup)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 5, p.DurationMinutes)
	assert.True(t, hasButton(h.api.last(alice), "poll_present_"+p.ID))
	assert.True(t, hasButton(h.api.last(bob), "poll_absent_"+p.ID))

	h.do(callback(alice, "poll_present_"+p.ID))
	assert.Contains(t, h.api.last(alice).text, "present")
	h.do(callback(alice, "poll_absent_"+p.ID))
	assert.Contains(t, h.api.last(alice).text, "already responded")

	h.do(callback(bob, "poll_absent_"+p.ID), text(bob, " "))
	assert.Contains(t, h.api.last(bob).text, "Please try again")
	h.do(text(bob, "sick"))
	assert.Contains(t, h.api.last(bob).text, "absent")

	h.do(callback(stranger, "poll_present_"+p.ID))
	assert.Contains(t, h.api.last(stranger).text, "not a member")

	_, summary, _, err := h.svc.Summary(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.Summary{Present: 1, Absent: 1, NotResponded: 1, Total: 3}, summary)

	h.do(callback(curator, "poll_view_"+p.ID))
	view := h.api.last(curator).text
	assert.Contains(t, view, "Present: 1")
	assert.Contains(t, view, "sick")

	h.do(callback(curator, "poll_export_"+p.ID))
	doc, ok := h.api.last(curator).raw.(tgbotapi.DocumentConfig)
	require.True(t, ok)
	file, ok := doc.File.(tgbotapi.FileBytes)
	require.True(t, ok)
	assert.Equal(t, "poll_"+p.ID+".csv", file.Name)
	assert.Len(t, strings.Split(strings.TrimSpace(string(file.Bytes)), "\n"), 4)

	require.NoError(t, h.svc.Close(ctx, p.ID))
	closed := h.api.last(curator)
	assert.Contains(t, closed.text, "closed")
	assert.True(t, hasButton(closed, "poll_export_"+p.ID))

	h.do(callback(bob, "student_polls_"+testGroup))
	assert.Contains(t, h.api.last(bob).text, "no active poll")
}

func TestAnnouncementsAndQuestions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, alice, bob)

	h.do(callback(curator, "announce_"+testGroup), text(curator, "Meeting at 5"))
	assert.Contains(t, h.api.last(curator).text, "Sent to 2 of 2")
	assert.Contains(t, h.api.last(alice).text, "Meeting at 5")

	h.do(callback(curator, "schedule_"+testGroup), text(curator, "Mon: math"))
	h.do(command(bob, "/today"))
	assert.Contains(t, h.api.last(bob).text, "Mon: math")

	h.do(callback(alice, "ask_question_"+testGroup), text(alice, "When is the exam?"))
	assert.Contains(t, h.api.last(alice).text, "sent to the curator")
	forwarded := h.api.last(curator)
	assert.Contains(t, forwarded.text, "When is the exam?")
	assert.True(t, hasButton(forwarded, "select_question_"+testGroup+"_1"))

	h.do(callback(curator, "select_question_"+testGroup+"_1"), text(curator, "Friday"))
	assert.Contains(t, h.api.last(alice).text, "Friday")

	q, err := h.board.Question(ctx, testGroup, 1)
	require.NoError(t, err)
	assert.Equal(t, models.QuestionAnswered, q.Status)

	h.do(callback(curator, "view_questions_"+testGroup))
	assert.Contains(t, h.api.last(curator).text, "No pending questions")
}

func TestUnknownTextFallsBack(t *testing.T) {
	h := newHarness(t)
	h.do(text(stranger, "hi"))
	assert.Contains(t, h.api.last(stranger).text, "/menu")
	assert.Len(t, h.api.to(stranger), 1)
}

func TestParseGroupArg(t *testing.T) {
	group, id, ok := parseGroupArg("ж1_12")
	require.True(t, ok)
	assert.Equal(t, "ж1", group)
	assert.Equal(t, int64(12), id)

	_, _, ok = parseGroupArg("ж1")
	assert.False(t, ok)
	_, _, ok = parseGroupArg("ж1_x")
	assert.False(t, ok)
	_, _, ok = parseGroupArg("ж1_-3")
	assert.False(t, ok)
}

func TestNewFlowDropsPendingAbsence(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, alice, bob)

	h.do(callback(curator, "polls_create_"+testGroup), text(curator, "5"))
	p, ok, err := h.svc.LatestActive(ctx, testGroup)
	require.NoError(t, err)
	require.True(t, ok)

	h.do(callback(bob, "poll_absent_"+p.ID))
	assert.Contains(t, h.api.last(bob).text, "reason")

	h.do(callback(bob, "ask_question_"+testGroup), text(bob, "Is the lecture online?"))
	assert.Contains(t, h.api.last(bob).text, "sent to the curator")

	q, err := h.board.Question(ctx, testGroup, 1)
	require.NoError(t, err)
	assert.Equal(t, "Is the lecture online?", q.Text)
	assert.Equal(t, bob, q.UserID)

	_, summary, _, err := h.svc.Summary(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Absent, "the question is not an absence reason")

	// the main menu drops it too
	h.do(callback(alice, "poll_absent_"+p.ID), callback(alice, "back_to_menu_"+testGroup), text(alice, "hello"))
	assert.Contains(t, h.api.last(alice).text, "/menu")
	_, summary, _, err = h.svc.Summary(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Absent)

	// and the poll can still be answered afterwards
	h.do(callback(bob, "poll_absent_"+p.ID), text(bob, "sick"))
	_, summary, _, err = h.svc.Summary(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Absent)
}

func TestGroupScreensNeedMembership(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, alice)
	h.do(callback(otherMember, "join_ж2"), text(otherMember, "Dana Other"))

	for _, data := range []string{"ask_question_", "student_polls_", "view_announce_", "view_schedule_"} {
		h.do(callback(otherMember, data+testGroup))
		assert.Contains(t, h.api.last(otherMember).text, "not a member", data)
		h.do(callback(stranger, data+testGroup))
		assert.Contains(t, h.api.last(stranger).text, "not a member", data)
	}

	h.do(text(otherMember, "a question for ж1"))
	qs, err := h.board.Questions(ctx, testGroup, false)
	require.NoError(t, err)
	assert.Empty(t, qs)

	h.do(callback(alice, "ask_question_"+testGroup), text(alice, "mine"))
	qs, err = h.board.Questions(ctx, testGroup, false)
	require.NoError(t, err)
	assert.Len(t, qs, 1)
}

func TestRemoveAndRenameStudents(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, alice, bob)

	h.do(callback(curator, "students_menu_"+testGroup))
	menu := h.api.last(curator)
	assert.True(t, hasButton(menu, "students_delete_"+testGroup))
	assert.True(t, hasButton(menu, "students_edit_"+testGroup))

	h.do(callback(curator, "students_delete_"+testGroup))
	picker := h.api.last(curator)
	assert.True(t, hasButton(picker, "students_delete_pick_"+testGroup+"_1"))
	assert.False(t, hasButton(picker, "students_delete_pick_"+testGroup+"_900"), "curators are not listed")

	h.do(callback(curator, "students_delete_pick_"+testGroup+"_1"))
	assert.True(t, hasButton(h.api.last(curator), "students_delete_do_"+testGroup+"_1"))

	h.do(callback(bob, "students_delete_do_"+testGroup+"_1"))
	assert.Contains(t, h.api.last(bob).text, "no rights")
	group, err := h.registry.GroupOf(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, testGroup, group)

	h.do(callback(curator, "students_delete_do_"+testGroup+"_1"))
	assert.Contains(t, h.api.last(curator).text, "Removed")
	group, err = h.registry.GroupOf(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, group)

	h.do(callback(curator, "students_edit_pick_"+testGroup+"_2"), text(curator, "  "))
	assert.Contains(t, h.api.last(curator).text, "try again")
	h.do(text(curator, "Bob Stone"))
	assert.Contains(t, h.api.last(curator).text, "Renamed")
	m, ok, err := h.registry.Member(ctx, bob)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Bob Stone", m.FullName)

	h.do(callback(curator, "students_list_"+testGroup))
	assert.Contains(t, h.api.last(curator).text, "Bob Stone")
	assert.NotContains(t, h.api.last(curator).text, "Student A")
}

func TestResumeReopensLastScreen(t *testing.T) {
	h := newHarness(t)
	h.register(t, alice)

	h.do(callback(alice, "view_announce_"+testGroup))
	h.do(command(alice, "/resume"))
	last := h.api.last(alice)
	assert.Contains(t, last.text, "No announcements yet")
	_, isNew := last.raw.(tgbotapi.MessageConfig)
	assert.True(t, isNew, "resume sends a fresh message")

	h.do(callback(alice, "back_to_menu_"+testGroup), command(alice, "/resume"))
	assert.True(t, hasButton(h.api.last(alice), "ask_question_"+testGroup))

	h.do(command(stranger, "/resume"))
	assert.Contains(t, h.api.last(stranger).text, "/start")
}

type recordingReminders struct {
	mu    sync.Mutex
	runAt []time.Time
}

func (r *recordingReminders) ScheduleReminder(_ context.Context, _ string, _ int, runAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runAt = append(r.runAt, runAt)
	return nil
}

func TestUnansweredQuestionReminders(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.register(t, alice)
	sched := &recordingReminders{}
	h.bot.SetReminders(sched)

	h.do(callback(alice, "ask_question_"+testGroup), text(alice, "Where is room 101?"))
	q, err := h.board.Question(ctx, testGroup, 1)
	require.NoError(t, err)
	require.Len(t, sched.runAt, 3)
	for i, d := range ReminderDelays {
		assert.Equal(t, q.Timestamp.Add(d), sched.runAt[i])
	}

	before := len(h.api.to(curator))
	require.NoError(t, h.bot.Reminder().Remind(ctx, testGroup, 1))
	reminder := h.api.last(curator)
	assert.Contains(t, reminder.text, "still waiting")
	assert.True(t, hasButton(reminder, questionData(testGroup, 1)))
	assert.Len(t, h.api.to(curator), before+1)

	h.do(callback(curator, questionData(testGroup, 1)), text(curator, "Second floor"))
	before = len(h.api.to(curator))
	require.NoError(t, h.bot.Reminder().Remind(ctx, testGroup, 1))
	require.NoError(t, h.bot.Reminder().Remind(ctx, testGroup, 42))
	assert.Len(t, h.api.to(curator), before, "answered and unknown questions are skipped")

	rearmed := &recordingReminders{}
	n, err := h.bot.Reminder().Resume(ctx, rearmed)
	require.NoError(t, err)
	assert.Zero(t, n)
}

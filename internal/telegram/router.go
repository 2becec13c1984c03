package telegram

import (
	"context"
	"sort"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Event is one incoming update flattened for handlers.
type Event struct {
	UserID   int64
	ChatID   int64
	Username string
	FullName string
	Text     string

	// Arg is the command arguments, or the callback data after the matched
	// prefix.
	Arg string

	Message  *tgbotapi.Message
	Callback *tgbotapi.CallbackQuery
}

type HandlerFunc func(ctx context.Context, ev *Event) error

// TextHandler consumes free text when the sender is in a matching
// conversation state. It reports whether it took the message.
type TextHandler func(ctx context.Context, ev *Event) (bool, error)

type prefixRoute struct {
	prefix string
	h      HandlerFunc
}

// Router maps commands, callback data prefixes and conversation states to
// handlers.
type Router struct {
	commands  map[string]HandlerFunc
	callbacks []prefixRoute
	text      []TextHandler
	fallback  HandlerFunc
}

func NewRouter() *Router {
	return &Router{commands: map[string]HandlerFunc{}}
}

func (r *Router) Command(name string, h HandlerFunc) { r.commands[name] = h }

// Callback registers h for callback data starting with prefix. The longest
// matching prefix wins.
func (r *Router) Callback(prefix string, h HandlerFunc) {
	r.callbacks = append(r.callbacks, prefixRoute{prefix: prefix, h: h})
	sort.SliceStable(r.callbacks, func(i, j int) bool {
		return len(r.callbacks[i].prefix) > len(r.callbacks[j].prefix)
	})
}

// Text appends h to the free-text chain. Handlers run in registration order
// until one takes the message.
func (r *Router) Text(h TextHandler) { r.text = append(r.text, h) }

// Fallback handles text nobody else took.
func (r *Router) Fallback(h HandlerFunc) { r.fallback = h }

// Dispatch routes a single update. It returns false for updates nothing
// handles.
func (r *Router) Dispatch(ctx context.Context, update tgbotapi.Update) (bool, error) {
	switch {
	case update.CallbackQuery != nil:
		return r.dispatchCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		return r.dispatchMessage(ctx, update.Message)
	}
	return false, nil
}

func (r *Router) dispatchCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) (bool, error) {
	ev := &Event{Callback: cq, Text: cq.Data}
	fillUser(ev, cq.From)
	if cq.Message != nil && cq.Message.Chat != nil {
		ev.ChatID = cq.Message.Chat.ID
	} else {
		ev.ChatID = ev.UserID
	}
	h, arg, ok := r.Resolve(cq.Data)
	if !ok {
		return false, nil
	}
	ev.Arg = arg
	return true, h(ctx, ev)
}

// Resolve finds the callback handler for data and the argument it gets.
func (r *Router) Resolve(data string) (HandlerFunc, string, bool) {
	for _, route := range r.callbacks {
		if strings.HasPrefix(data, route.prefix) {
			return route.h, strings.TrimPrefix(data, route.prefix), true
		}
	}
	return nil, "", false
}

func (r *Router) dispatchMessage(ctx context.Context, msg *tgbotapi.Message) (bool, error) {
	ev := &Event{Message: msg, Text: msg.Text}
	if ev.Text == "" {
		ev.Text = msg.Caption
	}
	fillUser(ev, msg.From)
	if msg.Chat != nil {
		ev.ChatID = msg.Chat.ID
	}

	if msg.IsCommand() {
		h, ok := r.commands[msg.Command()]
		if !ok {
			return false, nil
		}
		ev.Arg = strings.TrimSpace(msg.CommandArguments())
		return true, h(ctx, ev)
	}

	for _, h := range r.text {
		handled, err := h(ctx, ev)
		if handled || err != nil {
			return true, err
		}
	}
	if r.fallback != nil {
		return true, r.fallback(ctx, ev)
	}
	return false, nil
}

func fillUser(ev *Event, u *tgbotapi.User) {
	if u == nil {
		return
	}
	ev.UserID = u.ID
	ev.Username = u.UserName
	ev.FullName = strings.TrimSpace(u.FirstName + " " + u.LastName)
}

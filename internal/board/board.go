package board

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/nikitkaralius/curatorbot/internal/logging"
	"github.com/nikitkaralius/curatorbot/internal/models"
	"github.com/nikitkaralius/curatorbot/internal/storage"
)

const (
	messagesDoc  = "messages"
	questionsDoc = "questions"
)

var (
	ErrEmpty            = errors.New("message has no content")
	ErrQuestionNotFound = errors.New("question not found")
	ErrAlreadyAnswered  = errors.New("question already answered")
)

// Board stores what curators post to a group and what students ask them.
type Board struct {
	docs  storage.Documents
	now   func() time.Time
	newID func() string
}

func New(docs storage.Documents) *Board {
	return &Board{docs: docs, now: time.Now, newID: uuid.NewString}
}

func (b *Board) loadMessages(ctx context.Context) (map[string][]models.Message, error) {
	msgs := map[string][]models.Message{}
	if err := storage.LoadOrInit(ctx, b.docs, messagesDoc, &msgs); err != nil {
		return nil, errors.Wrap(err, "load messages")
	}
	return msgs, nil
}

func (b *Board) loadQuestions(ctx context.Context) (map[string][]models.Question, error) {
	qs := map[string][]models.Question{}
	if err := storage.LoadOrInit(ctx, b.docs, questionsDoc, &qs); err != nil {
		return nil, errors.Wrap(err, "load questions")
	}
	return qs, nil
}

// Post appends an announcement or schedule to the group's history. A post
// needs text, an attachment or both.
func (b *Board) Post(ctx context.Context, msg models.Message) (models.Message, error) {
	msg.Content = strings.TrimSpace(msg.Content)
	if msg.Content == "" && msg.FileID == "" {
		return models.Message{}, ErrEmpty
	}
	if msg.FileID == "" {
		msg.MediaType = ""
	}

	msg.ID = b.newID()
	msg.Timestamp = b.now().UTC()
	msgs := map[string][]models.Message{}
	err := b.docs.Update(ctx, messagesDoc, &msgs, func() error {
		if msgs == nil {
			msgs = map[string][]models.Message{}
		}
		msgs[msg.Group] = append(msgs[msg.Group], msg)
		return nil
	})
	if err != nil {
		return models.Message{}, errors.Wrap(err, "save messages")
	}
	logging.Log.Infof("BOARD: %s %s posted to %s by %d", msg.Kind, msg.ID, msg.Group, msg.SenderID)
	return msg, nil
}

// Messages lists the group's posts of the given kind, oldest first. An empty
// kind lists everything.
func (b *Board) Messages(ctx context.Context, group string, kind models.MessageKind) ([]models.Message, error) {
	msgs, err := b.loadMessages(ctx)
	if err != nil {
		return nil, err
	}

	var res []models.Message
	for _, m := range msgs[group] {
		if kind == "" || m.Kind == kind {
			res = append(res, m)
		}
	}
	return res, nil
}

// Latest returns the most recent post of kind for group.
func (b *Board) Latest(ctx context.Context, group string, kind models.MessageKind) (models.Message, bool, error) {
	msgs, err := b.Messages(ctx, group, kind)
	if err != nil || len(msgs) == 0 {
		return models.Message{}, false, err
	}
	return msgs[len(msgs)-1], true, nil
}

// Ask files a pending question. Question IDs are sequential per group.
func (b *Board) Ask(ctx context.Context, group string, userID int64, text string) (models.Question, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Question{}, ErrEmpty
	}

	var q models.Question
	err := b.updateQuestions(ctx, func(qs map[string][]models.Question) error {
		q = models.Question{
			ID:        len(qs[group]) + 1,
			Group:     group,
			UserID:    userID,
			Text:      text,
			Status:    models.QuestionPending,
			Timestamp: b.now().UTC(),
		}
		qs[group] = append(qs[group], q)
		return nil
	})
	if err != nil {
		return models.Question{}, errors.Wrap(err, "save questions")
	}
	logging.Log.Infof("BOARD: question %d in %s from %d", q.ID, group, userID)
	return q, nil
}

// Questions lists the group's questions in the order they were asked.
func (b *Board) Questions(ctx context.Context, group string, onlyPending bool) ([]models.Question, error) {
	qs, err := b.loadQuestions(ctx)
	if err != nil {
		return nil, err
	}

	var res []models.Question
	for _, q := range qs[group] {
		if !onlyPending || q.Status == models.QuestionPending {
			res = append(res, q)
		}
	}
	return res, nil
}

func (b *Board) Question(ctx context.Context, group string, id int) (models.Question, error) {
	qs, err := b.loadQuestions(ctx)
	if err != nil {
		return models.Question{}, err
	}
	for _, q := range qs[group] {
		if q.ID == id {
			return q, nil
		}
	}
	return models.Question{}, errors.Wrapf(ErrQuestionNotFound, "%s #%d", group, id)
}

// Answer stores a curator's reply. A question is answered at most once.
func (b *Board) Answer(ctx context.Context, group string, id int, answer string, curatorID int64) (models.Question, error) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return models.Question{}, ErrEmpty
	}

	var answered models.Question
	err := b.updateQuestions(ctx, func(qs map[string][]models.Question) error {
		list := qs[group]
		for i := range list {
			if list[i].ID != id {
				continue
			}
			if list[i].Status == models.QuestionAnswered {
				return errors.Wrapf(ErrAlreadyAnswered, "%s #%d", group, id)
			}
			at := b.now().UTC()
			list[i].Answer = answer
			list[i].AnsweredBy = curatorID
			list[i].Status = models.QuestionAnswered
			list[i].AnsweredAt = &at
			answered = list[i]
			return nil
		}
		return errors.Wrapf(ErrQuestionNotFound, "%s #%d", group, id)
	})
	if err != nil {
		return models.Question{}, err
	}
	logging.Log.Infof("BOARD: question %d in %s answered by %d", id, group, curatorID)
	return answered, nil
}

func (b *Board) updateQuestions(ctx context.Context, fn func(qs map[string][]models.Question) error) error {
	qs := map[string][]models.Question{}
	return b.docs.Update(ctx, questionsDoc, &qs, func() error {
		if qs == nil {
			qs = map[string][]models.Question{}
		}
		return fn(qs)
	})
}

package board

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikitkaralius/curatorbot/internal/models"
	"github.com/nikitkaralius/curatorbot/internal/storage"
)

func newTestBoard(t *testing.T) *Board {
	t.Helper()
	docs, err := storage.NewFile(t.TempDir())
	require.NoError(t, err)
	b := New(docs)
	b.now = func() time.Time { return time.Date(2025, 9, 1, 9, 0, 0, 0, time.UTC) }
	return b
}

func TestPostAndLatest(t *testing.T) {
	b := newTestBoard(t)
	ctx := context.Background()

	_, err := b.Post(ctx, models.Message{Group: "g1", Kind: models.Announcement, Content: "  "})
	assert.ErrorIs(t, err, ErrEmpty)

	a, err := b.Post(ctx, models.Message{Group: "g1", Kind: models.Announcement, Content: "Meeting at 5", SenderID: 9})
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)

	_, err = b.Post(ctx, models.Message{Group: "g1", Kind: models.Schedule, Content: "Mon: math"})
	require.NoError(t, err)
	photo, err := b.Post(ctx, models.Message{Group: "g1", Kind: models.Schedule, FileID: "AgAD", MediaType: "photo"})
	require.NoError(t, err)
	_, err = b.Post(ctx, models.Message{Group: "g2", Kind: models.Schedule, Content: "Tue: art"})
	require.NoError(t, err)

	all, err := b.Messages(ctx, "g1", "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	ann, err := b.Messages(ctx, "g1", models.Announcement)
	require.NoError(t, err)
	require.Len(t, ann, 1)
	assert.Equal(t, "Meeting at 5", ann[0].Content)

	latest, ok, err := b.Latest(ctx, "g1", models.Schedule)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, photo.ID, latest.ID)
	assert.Equal(t, "photo", latest.MediaType)

	_, ok, err = b.Latest(ctx, "g3", models.Schedule)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestQuestions(t *testing.T) {
	b := newTestBoard(t)
	ctx := context.Background()

	_, err := b.Ask(ctx, "g1", 1, "")
	assert.ErrorIs(t, err, ErrEmpty)

	q1, err := b.Ask(ctx, "g1", 1, "When is the exam?")
	require.NoError(t, err)
	q2, err := b.Ask(ctx, "g1", 2, "Where is room 5?")
	require.NoError(t, err)
	other, err := b.Ask(ctx, "g2", 3, "Hello?")
	require.NoError(t, err)
	assert.Equal(t, 1, q1.ID)
	assert.Equal(t, 2, q2.ID)
	assert.Equal(t, 1, other.ID, "ids are per group")

	answered, err := b.Answer(ctx, "g1", 1, "Friday", 9)
	require.NoError(t, err)
	assert.Equal(t, models.QuestionAnswered, answered.Status)
	assert.Equal(t, "Friday", answered.Answer)
	assert.Equal(t, int64(9), answered.AnsweredBy)
	require.NotNil(t, answered.AnsweredAt)

	_, err = b.Answer(ctx, "g1", 1, "Monday", 9)
	assert.ErrorIs(t, err, ErrAlreadyAnswered)
	_, err = b.Answer(ctx, "g1", 7, "?", 9)
	assert.ErrorIs(t, err, ErrQuestionNotFound)
	_, err = b.Answer(ctx, "g1", 2, " ", 9)
	assert.ErrorIs(t, err, ErrEmpty)

	pending, err := b.Questions(ctx, "g1", true)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 2, pending[0].ID)

	all, err := b.Questions(ctx, "g1", false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	got, err := b.Question(ctx, "g1", 1)
	require.NoError(t, err)
	assert.Equal(t, "When is the exam?", got.Text)
	_, err = b.Question(ctx, "g2", 2)
	assert.ErrorIs(t, err, ErrQuestionNotFound)
}

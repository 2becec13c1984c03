package polls

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikitkaralius/curatorbot/internal/models"
	"github.com/nikitkaralius/curatorbot/internal/storage"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestManager(t *testing.T) (*Manager, *clock) {
	t.Helper()
	docs, err := storage.NewFile(t.TempDir())
	require.NoError(t, err)
	c := &clock{t: time.Date(2025, 9, 1, 9, 0, 0, 0, time.UTC)}
	m := NewManager(docs)
	m.now = c.now
	return m, c
}

func TestCreatePoll(t *testing.T) {
	m, c := newTestManager(t)
	ctx := context.Background()

	id, err := m.CreatePoll(ctx, "g1", 100, 10)
	require.NoError(t, err)
	assert.Equal(t, "g1_1756717200000", id)

	p, err := m.GetPoll(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "g1", p.Group)
	assert.Equal(t, int64(100), p.CreatorID)
	assert.Equal(t, models.PollActive, p.Status)
	assert.Equal(t, 10, p.DurationMinutes)
	assert.Empty(t, p.Responses)
	assert.Equal(t, c.t, p.CreatedAt)
	assert.Equal(t, c.t.Add(10*time.Minute), p.EndsAt())
}

func TestCreatePollDurationBounds(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	for _, d := range []int{0, 61, -5} {
		_, err := m.CreatePoll(ctx, "g1", 1, d)
		assert.True(t, IsValidation(err), "duration %d", d)
	}
	for _, d := range []int{1, 60} {
		_, err := m.CreatePoll(ctx, "g1", 1, d)
		assert.NoError(t, err, "duration %d", d)
	}
}

func TestCreatePollReplacesGroupPolls(t *testing.T) {
	m, c := newTestManager(t)
	ctx := context.Background()

	first, err := m.CreatePoll(ctx, "g1", 1, 10)
	require.NoError(t, err)
	other, err := m.CreatePoll(ctx, "g2", 1, 10)
	require.NoError(t, err)

	c.advance(time.Minute)
	second, err := m.CreatePoll(ctx, "g1", 1, 10)
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	_, err = m.GetPoll(ctx, first)
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := m.ListPolls(ctx, "g1", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, second, list[0].ID)

	active, err := m.ActivePolls(ctx)
	require.NoError(t, err)
	perGroup := map[string]int{}
	for _, p := range active {
		perGroup[p.Group]++
	}
	assert.Equal(t, map[string]int{"g1": 1, "g2": 1}, perGroup)

	_, err = m.GetPoll(ctx, other)
	assert.NoError(t, err, "other groups are untouched")
}

func TestRecordResponse(t *testing.T) {
	m, c := newTestManager(t)
	ctx := context.Background()

	id, err := m.CreatePoll(ctx, "g1", 1, 10)
	require.NoError(t, err)

	c.advance(30 * time.Second)
	require.NoError(t, m.RecordResponse(ctx, id, 7, models.Present, "ignored"))
	require.NoError(t, m.RecordResponse(ctx, id, 8, models.Absent, "sick"))

	p, err := m.GetPoll(ctx, id)
	require.NoError(t, err)
	require.Len(t, p.Responses, 2)
	assert.Equal(t, models.Response{Status: models.Present, Timestamp: c.t}, p.Responses[7])
	assert.Equal(t, "sick", p.Responses[8].Reason)

	// last write wins
	require.NoError(t, m.RecordResponse(ctx, id, 8, models.Present, ""))
	p, err = m.GetPoll(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.Present, p.Responses[8].Status)

	assert.ErrorIs(t, m.RecordResponse(ctx, "nope", 7, models.Present, ""), ErrNotFound)
}

func TestClosedPollRejectsResponses(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	id, err := m.CreatePoll(ctx, "g1", 1, 10)
	require.NoError(t, err)
	require.NoError(t, m.RecordResponse(ctx, id, 7, models.Present, ""))

	closed, err := m.ClosePoll(ctx, id)
	require.NoError(t, err)
	assert.True(t, closed)

	before, err := m.GetPoll(ctx, id)
	require.NoError(t, err)

	for _, st := range []models.ResponseStatus{models.Present, models.Absent} {
		err := m.RecordResponse(ctx, id, 8, st, "late")
		assert.ErrorIs(t, err, ErrAlreadyClosed)
		err = m.RecordResponse(ctx, id, 7, st, "changed")
		assert.ErrorIs(t, err, ErrAlreadyClosed)
	}

	after, err := m.GetPoll(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestClosePollIdempotent(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	id, err := m.CreatePoll(ctx, "g1", 1, 10)
	require.NoError(t, err)

	closed, err := m.ClosePoll(ctx, id)
	require.NoError(t, err)
	assert.True(t, closed)

	closed, err = m.ClosePoll(ctx, id)
	require.NoError(t, err)
	assert.False(t, closed)

	p, err := m.GetPoll(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.PollClosed, p.Status)

	closed, err = m.ClosePoll(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, closed)
}

// interleaved runs hook once, inside the first Update, after the document
// was loaded and before it is saved.
type interleaved struct {
	storage.Documents
	once sync.Once
	hook func()
}

func (d *interleaved) Update(ctx context.Context, name string, v any, fn func() error) error {
	return d.Documents.Update(ctx, name, v, func() error {
		d.once.Do(d.hook)
		return fn()
	})
}

// The bot and the worker each own a Manager over one store. A close that
// lands while the bot is recording a response must not be overwritten.
func TestConcurrentManagersKeepClose(t *testing.T) {
	ctx := context.Background()
	file, err := storage.NewFile(t.TempDir())
	require.NoError(t, err)

	worker := NewManager(file)
	id, err := worker.CreatePoll(ctx, "g1", 1, 10)
	require.NoError(t, err)

	type closeResult struct {
		closed bool
		err    error
	}
	done := make(chan closeResult, 1)
	docs := &interleaved{Documents: file, hook: func() {
		go func() {
			closed, err := worker.ClosePoll(ctx, id)
			done <- closeResult{closed, err}
		}()
		// give the close every chance to land mid-update
		time.Sleep(50 * time.Millisecond)
	}}
	bot := NewManager(docs)

	require.NoError(t, bot.RecordResponse(ctx, id, 7, models.Present, ""))
	res := <-done
	require.NoError(t, res.err)
	assert.True(t, res.closed)

	p, err := worker.GetPoll(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.PollClosed, p.Status)
	assert.Len(t, p.Responses, 1)

	assert.ErrorIs(t, bot.RecordResponse(ctx, id, 8, models.Absent, "late"), ErrAlreadyClosed)
}

func TestListPollsOrderAndLimit(t *testing.T) {
	m, c := newTestManager(t)
	ctx := context.Background()

	var ids []string
	for _, g := range []string{"a", "b", "c", "d"} {
		id, err := m.CreatePoll(ctx, g, 1, 5)
		require.NoError(t, err)
		ids = append(ids, id)
		c.advance(time.Minute)
	}

	all, err := m.AllPolls(ctx)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, ids[3], all[0].ID)
	assert.Equal(t, ids[0], all[3].ID)

	list, err := m.ListPolls(ctx, "b", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)

	list, err = m.ListPolls(ctx, "zz", 10)
	require.NoError(t, err)
	assert.Empty(t, list)

	sorted := []models.Poll{
		{ID: "x_1", CreatedAt: c.t.Add(-time.Hour)},
		{ID: "x_3", CreatedAt: c.t},
		{ID: "x_2", CreatedAt: c.t.Add(-time.Minute)},
	}
	sortNewestFirst(sorted)
	assert.Equal(t, []string{"x_3", "x_2", "x_1"}, []string{sorted[0].ID, sorted[1].ID, sorted[2].ID})
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{in: "", want: DefaultDuration},
		{in: "   ", want: DefaultDuration},
		{in: "1", want: 1},
		{in: "60", want: 60},
		{in: " 15 ", want: 15},
		{in: "0", wantErr: true},
		{in: "61", wantErr: true},
		{in: "ten", wantErr: true},
		{in: "1.5", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDuration(tt.in)
			if tt.wantErr {
				assert.True(t, IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

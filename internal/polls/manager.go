package polls

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/nikitkaralius/curatorbot/internal/logging"
	"github.com/nikitkaralius/curatorbot/internal/models"
	"github.com/nikitkaralius/curatorbot/internal/storage"
)

const pollsDoc = "polls"

// Manager owns the polls document. Every mutation is a single storage
// Update, so managers in different processes sharing a store never
// overwrite each other's writes.
type Manager struct {
	docs storage.Documents
	now  func() time.Time
}

func NewManager(docs storage.Documents) *Manager {
	return &Manager{docs: docs, now: time.Now}
}

func normalize(polls map[string]models.Poll) {
	for id, p := range polls {
		p.ID = id
		if p.Responses == nil {
			p.Responses = map[int64]models.Response{}
		}
		polls[id] = p
	}
}

func (m *Manager) load(ctx context.Context) (map[string]models.Poll, error) {
	polls := map[string]models.Poll{}
	if err := storage.LoadOrInit(ctx, m.docs, pollsDoc, &polls); err != nil {
		return nil, errors.Wrap(err, "load polls")
	}
	if polls == nil {
		polls = map[string]models.Poll{}
	}
	normalize(polls)
	return polls, nil
}

// update runs fn on the current polls and saves them unless fn fails.
func (m *Manager) update(ctx context.Context, fn func(polls map[string]models.Poll) error) error {
	polls := map[string]models.Poll{}
	return m.docs.Update(ctx, pollsDoc, &polls, func() error {
		if polls == nil {
			polls = map[string]models.Poll{}
		}
		normalize(polls)
		return fn(polls)
	})
}

// CreatePoll replaces every poll of group with a fresh active one.
func (m *Manager) CreatePoll(ctx context.Context, group string, creatorID int64, durationMinutes int) (string, error) {
	if err := ValidateDuration(durationMinutes); err != nil {
		return "", err
	}

	now := m.now().UTC()
	id := fmt.Sprintf("%s_%d", group, now.UnixMilli())
	err := m.update(ctx, func(polls map[string]models.Poll) error {
		for old, p := range polls {
			if p.Group == group {
				delete(polls, old)
				logging.Log.Infof("POLL: deleted superseded poll %s (%s)", old, p.Status)
			}
		}
		polls[id] = models.Poll{
			ID:              id,
			Group:           group,
			CreatorID:       creatorID,
			CreatedAt:       now,
			DurationMinutes: durationMinutes,
			Status:          models.PollActive,
			Responses:       map[int64]models.Response{},
		}
		return nil
	})
	if err != nil {
		return "", errors.Wrap(err, "save polls")
	}
	logging.Log.Infof("POLL: created %s for %s by %d (%d min)", id, group, creatorID, durationMinutes)
	return id, nil
}

func (m *Manager) GetPoll(ctx context.Context, pollID string) (models.Poll, error) {
	polls, err := m.load(ctx)
	if err != nil {
		return models.Poll{}, err
	}
	p, ok := polls[pollID]
	if !ok {
		return models.Poll{}, errors.Wrapf(ErrNotFound, "poll %s", pollID)
	}
	return p, nil
}

// RecordResponse upserts a member's answer. It has no side effect when the
// poll is missing or closed.
func (m *Manager) RecordResponse(ctx context.Context, pollID string, memberID int64, status models.ResponseStatus, reason string) error {
	if status == models.Present {
		reason = ""
	}
	return m.update(ctx, func(polls map[string]models.Poll) error {
		p, ok := polls[pollID]
		if !ok {
			return errors.Wrapf(ErrNotFound, "poll %s", pollID)
		}
		if !p.IsActive() {
			return errors.Wrapf(ErrAlreadyClosed, "poll %s", pollID)
		}
		p.Responses[memberID] = models.Response{
			Status:    status,
			Reason:    reason,
			Timestamp: m.now().UTC(),
		}
		polls[pollID] = p
		return nil
	})
}

// ClosePoll reports whether the poll transitioned to closed. Missing and
// already closed polls are a no-op.
func (m *Manager) ClosePoll(ctx context.Context, pollID string) (bool, error) {
	closed := false
	err := m.update(ctx, func(polls map[string]models.Poll) error {
		p, ok := polls[pollID]
		if !ok || !p.IsActive() {
			return storage.ErrUnchanged
		}
		p.Status = models.PollClosed
		polls[pollID] = p
		closed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return closed, nil
}

// ListPolls returns the group's polls, newest first. A non-positive limit
// means no limit.
func (m *Manager) ListPolls(ctx context.Context, group string, limit int) ([]models.Poll, error) {
	polls, err := m.load(ctx)
	if err != nil {
		return nil, err
	}

	var res []models.Poll
	for _, p := range polls {
		if p.Group == group {
			res = append(res, p)
		}
	}
	sortNewestFirst(res)
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

// ActivePolls returns every poll that has not been closed yet.
func (m *Manager) ActivePolls(ctx context.Context) ([]models.Poll, error) {
	polls, err := m.load(ctx)
	if err != nil {
		return nil, err
	}

	var res []models.Poll
	for _, p := range polls {
		if p.IsActive() {
			res = append(res, p)
		}
	}
	sortNewestFirst(res)
	return res, nil
}

// AllPolls returns every stored poll, newest first.
func (m *Manager) AllPolls(ctx context.Context) ([]models.Poll, error) {
	polls, err := m.load(ctx)
	if err != nil {
		return nil, err
	}

	res := make([]models.Poll, 0, len(polls))
	for _, p := range polls {
		res = append(res, p)
	}
	sortNewestFirst(res)
	return res, nil
}

func sortNewestFirst(ps []models.Poll) {
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].CreatedAt.Equal(ps[j].CreatedAt) {
			return ps[i].CreatedAt.After(ps[j].CreatedAt)
		}
		return ps[i].ID > ps[j].ID
	})
}

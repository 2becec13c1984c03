package polls

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/nikitkaralius/curatorbot/internal/logging"
	"github.com/nikitkaralius/curatorbot/internal/models"
)

// Roster answers membership questions. Membership is always read at the
// point of use, never snapshotted on the poll.
type Roster interface {
	Members(ctx context.Context, group string) ([]models.Member, error)
	GroupOf(ctx context.Context, memberID int64) (string, error)
	IsCurator(ctx context.Context, memberID int64, group string) (bool, error)
}

// Notifier delivers poll messages to single recipients.
type Notifier interface {
	SendPollPrompt(ctx context.Context, memberID int64, p models.Poll) error
	SendPollClosed(ctx context.Context, curatorID int64, p models.Poll, s models.Summary) error
}

// Scheduler arms a one-shot close for a poll. Implementations should be
// safe for concurrent use.
type Scheduler interface {
	ScheduleClose(ctx context.Context, pollID string, runAt time.Time) error
}

type StartResult struct {
	PollID    string
	Delivered int
	Members   int
	Scheduled bool
}

type Service struct {
	polls    *Manager
	roster   Roster
	notifier Notifier
	sched    Scheduler
	now      func() time.Time

	pendingMu sync.Mutex
	pending   map[int64]string // member -> poll awaiting an absence reason
}

func NewService(polls *Manager, roster Roster, notifier Notifier) *Service {
	return &Service{
		polls:    polls,
		roster:   roster,
		notifier: notifier,
		now:      time.Now,
		pending:  map[int64]string{},
	}
}

// SetScheduler wires the close scheduler. Without one polls never close on
// their own.
func (s *Service) SetScheduler(sched Scheduler) { s.sched = sched }

func (s *Service) Manager() *Manager { return s.polls }

// Authorize returns ErrUnauthorized unless memberID curates group.
func (s *Service) Authorize(ctx context.Context, memberID int64, group string) error {
	ok, err := s.roster.IsCurator(ctx, memberID, group)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Wrapf(ErrUnauthorized, "member %d, group %s", memberID, group)
	}
	return nil
}

// Start creates a poll for group, prompts every member and arms the close
// timer. Delivery and scheduling failures are logged, not returned.
func (s *Service) Start(ctx context.Context, group string, curatorID int64, durationMinutes int) (StartResult, error) {
	if err := s.Authorize(ctx, curatorID, group); err != nil {
		return StartResult{}, err
	}
	id, err := s.polls.CreatePoll(ctx, group, curatorID, durationMinutes)
	if err != nil {
		return StartResult{}, err
	}
	p, err := s.polls.GetPoll(ctx, id)
	if err != nil {
		return StartResult{}, err
	}

	res := StartResult{PollID: id}
	res.Delivered, res.Members, err = s.Broadcast(ctx, p)
	if err != nil {
		logging.Log.Errorf("POLL: broadcast %s: %v", id, err)
	}
	res.Scheduled = s.ScheduleClose(ctx, id, durationMinutes)
	return res, nil
}

// Broadcast sends the prompt to every current member of the poll's group.
// One failed delivery never stops the others.
func (s *Service) Broadcast(ctx context.Context, p models.Poll) (delivered, total int, err error) {
	members, err := s.roster.Members(ctx, p.Group)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "roster for %s", p.Group)
	}
	for _, m := range members {
		if err := s.notifier.SendPollPrompt(ctx, m.ID, p); err != nil {
			logging.Log.Warnf("POLL: could not deliver %s to %d: %v", p.ID, m.ID, err)
			continue
		}
		delivered++
	}
	logging.Log.Infof("POLL: %s delivered to %d of %d members", p.ID, delivered, len(members))
	return delivered, len(members), nil
}

// ScheduleClose arms the close relative to now and reports whether that
// worked. A poll whose close could not be scheduled simply stays open.
func (s *Service) ScheduleClose(ctx context.Context, pollID string, durationMinutes int) bool {
	runAt := s.now().Add(time.Duration(durationMinutes) * time.Minute)
	return s.scheduleAt(ctx, pollID, runAt)
}

func (s *Service) scheduleAt(ctx context.Context, pollID string, runAt time.Time) bool {
	if s.sched == nil {
		logging.Log.Warnf("POLL: no scheduler, %s will not close automatically", pollID)
		return false
	}
	if err := s.sched.ScheduleClose(ctx, pollID, runAt); err != nil {
		logging.Log.Errorf("POLL: schedule close for %s: %v", pollID, err)
		return false
	}
	return true
}

// Close is the scheduled callback. When the poll actually transitions, the
// creator gets the final summary.
func (s *Service) Close(ctx context.Context, pollID string) error {
	closed, err := s.polls.ClosePoll(ctx, pollID)
	if err != nil {
		return err
	}
	if !closed {
		logging.Log.Debugf("POLL: %s already closed or gone", pollID)
		return nil
	}
	logging.Log.Infof("POLL: %s closed automatically", pollID)

	p, summary, _, err := s.Summary(ctx, pollID)
	if err != nil {
		return err
	}
	if err := s.notifier.SendPollClosed(ctx, p.CreatorID, p, summary); err != nil {
		logging.Log.Warnf("POLL: could not send results of %s to %d: %v", pollID, p.CreatorID, err)
	}
	return nil
}

// Resume re-arms close timers for active polls after a restart. Overdue
// polls are closed straight away.
func (s *Service) Resume(ctx context.Context) (int, error) {
	active, err := s.polls.ActivePolls(ctx)
	if err != nil {
		return 0, err
	}
	now := s.now()
	n := 0
	for _, p := range active {
		runAt := p.EndsAt()
		if runAt.Before(now) {
			runAt = now
		}
		if s.scheduleAt(ctx, p.ID, runAt) {
			n++
		}
	}
	return n, nil
}

// Summary aggregates the poll against the current roster.
func (s *Service) Summary(ctx context.Context, pollID string) (models.Poll, models.Summary, []models.Member, error) {
	p, err := s.polls.GetPoll(ctx, pollID)
	if err != nil {
		return models.Poll{}, models.Summary{}, nil, err
	}
	members, err := s.roster.Members(ctx, p.Group)
	if err != nil {
		return models.Poll{}, models.Summary{}, nil, err
	}
	return p, Aggregate(p, members), members, nil
}

// Export renders the poll as CSV against the current roster.
func (s *Service) Export(ctx context.Context, pollID string) (models.Poll, []byte, error) {
	p, err := s.polls.GetPoll(ctx, pollID)
	if err != nil {
		return models.Poll{}, nil, err
	}
	members, err := s.roster.Members(ctx, p.Group)
	if err != nil {
		return models.Poll{}, nil, err
	}
	data, err := ExportCSV(p, members)
	return p, data, err
}

// LatestActive returns the group's current poll if it is still open.
func (s *Service) LatestActive(ctx context.Context, group string) (models.Poll, bool, error) {
	ps, err := s.polls.ListPolls(ctx, group, 1)
	if err != nil || len(ps) == 0 || !ps[0].IsActive() {
		return models.Poll{}, false, err
	}
	return ps[0], true, nil
}

package async

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nikitkaralius/curatorbot/internal/jobs"
	"github.com/nikitkaralius/curatorbot/internal/logging"
)

const closeTimeout = 30 * time.Second

// TimerScheduler closes polls and sends question reminders from in-process
// timers. Pending timers are lost on exit and have to be re-armed on startup.
type TimerScheduler struct {
	closer   jobs.PollCloser
	reminder jobs.QuestionReminder
	now      func() time.Time

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewTimerScheduler(closer jobs.PollCloser) *TimerScheduler {
	return &TimerScheduler{
		closer: closer,
		now:    time.Now,
		timers: map[string]*time.Timer{},
	}
}

// SetReminder sets who ScheduleReminder timers call. Without one reminders
// are dropped.
func (s *TimerScheduler) SetReminder(r jobs.QuestionReminder) {
	s.mu.Lock()
	s.reminder = r
	s.mu.Unlock()
}

// ScheduleClose arms a one-shot timer for pollID. Re-arming the same poll
// replaces the previous timer.
func (s *TimerScheduler) ScheduleClose(_ context.Context, pollID string, runAt time.Time) error {
	s.arm("close:"+pollID, runAt, func(ctx context.Context) error {
		return s.closer.Close(ctx, pollID)
	})
	return nil
}

// ScheduleReminder arms a reminder about a pending question. Reminders for
// the same question at different times coexist.
func (s *TimerScheduler) ScheduleReminder(_ context.Context, group string, questionID int, runAt time.Time) error {
	key := fmt.Sprintf("remind:%s_%d@%d", group, questionID, runAt.Unix())
	s.arm(key, runAt, func(ctx context.Context) error {
		s.mu.Lock()
		r := s.reminder
		s.mu.Unlock()
		if r == nil {
			return nil
		}
		return r.Remind(ctx, group, questionID)
	})
	return nil
}

func (s *TimerScheduler) arm(key string, runAt time.Time, run func(ctx context.Context) error) {
	d := runAt.Sub(s.now())
	if d < 0 {
		d = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[key]; ok {
		t.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() { s.fire(key, &t, run) })
	s.timers[key] = t
	logging.Log.Debugf("TIMER: %s in %s", key, d)
}

// fire reads t under mu since the timer may go off before arm has stored it.
func (s *TimerScheduler) fire(key string, t **time.Timer, run func(ctx context.Context) error) {
	s.mu.Lock()
	if s.timers[key] == *t {
		delete(s.timers, key)
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := run(ctx); err != nil {
		logging.Log.Errorf("TIMER: %s: %v", key, err)
	}
}

// Pending returns the number of armed timers.
func (s *TimerScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop disarms every timer. Runs already in progress are not interrupted.
func (s *TimerScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, t := range s.timers {
		t.Stop()
		delete(s.timers, key)
	}
}

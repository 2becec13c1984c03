package telegram

import "sync"

type waitKind int

const (
	waitNone waitKind = iota
	waitFullName
	waitPollDuration
	waitAnnouncement
	waitSchedule
	waitQuestion
	waitAnswer
	waitRename
)

// session is what the bot expects next from a user.
type session struct {
	Waiting    waitKind
	Group      string
	QuestionID int
	MemberID   int64
}

type sessions struct {
	mu sync.Mutex
	m  map[int64]session
}

func newSessions() *sessions {
	return &sessions{m: map[int64]session{}}
}

func (s *sessions) get(userID int64) session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[userID]
}

func (s *sessions) set(userID int64, sess session) {
	s.mu.Lock()
	s.m[userID] = sess
	s.mu.Unlock()
}

func (s *sessions) clear(userID int64) {
	s.mu.Lock()
	delete(s.m, userID)
	s.mu.Unlock()
}

// take returns and clears the session if it is waiting for kind.
func (s *sessions) take(userID int64, kind waitKind) (session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.m[userID]
	if !ok || sess.Waiting != kind {
		return session{}, false
	}
	delete(s.m, userID)
	return sess, true
}

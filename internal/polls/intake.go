package polls

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/nikitkaralius/curatorbot/internal/models"
)

// eligible returns the poll if memberID may still answer it.
func (s *Service) eligible(ctx context.Context, pollID string, memberID int64) (models.Poll, error) {
	p, err := s.polls.GetPoll(ctx, pollID)
	if err != nil {
		return models.Poll{}, err
	}
	if !p.IsActive() {
		return models.Poll{}, errors.Wrapf(ErrAlreadyClosed, "poll %s", pollID)
	}
	group, err := s.roster.GroupOf(ctx, memberID)
	if err != nil {
		return models.Poll{}, err
	}
	if group != p.Group {
		return models.Poll{}, errors.Wrapf(ErrNotMember, "member %d, poll %s", memberID, pollID)
	}
	if _, ok := p.Responses[memberID]; ok {
		return models.Poll{}, errors.Wrapf(ErrAlreadyResponded, "member %d, poll %s", memberID, pollID)
	}
	return p, nil
}

// SubmitPresent records a present answer straight away.
func (s *Service) SubmitPresent(ctx context.Context, pollID string, memberID int64) error {
	if _, err := s.eligible(ctx, pollID, memberID); err != nil {
		return err
	}
	s.clearPending(memberID)
	return s.polls.RecordResponse(ctx, pollID, memberID, models.Present, "")
}

// BeginAbsence puts the member in the "waiting for a reason" state. Nothing
// is recorded until SubmitAbsenceReason gets a non-empty reason.
func (s *Service) BeginAbsence(ctx context.Context, pollID string, memberID int64) error {
	if _, err := s.eligible(ctx, pollID, memberID); err != nil {
		return err
	}
	s.pendingMu.Lock()
	s.pending[memberID] = pollID
	s.pendingMu.Unlock()
	return nil
}

// PendingAbsence reports the poll a member owes an absence reason for.
func (s *Service) PendingAbsence(memberID int64) (string, bool) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	id, ok := s.pending[memberID]
	return id, ok
}

func (s *Service) clearPending(memberID int64) {
	s.pendingMu.Lock()
	delete(s.pending, memberID)
	s.pendingMu.Unlock()
}

// CancelAbsence drops a pending absence without recording anything.
func (s *Service) CancelAbsence(memberID int64) { s.clearPending(memberID) }

// SubmitAbsenceReason consumes a free-text reply. handled is false when the
// member owes no reason. An empty reason keeps the member pending.
func (s *Service) SubmitAbsenceReason(ctx context.Context, memberID int64, text string) (handled bool, err error) {
	pollID, ok := s.PendingAbsence(memberID)
	if !ok {
		return false, nil
	}
	reason := strings.TrimSpace(text)
	if reason == "" {
		return true, NewValidationError("reason", "must not be empty")
	}
	if _, err := s.eligible(ctx, pollID, memberID); err != nil {
		s.clearPending(memberID)
		return true, err
	}
	if err := s.polls.RecordResponse(ctx, pollID, memberID, models.Absent, reason); err != nil {
		s.clearPending(memberID)
		return true, err
	}
	s.clearPending(memberID)
	return true, nil
}

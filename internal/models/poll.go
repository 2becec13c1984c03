package models

import "time"

type PollStatus string

const (
	PollActive PollStatus = "active"
	PollClosed PollStatus = "closed"
)

type ResponseStatus string

const (
	Present ResponseStatus = "present"
	Absent  ResponseStatus = "absent"
)

// Poll is one attendance round for one group.
type Poll struct {
	ID              string             `json:"id"`
	Group           string             `json:"group"`
	CreatorID       int64              `json:"creator_id"`
	CreatedAt       time.Time          `json:"created_at"`
	DurationMinutes int                `json:"duration_minutes"`
	Status          PollStatus         `json:"status"`
	Responses       map[int64]Response `json:"responses"`
}

type Response struct {
	Status    ResponseStatus `json:"status"`
	Reason    string         `json:"reason"`
	Timestamp time.Time      `json:"timestamp"`
}

// EndsAt is when the poll is due to close if its timer was armed at creation.
func (p Poll) EndsAt() time.Time {
	return p.CreatedAt.Add(time.Duration(p.DurationMinutes) * time.Minute)
}

func (p Poll) IsActive() bool { return p.Status == PollActive }

// Summary aggregates a poll against a membership snapshot.
type Summary struct {
	Present      int `json:"present"`
	Absent       int `json:"absent"`
	NotResponded int `json:"not_responded"`
	Total        int `json:"total"`
}

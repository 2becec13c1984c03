package models

import "time"

type Group struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Faculty     string `json:"faculty"`
	Description string `json:"description"`
}

// Member is a registered participant of a group, student or curator.
type Member struct {
	ID       int64     `json:"id"`
	Username string    `json:"username"`
	FullName string    `json:"full_name"`
	Group    string    `json:"group"`
	JoinedAt time.Time `json:"joined_at"`

	LastScreen string `json:"last_screen,omitempty"`
}

// DisplayName prefers the full name and falls back to the handle.
func (m Member) DisplayName() string {
	if m.FullName != "" {
		return m.FullName
	}
	if m.Username != "" {
		return "@" + m.Username
	}
	return "Anonymous"
}

package models

import "time"

type MessageKind string

const (
	Announcement MessageKind = "announcement"
	Schedule     MessageKind = "schedule"
)

type Message struct {
	ID        string      `json:"id"`
	Group     string      `json:"group"`
	Kind      MessageKind `json:"kind"`
	Content   string      `json:"content"`
	SenderID  int64       `json:"sender_id"`
	FileID    string      `json:"file_id,omitempty"`
	MediaType string      `json:"media_type,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

type QuestionStatus string

const (
	QuestionPending  QuestionStatus = "pending"
	QuestionAnswered QuestionStatus = "answered"
)

type Question struct {
	ID         int            `json:"id"`
	Group      string         `json:"group"`
	UserID     int64          `json:"user_id"`
	Text       string         `json:"question"`
	Answer     string         `json:"answer,omitempty"`
	AnsweredBy int64          `json:"answered_by,omitempty"`
	Status     QuestionStatus `json:"status"`
	Timestamp  time.Time      `json:"timestamp"`
	AnsweredAt *time.Time     `json:"answered_at,omitempty"`
}

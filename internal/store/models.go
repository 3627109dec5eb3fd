package store

import "time"

// Event is a calendar entry owned by one user.
type Event struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Location  string    `json:"location,omitempty"`
	Attendees string    `json:"attendees,omitempty"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
}

// EventFilter narrows FindEvents. Zero fields match everything.
type EventFilter struct {
	ID    int64
	Title string
	From  time.Time
	To    time.Time
}

// Task is a one-off or recurring reminder.
type Task struct {
	ID              int64     `json:"id"`
	UserID          string    `json:"user_id"`
	Description     string    `json:"description"`
	IntervalSeconds int       `json:"interval_seconds"`
	Due             time.Time `json:"due,omitempty"`
	Status          string    `json:"status"`
}

// PlanRecord is the listing view of a persisted plan snapshot.
type PlanRecord struct {
	ID        string
	UserID    string
	Title     string
	Status    string
	UpdatedAt time.Time
}

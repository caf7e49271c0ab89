package store

import (
	"strings"
	"time"
)

// Objective status values. KeyResults additionally allow StatusCompleted;
// at the objective level "completed" is a read-time view of progress >= 100.
const (
	StatusOnTrack   = "onTrack"
	StatusAtRisk    = "atRisk"
	StatusOffTrack  = "offTrack"
	StatusCompleted = "completed"
)

// Measurement scales for key results.
const (
	ScalePercentage = "percentage"
	ScaleNumeric    = "numeric"
)

// Notification types.
const (
	NotificationMention  = "mention"
	NotificationOwner    = "owner"
	NotificationProgress = "progress"
	NotificationComment  = "comment"
)

type User struct {
	ID        string
	FirstName string
	LastName  string
	Email     string
	CreatedAt time.Time
}

// FullName is the "First Last" concatenation used for owner and mention matching.
func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// KeyResult is embedded in its parent objective; it has no independent lifecycle.
type KeyResult struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	Scale   string  `json:"scale,omitempty"`
	Current float64 `json:"current"`
	Target  float64 `json:"target"`
	Owner   string  `json:"owner,omitempty"`
	DueDate string  `json:"dueDate,omitempty"`
	Status  string  `json:"status,omitempty"`
}

type Objective struct {
	ID          string
	Title       string
	Description string
	Owners      []string
	CreatedBy   string
	DueDate     string
	Category    string
	Department  string
	Status      string
	Progress    int
	KeyResults  []KeyResult
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Owner is the legacy single-owner projection: always the first owner label.
func (o Objective) Owner() string {
	if len(o.Owners) == 0 {
		return ""
	}
	return o.Owners[0]
}

// Reply is embedded in its parent comment and not independently addressable.
type Reply struct {
	ID          string    `json:"id"`
	AuthorID    string    `json:"authorId"`
	AuthorName  string    `json:"authorName"`
	AuthorEmail string    `json:"authorEmail"`
	Message     string    `json:"message"`
	Mentions    []string  `json:"mentions,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Comment struct {
	ID          string
	ObjectiveID string
	AuthorID    string
	AuthorName  string
	AuthorEmail string
	Message     string
	Mentions    []string
	Replies     []Reply
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Notification struct {
	ID           string
	RecipientID  string
	Type         string
	Title        string
	Message      string
	ContextLabel string
	ContextID    string
	Read         bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

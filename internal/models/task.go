package models

import (
	"time"

	"github.com/google/uuid"
)

type TaskStatus string

const (
	TaskStatusOpen      TaskStatus = "open"
	TaskStatusClosed    TaskStatus = "closed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// CanTransitionTo reports whether a task may move from s to next.
// Closed and cancelled are terminal.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	switch s {
	case TaskStatusOpen:
		switch next {
		case TaskStatusClosed, TaskStatusCancelled:
			return true
		case TaskStatusOpen:
			return false
		}
	case TaskStatusClosed, TaskStatusCancelled:
		return false
	}
	return false
}

type Task struct {
	ID                 uuid.UUID     `json:"id"`
	BuyerID            uuid.UUID     `json:"buyer_id"`
	Title              string        `json:"title"`
	Detail             string        `json:"detail"`
	RequiredWorkers    int           `json:"required_workers"`
	RemainingSlots     int           `json:"remaining_slots"`
	PayableAmount      int64         `json:"payable_amount"`
	CompletionDeadline *time.Time    `json:"completion_deadline,omitempty"`
	SubmissionInfo     string        `json:"submission_info"`
	Status             TaskStatus    `json:"status"`
	Submissions        []*Submission `json:"submissions,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// Escrow is the coin amount still held for unfilled slots.
func (t *Task) Escrow() int64 {
	return int64(t.RemainingSlots) * t.PayableAmount
}

// PastDeadline reports whether now is at or after the completion deadline.
func (t *Task) PastDeadline(now time.Time) bool {
	return t.CompletionDeadline != nil && !now.Before(*t.CompletionDeadline)
}

package models

import (
	"time"

	"github.com/google/uuid"
)

type SubmissionStatus string

const (
	SubmissionPending  SubmissionStatus = "pending"
	SubmissionApproved SubmissionStatus = "approved"
	SubmissionRejected SubmissionStatus = "rejected"
)

// CanTransitionTo reports whether a submission may move from s to next.
// Reviews are one-shot: only pending submissions change.
func (s SubmissionStatus) CanTransitionTo(next SubmissionStatus) bool {
	switch s {
	case SubmissionPending:
		switch next {
		case SubmissionApproved, SubmissionRejected:
			return true
		case SubmissionPending:
			return false
		}
	case SubmissionApproved, SubmissionRejected:
		return false
	}
	return false
}

type Submission struct {
	ID         uuid.UUID        `json:"id"`
	TaskID     uuid.UUID        `json:"task_id"`
	WorkerID   uuid.UUID        `json:"worker_id"`
	BuyerID    uuid.UUID        `json:"buyer_id"`
	Content    string           `json:"content"`
	Status     SubmissionStatus `json:"status"`
	CreatedAt  time.Time        `json:"created_at"`
	ReviewedAt *time.Time       `json:"reviewed_at,omitempty"`
}

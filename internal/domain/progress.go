package domain

import (
	"slices"
	"time"
)

// ClaimDateLayout is the calendar date format used for streak bookkeeping (UTC).
const ClaimDateLayout = "2006-01-02"

// Streak tracks consecutive daily claims.
type Streak struct {
	CurrentStreak int    `json:"current_streak"`
	LongestStreak int    `json:"longest_streak"`
	LastClaimDate string `json:"last_claim_date,omitempty"`
	TotalClaims   int    `json:"total_claims"`
}

// UserProgress is a user's state in the current engagement cycle.
type UserProgress struct {
	UserID              int64     `json:"user_id"`
	CompletedLinkIDs    []string  `json:"completed_link_ids"`
	Purchased           bool      `json:"purchased"`
	PurchaseTxRef       string    `json:"purchase_tx_ref,omitempty"`
	SelectedTaskType    TaskType  `json:"selected_task_type,omitempty"`
	CurrentSubmissionID string    `json:"current_submission_id,omitempty"`
	Streak              Streak    `json:"streak"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// NewUserProgress returns the empty record created on first access.
func NewUserProgress(userID int64, now time.Time) UserProgress {
	return UserProgress{
		UserID:           userID,
		CompletedLinkIDs: []string{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// HasCompleted reports whether linkID is in the completed set.
func (p *UserProgress) HasCompleted(linkID string) bool {
	return slices.Contains(p.CompletedLinkIDs, linkID)
}

// CompletedCount is the number of distinct completed links.
func (p *UserProgress) CompletedCount() int {
	return len(p.CompletedLinkIDs)
}

// Clone returns a copy that shares no slices with p.
func (p UserProgress) Clone() UserProgress {
	p.CompletedLinkIDs = slices.Clone(p.CompletedLinkIDs)
	if p.CompletedLinkIDs == nil {
		p.CompletedLinkIDs = []string{}
	}
	return p
}

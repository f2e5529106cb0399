// Package progress stores per-user engagement progress: completed links,
// purchase state, task selection and the daily claim streak.
package progress

import (
	"context"
	"fmt"
	"time"

	infralogger "github.com/jonesrussell/north-cloud/likechat/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/likechat/internal/domain"
)

// Backend loads and persists one user's record. Update creates the record
// from init when absent, applies fn and persists when fn reports a change or
// the record was just created. Updates for the same user are serialized;
// different users never block each other.
type Backend interface {
	Update(ctx context.Context, userID int64, init domain.UserProgress, fn func(p *domain.UserProgress) bool) (domain.UserProgress, error)
	Delete(ctx context.Context, userID int64) error
}

// ClaimResult is the outcome of a daily claim. Claimed is false when the
// user already claimed today and the stored streak was returned unchanged.
type ClaimResult struct {
	Streak  domain.Streak `json:"streak"`
	Claimed bool          `json:"claimed"`
}

// Store implements the progress operations over a Backend.
type Store struct {
	backend Backend
	now     func() time.Time
	log     infralogger.Logger
}

// New creates a Store. now defaults to the UTC wall clock.
func New(backend Backend, now func() time.Time, log infralogger.Logger) *Store {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	if log == nil {
		log = infralogger.NewNop()
	}
	return &Store{backend: backend, now: now, log: log}
}

// Get returns the user's record, creating and persisting an empty one on
// first access.
func (s *Store) Get(ctx context.Context, userID int64) (domain.UserProgress, error) {
	p, err := s.update(ctx, userID, func(*domain.UserProgress) bool { return false })
	if err != nil {
		return domain.UserProgress{}, fmt.Errorf("get progress: %w", err)
	}
	return p, nil
}

// MarkCompleted adds linkID to the completed set. Repeats are no-ops.
func (s *Store) MarkCompleted(ctx context.Context, userID int64, linkID string) (domain.UserProgress, error) {
	p, err := s.update(ctx, userID, func(p *domain.UserProgress) bool {
		if p.HasCompleted(linkID) {
			return false
		}
		p.CompletedLinkIDs = append(p.CompletedLinkIDs, linkID)
		return true
	})
	if err != nil {
		return domain.UserProgress{}, fmt.Errorf("mark completed: %w", err)
	}
	return p, nil
}

// SetPurchased flags the purchase. The flag is never cleared and the first
// transaction reference is kept.
func (s *Store) SetPurchased(ctx context.Context, userID int64, txRef string) (domain.UserProgress, error) {
	p, err := s.update(ctx, userID, func(p *domain.UserProgress) bool {
		if p.Purchased {
			if p.PurchaseTxRef == "" && txRef != "" {
				p.PurchaseTxRef = txRef
				return true
			}
			return false
		}
		p.Purchased = true
		p.PurchaseTxRef = txRef
		return true
	})
	if err != nil {
		return domain.UserProgress{}, fmt.Errorf("set purchased: %w", err)
	}

	s.log.Info("Purchase recorded", infralogger.UserID(userID), infralogger.String("tx_ref", txRef))
	return p, nil
}

// SetSelectedTask records the task type the user is working on.
func (s *Store) SetSelectedTask(ctx context.Context, userID int64, t domain.TaskType) (domain.UserProgress, error) {
	if !t.Valid() {
		return domain.UserProgress{}, fmt.Errorf("%w: %q", domain.ErrInvalidTaskType, t)
	}

	p, err := s.update(ctx, userID, func(p *domain.UserProgress) bool {
		if p.SelectedTaskType == t {
			return false
		}
		p.SelectedTaskType = t
		return true
	})
	if err != nil {
		return domain.UserProgress{}, fmt.Errorf("set selected task: %w", err)
	}
	return p, nil
}

// SetCurrentSubmission records the id of the user's live queue record.
func (s *Store) SetCurrentSubmission(ctx context.Context, userID int64, linkID string) (domain.UserProgress, error) {
	p, err := s.update(ctx, userID, func(p *domain.UserProgress) bool {
		if p.CurrentSubmissionID == linkID {
			return false
		}
		p.CurrentSubmissionID = linkID
		return true
	})
	if err != nil {
		return domain.UserProgress{}, fmt.Errorf("set current submission: %w", err)
	}
	return p, nil
}

// RecordDailyClaim advances the streak for the calendar day of now.
func (s *Store) RecordDailyClaim(ctx context.Context, userID int64, now time.Time) (ClaimResult, error) {
	var claimed bool
	p, err := s.update(ctx, userID, func(p *domain.UserProgress) bool {
		p.Streak, claimed = NextStreak(p.Streak, now)
		return claimed
	})
	if err != nil {
		return ClaimResult{}, fmt.Errorf("record daily claim: %w", err)
	}

	if claimed {
		s.log.Info("Daily claim recorded",
			infralogger.UserID(userID),
			infralogger.Int("current_streak", p.Streak.CurrentStreak),
		)
	}
	return ClaimResult{Streak: p.Streak, Claimed: claimed}, nil
}

// Reset deletes the user's record. Resetting an unknown user is a no-op.
func (s *Store) Reset(ctx context.Context, userID int64) error {
	if err := s.backend.Delete(ctx, userID); err != nil {
		return fmt.Errorf("reset progress: %w", err)
	}
	s.log.Info("Progress reset", infralogger.UserID(userID))
	return nil
}

func (s *Store) update(ctx context.Context, userID int64, fn func(p *domain.UserProgress) bool) (domain.UserProgress, error) {
	now := s.now()
	return s.backend.Update(ctx, userID, domain.NewUserProgress(userID, now), func(p *domain.UserProgress) bool {
		if !fn(p) {
			return false
		}
		p.UpdatedAt = now
		return true
	})
}

// Package history keeps an audit trail of verifications, submissions and
// purchase outcomes in PostgreSQL.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/north-cloud/likechat/internal/domain"
)

// Kind classifies an audit entry.
type Kind string

const (
	KindVerification Kind = "verification"
	KindSubmission   Kind = "submission"
	KindPurchase     Kind = "purchase"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Entry is one row of the engagement_history table.
type Entry struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	Kind      Kind      `db:"kind"       json:"kind"`
	UserID    int64     `db:"user_id"    json:"user_id"`
	LinkID    string    `db:"link_id"    json:"link_id,omitempty"`
	TaskType  string    `db:"task_type"  json:"task_type,omitempty"`
	Outcome   string    `db:"outcome"    json:"outcome"`
	Strategy  string    `db:"strategy"   json:"strategy,omitempty"`
	Detail    string    `db:"detail"     json:"detail,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Filter narrows ListByUser.
type Filter struct {
	Kind   Kind
	Limit  int
	Offset int
}

// Repository reads and writes audit entries.
type Repository struct {
	db *sqlx.DB
}

// NewRepository creates a repository over db.
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// Record inserts e, assigning ID and CreatedAt when unset. A nil repository
// records nothing.
func (r *Repository) Record(ctx context.Context, e *Entry) error {
	if r == nil || r.db == nil {
		return nil
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO engagement_history (id, kind, user_id, link_id, task_type, outcome, strategy, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		e.ID, e.Kind, e.UserID, e.LinkID, e.TaskType, e.Outcome, e.Strategy, e.Detail, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: insert history: %w", domain.ErrStorageUnavailable, err)
	}

	return nil
}

// ListByUser returns a user's entries, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID int64, filter Filter) ([]Entry, error) {
	entries := []Entry{}
	if r == nil || r.db == nil {
		return entries, nil
	}

	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}

	query := `
		SELECT id, kind, user_id, link_id, task_type, outcome, strategy, detail, created_at
		FROM engagement_history
		WHERE user_id = $1
	`
	args := []any{userID}
	argPos := 2

	if filter.Kind != "" {
		query += fmt.Sprintf(" AND kind = $%d", argPos)
		args = append(args, filter.Kind)
		argPos++
	}

	query += " ORDER BY created_at DESC, id DESC"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, filter.Limit, filter.Offset)

	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("%w: list history: %w", domain.ErrStorageUnavailable, err)
	}

	return entries, nil
}

// CountByOutcome returns how many entries of kind a user has per outcome.
func (r *Repository) CountByOutcome(ctx context.Context, userID int64, kind Kind) (map[string]int, error) {
	counts := map[string]int{}
	if r == nil || r.db == nil {
		return counts, nil
	}

	rows := []struct {
		Outcome string `db:"outcome"`
		Total   int    `db:"total"`
	}{}

	query := `
		SELECT outcome, COUNT(*) AS total
		FROM engagement_history
		WHERE user_id = $1 AND kind = $2
		GROUP BY outcome
	`

	if err := r.db.SelectContext(ctx, &rows, query, userID, kind); err != nil {
		return nil, fmt.Errorf("%w: count history: %w", domain.ErrStorageUnavailable, err)
	}

	for _, row := range rows {
		counts[row.Outcome] = row.Total
	}
	return counts, nil
}

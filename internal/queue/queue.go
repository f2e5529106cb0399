// Package queue implements the bounded submission queue: a small ordered set
// of links with pinned slots and oldest-first eviction of unpinned entries.
package queue

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	infralogger "github.com/jonesrussell/north-cloud/likechat/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/likechat/internal/domain"
)

const (
	// DefaultCapacity bounds pinned plus unpinned records.
	DefaultCapacity = 5
	// DefaultListLimit caps ListByTaskType results.
	DefaultListLimit = 10
	// defaultPinTask is used when a pin creates a record without a task type.
	defaultPinTask = domain.TaskLike
)

// Backend persists the ordered record list. Update must apply fn atomically
// with respect to every other Update on the same backend.
type Backend interface {
	Load(ctx context.Context) ([]domain.LinkRecord, error)
	Update(ctx context.Context, fn func([]domain.LinkRecord) ([]domain.LinkRecord, error)) error
}

// Options configures a Queue.
type Options struct {
	Capacity  int
	ListLimit int
	// Now and NewID are replaced in tests.
	Now   func() time.Time
	NewID func() string
}

// Mutation is the result of a write: the stored record and anything evicted
// to make room.
type Mutation struct {
	Record  domain.LinkRecord   `json:"record"`
	Evicted []domain.LinkRecord `json:"evicted,omitempty"`
}

// PinRequest places a record in a fixed slot. Either ID or Target selects
// an existing record; with no match on Target a new record is created.
type PinRequest struct {
	ID          string
	Target      domain.TargetRef
	Slot        int
	TaskType    domain.TaskType
	SubmitterID int64
	DisplayName string
	AvatarURL   string
}

// Queue applies the ordering rules on top of a Backend.
type Queue struct {
	backend   Backend
	capacity  int
	listLimit int
	now       func() time.Time
	newID     func() string
	log       infralogger.Logger
}

// New creates a Queue. Capacity must be positive.
func New(backend Backend, opts Options, log infralogger.Logger) (*Queue, error) {
	if opts.Capacity <= 0 {
		return nil, fmt.Errorf("%w: queue capacity must be positive, got %d", domain.ErrInvalidConfig, opts.Capacity)
	}
	if opts.ListLimit <= 0 {
		opts.ListLimit = DefaultListLimit
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.NewID == nil {
		opts.NewID = newRecordID
	}
	if log == nil {
		log = infralogger.NewNop()
	}

	return &Queue{
		backend:   backend,
		capacity:  opts.Capacity,
		listLimit: opts.ListLimit,
		now:       opts.Now,
		newID:     opts.NewID,
		log:       log,
	}, nil
}

// newRecordID returns a UUIDv7 string, which sorts by creation time.
func newRecordID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Capacity returns the configured bound.
func (q *Queue) Capacity() int {
	return q.capacity
}

// Insert stores rec as the most recent unpinned record and evicts the
// oldest unpinned records beyond capacity.
func (q *Queue) Insert(ctx context.Context, rec domain.LinkRecord) (Mutation, error) {
	return q.insert(ctx, rec, false)
}

// InsertExclusive is Insert, refused with domain.ErrAlreadySubmitted when a
// record from the same submitter is still stored. The check and the insert
// are one atomic update.
func (q *Queue) InsertExclusive(ctx context.Context, rec domain.LinkRecord) (Mutation, error) {
	return q.insert(ctx, rec, true)
}

func (q *Queue) insert(ctx context.Context, rec domain.LinkRecord, exclusive bool) (Mutation, error) {
	if rec.Target.Empty() {
		return Mutation{}, domain.ErrInvalidTarget
	}
	if !rec.TaskType.Valid() {
		return Mutation{}, fmt.Errorf("%w: %q", domain.ErrInvalidTaskType, rec.TaskType)
	}

	var result Mutation
	err := q.backend.Update(ctx, func(records []domain.LinkRecord) ([]domain.LinkRecord, error) {
		if exclusive {
			if i := slices.IndexFunc(records, func(r domain.LinkRecord) bool { return r.SubmitterID == rec.SubmitterID }); i >= 0 {
				return nil, fmt.Errorf("link %s: %w", records[i].ID, domain.ErrAlreadySubmitted)
			}
		}

		stored := rec.Clone()
		stored.ID = q.newID()
		stored.CreatedAt = q.now()

		kept, evicted, insertErr := applyInsert(records, stored, q.capacity)
		if insertErr != nil {
			return nil, insertErr
		}
		result = Mutation{Record: stored, Evicted: evicted}
		return kept, nil
	})
	if err != nil {
		return Mutation{}, fmt.Errorf("insert link: %w", err)
	}

	q.logEvictions("insert", result.Evicted)
	return result, nil
}

// Pin places a record in req.Slot, converting an existing record for the
// same target in place and displacing whatever occupied the slot.
func (q *Queue) Pin(ctx context.Context, req PinRequest) (Mutation, error) {
	if req.Slot < 1 || req.Slot > q.capacity {
		return Mutation{}, fmt.Errorf("%w: slot %d not in [1,%d]", domain.ErrInvalidSlot, req.Slot, q.capacity)
	}
	if req.ID == "" && req.Target.Empty() {
		return Mutation{}, domain.ErrInvalidTarget
	}
	if req.TaskType != "" && !req.TaskType.Valid() {
		return Mutation{}, fmt.Errorf("%w: %q", domain.ErrInvalidTaskType, req.TaskType)
	}

	var result Mutation
	err := q.backend.Update(ctx, func(records []domain.LinkRecord) ([]domain.LinkRecord, error) {
		kept, pinned, evicted, pinErr := applyPin(records, req, q.capacity, q.now, q.newID)
		if pinErr != nil {
			return nil, pinErr
		}
		result = Mutation{Record: pinned, Evicted: evicted}
		return kept, nil
	})
	if err != nil {
		return Mutation{}, fmt.Errorf("pin link: %w", err)
	}

	q.log.Info("Pinned link",
		infralogger.LinkID(result.Record.ID),
		infralogger.Int("slot", req.Slot),
	)
	q.logEvictions("pin", result.Evicted)
	return result, nil
}

// ListByTaskType returns up to the list limit of records, newest first.
// An empty task type matches every record.
func (q *Queue) ListByTaskType(ctx context.Context, taskType domain.TaskType) ([]domain.LinkRecord, error) {
	records, err := q.backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	return filterRecent(records, taskType, q.listLimit), nil
}

// All returns every record in storage order: pinned by slot, then unpinned newest first.
func (q *Queue) All(ctx context.Context) ([]domain.LinkRecord, error) {
	records, err := q.backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load links: %w", err)
	}
	return records, nil
}

// Get returns the record with id.
func (q *Queue) Get(ctx context.Context, id string) (domain.LinkRecord, error) {
	records, err := q.backend.Load(ctx)
	if err != nil {
		return domain.LinkRecord{}, fmt.Errorf("get link: %w", err)
	}

	idx := slices.IndexFunc(records, func(r domain.LinkRecord) bool { return r.ID == id })
	if idx < 0 {
		return domain.LinkRecord{}, fmt.Errorf("link %s: %w", id, domain.ErrNotFound)
	}
	return records[idx], nil
}

// Remove deletes the record with id, pinned or not.
func (q *Queue) Remove(ctx context.Context, id string) error {
	err := q.backend.Update(ctx, func(records []domain.LinkRecord) ([]domain.LinkRecord, error) {
		idx := slices.IndexFunc(records, func(r domain.LinkRecord) bool { return r.ID == id })
		if idx < 0 {
			return nil, fmt.Errorf("link %s: %w", id, domain.ErrNotFound)
		}
		return slices.Delete(slices.Clone(records), idx, idx+1), nil
	})
	if err != nil {
		return fmt.Errorf("remove link: %w", err)
	}

	q.log.Info("Removed link", infralogger.LinkID(id))
	return nil
}

// MarkCompleted adds userID to the record's completion set. Repeated calls
// leave the record unchanged.
func (q *Queue) MarkCompleted(ctx context.Context, id string, userID int64) (domain.LinkRecord, error) {
	var updated domain.LinkRecord
	err := q.backend.Update(ctx, func(records []domain.LinkRecord) ([]domain.LinkRecord, error) {
		idx := slices.IndexFunc(records, func(r domain.LinkRecord) bool { return r.ID == id })
		if idx < 0 {
			return nil, fmt.Errorf("link %s: %w", id, domain.ErrNotFound)
		}

		next := cloneAll(records)
		next[idx].AddCompletion(userID)
		updated = next[idx]
		return next, nil
	})
	if err != nil {
		return domain.LinkRecord{}, fmt.Errorf("mark link completed: %w", err)
	}
	return updated, nil
}

func (q *Queue) logEvictions(op string, evicted []domain.LinkRecord) {
	for i := range evicted {
		q.log.Info("Evicted link from queue",
			infralogger.String("operation", op),
			infralogger.LinkID(evicted[i].ID),
			infralogger.Int64("submitter_id", evicted[i].SubmitterID),
			infralogger.Bool("was_pinned", evicted[i].Pinned),
		)
	}
}

package queue

import (
	"slices"
	"time"

	"github.com/jonesrussell/north-cloud/likechat/internal/domain"
)

// normalize orders records pinned-by-slot first, then unpinned newest first,
// and cuts the list at capacity. Anything cut is returned as evicted.
func normalize(records []domain.LinkRecord, capacity int) (kept, evicted []domain.LinkRecord) {
	pinned := make([]domain.LinkRecord, 0, len(records))
	unpinned := make([]domain.LinkRecord, 0, len(records))
	for _, r := range records {
		if r.Pinned {
			pinned = append(pinned, r)
		} else {
			unpinned = append(unpinned, r)
		}
	}

	slices.SortStableFunc(pinned, func(a, b domain.LinkRecord) int { return a.PinnedSlot - b.PinnedSlot })
	slices.SortStableFunc(unpinned, byRecency)

	kept = append(pinned, unpinned...)
	if len(kept) > capacity {
		evicted = slices.Clone(kept[capacity:])
		kept = kept[:capacity]
	}
	return kept, evicted
}

func byRecency(a, b domain.LinkRecord) int {
	switch {
	case a.NewerThan(&b):
		return -1
	case b.NewerThan(&a):
		return 1
	default:
		return 0
	}
}

// applyInsert adds an unpinned record. When every slot is pinned there is no
// room at all and the insert is refused rather than evicting the new record.
func applyInsert(records []domain.LinkRecord, rec domain.LinkRecord, capacity int) (kept, evicted []domain.LinkRecord, err error) {
	pinnedCount := 0
	for i := range records {
		if records[i].Pinned {
			pinnedCount++
		}
	}
	if pinnedCount >= capacity {
		return nil, nil, domain.ErrQueueFull
	}

	rec.Pinned = false
	rec.PinnedSlot = 0

	next := append(cloneAll(records), rec)
	kept, evicted = normalize(next, capacity)
	return kept, evicted, nil
}

// applyPin converts or creates the pinned record and removes the previous
// occupant of the slot.
func applyPin(
	records []domain.LinkRecord,
	req PinRequest,
	capacity int,
	now func() time.Time,
	newID func() string,
) (kept []domain.LinkRecord, pinned domain.LinkRecord, evicted []domain.LinkRecord, err error) {
	matchIdx := findPinTarget(records, req)
	if req.ID != "" && matchIdx < 0 {
		return nil, domain.LinkRecord{}, nil, domain.ErrNotFound
	}

	var displaced []domain.LinkRecord
	next := make([]domain.LinkRecord, 0, len(records)+1)
	for i, r := range records {
		switch {
		case i == matchIdx:
			// replaced below
		case r.Pinned && r.PinnedSlot == req.Slot:
			displaced = append(displaced, r.Clone())
		default:
			next = append(next, r.Clone())
		}
	}

	if matchIdx >= 0 {
		pinned = records[matchIdx].Clone()
		if req.DisplayName != "" {
			pinned.DisplayName = req.DisplayName
		}
		if req.AvatarURL != "" {
			pinned.AvatarURL = req.AvatarURL
		}
		if req.TaskType != "" {
			pinned.TaskType = req.TaskType
		}
	} else {
		taskType := req.TaskType
		if taskType == "" {
			taskType = defaultPinTask
		}
		pinned = domain.LinkRecord{
			ID:          newID(),
			SubmitterID: req.SubmitterID,
			DisplayName: req.DisplayName,
			AvatarURL:   req.AvatarURL,
			Target:      req.Target,
			TaskType:    taskType,
			CompletedBy: []int64{},
			CreatedAt:   now(),
		}
	}
	pinned.Pinned = true
	pinned.PinnedSlot = req.Slot

	kept, cut := normalize(append(next, pinned), capacity)
	return kept, pinned, append(displaced, cut...), nil
}

// findPinTarget locates the record a pin request refers to, or -1.
func findPinTarget(records []domain.LinkRecord, req PinRequest) int {
	if req.ID != "" {
		return slices.IndexFunc(records, func(r domain.LinkRecord) bool { return r.ID == req.ID })
	}
	return slices.IndexFunc(records, func(r domain.LinkRecord) bool { return r.Target.SameTarget(req.Target) })
}

// filterRecent returns up to limit records matching taskType, newest first.
func filterRecent(records []domain.LinkRecord, taskType domain.TaskType, limit int) []domain.LinkRecord {
	out := make([]domain.LinkRecord, 0, len(records))
	for _, r := range records {
		if taskType == "" || r.TaskType == taskType {
			out = append(out, r)
		}
	}
	slices.SortStableFunc(out, byRecency)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func cloneAll(records []domain.LinkRecord) []domain.LinkRecord {
	out := make([]domain.LinkRecord, len(records))
	for i := range records {
		out[i] = records[i].Clone()
	}
	return out
}

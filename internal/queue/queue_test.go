package queue_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	infralogger "github.com/jonesrussell/north-cloud/likechat/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/likechat/internal/domain"
	"github.com/jonesrussell/north-cloud/likechat/internal/queue"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

// sequence hands out increasing timestamps and ids, safe for concurrent use.
type sequence struct {
	n atomic.Int64
}

func (s *sequence) now() time.Time {
	return baseTime.Add(time.Duration(s.n.Add(1)) * time.Second)
}

func (s *sequence) id() string {
	return fmt.Sprintf("id-%04d", s.n.Add(1))
}

type backendFactory func(t *testing.T) queue.Backend

func backends() map[string]backendFactory {
	return map[string]backendFactory{
		"memory": func(t *testing.T) queue.Backend {
			t.Helper()
			return queue.NewMemoryBackend()
		},
		"redis": func(t *testing.T) queue.Backend {
			t.Helper()
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = client.Close() })
			return queue.NewRedisBackend(client, queue.NewKeys("test"))
		},
	}
}

func newQueue(t *testing.T, backend queue.Backend, capacity int) *queue.Queue {
	t.Helper()

	seq := &sequence{}
	q, err := queue.New(backend, queue.Options{
		Capacity: capacity,
		Now:      seq.now,
		NewID:    seq.id,
	}, infralogger.NewNop())
	require.NoError(t, err)
	return q
}

func link(name string, taskType domain.TaskType) domain.LinkRecord {
	return domain.LinkRecord{
		SubmitterID: int64(len(name)),
		DisplayName: name,
		Target:      domain.TargetRef{URL: "https://warpcast.com/" + name},
		TaskType:    taskType,
	}
}

func names(records []domain.LinkRecord) []string {
	out := make([]string, len(records))
	for i := range records {
		out[i] = records[i].DisplayName
	}
	return out
}

func forEachBackend(t *testing.T, fn func(t *testing.T, backend queue.Backend)) {
	t.Helper()
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

func TestNew_RejectsNonPositiveCapacity(t *testing.T) {
	for _, capacity := range []int{0, -1} {
		_, err := queue.New(queue.NewMemoryBackend(), queue.Options{Capacity: capacity}, nil)
		require.ErrorIs(t, err, domain.ErrInvalidConfig)
	}
}

func TestInsert_EvictsOldestUnpinned(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend queue.Backend) {
		ctx := context.Background()
		q := newQueue(t, backend, 5)

		var lastEvicted []domain.LinkRecord
		for _, n := range []string{"A", "B", "C", "D", "E", "F"} {
			m, err := q.Insert(ctx, link(n, domain.TaskLike))
			require.NoError(t, err)
			assert.NotEmpty(t, m.Record.ID)
			lastEvicted = m.Evicted
		}

		require.Len(t, lastEvicted, 1)
		assert.Equal(t, "A", lastEvicted[0].DisplayName)

		all, err := q.ListByTaskType(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, []string{"F", "E", "D", "C", "B"}, names(all))
	})
}

func TestInsert_PinnedSurviveCapacityPressure(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend queue.Backend) {
		ctx := context.Background()
		q := newQueue(t, backend, 5)

		pin, err := q.Pin(ctx, queue.PinRequest{Target: domain.TargetRef{TokenAddress: "0xabc"}, Slot: 2, DisplayName: "token"})
		require.NoError(t, err)

		for _, n := range []string{"A", "B", "C", "D", "E"} {
			_, insertErr := q.Insert(ctx, link(n, domain.TaskRecast))
			require.NoError(t, insertErr)
		}

		all, err := q.All(ctx)
		require.NoError(t, err)
		require.Len(t, all, 5)
		assert.Equal(t, pin.Record.ID, all[0].ID)
		assert.True(t, all[0].Pinned)

		unpinned := 0
		for _, r := range all {
			if !r.Pinned {
				unpinned++
			}
		}
		assert.Equal(t, 4, unpinned)
		assert.Equal(t, []string{"token", "E", "D", "C", "B"}, names(all))
	})
}

func TestPin_ConvertsExistingRecordInPlace(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend queue.Backend) {
		ctx := context.Background()
		q := newQueue(t, backend, 5)

		rec := link("A", domain.TaskLike)
		rec.Target = domain.TargetRef{TokenAddress: "0xABC"}
		inserted, err := q.Insert(ctx, rec)
		require.NoError(t, err)

		pinned, err := q.Pin(ctx, queue.PinRequest{Target: domain.TargetRef{TokenAddress: "0xabc"}, Slot: 1})
		require.NoError(t, err)
		assert.Equal(t, inserted.Record.ID, pinned.Record.ID)
		assert.Equal(t, "A", pinned.Record.DisplayName)

		all, err := q.All(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.True(t, all[0].Pinned)
		assert.Equal(t, 1, all[0].PinnedSlot)
	})
}

func TestPin_MatchesRecordByAnySharedField(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend queue.Backend) {
		ctx := context.Background()
		q := newQueue(t, backend, 5)

		rec := link("A", domain.TaskSupport)
		rec.Target = domain.TargetRef{URL: "https://x/post", TokenAddress: "0xABC"}
		inserted, err := q.Insert(ctx, rec)
		require.NoError(t, err)

		pinned, err := q.Pin(ctx, queue.PinRequest{Target: domain.TargetRef{URL: "https://x/post"}, Slot: 1})
		require.NoError(t, err)
		assert.Equal(t, inserted.Record.ID, pinned.Record.ID)

		all, err := q.All(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})
}

func TestInsertExclusive_OneRecordPerSubmitter(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend queue.Backend) {
		ctx := context.Background()
		q := newQueue(t, backend, 5)

		first := link("A", domain.TaskLike)
		first.SubmitterID = 9
		_, err := q.InsertExclusive(ctx, first)
		require.NoError(t, err)

		second := link("B", domain.TaskLike)
		second.SubmitterID = 9
		_, err = q.InsertExclusive(ctx, second)
		require.ErrorIs(t, err, domain.ErrAlreadySubmitted)

		other := link("C", domain.TaskLike)
		other.SubmitterID = 10
		_, err = q.InsertExclusive(ctx, other)
		require.NoError(t, err)

		all, err := q.All(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"A", "C"}, names(all))
	})
}

func TestPin_ByIDMovesBetweenSlots(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend queue.Backend) {
		ctx := context.Background()
		q := newQueue(t, backend, 5)

		first, err := q.Pin(ctx, queue.PinRequest{Target: domain.TargetRef{URL: "https://a"}, Slot: 3})
		require.NoError(t, err)

		moved, err := q.Pin(ctx, queue.PinRequest{ID: first.Record.ID, Slot: 1})
		require.NoError(t, err)
		assert.Equal(t, 1, moved.Record.PinnedSlot)
		assert.Empty(t, moved.Evicted)

		_, err = q.Pin(ctx, queue.PinRequest{ID: "missing", Slot: 1})
		require.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestPin_DisplacesOnlyPreviousOccupant(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend queue.Backend) {
		ctx := context.Background()
		q := newQueue(t, backend, 5)

		old, err := q.Pin(ctx, queue.PinRequest{Target: domain.TargetRef{URL: "https://old"}, Slot: 2, DisplayName: "old"})
		require.NoError(t, err)
		_, err = q.Pin(ctx, queue.PinRequest{Target: domain.TargetRef{URL: "https://keep"}, Slot: 3, DisplayName: "keep"})
		require.NoError(t, err)
		_, err = q.Insert(ctx, link("A", domain.TaskLike))
		require.NoError(t, err)

		next, err := q.Pin(ctx, queue.PinRequest{Target: domain.TargetRef{URL: "https://new"}, Slot: 2, DisplayName: "new"})
		require.NoError(t, err)
		require.Len(t, next.Evicted, 1)
		assert.Equal(t, old.Record.ID, next.Evicted[0].ID)

		all, err := q.All(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"new", "keep", "A"}, names(all))
	})
}

func TestPin_NewPinnedRecordTruncatesOldestUnpinned(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend queue.Backend) {
		ctx := context.Background()
		q := newQueue(t, backend, 3)

		for _, n := range []string{"A", "B", "C"} {
			_, err := q.Insert(ctx, link(n, domain.TaskLike))
			require.NoError(t, err)
		}

		m, err := q.Pin(ctx, queue.PinRequest{Target: domain.TargetRef{URL: "https://p"}, Slot: 1, DisplayName: "P"})
		require.NoError(t, err)
		require.Len(t, m.Evicted, 1)
		assert.Equal(t, "A", m.Evicted[0].DisplayName)

		all, err := q.All(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"P", "C", "B"}, names(all))
	})
}

func TestPin_RejectsSlotOutOfRange(t *testing.T) {
	q := newQueue(t, queue.NewMemoryBackend(), 5)
	for _, slot := range []int{0, 6} {
		_, err := q.Pin(context.Background(), queue.PinRequest{Target: domain.TargetRef{URL: "https://x"}, Slot: slot})
		require.ErrorIs(t, err, domain.ErrInvalidSlot)
	}
}

func TestInsert_RefusedWhenEverySlotPinned(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend queue.Backend) {
		ctx := context.Background()
		q := newQueue(t, backend, 2)

		for slot := 1; slot <= 2; slot++ {
			_, err := q.Pin(ctx, queue.PinRequest{Target: domain.TargetRef{URL: fmt.Sprintf("https://%d", slot)}, Slot: slot})
			require.NoError(t, err)
		}

		_, err := q.Insert(ctx, link("A", domain.TaskLike))
		require.ErrorIs(t, err, domain.ErrQueueFull)
	})
}

func TestInsert_AllowsDuplicateTargets(t *testing.T) {
	q := newQueue(t, queue.NewMemoryBackend(), 5)
	ctx := context.Background()

	a, err := q.Insert(ctx, link("A", domain.TaskLike))
	require.NoError(t, err)
	b, err := q.Insert(ctx, link("A", domain.TaskLike))
	require.NoError(t, err)

	assert.NotEqual(t, a.Record.ID, b.Record.ID)
}

func TestInsert_ValidatesInput(t *testing.T) {
	q := newQueue(t, queue.NewMemoryBackend(), 5)
	ctx := context.Background()

	_, err := q.Insert(ctx, domain.LinkRecord{TaskType: domain.TaskLike})
	require.ErrorIs(t, err, domain.ErrInvalidTarget)

	_, err = q.Insert(ctx, domain.LinkRecord{Target: domain.TargetRef{URL: "https://x"}, TaskType: "follow"})
	require.ErrorIs(t, err, domain.ErrInvalidTaskType)
}

func TestListByTaskType_StrictFilterAndLimit(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend queue.Backend) {
		ctx := context.Background()
		q := newQueue(t, backend, 20)

		for i := range 12 {
			_, err := q.Insert(ctx, link(fmt.Sprintf("L%02d", i), domain.TaskLike))
			require.NoError(t, err)
		}
		_, err := q.Insert(ctx, link("R", domain.TaskRecast))
		require.NoError(t, err)

		likes, err := q.ListByTaskType(ctx, domain.TaskLike)
		require.NoError(t, err)
		require.Len(t, likes, 10)
		assert.Equal(t, "L11", likes[0].DisplayName)
		for _, r := range likes {
			assert.Equal(t, domain.TaskLike, r.TaskType)
		}

		recasts, err := q.ListByTaskType(ctx, domain.TaskRecast)
		require.NoError(t, err)
		assert.Equal(t, []string{"R"}, names(recasts))

		comments, err := q.ListByTaskType(ctx, domain.TaskComment)
		require.NoError(t, err)
		assert.Empty(t, comments)
	})
}

func TestListByTaskType_SameTimestampTieBreaksOnID(t *testing.T) {
	ctx := context.Background()
	var n atomic.Int64
	q, err := queue.New(queue.NewMemoryBackend(), queue.Options{
		Capacity: 5,
		Now:      func() time.Time { return baseTime },
		NewID:    func() string { return fmt.Sprintf("id-%d", n.Add(1)) },
	}, nil)
	require.NoError(t, err)

	for _, name := range []string{"first", "second"} {
		_, insertErr := q.Insert(ctx, link(name, domain.TaskLike))
		require.NoError(t, insertErr)
	}

	all, err := q.ListByTaskType(ctx, domain.TaskLike)
	require.NoError(t, err)
	assert.Equal(t, []string{"second", "first"}, names(all))
}

func TestRemove(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend queue.Backend) {
		ctx := context.Background()
		q := newQueue(t, backend, 5)

		pinned, err := q.Pin(ctx, queue.PinRequest{Target: domain.TargetRef{URL: "https://p"}, Slot: 1})
		require.NoError(t, err)

		require.NoError(t, q.Remove(ctx, pinned.Record.ID))
		require.ErrorIs(t, q.Remove(ctx, pinned.Record.ID), domain.ErrNotFound)

		_, err = q.Get(ctx, pinned.Record.ID)
		require.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestMarkCompleted_IsIdempotent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend queue.Backend) {
		ctx := context.Background()
		q := newQueue(t, backend, 5)

		m, err := q.Insert(ctx, link("A", domain.TaskLike))
		require.NoError(t, err)

		for range 3 {
			_, err = q.MarkCompleted(ctx, m.Record.ID, 42)
			require.NoError(t, err)
		}

		got, err := q.Get(ctx, m.Record.ID)
		require.NoError(t, err)
		assert.Equal(t, []int64{42}, got.CompletedBy)

		_, err = q.MarkCompleted(ctx, "missing", 42)
		require.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestConcurrentInsertsRespectCapacity(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend queue.Backend) {
		ctx := context.Background()
		q := newQueue(t, backend, 5)

		_, err := q.Pin(ctx, queue.PinRequest{Target: domain.TargetRef{TokenAddress: "0xabc"}, Slot: 2})
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, insertErr := q.Insert(ctx, link(fmt.Sprintf("U%02d", i), domain.TaskLike))
				assert.NoError(t, insertErr)
			}()
		}
		wg.Wait()

		all, err := q.All(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 5)
		assert.True(t, all[0].Pinned)
	})
}

func TestRedisBackend_StorageFailureSurfaces(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	q := newQueue(t, queue.NewRedisBackend(client, queue.NewKeys("test")), 5)
	mr.Close()

	_, err := q.ListByTaskType(context.Background(), "")
	require.ErrorIs(t, err, domain.ErrStorageUnavailable)

	_, err = q.Insert(context.Background(), link("A", domain.TaskLike))
	require.ErrorIs(t, err, domain.ErrStorageUnavailable)
}

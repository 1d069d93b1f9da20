package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LIT-Protocol/morphomax/internal/types"
)

type finishCall struct {
	id        uuid.UUID
	nextRunAt *time.Time
}

type failCall struct {
	id        uuid.UUID
	reason    string
	nextRunAt *time.Time
	disable   bool
}

type fakeClaimStore struct {
	queue    []*types.ScheduledJob
	finishes []finishCall
	fails    []failCall
}

func (s *fakeClaimStore) ClaimDue(_ time.Duration) (*types.ScheduledJob, error) {
	if len(s.queue) == 0 {
		return nil, nil
	}
	job := s.queue[0]
	s.queue = s.queue[1:]
	return job, nil
}

func (s *fakeClaimStore) Finish(id uuid.UUID, nextRunAt *time.Time) error {
	s.finishes = append(s.finishes, finishCall{id: id, nextRunAt: nextRunAt})
	return nil
}

func (s *fakeClaimStore) Fail(id uuid.UUID, reason string, nextRunAt *time.Time, disable bool) error {
	s.fails = append(s.fails, failCall{id: id, reason: reason, nextRunAt: nextRunAt, disable: disable})
	return nil
}

type handlerFunc func(ctx context.Context, job *types.ScheduledJob) error

func (f handlerFunc) Run(ctx context.Context, job *types.ScheduledJob) error {
	return f(ctx, job)
}

type fatalTestError struct{ msg string }

func (e *fatalTestError) Error() string       { return e.msg }
func (e *fatalTestError) FatalJobError() bool { return true }

func newTestWorker(t *testing.T, store *fakeClaimStore, handler Handler) *Worker {
	t.Helper()
	worker, err := NewWorker(WorkerConfig{
		Store:        store,
		Handler:      handler,
		PollInterval: 10 * time.Millisecond,
		LockTimeout:  time.Minute,
		RetryDelay:   time.Hour,
	})
	require.NoError(t, err)
	return worker
}

func queuedJob() *types.ScheduledJob {
	now := time.Now().UTC()
	return &types.ScheduledJob{
		ID:             uuid.New(),
		PKPInfo:        types.PKPInfo{EthAddress: "0xabc", PublicKey: "0x04", TokenID: "1"},
		App:            types.AppData{ID: 821, Version: 27},
		RepeatInterval: "daily",
		NextRunAt:      &now,
	}
}

func TestWorkerReschedulesAfterSuccess(t *testing.T) {
	store := &fakeClaimStore{queue: []*types.ScheduledJob{queuedJob()}}
	worker := newTestWorker(t, store, handlerFunc(func(context.Context, *types.ScheduledJob) error {
		return nil
	}))

	worker.drain(context.Background())

	require.Len(t, store.finishes, 1)
	require.NotNil(t, store.finishes[0].nextRunAt)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), *store.finishes[0].nextRunAt, time.Minute)
	assert.Empty(t, store.fails)
}

func TestWorkerRetriesTransientFailure(t *testing.T) {
	job := queuedJob()
	store := &fakeClaimStore{queue: []*types.ScheduledJob{job}}
	worker := newTestWorker(t, store, handlerFunc(func(context.Context, *types.ScheduledJob) error {
		return errors.New("upstream flaked")
	}))

	worker.drain(context.Background())

	assert.Empty(t, store.finishes)
	require.Len(t, store.fails, 1)
	fail := store.fails[0]
	assert.Equal(t, job.ID, fail.id)
	assert.False(t, fail.disable)
	require.NotNil(t, fail.nextRunAt)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *fail.nextRunAt, time.Minute)
}

func TestWorkerDisablesJobOnFatalError(t *testing.T) {
	job := queuedJob()
	store := &fakeClaimStore{queue: []*types.ScheduledJob{job}}
	worker := newTestWorker(t, store, handlerFunc(func(context.Context, *types.ScheduledJob) error {
		return &fatalTestError{msg: "wallet permission has been revoked"}
	}))

	worker.drain(context.Background())

	require.Len(t, store.fails, 1)
	fail := store.fails[0]
	assert.True(t, fail.disable)
	assert.Nil(t, fail.nextRunAt, "a disabled job must not be rescheduled")
	assert.Equal(t, "wallet permission has been revoked", fail.reason)
}

func TestWorkerDetectsWrappedFatalErrors(t *testing.T) {
	store := &fakeClaimStore{queue: []*types.ScheduledJob{queuedJob()}}
	worker := newTestWorker(t, store, handlerFunc(func(context.Context, *types.ScheduledJob) error {
		inner := &fatalTestError{msg: "incompatible version"}
		return errors.Join(errors.New("run failed"), inner)
	}))

	worker.drain(context.Background())

	require.Len(t, store.fails, 1)
	assert.True(t, store.fails[0].disable)
}

func TestWorkerDrainsAllDueJobs(t *testing.T) {
	store := &fakeClaimStore{queue: []*types.ScheduledJob{queuedJob(), queuedJob(), queuedJob()}}
	ran := 0
	worker := newTestWorker(t, store, handlerFunc(func(context.Context, *types.ScheduledJob) error {
		ran++
		return nil
	}))

	worker.drain(context.Background())

	assert.Equal(t, 3, ran)
	assert.Len(t, store.finishes, 3)
}

func TestWorkerParksJobWithUnusableRecurrence(t *testing.T) {
	job := queuedJob()
	job.RepeatInterval = "whenever"
	store := &fakeClaimStore{queue: []*types.ScheduledJob{job}}
	worker := newTestWorker(t, store, handlerFunc(func(context.Context, *types.ScheduledJob) error {
		return nil
	}))

	worker.drain(context.Background())

	assert.Empty(t, store.finishes)
	require.Len(t, store.fails, 1)
	assert.True(t, store.fails[0].disable)
}

package state

import (
	"time"

	"github.com/google/uuid"

	"github.com/LIT-Protocol/morphomax/internal/types"
)

// JobStore and SwapStore are thin value types over the package-level store
// functions, so consumers can depend on small interfaces instead of this
// package's globals.

type JobStore struct{}

func (JobStore) FindByWallet(walletAddress string) (*types.ScheduledJob, error) {
	return FindJobByWallet(walletAddress)
}

func (JobStore) ListActive() ([]types.ScheduledJob, error) {
	return ListActiveJobs()
}

func (JobStore) Insert(job *types.ScheduledJob) error {
	return InsertJob(job)
}

func (JobStore) Save(job *types.ScheduledJob) error {
	return SaveJob(job)
}

func (JobStore) SaveVersion(id uuid.UUID, version int) error {
	return SaveJobVersion(id, version)
}

func (JobStore) ClaimDue(lockTimeout time.Duration) (*types.ScheduledJob, error) {
	return ClaimDueJob(lockTimeout)
}

func (JobStore) Finish(id uuid.UUID, nextRunAt *time.Time) error {
	return FinishJob(id, nextRunAt)
}

func (JobStore) Fail(id uuid.UUID, reason string, nextRunAt *time.Time, disable bool) error {
	return FailJob(id, reason, nextRunAt, disable)
}

type SwapStore struct{}

func (SwapStore) Insert(record *types.SwapRecord) error {
	return InsertSwapRecord(record)
}

func (SwapStore) ListByWallet(walletAddress string, limit, skip int) ([]types.SwapRecord, error) {
	return ListSwapRecordsByWallet(walletAddress, limit, skip)
}

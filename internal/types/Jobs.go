package types

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Error definitions for job data validation
var (
	ErrMissingWalletAddress = errors.New("wallet address is required")
	ErrMissingPublicKey     = errors.New("PKP public key is required")
	ErrMissingTokenID       = errors.New("PKP token ID is required")
	ErrInvalidAppID         = errors.New("app ID must be positive")
	ErrMissingSchedule      = errors.New("either a repeat interval or a schedule expression is required")
)

// PKPInfo identifies the delegated wallet a schedule acts on behalf of.
type PKPInfo struct {
	EthAddress string `json:"ethAddress"`
	PublicKey  string `json:"publicKey"`
	TokenID    string `json:"tokenId"`
}

// Validate checks that all identity fields are present.
func (p PKPInfo) Validate() error {
	if p.EthAddress == "" {
		return ErrMissingWalletAddress
	}
	if p.PublicKey == "" {
		return ErrMissingPublicKey
	}
	if p.TokenID == "" {
		return ErrMissingTokenID
	}
	return nil
}

// AppData is the permission-grant binding a job was authorized under.
// Version may lag the user's current live grant and is reconciled on every run.
type AppData struct {
	ID      uint64 `json:"id"`
	Version int    `json:"version"`
}

// ScheduledJob is the durable representation of one wallet's recurring
// yield optimization. At most one job exists per wallet address; cancellation
// disables the job rather than deleting it.
type ScheduledJob struct {
	ID      uuid.UUID `json:"id"`
	PKPInfo PKPInfo   `json:"pkpInfo"`
	App     AppData   `json:"app"`

	Disabled bool `json:"disabled"`

	// RepeatInterval is a recurrence keyword or duration ("daily", "weekly",
	// "monthly", "72h"). ScheduleExpr is a cron expression alternative.
	// Exactly one of the two is set.
	RepeatInterval string `json:"repeatInterval,omitempty"`
	ScheduleExpr   string `json:"scheduleExpr,omitempty"`

	NextRunAt      *time.Time `json:"nextRunAt,omitempty"`
	LastRunAt      *time.Time `json:"lastRunAt,omitempty"`
	LastFinishedAt *time.Time `json:"lastFinishedAt,omitempty"`
	FailedAt       *time.Time `json:"failedAt,omitempty"`
	FailReason     string     `json:"failReason,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate checks the job invariants before persistence.
func (j *ScheduledJob) Validate() error {
	if err := j.PKPInfo.Validate(); err != nil {
		return err
	}
	if j.App.ID == 0 {
		return ErrInvalidAppID
	}
	if j.RepeatInterval == "" && j.ScheduleExpr == "" {
		return ErrMissingSchedule
	}
	return nil
}

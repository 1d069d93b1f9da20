package types

import (
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
)

// OperationStatus is the discriminant tag on per-operation results. Downstream
// code branches on it, so results are never collapsed to a bare error value.
type OperationStatus string

const (
	OperationSuccess OperationStatus = "success"
	OperationError   OperationStatus = "error"
)

var (
	ErrInvalidOperationStatus = errors.New("operation result has an invalid status tag")
	ErrMalformedResult        = errors.New("operation result fields do not match its status tag")
)

// ApprovalResult is the tagged outcome of a token approval.
// On success Transaction may be empty when the current allowance already
// covered the amount and no transaction was sent.
type ApprovalResult struct {
	Status         OperationStatus `json:"status"`
	Amount         string          `json:"amount"`
	TokenAddress   string          `json:"tokenAddress"`
	SpenderAddress string          `json:"spenderAddress,omitempty"`
	Transaction    string          `json:"transaction,omitempty"`
	Userop         string          `json:"userop,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// Validate structurally checks the variant against its discriminant. Used at
// the persistence boundary when records are read back.
func (r ApprovalResult) Validate() error {
	switch r.Status {
	case OperationSuccess:
		if r.Error != "" {
			return fmt.Errorf("%w: success approval carries an error", ErrMalformedResult)
		}
	case OperationError:
		if r.Error == "" {
			return fmt.Errorf("%w: error approval is missing its reason", ErrMalformedResult)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidOperationStatus, r.Status)
	}
	return nil
}

// VaultOpResult is the tagged outcome of a deposit or redeem against a single
// vault. Amount is in the unit the executing ability version reports.
type VaultOpResult struct {
	Status       OperationStatus `json:"status"`
	Amount       string          `json:"amount"`
	VaultAddress string          `json:"vaultAddress"`
	Transaction  string          `json:"transaction,omitempty"`
	Userop       string          `json:"userop,omitempty"`
	Error        string          `json:"error,omitempty"`
}

func (r VaultOpResult) Validate() error {
	switch r.Status {
	case OperationSuccess:
		if r.Transaction == "" {
			return fmt.Errorf("%w: success result for vault %s is missing a transaction hash", ErrMalformedResult, r.VaultAddress)
		}
	case OperationError:
		if r.Error == "" {
			return fmt.Errorf("%w: error result for vault %s is missing its reason", ErrMalformedResult, r.VaultAddress)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidOperationStatus, r.Status)
	}
	return nil
}

// DepositAttempt pairs an approval with the deposit it gates. Deposit is nil
// when the approval failed: the deposit was never attempted, its failure is
// implied by the approval's.
type DepositAttempt struct {
	Approval ApprovalResult `json:"approval"`
	Deposit  *VaultOpResult `json:"deposit,omitempty"`
}

func (d DepositAttempt) Validate() error {
	if err := d.Approval.Validate(); err != nil {
		return err
	}
	if d.Approval.Status == OperationSuccess && d.Deposit == nil {
		return fmt.Errorf("%w: successful approval without a deposit result", ErrMalformedResult)
	}
	if d.Deposit != nil {
		return d.Deposit.Validate()
	}
	return nil
}

// TokenBalance is a wallet's balance of one ERC20 token.
type TokenBalance struct {
	Address  string      `json:"address"`
	Balance  sdkmath.Int `json:"balance"`
	Decimals int         `json:"decimals"`
}

// UserVaultPosition is a wallet's holding in one vault: raw shares plus the
// asset-equivalent value computed from the vault's totals. Recomputed on every
// oracle query, never persisted as live state.
type UserVaultPosition struct {
	Address string      `json:"address"`
	Shares  sdkmath.Int `json:"shares"`
	Assets  sdkmath.Int `json:"assets"`
}

// SwapRecord is the append-only audit entry written once per orchestration
// run. It is immutable once saved; Success reflects that the orchestration ran
// to completion, per-operation outcomes live in the tagged results.
type SwapRecord struct {
	ID         uuid.UUID `json:"id"`
	ScheduleID uuid.UUID `json:"scheduleId"`
	PKPInfo    PKPInfo   `json:"pkpInfo"`

	Deposits []DepositAttempt `json:"deposits"`
	Redeems  []VaultOpResult  `json:"redeems"`

	TopVault           *MorphoVaultInfo    `json:"topVault,omitempty"`
	UserVaultPositions []UserVaultPosition `json:"userVaultPositions"`
	UserTokenBalances  []TokenBalance      `json:"userTokenBalances"`

	Success   bool      `json:"success"`
	CreatedAt time.Time `json:"createdAt"`
}

// Validate checks every tagged sub-result against its discriminant.
func (s *SwapRecord) Validate() error {
	for _, d := range s.Deposits {
		if err := d.Validate(); err != nil {
			return err
		}
	}
	for _, r := range s.Redeems {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	return nil
}

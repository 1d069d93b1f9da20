/*
This file manages the lifecycle of scheduled jobs: creation with a one per
wallet guarantee, idempotent cancellation with final liquidation, and the read
side the API serves (schedules with live balances, swap history).
*/

package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/LIT-Protocol/morphomax/internal/logger"
	"github.com/LIT-Protocol/morphomax/internal/types"
)

// JobStore is the durable schedule storage the manager and optimizer need.
type JobStore interface {
	FindByWallet(walletAddress string) (*types.ScheduledJob, error)
	ListActive() ([]types.ScheduledJob, error)
	Insert(job *types.ScheduledJob) error
	Save(job *types.ScheduledJob) error
	SaveVersion(id uuid.UUID, version int) error
}

// SwapStore is the append-only audit storage.
type SwapStore interface {
	Insert(record *types.SwapRecord) error
	ListByWallet(walletAddress string, limit, skip int) ([]types.SwapRecord, error)
}

// PositionOracle answers live balance and position queries.
type PositionOracle interface {
	GetUserPositions(ctx context.Context, userAddress string) ([]types.UserVaultPosition, error)
	GetERC20Balance(ctx context.Context, tokenAddress, holder string) (types.TokenBalance, error)
}

// VaultRanker lists indexed vaults and their yields.
type VaultRanker interface {
	ListVaults(ctx context.Context, assetAddress string, chainID uint64) ([]types.MorphoVaultInfo, error)
	GetTopVault(ctx context.Context, assetAddress string, chainID uint64) (*types.MorphoVaultInfo, error)
}

// PermissionOracle reads the wallet's live app version grant.
type PermissionOracle interface {
	GetPermittedVersion(ctx context.Context, pkpTokenID string) (int, error)
}

// VaultExecutor performs versioned vault operations for a wallet.
type VaultExecutor interface {
	DepositVault(ctx context.Context, pkp types.PKPInfo, version int, vaultAddress, tokenAddress string, amount sdkmath.Int, decimals int) (types.DepositAttempt, error)
	RedeemVaults(ctx context.Context, pkp types.PKPInfo, version int, positions []types.UserVaultPosition) ([]types.VaultOpResult, error)
}

// ManagerConfig holds the manager's dependencies.
type ManagerConfig struct {
	JobStore    JobStore
	SwapStore   SwapStore
	Oracle      PositionOracle
	Ranker      VaultRanker
	Permissions PermissionOracle
	Executor    VaultExecutor

	AppID         uint64
	USDCAddress   string
	ChainID       uint64
	DefaultRepeat string
}

func (c ManagerConfig) validate() error {
	if c.JobStore == nil {
		return errors.New("job store cannot be nil")
	}
	if c.SwapStore == nil {
		return errors.New("swap store cannot be nil")
	}
	if c.Oracle == nil {
		return errors.New("position oracle cannot be nil")
	}
	if c.Ranker == nil {
		return errors.New("vault ranker cannot be nil")
	}
	if c.Permissions == nil {
		return errors.New("permission oracle cannot be nil")
	}
	if c.Executor == nil {
		return errors.New("vault executor cannot be nil")
	}
	if c.AppID == 0 {
		return errors.New("app ID cannot be zero")
	}
	if c.USDCAddress == "" {
		return errors.New("USDC address cannot be empty")
	}
	return nil
}

// Manager owns schedule lifecycle and the API read paths.
type Manager struct {
	cfg    ManagerConfig
	logger zerolog.Logger
}

// NewManager creates a job manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid manager config: %w", err)
	}
	if cfg.DefaultRepeat == "" {
		cfg.DefaultRepeat = "weekly"
	}
	return &Manager{
		cfg:    cfg,
		logger: logger.GetForComponent("job_manager"),
	}, nil
}

// CreateJob schedules recurring optimization for a wallet. Each wallet owns at
// most one schedule: creating again while one exists, cancelled or not, reuses
// the existing row, rebinds it to the wallet's current permission, and queues
// an immediate run.
func (m *Manager) CreateJob(ctx context.Context, pkp types.PKPInfo, repeatInterval, scheduleExpr string) (*types.ScheduledJob, error) {
	if err := pkp.Validate(); err != nil {
		return nil, err
	}

	permitted, err := m.cfg.Permissions.GetPermittedVersion(ctx, pkp.TokenID)
	if err != nil {
		return nil, fmt.Errorf("failed to check wallet permission: %w", err)
	}
	version, err := ResolveRunVersion(permitted, permitted)
	if err != nil {
		return nil, err
	}

	if repeatInterval == "" && scheduleExpr == "" {
		repeatInterval = m.cfg.DefaultRepeat
	}

	now := time.Now().UTC()
	existing, err := m.cfg.JobStore.FindByWallet(pkp.EthAddress)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		existing.PKPInfo = pkp
		existing.App = types.AppData{ID: m.cfg.AppID, Version: version}
		existing.Disabled = false
		existing.RepeatInterval = repeatInterval
		existing.ScheduleExpr = scheduleExpr
		existing.NextRunAt = &now
		existing.FailedAt = nil
		existing.FailReason = ""
		if err := m.cfg.JobStore.Save(existing); err != nil {
			return nil, err
		}
		m.logger.Info().
			Str("job_id", existing.ID.String()).
			Str("wallet", pkp.EthAddress).
			Int("version", version).
			Msg("Existing schedule reactivated")
		return existing, nil
	}

	job := &types.ScheduledJob{
		ID:             uuid.New(),
		PKPInfo:        pkp,
		App:            types.AppData{ID: m.cfg.AppID, Version: version},
		RepeatInterval: repeatInterval,
		ScheduleExpr:   scheduleExpr,
		NextRunAt:      &now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := m.cfg.JobStore.Insert(job); err != nil {
		return nil, err
	}

	m.logger.Info().
		Str("job_id", job.ID.String()).
		Str("wallet", pkp.EthAddress).
		Int("version", version).
		Str("repeat", repeatInterval).
		Msg("Schedule created")
	return job, nil
}

// CancelJob disables a wallet's schedule and liquidates every remaining vault
// position back to the deposit asset. Cancelling a wallet with no schedule is
// not an error; cancellation is idempotent. Whenever a schedule was found, the
// cancellation is recorded as a final swap record capturing the positions and
// balance at cancel time, even when nothing was held. Returns the disabled job
// and the record; both are nil only for an unknown wallet.
func (m *Manager) CancelJob(ctx context.Context, walletAddress string) (*types.ScheduledJob, *types.SwapRecord, error) {
	job, err := m.cfg.JobStore.FindByWallet(walletAddress)
	if err != nil {
		return nil, nil, err
	}
	if job == nil {
		m.logger.Debug().Str("wallet", walletAddress).Msg("Cancel requested for unknown wallet, nothing to do")
		return nil, nil, nil
	}

	if !job.Disabled {
		job.Disabled = true
		job.NextRunAt = nil
		if err := m.cfg.JobStore.Save(job); err != nil {
			return nil, nil, err
		}
		m.logger.Info().
			Str("job_id", job.ID.String()).
			Str("wallet", walletAddress).
			Msg("Schedule cancelled")
	}

	positions, err := m.cfg.Oracle.GetUserPositions(ctx, walletAddress)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read positions for final liquidation: %w", err)
	}
	balance, err := m.cfg.Oracle.GetERC20Balance(ctx, m.cfg.USDCAddress, walletAddress)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read balance for final liquidation: %w", err)
	}

	redeems := []types.VaultOpResult{}
	if len(positions) > 0 {
		permitted, err := m.cfg.Permissions.GetPermittedVersion(ctx, job.PKPInfo.TokenID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to check wallet permission for final liquidation: %w", err)
		}
		version, err := ResolveRunVersion(job.App.Version, permitted)
		if err != nil {
			// Without a usable permission the funds stay where they are; the
			// schedule is already disabled.
			m.logger.Warn().
				Err(err).
				Str("wallet", walletAddress).
				Msg("Cannot liquidate positions on cancel")
			return nil, nil, err
		}

		redeems, err = m.cfg.Executor.RedeemVaults(ctx, job.PKPInfo, version, positions)
		if err != nil {
			return nil, nil, err
		}
	}

	record := &types.SwapRecord{
		ID:                 uuid.New(),
		ScheduleID:         job.ID,
		PKPInfo:            job.PKPInfo,
		Redeems:            redeems,
		Deposits:           []types.DepositAttempt{},
		UserVaultPositions: positions,
		UserTokenBalances:  []types.TokenBalance{balance},
		Success:            true,
		CreatedAt:          time.Now().UTC(),
	}
	if err := m.cfg.SwapStore.Insert(record); err != nil {
		return nil, nil, err
	}
	return job, record, nil
}

// ScheduleView is a schedule joined with the wallet's live holdings: assets
// still sitting idle and assets invested across vaults, both in base units.
type ScheduleView struct {
	Job        types.ScheduledJob        `json:"schedule"`
	Invested   sdkmath.Int               `json:"invested"`
	Uninvested sdkmath.Int               `json:"uninvested"`
	Decimals   int                       `json:"decimals"`
	Positions  []types.UserVaultPosition `json:"positions"`
}

func (m *Manager) buildView(ctx context.Context, job types.ScheduledJob) (ScheduleView, error) {
	positions, err := m.cfg.Oracle.GetUserPositions(ctx, job.PKPInfo.EthAddress)
	if err != nil {
		return ScheduleView{}, fmt.Errorf("failed to read positions for %s: %w", job.PKPInfo.EthAddress, err)
	}
	balance, err := m.cfg.Oracle.GetERC20Balance(ctx, m.cfg.USDCAddress, job.PKPInfo.EthAddress)
	if err != nil {
		return ScheduleView{}, fmt.Errorf("failed to read balance for %s: %w", job.PKPInfo.EthAddress, err)
	}

	invested := sdkmath.ZeroInt()
	for _, p := range positions {
		invested = invested.Add(p.Assets)
	}
	return ScheduleView{
		Job:        job,
		Invested:   invested,
		Uninvested: balance.Balance,
		Decimals:   balance.Decimals,
		Positions:  positions,
	}, nil
}

// GetScheduleByWallet returns the wallet's schedule with live balances.
func (m *Manager) GetScheduleByWallet(ctx context.Context, walletAddress string) (ScheduleView, error) {
	job, err := m.cfg.JobStore.FindByWallet(walletAddress)
	if err != nil {
		return ScheduleView{}, err
	}
	if job == nil {
		return ScheduleView{}, ErrNotFound
	}
	return m.buildView(ctx, *job)
}

// ListScheduleBalances returns every active schedule with live balances.
// Failures reading one wallet skip that wallet rather than failing the
// listing.
func (m *Manager) ListScheduleBalances(ctx context.Context) ([]ScheduleView, error) {
	active, err := m.cfg.JobStore.ListActive()
	if err != nil {
		return nil, err
	}

	views := make([]ScheduleView, 0, len(active))
	for _, job := range active {
		view, err := m.buildView(ctx, job)
		if err != nil {
			m.logger.Error().
				Err(err).
				Str("wallet", job.PKPInfo.EthAddress).
				Msg("Skipping schedule in balance listing")
			continue
		}
		views = append(views, view)
	}
	return views, nil
}

// GetSwapHistory returns the wallet's audit entries newest first. A wallet
// with no recorded swaps yields ErrNotFound.
func (m *Manager) GetSwapHistory(walletAddress string, limit, skip int) ([]types.SwapRecord, error) {
	records, err := m.cfg.SwapStore.ListByWallet(walletAddress, limit, skip)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNotFound
	}
	return records, nil
}

// GetTopStrategy returns the current best whitelisted vault for the deposit
// asset.
func (m *Manager) GetTopStrategy(ctx context.Context) (*types.MorphoVaultInfo, error) {
	return m.cfg.Ranker.GetTopVault(ctx, m.cfg.USDCAddress, m.cfg.ChainID)
}

/*
This file is the per-run rebalance orchestration. Each run reconciles the
wallet's permitted app version, exits positions whose yield the current top
vault beats by the configured margin, and redeploys the idle balance into the
top vault. Whatever happens is written to the audit trail as one swap record.
*/

package jobs

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/LIT-Protocol/morphomax/internal/logger"
	"github.com/LIT-Protocol/morphomax/internal/types"
)

var ErrNoTopVault = errors.New("no rankable vault available for the deposit asset")

// OptimizerConfig holds the optimizer's dependencies and decision thresholds.
type OptimizerConfig struct {
	JobStore    JobStore
	SwapStore   SwapStore
	Oracle      PositionOracle
	Ranker      VaultRanker
	Permissions PermissionOracle
	Executor    VaultExecutor

	USDCAddress string
	ChainID     uint64

	// MinimumBalance is in display units; a wallet holding no more than this
	// after redeems skips the deposit phase.
	MinimumBalance int64
	// MinimumYieldImprovementPercent is in percentage points of net APY.
	MinimumYieldImprovementPercent float64
}

func (c OptimizerConfig) validate() error {
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
	if c.USDCAddress == "" {
		return errors.New("USDC address cannot be empty")
	}
	if c.MinimumBalance < 0 {
		return errors.New("minimum balance cannot be negative")
	}
	if c.MinimumYieldImprovementPercent < 0 {
		return errors.New("minimum yield improvement cannot be negative")
	}
	return nil
}

// Optimizer runs one wallet's yield rotation.
type Optimizer struct {
	cfg OptimizerConfig
}

// NewOptimizer creates an optimizer.
func NewOptimizer(cfg OptimizerConfig) (*Optimizer, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid optimizer config: %w", err)
	}
	return &Optimizer{cfg: cfg}, nil
}

// runState is everything the decision phase needs, fetched up front.
type runState struct {
	permittedVersion int
	positions        []types.UserVaultPosition
	vaults           []types.MorphoVaultInfo
	balance          types.TokenBalance
}

func (o *Optimizer) fetchState(ctx context.Context, job *types.ScheduledJob) (*runState, error) {
	var st runState
	wallet := job.PKPInfo.EthAddress

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		version, err := o.cfg.Permissions.GetPermittedVersion(gctx, job.PKPInfo.TokenID)
		if err != nil {
			return fmt.Errorf("failed to read permitted version: %w", err)
		}
		st.permittedVersion = version
		return nil
	})
	g.Go(func() error {
		positions, err := o.cfg.Oracle.GetUserPositions(gctx, wallet)
		if err != nil {
			return fmt.Errorf("failed to read vault positions: %w", err)
		}
		st.positions = positions
		return nil
	})
	g.Go(func() error {
		vaults, err := o.cfg.Ranker.ListVaults(gctx, o.cfg.USDCAddress, o.cfg.ChainID)
		if err != nil {
			return fmt.Errorf("failed to list vaults: %w", err)
		}
		st.vaults = vaults
		return nil
	})
	g.Go(func() error {
		balance, err := o.cfg.Oracle.GetERC20Balance(gctx, o.cfg.USDCAddress, wallet)
		if err != nil {
			return fmt.Errorf("failed to read token balance: %w", err)
		}
		st.balance = balance
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &st, nil
}

// topVault picks the whitelisted vault with the highest known net APY.
func topVault(vaults []types.MorphoVaultInfo) *types.MorphoVaultInfo {
	var top *types.MorphoVaultInfo
	for i := range vaults {
		v := &vaults[i]
		if !v.Whitelisted || v.State == nil {
			continue
		}
		if top == nil || v.State.NetApy > top.State.NetApy {
			top = v
		}
	}
	return top
}

// selectExits picks the held positions to rotate out. A position stays only
// when it already sits in the top vault, or when the top vault's net APY does
// not beat its own by at least the configured margin. A held vault the indexer
// has no yield data for is treated as yielding worse than anything and always
// exits.
func selectExits(
	positions []types.UserVaultPosition,
	vaults []types.MorphoVaultInfo,
	top *types.MorphoVaultInfo,
	minImprovementPercent float64,
	runLogger zerolog.Logger,
) []types.UserVaultPosition {
	yields := make(map[string]float64, len(vaults))
	for _, v := range vaults {
		if v.State == nil {
			yields[strings.ToLower(v.Address)] = math.Inf(-1)
			continue
		}
		yields[strings.ToLower(v.Address)] = v.State.NetApy
	}

	exits := make([]types.UserVaultPosition, 0, len(positions))
	for _, position := range positions {
		held := strings.ToLower(position.Address)
		if held == strings.ToLower(top.Address) {
			continue
		}

		heldApy, known := yields[held]
		if !known {
			heldApy = math.Inf(-1)
		}

		improvement := (top.State.NetApy - heldApy) * 100
		if improvement < minImprovementPercent {
			runLogger.Debug().
				Str("vault", position.Address).
				Float64("heldNetApy", heldApy).
				Float64("improvementPct", improvement).
				Msg("Holding position, improvement below threshold")
			continue
		}

		runLogger.Info().
			Str("vault", position.Address).
			Float64("heldNetApy", heldApy).
			Float64("topNetApy", top.State.NetApy).
			Msg("Position selected for exit")
		exits = append(exits, position)
	}
	return exits
}

// Run executes one rotation for the job. Fatal errors (revoked permission,
// unsupported version) are returned wrapped so the scheduler disables the job;
// transient errors leave it eligible for retry.
func (o *Optimizer) Run(ctx context.Context, job *types.ScheduledJob) error {
	runLogger := logger.GetForComponent("optimizer").With().
		Str("run_id", uuid.New().String()).
		Str("job_id", job.ID.String()).
		Str("wallet", job.PKPInfo.EthAddress).
		Logger()

	st, err := o.fetchState(ctx, job)
	if err != nil {
		return err
	}

	version, err := ResolveRunVersion(job.App.Version, st.permittedVersion)
	if err != nil {
		return err
	}
	if version != job.App.Version {
		// Persist the rebind before touching the chain so a crash mid-run
		// cannot leave operations attributed to the stale version.
		if err := o.cfg.JobStore.SaveVersion(job.ID, version); err != nil {
			return fmt.Errorf("failed to persist reconciled version: %w", err)
		}
		runLogger.Info().
			Int("from", job.App.Version).
			Int("to", version).
			Msg("Job rebound to the wallet's current app version")
		job.App.Version = version
	}

	top := topVault(st.vaults)
	if top == nil {
		return ErrNoTopVault
	}
	runLogger.Info().
		Str("topVault", top.Address).
		Float64("netApy", top.State.NetApy).
		Int("positions", len(st.positions)).
		Msg("Run state fetched")

	exits := selectExits(st.positions, st.vaults, top, o.cfg.MinimumYieldImprovementPercent, runLogger)

	redeems := []types.VaultOpResult{}
	if len(exits) > 0 {
		redeems, err = o.cfg.Executor.RedeemVaults(ctx, job.PKPInfo, version, exits)
		if err != nil {
			return err
		}
	}

	// Redeems change the idle balance; re-read before deciding on the deposit.
	balance := st.balance
	if len(redeems) > 0 {
		balance, err = o.cfg.Oracle.GetERC20Balance(ctx, o.cfg.USDCAddress, job.PKPInfo.EthAddress)
		if err != nil {
			return fmt.Errorf("failed to re-read balance after redeems: %w", err)
		}
	}

	deposits := []types.DepositAttempt{}
	minBase := sdkmath.NewIntWithDecimal(o.cfg.MinimumBalance, balance.Decimals)
	if balance.Balance.GT(minBase) {
		attempt, err := o.cfg.Executor.DepositVault(
			ctx, job.PKPInfo, version,
			top.Address, o.cfg.USDCAddress,
			balance.Balance, balance.Decimals,
		)
		if err != nil {
			return err
		}
		deposits = append(deposits, attempt)
	} else {
		runLogger.Info().
			Str("balance", balance.Balance.String()).
			Int64("minimum", o.cfg.MinimumBalance).
			Msg("Balance at or below minimum, skipping deposit")
	}

	// The record captures the state the decisions were made on: the positions
	// held going into the run and the balance the deposit phase saw.
	record := &types.SwapRecord{
		ID:                 uuid.New(),
		ScheduleID:         job.ID,
		PKPInfo:            job.PKPInfo,
		Deposits:           deposits,
		Redeems:            redeems,
		TopVault:           top,
		UserVaultPositions: st.positions,
		UserTokenBalances:  []types.TokenBalance{balance},
		Success:            true,
		CreatedAt:          time.Now().UTC(),
	}
	if err := o.cfg.SwapStore.Insert(record); err != nil {
		return fmt.Errorf("rotation ran but recording it failed: %w", err)
	}

	runLogger.Info().
		Str("record_id", record.ID.String()).
		Int("redeems", len(redeems)).
		Int("deposits", len(deposits)).
		Msg("Rotation complete")
	return nil
}

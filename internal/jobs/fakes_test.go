package jobs

import (
	"context"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"

	"github.com/LIT-Protocol/morphomax/internal/types"
)

type fakeJobStore struct {
	jobs          map[string]*types.ScheduledJob
	savedVersions []int
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: make(map[string]*types.ScheduledJob)}
}

func (s *fakeJobStore) FindByWallet(wallet string) (*types.ScheduledJob, error) {
	job, ok := s.jobs[wallet]
	if !ok {
		return nil, nil
	}
	copied := *job
	return &copied, nil
}

func (s *fakeJobStore) ListActive() ([]types.ScheduledJob, error) {
	var active []types.ScheduledJob
	for _, job := range s.jobs {
		if !job.Disabled {
			active = append(active, *job)
		}
	}
	return active, nil
}

func (s *fakeJobStore) Insert(job *types.ScheduledJob) error {
	if _, exists := s.jobs[job.PKPInfo.EthAddress]; exists {
		return fmt.Errorf("duplicate job for wallet %s", job.PKPInfo.EthAddress)
	}
	copied := *job
	s.jobs[job.PKPInfo.EthAddress] = &copied
	return nil
}

func (s *fakeJobStore) Save(job *types.ScheduledJob) error {
	copied := *job
	s.jobs[job.PKPInfo.EthAddress] = &copied
	return nil
}

func (s *fakeJobStore) SaveVersion(id uuid.UUID, version int) error {
	for _, job := range s.jobs {
		if job.ID == id {
			job.App.Version = version
			s.savedVersions = append(s.savedVersions, version)
			return nil
		}
	}
	return fmt.Errorf("job %s not found", id)
}

type fakeSwapStore struct {
	records []types.SwapRecord
}

func (s *fakeSwapStore) Insert(record *types.SwapRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	s.records = append(s.records, *record)
	return nil
}

func (s *fakeSwapStore) ListByWallet(wallet string, limit, skip int) ([]types.SwapRecord, error) {
	var out []types.SwapRecord
	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i].PKPInfo.EthAddress == wallet {
			out = append(out, s.records[i])
		}
	}
	if skip < len(out) {
		out = out[skip:]
	} else {
		out = nil
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// fakeOracle serves scripted positions and a balance queue, so a test can make
// the idle balance grow after redeems land.
type fakeOracle struct {
	positions    [][]types.UserVaultPosition
	balances     []types.TokenBalance
	positionIdx  int
	balanceIdx   int
	positionErrs error
}

func (o *fakeOracle) GetUserPositions(_ context.Context, _ string) ([]types.UserVaultPosition, error) {
	if o.positionErrs != nil {
		return nil, o.positionErrs
	}
	if len(o.positions) == 0 {
		return nil, nil
	}
	idx := o.positionIdx
	if idx >= len(o.positions) {
		idx = len(o.positions) - 1
	}
	o.positionIdx++
	return o.positions[idx], nil
}

func (o *fakeOracle) GetERC20Balance(_ context.Context, token, _ string) (types.TokenBalance, error) {
	if len(o.balances) == 0 {
		return types.TokenBalance{Address: token, Balance: sdkmath.ZeroInt(), Decimals: 6}, nil
	}
	idx := o.balanceIdx
	if idx >= len(o.balances) {
		idx = len(o.balances) - 1
	}
	o.balanceIdx++
	return o.balances[idx], nil
}

type fakeRanker struct {
	vaults []types.MorphoVaultInfo
}

func (r *fakeRanker) ListVaults(_ context.Context, _ string, _ uint64) ([]types.MorphoVaultInfo, error) {
	return r.vaults, nil
}

func (r *fakeRanker) GetTopVault(_ context.Context, _ string, _ uint64) (*types.MorphoVaultInfo, error) {
	var top *types.MorphoVaultInfo
	for i := range r.vaults {
		v := &r.vaults[i]
		if !v.Whitelisted || v.State == nil {
			continue
		}
		if top == nil || v.State.NetApy > top.State.NetApy {
			top = v
		}
	}
	if top == nil {
		return nil, ErrNoTopVault
	}
	return top, nil
}

type fakePermissions struct {
	version int
	err     error
}

func (p *fakePermissions) GetPermittedVersion(_ context.Context, _ string) (int, error) {
	return p.version, p.err
}

type executedRedeem struct {
	version int
	vaults  []string
}

type executedDeposit struct {
	version int
	vault   string
	amount  sdkmath.Int
}

type fakeExecutor struct {
	redeems  []executedRedeem
	deposits []executedDeposit

	failRedeemVault string
	failDeposit     bool
}

func (e *fakeExecutor) RedeemVaults(_ context.Context, _ types.PKPInfo, version int, positions []types.UserVaultPosition) ([]types.VaultOpResult, error) {
	call := executedRedeem{version: version}
	results := make([]types.VaultOpResult, 0, len(positions))
	for _, p := range positions {
		call.vaults = append(call.vaults, p.Address)
		result := types.VaultOpResult{
			Status:       types.OperationSuccess,
			Amount:       p.Shares.String(),
			VaultAddress: p.Address,
			Transaction:  "0xtx-" + p.Address,
		}
		if p.Address == e.failRedeemVault {
			result = types.VaultOpResult{
				Status:       types.OperationError,
				Amount:       p.Shares.String(),
				VaultAddress: p.Address,
				Error:        "simulated redeem failure",
			}
		}
		results = append(results, result)
	}
	e.redeems = append(e.redeems, call)
	return results, nil
}

func (e *fakeExecutor) DepositVault(_ context.Context, _ types.PKPInfo, version int, vault, token string, amount sdkmath.Int, _ int) (types.DepositAttempt, error) {
	e.deposits = append(e.deposits, executedDeposit{version: version, vault: vault, amount: amount})
	approval := types.ApprovalResult{
		Status:         types.OperationSuccess,
		Amount:         amount.String(),
		TokenAddress:   token,
		SpenderAddress: vault,
		Transaction:    "0xapprove",
	}
	if e.failDeposit {
		return types.DepositAttempt{
			Approval: approval,
			Deposit: &types.VaultOpResult{
				Status:       types.OperationError,
				Amount:       amount.String(),
				VaultAddress: vault,
				Error:        "simulated deposit failure",
			},
		}, nil
	}
	return types.DepositAttempt{
		Approval: approval,
		Deposit: &types.VaultOpResult{
			Status:       types.OperationSuccess,
			Amount:       amount.String(),
			VaultAddress: vault,
			Transaction:  "0xdeposit",
		},
	}, nil
}

func testPKP() types.PKPInfo {
	return types.PKPInfo{
		EthAddress: "0x1111111111111111111111111111111111111111",
		PublicKey:  "0x04deadbeef",
		TokenID:    "42",
	}
}

func testJob(version int) *types.ScheduledJob {
	now := time.Now().UTC()
	return &types.ScheduledJob{
		ID:             uuid.New(),
		PKPInfo:        testPKP(),
		App:            types.AppData{ID: 821, Version: version},
		RepeatInterval: "weekly",
		NextRunAt:      &now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func vaultInfo(address string, netApy float64, whitelisted bool) types.MorphoVaultInfo {
	return types.MorphoVaultInfo{
		Address:     address,
		Name:        "Vault " + address,
		Symbol:      "vTEST",
		Whitelisted: whitelisted,
		Asset:       types.VaultAsset{Address: "0xusdc", Decimals: 6, Symbol: "USDC"},
		State:       &types.VaultState{NetApy: netApy, Apy: netApy},
	}
}

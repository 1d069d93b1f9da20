package jobs

import (
	"context"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LIT-Protocol/morphomax/internal/types"
)

func newTestManager(t *testing.T, store *fakeJobStore, swaps *fakeSwapStore, oracle *fakeOracle, perms *fakePermissions, exec *fakeExecutor) *Manager {
	t.Helper()
	manager, err := NewManager(ManagerConfig{
		JobStore:    store,
		SwapStore:   swaps,
		Oracle:      oracle,
		Ranker:      &fakeRanker{vaults: []types.MorphoVaultInfo{vaultInfo("0xtop", 0.10, true)}},
		Permissions: perms,
		Executor:    exec,
		AppID:       821,
		USDCAddress: "0xusdc",
		ChainID:     8453,
	})
	require.NoError(t, err)
	return manager
}

func TestCreateJobNewWallet(t *testing.T) {
	store := newFakeJobStore()
	manager := newTestManager(t, store, &fakeSwapStore{}, &fakeOracle{}, &fakePermissions{version: 27}, &fakeExecutor{})

	job, err := manager.CreateJob(context.Background(), testPKP(), "daily", "")
	require.NoError(t, err)

	assert.Equal(t, uint64(821), job.App.ID)
	assert.Equal(t, 27, job.App.Version)
	assert.Equal(t, "daily", job.RepeatInterval)
	assert.False(t, job.Disabled)
	require.NotNil(t, job.NextRunAt, "a new schedule must queue an immediate run")

	stored, err := store.FindByWallet(testPKP().EthAddress)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, job.ID, stored.ID)
}

func TestCreateJobReusesExistingSchedule(t *testing.T) {
	store := newFakeJobStore()
	manager := newTestManager(t, store, &fakeSwapStore{}, &fakeOracle{}, &fakePermissions{version: 6}, &fakeExecutor{})

	first, err := manager.CreateJob(context.Background(), testPKP(), "weekly", "")
	require.NoError(t, err)

	// Cancel, then schedule again: the row is reused, not duplicated.
	_, _, err = manager.CancelJob(context.Background(), testPKP().EthAddress)
	require.NoError(t, err)

	second, err := manager.CreateJob(context.Background(), testPKP(), "monthly", "")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "one wallet owns one schedule row forever")
	assert.False(t, second.Disabled)
	assert.Equal(t, "monthly", second.RepeatInterval)
	require.NotNil(t, second.NextRunAt, "reactivation must queue an immediate run")
	assert.Equal(t, 1, len(store.jobs))
}

func TestCreateJobRejectsUnpermittedWallet(t *testing.T) {
	manager := newTestManager(t, newFakeJobStore(), &fakeSwapStore{}, &fakeOracle{}, &fakePermissions{version: 0}, &fakeExecutor{})

	_, err := manager.CreateJob(context.Background(), testPKP(), "daily", "")
	assert.ErrorIs(t, err, ErrPermissionRevoked)
}

func TestCreateJobValidatesWalletIdentity(t *testing.T) {
	manager := newTestManager(t, newFakeJobStore(), &fakeSwapStore{}, &fakeOracle{}, &fakePermissions{version: 6}, &fakeExecutor{})

	_, err := manager.CreateJob(context.Background(), types.PKPInfo{PublicKey: "0x04", TokenID: "1"}, "daily", "")
	assert.ErrorIs(t, err, types.ErrMissingWalletAddress)
}

func TestCancelJobUnknownWalletIsNotAnError(t *testing.T) {
	swaps := &fakeSwapStore{}
	manager := newTestManager(t, newFakeJobStore(), swaps, &fakeOracle{}, &fakePermissions{version: 6}, &fakeExecutor{})

	job, record, err := manager.CancelJob(context.Background(), "0x9999999999999999999999999999999999999999")
	require.NoError(t, err)
	assert.Nil(t, job)
	assert.Nil(t, record)
	assert.Empty(t, swaps.records, "an unknown wallet leaves no audit entry")
}

func TestCancelJobLiquidatesPositions(t *testing.T) {
	store := newFakeJobStore()
	swaps := &fakeSwapStore{}
	oracle := &fakeOracle{
		positions: [][]types.UserVaultPosition{
			{{Address: "0xaaa", Shares: sdkmath.NewInt(100), Assets: sdkmath.NewInt(500_000000)}},
			{}, // after liquidation
		},
		balances: []types.TokenBalance{
			{Address: "0xusdc", Balance: sdkmath.NewInt(1_000000), Decimals: 6},
			{Address: "0xusdc", Balance: sdkmath.NewInt(501_000000), Decimals: 6},
		},
	}
	exec := &fakeExecutor{}
	manager := newTestManager(t, store, swaps, oracle, &fakePermissions{version: 27}, exec)

	job, err := manager.CreateJob(context.Background(), testPKP(), "daily", "")
	require.NoError(t, err)

	cancelled, record, err := manager.CancelJob(context.Background(), testPKP().EthAddress)
	require.NoError(t, err)

	require.NotNil(t, cancelled)
	assert.True(t, cancelled.Disabled)
	stored, err := store.FindByWallet(testPKP().EthAddress)
	require.NoError(t, err)
	assert.True(t, stored.Disabled)

	require.NotNil(t, record)
	assert.Equal(t, job.ID, record.ScheduleID)
	require.Len(t, record.Redeems, 1)
	assert.Equal(t, "0xaaa", record.Redeems[0].VaultAddress)
	assert.Empty(t, record.Deposits)
	assert.True(t, record.Success)
	require.Len(t, exec.redeems, 1)

	// The record captures the holdings and balance going into the liquidation.
	require.Len(t, record.UserVaultPositions, 1)
	assert.Equal(t, "0xaaa", record.UserVaultPositions[0].Address)
	require.Len(t, record.UserTokenBalances, 1)
	assert.Equal(t, "1000000", record.UserTokenBalances[0].Balance.String())

	// Cancelling again still finds the schedule and records the (empty)
	// liquidation.
	again, againRecord, err := manager.CancelJob(context.Background(), testPKP().EthAddress)
	require.NoError(t, err)
	require.NotNil(t, again)
	require.NotNil(t, againRecord)
	assert.Empty(t, againRecord.Redeems)
	assert.Len(t, swaps.records, 2)
	require.Len(t, exec.redeems, 1, "nothing held means nothing to redeem")
}

func TestCancelJobWithoutPositionsStillWritesRecord(t *testing.T) {
	store := newFakeJobStore()
	swaps := &fakeSwapStore{}
	oracle := &fakeOracle{
		balances: []types.TokenBalance{
			{Address: "0xusdc", Balance: sdkmath.NewInt(3_000000), Decimals: 6},
		},
	}
	exec := &fakeExecutor{}
	manager := newTestManager(t, store, swaps, oracle, &fakePermissions{version: 27}, exec)

	job, err := manager.CreateJob(context.Background(), testPKP(), "daily", "")
	require.NoError(t, err)

	cancelled, record, err := manager.CancelJob(context.Background(), testPKP().EthAddress)
	require.NoError(t, err)

	require.NotNil(t, cancelled)
	assert.True(t, cancelled.Disabled)

	// A found schedule always leaves a final audit entry, even with nothing
	// held: the API can tell "cancelled, nothing to liquidate" apart from
	// "no such schedule".
	require.NotNil(t, record)
	assert.Equal(t, job.ID, record.ScheduleID)
	assert.Empty(t, record.Redeems)
	assert.Empty(t, record.Deposits)
	require.Len(t, record.UserTokenBalances, 1)
	assert.Equal(t, "3000000", record.UserTokenBalances[0].Balance.String())
	assert.Len(t, swaps.records, 1)
	assert.Empty(t, exec.redeems)
}

func TestGetSwapHistoryEmptyIsNotFound(t *testing.T) {
	manager := newTestManager(t, newFakeJobStore(), &fakeSwapStore{}, &fakeOracle{}, &fakePermissions{version: 6}, &fakeExecutor{})

	_, err := manager.GetSwapHistory(testPKP().EthAddress, 20, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetScheduleByWalletNotFound(t *testing.T) {
	manager := newTestManager(t, newFakeJobStore(), &fakeSwapStore{}, &fakeOracle{}, &fakePermissions{version: 6}, &fakeExecutor{})

	_, err := manager.GetScheduleByWallet(context.Background(), testPKP().EthAddress)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetScheduleByWalletReportsLiveBalances(t *testing.T) {
	store := newFakeJobStore()
	oracle := &fakeOracle{
		positions: [][]types.UserVaultPosition{{
			{Address: "0xaaa", Shares: sdkmath.NewInt(10), Assets: sdkmath.NewInt(300_000000)},
			{Address: "0xbbb", Shares: sdkmath.NewInt(20), Assets: sdkmath.NewInt(200_000000)},
		}},
		balances: []types.TokenBalance{
			{Address: "0xusdc", Balance: sdkmath.NewInt(50_000000), Decimals: 6},
		},
	}
	manager := newTestManager(t, store, &fakeSwapStore{}, oracle, &fakePermissions{version: 6}, &fakeExecutor{})

	_, err := manager.CreateJob(context.Background(), testPKP(), "daily", "")
	require.NoError(t, err)

	view, err := manager.GetScheduleByWallet(context.Background(), testPKP().EthAddress)
	require.NoError(t, err)
	assert.Equal(t, "500000000", view.Invested.String())
	assert.Equal(t, "50000000", view.Uninvested.String())
	assert.Len(t, view.Positions, 2)
}

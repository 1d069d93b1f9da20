/*
The balance monitor tracks which vaults exist for a deposit asset and answers
live position queries for a wallet. Vaults are discovered by replaying factory
creation events, then kept current by periodic incremental log polling.
Position reads are batched through Multicall3 so a wallet's holdings across
every known vault cost one round trip per chunk.
*/

package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/LIT-Protocol/morphomax/internal/chain"
	"github.com/LIT-Protocol/morphomax/internal/logger"
	"github.com/LIT-Protocol/morphomax/internal/types"
)

var (
	ErrNotStarted      = errors.New("balance monitor is not started")
	ErrDiscoveryFailed = errors.New("vault discovery failed")
)

const (
	// Three calls per vault (balanceOf, totalAssets, totalSupply); cap at 200
	// vaults per multicall to stay under RPC payload limits.
	callsPerVault    = 3
	maxCallsPerBatch = 600

	refreshInterval = 5 * time.Minute
)

// Config holds the dependencies and chain addresses for a BalanceMonitor.
type Config struct {
	Client           *chain.Client
	DepositAsset     string
	MulticallAddress string
	Factories        []string
	FromBlock        uint64
}

// BalanceMonitor is the balance/position oracle for one deposit asset.
type BalanceMonitor struct {
	client           *chain.Client
	depositAsset     string
	multicallAddress string
	factories        []string
	fromBlock        uint64
	logger           zerolog.Logger

	mu        sync.Mutex
	started   bool
	vaults    map[string]struct{}
	nextBlock uint64
	stop      chan struct{}
}

// NewBalanceMonitor creates a monitor. Discovery does not begin until Start
// is called (GetUserPositions starts it implicitly).
func NewBalanceMonitor(cfg Config) (*BalanceMonitor, error) {
	if cfg.Client == nil {
		return nil, errors.New("chain client cannot be nil")
	}
	if cfg.DepositAsset == "" {
		return nil, errors.New("deposit asset cannot be empty")
	}
	if cfg.MulticallAddress == "" {
		return nil, errors.New("multicall address cannot be empty")
	}
	if len(cfg.Factories) == 0 {
		return nil, errors.New("at least one vault factory is required")
	}

	return &BalanceMonitor{
		client:           cfg.Client,
		depositAsset:     cfg.DepositAsset,
		multicallAddress: cfg.MulticallAddress,
		factories:        cfg.Factories,
		fromBlock:        cfg.FromBlock,
		logger:           logger.GetForComponent("balance_monitor"),
		vaults:           make(map[string]struct{}),
	}, nil
}

// Start performs the initial vault discovery and begins incremental polling
// for newly created vaults. Safe to call multiple times; subsequent calls are
// no-ops.
func (m *BalanceMonitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.stop = make(chan struct{})
	m.mu.Unlock()

	if err := m.discoverVaults(ctx); err != nil {
		m.mu.Lock()
		m.started = false
		m.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrDiscoveryFailed, err)
	}

	go m.pollLoop()

	m.logger.Info().
		Int("vaults", m.vaultCount()).
		Str("depositAsset", m.depositAsset).
		Msg("Balance monitor started")
	return nil
}

// Stop halts incremental polling.
func (m *BalanceMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return
	}
	close(m.stop)
	m.started = false
}

func (m *BalanceMonitor) pollLoop() {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			if err := m.discoverVaults(ctx); err != nil {
				m.logger.Error().Err(err).Msg("Incremental vault discovery failed")
			}
			cancel()
		}
	}
}

// discoverVaults replays factory creation events filtered by the deposit
// asset, from the last scanned block onward.
func (m *BalanceMonitor) discoverVaults(ctx context.Context) error {
	head, err := m.client.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("failed to get chain head: %w", err)
	}

	m.mu.Lock()
	from := m.nextBlock
	if from == 0 {
		from = m.fromBlock
	}
	m.mu.Unlock()

	assetTopic, err := chain.AddressTopic(m.depositAsset)
	if err != nil {
		return err
	}

	discovered := 0
	for _, factory := range m.factories {
		logs, err := m.client.GetLogs(ctx, chain.LogFilter{
			Address:   factory,
			FromBlock: from,
			ToBlock:   head,
			Topics:    []string{chain.TopicCreateMetaMorpho, "", "", assetTopic},
		})
		if err != nil {
			return fmt.Errorf("failed to query factory %s: %w", factory, err)
		}
		for _, entry := range logs {
			if len(entry.Topics) < 2 {
				m.logger.Warn().Str("factory", factory).Msg("Creation event with missing topics, skipping")
				continue
			}
			vault, err := chain.AddressFromTopic(entry.Topics[1])
			if err != nil {
				m.logger.Warn().Err(err).Str("factory", factory).Msg("Undecodable vault topic, skipping")
				continue
			}
			m.mu.Lock()
			if _, known := m.vaults[vault]; !known {
				m.vaults[vault] = struct{}{}
				discovered++
			}
			m.mu.Unlock()
		}
	}

	m.mu.Lock()
	m.nextBlock = head + 1
	m.mu.Unlock()

	if discovered > 0 {
		m.logger.Info().Int("new", discovered).Uint64("head", head).Msg("Discovered vaults")
	}
	return nil
}

func (m *BalanceMonitor) vaultCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.vaults)
}

func (m *BalanceMonitor) knownVaults() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	vaults := make([]string, 0, len(m.vaults))
	for v := range m.vaults {
		vaults = append(vaults, v)
	}
	sort.Strings(vaults)
	return vaults
}

// GetUserPositions returns the wallet's nonzero positions across every known
// vault. Individual vault read failures are reported and skipped; they never
// abort the whole batch. Starts the monitor if it is not running yet.
func (m *BalanceMonitor) GetUserPositions(ctx context.Context, userAddress string) ([]types.UserVaultPosition, error) {
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if !started {
		if err := m.Start(ctx); err != nil {
			return nil, err
		}
	}

	vaults := m.knownVaults()
	if len(vaults) == 0 {
		return nil, nil
	}

	calls := make([]chain.Call, 0, len(vaults)*callsPerVault)
	for _, vault := range vaults {
		balanceOf, err := chain.EncodeCall(chain.SelectorBalanceOf, userAddress)
		if err != nil {
			return nil, err
		}
		calls = append(calls,
			chain.Call{Target: vault, CallData: balanceOf},
			chain.Call{Target: vault, CallData: chain.SelectorTotalAssets},
			chain.Call{Target: vault, CallData: chain.SelectorTotalSupply},
		)
	}

	results := make([]chain.CallResult, 0, len(calls))
	for start := 0; start < len(calls); start += maxCallsPerBatch {
		end := start + maxCallsPerBatch
		if end > len(calls) {
			end = len(calls)
		}
		payload, err := chain.EncodeTryAggregate(false, calls[start:end])
		if err != nil {
			return nil, err
		}
		raw, err := m.client.CallContract(ctx, m.multicallAddress, payload)
		if err != nil {
			return nil, fmt.Errorf("multicall failed: %w", err)
		}
		batch, err := chain.DecodeTryAggregate(raw)
		if err != nil {
			return nil, fmt.Errorf("multicall reply undecodable: %w", err)
		}
		results = append(results, batch...)
	}

	if len(results) != len(calls) {
		return nil, fmt.Errorf("multicall returned %d results for %d calls", len(results), len(calls))
	}

	positions := make([]types.UserVaultPosition, 0)
	for i, vault := range vaults {
		base := i * callsPerVault
		balanceRes := results[base]
		assetsRes := results[base+1]
		supplyRes := results[base+2]

		if !balanceRes.Success || !assetsRes.Success || !supplyRes.Success {
			// Something failed with this vault, inform but keep going with the others.
			m.logger.Error().
				Str("vault", vault).
				Str("user", userAddress).
				Bool("balanceOf", balanceRes.Success).
				Bool("totalAssets", assetsRes.Success).
				Bool("totalSupply", supplyRes.Success).
				Msg("Error getting user position")
			continue
		}

		shares, err := chain.DecodeUint(balanceRes.ReturnData)
		if err != nil {
			m.logger.Error().Err(err).Str("vault", vault).Msg("Undecodable share balance")
			continue
		}
		if shares.IsZero() {
			continue
		}

		totalAssets, err := chain.DecodeUint(assetsRes.ReturnData)
		if err != nil {
			m.logger.Error().Err(err).Str("vault", vault).Msg("Undecodable totalAssets")
			continue
		}
		totalSupply, err := chain.DecodeUint(supplyRes.ReturnData)
		if err != nil {
			m.logger.Error().Err(err).Str("vault", vault).Msg("Undecodable totalSupply")
			continue
		}

		// convertToAssets(shares), rounding down.
		assets := sdkmath.ZeroInt()
		if !totalSupply.IsZero() {
			assets = shares.Mul(totalAssets).Quo(totalSupply)
		}

		positions = append(positions, types.UserVaultPosition{
			Address: vault,
			Shares:  shares,
			Assets:  assets,
		})
	}

	return positions, nil
}

// GetERC20Balance reads a wallet's balance and the token's decimals in one
// multicall round trip.
func (m *BalanceMonitor) GetERC20Balance(ctx context.Context, tokenAddress, holder string) (types.TokenBalance, error) {
	balanceOf, err := chain.EncodeCall(chain.SelectorBalanceOf, holder)
	if err != nil {
		return types.TokenBalance{}, err
	}
	payload, err := chain.EncodeTryAggregate(true, []chain.Call{
		{Target: tokenAddress, CallData: balanceOf},
		{Target: tokenAddress, CallData: chain.SelectorDecimals},
	})
	if err != nil {
		return types.TokenBalance{}, err
	}

	raw, err := m.client.CallContract(ctx, m.multicallAddress, payload)
	if err != nil {
		return types.TokenBalance{}, fmt.Errorf("balance multicall failed: %w", err)
	}
	results, err := chain.DecodeTryAggregate(raw)
	if err != nil {
		return types.TokenBalance{}, fmt.Errorf("balance multicall reply undecodable: %w", err)
	}
	if len(results) != 2 {
		return types.TokenBalance{}, fmt.Errorf("balance multicall returned %d results, want 2", len(results))
	}

	balance, err := chain.DecodeUint(results[0].ReturnData)
	if err != nil {
		return types.TokenBalance{}, err
	}
	decimals, err := chain.DecodeUint(results[1].ReturnData)
	if err != nil {
		return types.TokenBalance{}, err
	}

	return types.TokenBalance{
		Address:  tokenAddress,
		Balance:  balance,
		Decimals: int(decimals.Int64()),
	}, nil
}

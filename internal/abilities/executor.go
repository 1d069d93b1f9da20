/*
This file executes vault operations through the ability relay and sees them
through to on-chain finality. Every operation follows the same path: precheck,
execute, resolve a sponsored user operation to a transaction hash, then wait
for the configured confirmation depth. Outcomes are returned as tagged results
so a partial failure never destroys the record of what did happen.
*/

package abilities

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"github.com/LIT-Protocol/morphomax/internal/chain"
	"github.com/LIT-Protocol/morphomax/internal/logger"
	"github.com/LIT-Protocol/morphomax/internal/types"
)

var (
	ErrTransactionReverted = errors.New("transaction reverted on chain")
	ErrConfirmationTimeout = errors.New("transaction confirmation timed out")
)

const (
	useropPollMaxElapsed       = 5 * time.Minute
	confirmationPollInterval   = 5 * time.Second
	confirmationPollMaxElapsed = 10 * time.Minute

	// Vault shares are ERC-4626 compliant and always carry 18 decimals,
	// regardless of the underlying token's decimals.
	shareDecimals = 18
)

// ExecutorConfig holds the dependencies and chain parameters for an Executor.
type ExecutorConfig struct {
	Relay       *RelayClient
	ChainClient *chain.Client

	ChainName     string
	ChainRPCURL   string
	Confirmations int

	GasSponsor         bool
	GasSponsorAPIKey   string
	GasSponsorPolicyID string
}

func (c ExecutorConfig) validate() error {
	if c.Relay == nil {
		return errors.New("relay client cannot be nil")
	}
	if c.ChainClient == nil {
		return errors.New("chain client cannot be nil")
	}
	if c.ChainName == "" {
		return errors.New("chain name cannot be empty")
	}
	if c.ChainRPCURL == "" {
		return errors.New("chain RPC URL cannot be empty")
	}
	if c.Confirmations < 1 {
		return errors.New("confirmations must be at least 1")
	}
	if c.GasSponsor && (c.GasSponsorAPIKey == "" || c.GasSponsorPolicyID == "") {
		return errors.New("gas sponsor requires an API key and policy ID")
	}
	return nil
}

// Executor runs versioned vault operations for delegated wallets.
type Executor struct {
	cfg    ExecutorConfig
	logger zerolog.Logger
}

// NewExecutor creates an executor.
func NewExecutor(cfg ExecutorConfig) (*Executor, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid executor config: %w", err)
	}
	return &Executor{
		cfg:    cfg,
		logger: logger.GetForComponent("ability_executor"),
	}, nil
}

func (e *Executor) buildRequest(ability string, version int, pkp types.PKPInfo, params map[string]any) AbilityRequest {
	params["chain"] = e.cfg.ChainName
	params["rpcUrl"] = e.cfg.ChainRPCURL
	if e.cfg.GasSponsor {
		params["alchemyGasSponsor"] = true
		params["alchemyGasSponsorApiKey"] = e.cfg.GasSponsorAPIKey
		params["alchemyGasSponsorPolicyId"] = e.cfg.GasSponsorPolicyID
	}
	return AbilityRequest{
		Ability: ability,
		Version: version,
		PKP:     pkp,
		Params:  params,
	}
}

// runOperation takes one ability call through precheck, execution and
// confirmation, returning the final transaction hash.
func (e *Executor) runOperation(ctx context.Context, request AbilityRequest) (string, error) {
	if err := e.cfg.Relay.Precheck(ctx, request); err != nil {
		return "", err
	}

	result, err := e.cfg.Relay.Execute(ctx, request)
	if err != nil {
		return "", err
	}

	txHash := result.TxHash
	if txHash == "" {
		txHash, err = e.resolveUserop(ctx, result.UseropHash)
		if err != nil {
			return "", err
		}
	}

	if err := e.waitForConfirmations(ctx, txHash); err != nil {
		return "", err
	}
	return txHash, nil
}

// resolveUserop polls the relay until a sponsored user operation has been
// bundled into a transaction.
func (e *Executor) resolveUserop(ctx context.Context, useropHash string) (string, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 2 * time.Second
	policy.MaxInterval = 30 * time.Second
	policy.MaxElapsedTime = useropPollMaxElapsed

	txHash, err := backoff.RetryWithData(func() (string, error) {
		hash, included, err := e.cfg.Relay.UseropReceipt(ctx, useropHash)
		if err != nil {
			if errors.Is(err, ErrExecuteFailed) {
				return "", backoff.Permanent(err)
			}
			return "", err
		}
		if !included {
			return "", errors.New("user operation still pending")
		}
		return hash, nil
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		return "", fmt.Errorf("user operation %s did not resolve: %w", useropHash, err)
	}

	e.logger.Debug().
		Str("userop", useropHash).
		Str("txHash", txHash).
		Msg("User operation bundled")
	return txHash, nil
}

// waitForConfirmations blocks until the transaction is included, succeeded,
// and buried under the configured confirmation depth.
func (e *Executor) waitForConfirmations(ctx context.Context, txHash string) error {
	policy := backoff.NewConstantBackOff(confirmationPollInterval)
	deadline, cancel := context.WithTimeout(ctx, confirmationPollMaxElapsed)
	defer cancel()

	includedAt, err := backoff.RetryWithData(func() (uint64, error) {
		receipt, err := e.cfg.ChainClient.TransactionReceipt(deadline, txHash)
		if err != nil {
			return 0, err
		}
		if receipt == nil {
			return 0, errors.New("transaction not yet included")
		}
		if receipt.Status != "0x1" {
			return 0, backoff.Permanent(fmt.Errorf("%w: %s", ErrTransactionReverted, txHash))
		}
		return chain.DecodeQuantity(receipt.BlockNumber)
	}, backoff.WithContext(policy, deadline))
	if err != nil {
		if errors.Is(err, ErrTransactionReverted) {
			return err
		}
		return fmt.Errorf("%w: %s: %w", ErrConfirmationTimeout, txHash, err)
	}

	target := includedAt + uint64(e.cfg.Confirmations) - 1
	err = backoff.Retry(func() error {
		head, err := e.cfg.ChainClient.BlockNumber(deadline)
		if err != nil {
			return err
		}
		if head < target {
			return fmt.Errorf("at block %d, waiting for %d", head, target)
		}
		return nil
	}, backoff.WithContext(policy, deadline))
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConfirmationTimeout, txHash, err)
	}

	e.logger.Info().
		Str("txHash", txHash).
		Uint64("includedAt", includedAt).
		Int("confirmations", e.cfg.Confirmations).
		Msg("Transaction confirmed")
	return nil
}

// DepositVault approves the vault to spend the token and deposits the amount,
// as two sequential operations encoded for the wallet's app version. A failed
// approval short-circuits: the deposit is never attempted and the returned
// attempt carries no deposit result.
func (e *Executor) DepositVault(
	ctx context.Context,
	pkp types.PKPInfo,
	version int,
	vaultAddress string,
	tokenAddress string,
	amount sdkmath.Int,
	decimals int,
) (types.DepositAttempt, error) {
	codec, err := codecFor(version)
	if err != nil {
		return types.DepositAttempt{}, err
	}

	ability, params, recorded, err := codec.ApprovalRequest(tokenAddress, vaultAddress, amount, decimals)
	if err != nil {
		return types.DepositAttempt{}, fmt.Errorf("failed to encode approval: %w", err)
	}

	approval := types.ApprovalResult{
		Status:         types.OperationSuccess,
		Amount:         recorded,
		TokenAddress:   tokenAddress,
		SpenderAddress: vaultAddress,
	}
	txHash, err := e.runOperation(ctx, e.buildRequest(ability, version, pkp, params))
	if err != nil {
		e.logger.Error().
			Err(err).
			Str("wallet", pkp.EthAddress).
			Str("vault", vaultAddress).
			Msg("Approval failed")
		approval.Status = types.OperationError
		approval.Error = err.Error()
		return types.DepositAttempt{Approval: approval}, nil
	}
	approval.Transaction = txHash

	ability, params, recorded, err = codec.DepositRequest(vaultAddress, amount, decimals)
	if err != nil {
		return types.DepositAttempt{}, fmt.Errorf("failed to encode deposit: %w", err)
	}

	deposit := types.VaultOpResult{
		Status:       types.OperationSuccess,
		Amount:       recorded,
		VaultAddress: vaultAddress,
	}
	txHash, err = e.runOperation(ctx, e.buildRequest(ability, version, pkp, params))
	if err != nil {
		e.logger.Error().
			Err(err).
			Str("wallet", pkp.EthAddress).
			Str("vault", vaultAddress).
			Msg("Deposit failed")
		deposit.Status = types.OperationError
		deposit.Error = err.Error()
	} else {
		deposit.Transaction = txHash
		e.logger.Info().
			Str("wallet", pkp.EthAddress).
			Str("vault", vaultAddress).
			Str("amount", recorded).
			Str("txHash", txHash).
			Msg("Deposit complete")
	}

	return types.DepositAttempt{Approval: approval, Deposit: &deposit}, nil
}

// RedeemVaults redeems the wallet's full share balance from each position,
// sequentially so the wallet's nonce never races itself. One failed redeem
// does not stop the rest; every outcome is reported.
func (e *Executor) RedeemVaults(
	ctx context.Context,
	pkp types.PKPInfo,
	version int,
	positions []types.UserVaultPosition,
) ([]types.VaultOpResult, error) {
	codec, err := codecFor(version)
	if err != nil {
		return nil, err
	}

	results := make([]types.VaultOpResult, 0, len(positions))
	for _, position := range positions {
		if position.Shares.IsZero() {
			continue
		}

		ability, params, recorded, err := codec.RedeemRequest(position.Address, position.Shares, shareDecimals)
		if err != nil {
			return nil, fmt.Errorf("failed to encode redeem for vault %s: %w", position.Address, err)
		}

		result := types.VaultOpResult{
			Status:       types.OperationSuccess,
			Amount:       recorded,
			VaultAddress: position.Address,
		}
		txHash, err := e.runOperation(ctx, e.buildRequest(ability, version, pkp, params))
		if err != nil {
			e.logger.Error().
				Err(err).
				Str("wallet", pkp.EthAddress).
				Str("vault", position.Address).
				Msg("Redeem failed")
			result.Status = types.OperationError
			result.Error = err.Error()
		} else {
			result.Transaction = txHash
			e.logger.Info().
				Str("wallet", pkp.EthAddress).
				Str("vault", position.Address).
				Str("shares", recorded).
				Str("txHash", txHash).
				Msg("Redeem complete")
		}
		results = append(results, result)
	}

	return results, nil
}

package config

import (
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// AppConfig holds all application configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// AppID is the delegation-registry application this service acts as.
	AppID uint64

	// ChainRPCURL is the JSON-RPC endpoint of the target EVM network.
	ChainRPCURL string
	// ChainName is the human network name passed to ability executions.
	ChainName string
	// ChainID is the numeric network ID used when filtering indexed vaults.
	ChainID uint64

	// USDCAddress is the deposit asset all schedules rotate.
	USDCAddress string
	// MulticallAddress is the Multicall3 deployment used for batched reads.
	MulticallAddress string
	// VaultFactoryAddresses are the vault factories whose creation events are
	// replayed to discover vaults for the deposit asset.
	VaultFactoryAddresses []string
	// VaultDiscoveryFromBlock is the first block scanned for creation events.
	VaultDiscoveryFromBlock uint64

	// MorphoAPIURL is the GraphQL endpoint of the vault indexing API.
	MorphoAPIURL string

	// AbilityRelayURL is the endpoint executing versioned ability operations.
	AbilityRelayURL string
	// AbilityRelayAPIKey authenticates against the ability relay.
	AbilityRelayAPIKey string

	// DelegationRegistryAddress is the on-chain registry answering which app
	// version a wallet currently permits.
	DelegationRegistryAddress string

	// GasSponsor enables sponsored meta-transactions for ability executions.
	GasSponsor bool
	// GasSponsorAPIKey and GasSponsorPolicyID configure the sponsor. Required
	// only when GasSponsor is enabled.
	GasSponsorAPIKey   string
	GasSponsorPolicyID string

	// MinimumUSDCBalance is the idle balance, in display units, below which a
	// run skips the deposit phase.
	MinimumUSDCBalance int64
	// MinimumYieldImprovementPercent is how many percentage points of net APY
	// the top vault must beat a held position by before it is rotated out.
	MinimumYieldImprovementPercent float64

	// DefaultTxConfirmations is the confirmation depth waited for after a
	// sponsored operation resolves to a transaction.
	DefaultTxConfirmations int
)

// Scheduler tuning. These have defaults and are overridable via environment.
var (
	// WorkerPollInterval is how often the worker checks for due jobs.
	WorkerPollInterval = 15 * time.Second
	// JobLockTimeout is how long a claimed job may run before another worker
	// may reclaim it.
	JobLockTimeout = 30 * time.Minute
	// FailureRetryDelay schedules the next attempt after a transient failure.
	FailureRetryDelay = 1 * time.Hour
)

// LoadConfig loads configuration from environment variables and sets the global config vars.
// All environment variables without a default are required and must be set.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	AppID, err = getEnvAsUint64("MORPHOMAX_APP_ID")
	if err != nil {
		return err
	}

	ChainRPCURL, err = getEnv("CHAIN_RPC_URL")
	if err != nil {
		return err
	}

	ChainName, err = getEnv("CHAIN_NAME")
	if err != nil {
		return err
	}

	ChainID, err = getEnvAsUint64("CHAIN_ID")
	if err != nil {
		return err
	}

	USDCAddress, err = getEnv("USDC_ADDRESS")
	if err != nil {
		return err
	}

	MulticallAddress, err = getEnv("MULTICALL_ADDRESS")
	if err != nil {
		return err
	}

	factories, err := getEnv("VAULT_FACTORY_ADDRESSES")
	if err != nil {
		return err
	}
	VaultFactoryAddresses = splitAndTrim(factories)
	if len(VaultFactoryAddresses) == 0 {
		return errors.New("environment variable VAULT_FACTORY_ADDRESSES must list at least one factory")
	}

	VaultDiscoveryFromBlock, err = getEnvAsUint64("VAULT_DISCOVERY_FROM_BLOCK")
	if err != nil {
		return err
	}

	MorphoAPIURL, err = getEnv("MORPHO_API_URL")
	if err != nil {
		return err
	}

	AbilityRelayURL, err = getEnv("ABILITY_RELAY_URL")
	if err != nil {
		return err
	}

	AbilityRelayAPIKey, err = getEnv("ABILITY_RELAY_API_KEY")
	if err != nil {
		return err
	}

	DelegationRegistryAddress, err = getEnv("DELEGATION_REGISTRY_ADDRESS")
	if err != nil {
		return err
	}

	GasSponsor = getEnvAsBool("GAS_SPONSOR", false)
	if GasSponsor {
		GasSponsorAPIKey, err = getEnv("GAS_SPONSOR_API_KEY")
		if err != nil {
			return err
		}
		GasSponsorPolicyID, err = getEnv("GAS_SPONSOR_POLICY_ID")
		if err != nil {
			return err
		}
	}

	MinimumUSDCBalance, err = getEnvAsInt64("MINIMUM_USDC_BALANCE")
	if err != nil {
		return err
	}

	MinimumYieldImprovementPercent, err = getEnvAsFloat64("MINIMUM_YIELD_IMPROVEMENT_PERCENT")
	if err != nil {
		return err
	}

	confirmations, err := getEnvAsInt64("DEFAULT_TX_CONFIRMATIONS")
	if err != nil {
		return err
	}
	DefaultTxConfirmations = int(confirmations)

	WorkerPollInterval = getEnvAsDuration("WORKER_POLL_INTERVAL", WorkerPollInterval)
	JobLockTimeout = getEnvAsDuration("JOB_LOCK_TIMEOUT", JobLockTimeout)
	FailureRetryDelay = getEnvAsDuration("FAILURE_RETRY_DELAY", FailureRetryDelay)

	log.Debug().
		Uint64("AppID", AppID).
		Str("ChainName", ChainName).
		Str("USDCAddress", USDCAddress).
		Int("factories", len(VaultFactoryAddresses)).
		Msg("Configuration loaded successfully.")

	return nil
}

func splitAndTrim(csv string) []string {
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

/*
This file fetches vault metadata and yield data from the Morpho GraphQL API.

Vault rankings drive which vault user deposits rotate into, so responses are
validated strictly and the API is shielded behind a circuit breaker to stop a
flapping indexer from stalling every scheduled run.
*/

package datafetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/LIT-Protocol/morphomax/internal/logger"
	"github.com/LIT-Protocol/morphomax/internal/types"
)

var vaultLogger = logger.GetForComponent("vault_retriever")

var (
	ErrVaultAPIFailure  = errors.New("vault API request failed")
	ErrVaultAPIResponse = errors.New("vault API returned an error")
	ErrNoVaultsFound    = errors.New("no vaults matched the filter")
)

const (
	vaultPageSize       = 100
	vaultRequestTimeout = 30 * time.Second
)

const vaultsQuery = `
query Vaults($first: Int!, $skip: Int!, $where: VaultFilters) {
  vaults(first: $first, skip: $skip, where: $where, orderBy: NetApy, orderDirection: Desc) {
    items {
      address
      name
      symbol
      whitelisted
      asset { address decimals name symbol }
      state { apy netApy avgApy avgNetApy totalAssets totalAssetsUsd }
    }
    pageInfo { countTotal count limit skip }
  }
}`

// VaultFilter narrows the vault listing. Zero values mean no constraint.
type VaultFilter struct {
	AssetAddress string
	ChainID      uint64
	Whitelisted  bool
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type vaultsResponse struct {
	Data struct {
		Vaults struct {
			Items    []types.MorphoVaultInfo `json:"items"`
			PageInfo struct {
				CountTotal int `json:"countTotal"`
				Count      int `json:"count"`
				Limit      int `json:"limit"`
				Skip       int `json:"skip"`
			} `json:"pageInfo"`
		} `json:"vaults"`
	} `json:"data"`
	Errors []graphQLError `json:"errors"`
}

// MorphoClient queries the Morpho vault indexing API.
type MorphoClient struct {
	url        string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[[]byte]
}

// NewMorphoClient creates a client for the given GraphQL endpoint.
func NewMorphoClient(url string) (*MorphoClient, error) {
	if url == "" {
		return nil, errors.New("morpho API URL cannot be empty")
	}

	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "morpho-api",
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			vaultLogger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})

	return &MorphoClient{
		url:        url,
		httpClient: &http.Client{Timeout: vaultRequestTimeout},
		breaker:    breaker,
	}, nil
}

func (c *MorphoClient) post(ctx context.Context, query string, variables map[string]any) ([]byte, error) {
	payload, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to marshal query: %w", ErrVaultAPIFailure, err)
	}

	return c.breaker.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrVaultAPIFailure, err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrVaultAPIFailure, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: reading response: %w", ErrVaultAPIFailure, err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%w: HTTP %d: %s", ErrVaultAPIResponse, resp.StatusCode, string(body))
		}
		return body, nil
	})
}

// GetVaults returns every vault matching the filter, walking the paginated
// listing until the indexer reports no further pages.
func (c *MorphoClient) GetVaults(ctx context.Context, filter VaultFilter) ([]types.MorphoVaultInfo, error) {
	where := map[string]any{}
	if filter.AssetAddress != "" {
		where["assetAddress_in"] = []string{strings.ToLower(filter.AssetAddress)}
	}
	if filter.ChainID != 0 {
		where["chainId_in"] = []uint64{filter.ChainID}
	}
	if filter.Whitelisted {
		where["whitelisted"] = true
	}

	var all []types.MorphoVaultInfo
	skip := 0
	for {
		body, err := c.post(ctx, vaultsQuery, map[string]any{
			"first": vaultPageSize,
			"skip":  skip,
			"where": where,
		})
		if err != nil {
			return nil, err
		}

		var reply vaultsResponse
		if err := json.Unmarshal(body, &reply); err != nil {
			return nil, fmt.Errorf("%w: decoding response: %w", ErrVaultAPIFailure, err)
		}
		if len(reply.Errors) > 0 {
			return nil, fmt.Errorf("%w: %s", ErrVaultAPIResponse, reply.Errors[0].Message)
		}

		page := reply.Data.Vaults.Items
		for i, vault := range page {
			if vault.Address == "" {
				return nil, fmt.Errorf("%w: vault %d of page at skip %d has no address", ErrVaultAPIResponse, i, skip)
			}
		}
		all = append(all, page...)

		vaultLogger.Debug().
			Int("page", len(page)).
			Int("total", len(all)).
			Int("skip", skip).
			Msg("Fetched vault page")

		if len(page) < vaultPageSize {
			break
		}
		skip += vaultPageSize
	}

	return all, nil
}

// ListVaults returns every indexed vault for the asset, whitelisted or not.
// Held positions may sit in delisted vaults; those still need yield lookups.
func (c *MorphoClient) ListVaults(ctx context.Context, assetAddress string, chainID uint64) ([]types.MorphoVaultInfo, error) {
	return c.GetVaults(ctx, VaultFilter{AssetAddress: assetAddress, ChainID: chainID})
}

// GetTopVault returns the whitelisted vault for the asset with the highest
// current net APY. Vaults without yield data are never ranked on top.
func (c *MorphoClient) GetTopVault(ctx context.Context, assetAddress string, chainID uint64) (*types.MorphoVaultInfo, error) {
	vaults, err := c.GetVaults(ctx, VaultFilter{
		AssetAddress: assetAddress,
		ChainID:      chainID,
		Whitelisted:  true,
	})
	if err != nil {
		return nil, err
	}

	var top *types.MorphoVaultInfo
	for i := range vaults {
		vault := &vaults[i]
		if vault.State == nil {
			continue
		}
		if top == nil || vault.State.NetApy > top.State.NetApy {
			top = vault
		}
	}
	if top == nil {
		return nil, fmt.Errorf("%w: asset %s on chain %d", ErrNoVaultsFound, assetAddress, chainID)
	}

	vaultLogger.Info().
		Str("vault", top.Address).
		Str("name", top.Name).
		Float64("netApy", top.State.NetApy).
		Msg("Selected top vault")
	return top, nil
}

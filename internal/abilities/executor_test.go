package abilities

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LIT-Protocol/morphomax/internal/chain"
	"github.com/LIT-Protocol/morphomax/internal/types"
)

// chainServer answers the receipt and head queries the confirmation wait
// makes, with every transaction included and succeeded immediately.
func chainServer(t *testing.T) *chain.Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     uint64 `json:"id"`
			Method string `json:"method"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var result any
		switch req.Method {
		case "eth_getTransactionReceipt":
			result = map[string]string{
				"transactionHash": "0xmined",
				"blockNumber":     "0x10",
				"status":          "0x1",
			}
		case "eth_blockNumber":
			result = "0x10"
		default:
			t.Fatalf("unexpected RPC method %s", req.Method)
		}
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0", "id": req.ID, "result": result,
		}))
	}))
	t.Cleanup(server.Close)
	return chain.NewClient(server.URL)
}

func executorFor(t *testing.T, relayHandler http.HandlerFunc) *Executor {
	t.Helper()
	relayServer := httptest.NewServer(relayHandler)
	t.Cleanup(relayServer.Close)

	relay, err := NewRelayClient(relayServer.URL, "test-key")
	require.NoError(t, err)

	executor, err := NewExecutor(ExecutorConfig{
		Relay:         relay,
		ChainClient:   chainServer(t),
		ChainName:     "base",
		ChainRPCURL:   "https://rpc.example",
		Confirmations: 1,
	})
	require.NoError(t, err)
	return executor
}

func executorPKP() types.PKPInfo {
	return types.PKPInfo{EthAddress: "0xabc", PublicKey: "0x04", TokenID: "7"}
}

func TestRedeemVaultsFormatsSharesAtVaultDecimals(t *testing.T) {
	var mu sync.Mutex
	amounts := map[string]any{}

	executor := executorFor(t, func(w http.ResponseWriter, r *http.Request) {
		var req AbilityRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		if r.URL.Path == "/precheck" {
			_, _ = w.Write([]byte(`{"amountValid": true}`))
			return
		}
		mu.Lock()
		amounts[req.Params["vaultAddress"].(string)] = req.Params["amount"]
		mu.Unlock()
		_, _ = w.Write([]byte(`{"txHash": "0xmined"}`))
	})

	// A whole share and a fractional share, both in 18-decimal base units.
	// The deposit token's decimals must play no part in the conversion.
	positions := []types.UserVaultPosition{
		{Address: "0xone", Shares: sdkmath.NewIntWithDecimal(1, 18), Assets: sdkmath.NewInt(1_000000)},
		{Address: "0xhalf", Shares: sdkmath.NewIntWithDecimal(25, 17), Assets: sdkmath.NewInt(2_500000)},
	}
	results, err := executor.RedeemVaults(context.Background(), executorPKP(), 6, positions)
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, types.OperationSuccess, results[0].Status)
	assert.Equal(t, "1", results[0].Amount)
	assert.Equal(t, "2.5", results[1].Amount)

	assert.Equal(t, 1.0, amounts["0xone"])
	assert.Equal(t, 2.5, amounts["0xhalf"])
}

func TestRedeemVaultsSkipsZeroShares(t *testing.T) {
	executor := executorFor(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/precheck" {
			_, _ = w.Write([]byte(`{"amountValid": true}`))
			return
		}
		_, _ = w.Write([]byte(`{"txHash": "0xmined"}`))
	})

	positions := []types.UserVaultPosition{
		{Address: "0xempty", Shares: sdkmath.ZeroInt(), Assets: sdkmath.ZeroInt()},
		{Address: "0xheld", Shares: sdkmath.NewIntWithDecimal(1, 18), Assets: sdkmath.NewInt(1_000000)},
	}
	results, err := executor.RedeemVaults(context.Background(), executorPKP(), 27, positions)
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, "0xheld", results[0].VaultAddress)
}

func TestRedeemVaultsIssuesOneOperationAtATime(t *testing.T) {
	var mu sync.Mutex
	var events []string
	var inFlight, maxInFlight int32

	executor := executorFor(t, func(w http.ResponseWriter, r *http.Request) {
		current := atomic.AddInt32(&inFlight, 1)
		defer atomic.AddInt32(&inFlight, -1)
		for {
			observed := atomic.LoadInt32(&maxInFlight)
			if current <= observed || atomic.CompareAndSwapInt32(&maxInFlight, observed, current) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)

		var req AbilityRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		mu.Lock()
		events = append(events, r.URL.Path+" "+req.Params["vaultAddress"].(string))
		mu.Unlock()

		if r.URL.Path == "/precheck" {
			_, _ = w.Write([]byte(`{"amountValid": true}`))
			return
		}
		_, _ = w.Write([]byte(`{"txHash": "0xmined"}`))
	})

	positions := []types.UserVaultPosition{
		{Address: "0xaaa", Shares: sdkmath.NewIntWithDecimal(1, 18), Assets: sdkmath.NewInt(1)},
		{Address: "0xbbb", Shares: sdkmath.NewIntWithDecimal(2, 18), Assets: sdkmath.NewInt(2)},
		{Address: "0xccc", Shares: sdkmath.NewIntWithDecimal(3, 18), Assets: sdkmath.NewInt(3)},
	}
	results, err := executor.RedeemVaults(context.Background(), executorPKP(), 27, positions)
	require.NoError(t, err)
	require.Len(t, results, 3)

	// Each redeem runs to completion before the next one starts, so the
	// wallet's operations never race each other.
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInFlight))
	assert.Equal(t, []string{
		"/precheck 0xaaa", "/execute 0xaaa",
		"/precheck 0xbbb", "/execute 0xbbb",
		"/precheck 0xccc", "/execute 0xccc",
	}, events)
}

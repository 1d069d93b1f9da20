/*
This file is the HTTP client for the ability relay, the service that signs and
submits operations on behalf of delegated wallets. Every on-chain mutation this
system performs goes through it: precheck first, then execute, then (for
sponsored operations) polling the user operation until it lands as a
transaction.
*/

package abilities

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/LIT-Protocol/morphomax/internal/logger"
	"github.com/LIT-Protocol/morphomax/internal/types"
)

var relayLogger = logger.GetForComponent("ability_relay")

var (
	ErrRelayFailure      = errors.New("ability relay request failed")
	ErrPrecheckRejected  = errors.New("ability precheck rejected the operation")
	ErrExecuteFailed     = errors.New("ability execution failed")
	ErrMalformedResponse = errors.New("ability relay returned a malformed response")
)

const relayTimeout = 2 * time.Minute

// AbilityRequest is one operation submitted to the relay: which ability at
// which app version, acting as which wallet, with ability-specific parameters.
type AbilityRequest struct {
	Ability string         `json:"ability"`
	Version int            `json:"appVersion"`
	PKP     types.PKPInfo  `json:"pkpInfo"`
	Params  map[string]any `json:"params"`
}

// ExecuteResult is the relay's reply to an execute call. Exactly one of TxHash
// and UseropHash is set: sponsored operations resolve to a user operation
// first and become a transaction later.
type ExecuteResult struct {
	TxHash     string
	UseropHash string
}

// RelayClient talks to the ability relay.
type RelayClient struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

// NewRelayClient creates a relay client.
func NewRelayClient(url, apiKey string) (*RelayClient, error) {
	if url == "" {
		return nil, errors.New("relay URL cannot be empty")
	}
	if apiKey == "" {
		return nil, errors.New("relay API key cannot be empty")
	}
	return &RelayClient{
		url:        url,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: relayTimeout},
	}, nil
}

func (c *RelayClient) post(ctx context.Context, path string, request any) (map[string]json.RawMessage, error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to marshal request: %w", ErrRelayFailure, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRelayFailure, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrRelayFailure, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s response: %w", ErrRelayFailure, path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned HTTP %d: %s", ErrRelayFailure, path, resp.StatusCode, string(body))
	}

	var reply map[string]json.RawMessage
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, fmt.Errorf("%w: %s: %w: %s", ErrMalformedResponse, path, err, string(body))
	}
	return reply, nil
}

func rawString(reply map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := reply[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func rawBool(reply map[string]json.RawMessage, key string) (bool, bool) {
	raw, ok := reply[key]
	if !ok {
		return false, false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return false, false
	}
	return b, true
}

func compactJSON(reply map[string]json.RawMessage) string {
	encoded, err := json.Marshal(reply)
	if err != nil {
		return fmt.Sprintf("%v", reply)
	}
	return string(encoded)
}

// Precheck validates the operation against the wallet's current state without
// executing it. The relay reports whether the requested amount is spendable;
// anything else in the reply shape is treated as a rejection with the raw
// response preserved for diagnosis.
func (c *RelayClient) Precheck(ctx context.Context, request AbilityRequest) error {
	reply, err := c.post(ctx, "/precheck", request)
	if err != nil {
		return err
	}

	amountValid, ok := rawBool(reply, "amountValid")
	if !ok {
		return fmt.Errorf("%w: missing amountValid: %s", ErrMalformedResponse, compactJSON(reply))
	}
	if !amountValid {
		if reason, ok := rawString(reply, "reason"); ok && reason != "" {
			return fmt.Errorf("%w: %s", ErrPrecheckRejected, reason)
		}
		return fmt.Errorf("%w: %s", ErrPrecheckRejected, compactJSON(reply))
	}

	relayLogger.Debug().
		Str("ability", request.Ability).
		Int("version", request.Version).
		Str("wallet", request.PKP.EthAddress).
		Msg("Precheck passed")
	return nil
}

// Execute submits the operation. The reply must carry a transaction hash or,
// for sponsored operations, a user operation hash.
func (c *RelayClient) Execute(ctx context.Context, request AbilityRequest) (ExecuteResult, error) {
	reply, err := c.post(ctx, "/execute", request)
	if err != nil {
		return ExecuteResult{}, err
	}

	if txHash, ok := rawString(reply, "txHash"); ok && txHash != "" {
		return ExecuteResult{TxHash: txHash}, nil
	}
	if useropHash, ok := rawString(reply, "userOperationHash"); ok && useropHash != "" {
		return ExecuteResult{UseropHash: useropHash}, nil
	}
	if reason, ok := rawString(reply, "error"); ok && reason != "" {
		return ExecuteResult{}, fmt.Errorf("%w: %s", ErrExecuteFailed, reason)
	}
	return ExecuteResult{}, fmt.Errorf("%w: no txHash or userOperationHash: %s", ErrMalformedResponse, compactJSON(reply))
}

// UseropReceipt asks whether a user operation has been included. Returns the
// transaction hash and true once it has, empty and false while still pending.
func (c *RelayClient) UseropReceipt(ctx context.Context, useropHash string) (string, bool, error) {
	reply, err := c.post(ctx, "/userop/receipt", map[string]string{"userOperationHash": useropHash})
	if err != nil {
		return "", false, err
	}

	if pending, ok := rawBool(reply, "pending"); ok && pending {
		return "", false, nil
	}
	if txHash, ok := rawString(reply, "txHash"); ok && txHash != "" {
		return txHash, true, nil
	}
	if reason, ok := rawString(reply, "error"); ok && reason != "" {
		return "", false, fmt.Errorf("%w: %s", ErrExecuteFailed, reason)
	}
	return "", false, nil
}

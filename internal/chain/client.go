package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/LIT-Protocol/morphomax/internal/logger"
)

var (
	ErrRPCFailure      = errors.New("JSON-RPC request failed")
	ErrRPCErrorReply   = errors.New("JSON-RPC node returned an error")
	ErrInvalidQuantity = errors.New("invalid hex quantity")
)

const rpcTimeout = 30 * time.Second

// Client is a minimal JSON-RPC client for the read operations this service
// needs: contract calls, log queries, block height and transaction receipts.
type Client struct {
	url        string
	httpClient *http.Client
	requestID  atomic.Uint64
}

// NewClient creates a JSON-RPC client against the given endpoint.
func NewClient(url string) *Client {
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: rpcTimeout},
	}
}

// Close releases the client's idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

var chainLogger = logger.GetForComponent("chain_client")

func (c *Client) call(ctx context.Context, method string, params []any, result any) error {
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("%w: failed to marshal request: %w", ErrRPCFailure, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRPCFailure, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrRPCFailure, method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading %s response: %w", ErrRPCFailure, method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned HTTP %d: %s", ErrRPCFailure, method, resp.StatusCode, string(body))
	}

	var reply rpcResponse
	if err := json.Unmarshal(body, &reply); err != nil {
		return fmt.Errorf("%w: decoding %s response: %w", ErrRPCFailure, method, err)
	}
	if reply.Error != nil {
		return fmt.Errorf("%w: %s: code %d: %s", ErrRPCErrorReply, method, reply.Error.Code, reply.Error.Message)
	}

	if result != nil {
		if err := json.Unmarshal(reply.Result, result); err != nil {
			return fmt.Errorf("%w: decoding %s result: %w", ErrRPCFailure, method, err)
		}
	}
	return nil
}

// CallContract performs an eth_call against the latest block and returns the
// raw hex return data.
func (c *Client) CallContract(ctx context.Context, to string, data string) (string, error) {
	var result string
	err := c.call(ctx, "eth_call", []any{
		map[string]string{"to": to, "data": data},
		"latest",
	}, &result)
	if err != nil {
		return "", err
	}
	return result, nil
}

// Log is one emitted event as returned by eth_getLogs.
type Log struct {
	Address     string   `json:"address"`
	Topics      []string `json:"topics"`
	Data        string   `json:"data"`
	BlockNumber string   `json:"blockNumber"`
}

// LogFilter selects logs by contract address, topics and block range.
// ToBlock zero means latest.
type LogFilter struct {
	Address   string
	Topics    []string
	FromBlock uint64
	ToBlock   uint64
}

// GetLogs queries logs matching the filter.
func (c *Client) GetLogs(ctx context.Context, filter LogFilter) ([]Log, error) {
	params := map[string]any{
		"address":   filter.Address,
		"fromBlock": EncodeQuantity(filter.FromBlock),
		"toBlock":   "latest",
	}
	if filter.ToBlock != 0 {
		params["toBlock"] = EncodeQuantity(filter.ToBlock)
	}
	if len(filter.Topics) > 0 {
		topics := make([]any, len(filter.Topics))
		for i, t := range filter.Topics {
			if t == "" {
				topics[i] = nil
			} else {
				topics[i] = t
			}
		}
		params["topics"] = topics
	}

	var logs []Log
	if err := c.call(ctx, "eth_getLogs", []any{params}, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

// BlockNumber returns the current chain height.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var result string
	if err := c.call(ctx, "eth_blockNumber", nil, &result); err != nil {
		return 0, err
	}
	return DecodeQuantity(result)
}

// Receipt is the subset of a transaction receipt needed to judge inclusion.
type Receipt struct {
	TransactionHash string `json:"transactionHash"`
	BlockNumber     string `json:"blockNumber"`
	Status          string `json:"status"`
}

// TransactionReceipt returns the receipt for a transaction hash, or nil when
// the transaction is not yet included.
func (c *Client) TransactionReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	var receipt *Receipt
	if err := c.call(ctx, "eth_getTransactionReceipt", []any{txHash}, &receipt); err != nil {
		return nil, err
	}
	if receipt != nil {
		chainLogger.Debug().
			Str("txHash", txHash).
			Str("block", receipt.BlockNumber).
			Msg("Fetched transaction receipt")
	}
	return receipt, nil
}

// EncodeQuantity renders a block number as a 0x-prefixed hex quantity.
func EncodeQuantity(v uint64) string {
	return "0x" + strconv.FormatUint(v, 16)
}

// DecodeQuantity parses a 0x-prefixed hex quantity.
func DecodeQuantity(hex string) (uint64, error) {
	trimmed := strings.TrimPrefix(hex, "0x")
	if trimmed == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidQuantity, hex)
	}
	v, err := strconv.ParseUint(trimmed, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %w", ErrInvalidQuantity, hex, err)
	}
	return v, nil
}

// Package ledger provides a JSON-RPC client for the remote ledger service.
//
// The ledger RPC endpoint is the only window the balancer has onto the chain:
// epoch timing, leader schedules, confirmed block history, vote accounts and
// gossip metadata all come from it, and signed stake operations go back out
// through it. The client is deliberately thin; retry and confirmation policy
// live in the submission pipeline, not here.
//
// Example usage:
//
//	cfg := ledger.DefaultConfig()
//	cfg.BaseURL = "http://localhost:8899"
//	client, err := ledger.NewClient(cfg, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	info, err := client.GetEpochInfo(ctx)
//
// Requests are rate limited client side so a cache backfill cannot saturate a
// shared RPC node.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Layr-Labs/ballast/pkg/types"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrAccountNotFound is returned when a queried account does not exist on the
// ledger.
var ErrAccountNotFound = errors.New("account not found")

// ErrNodeUnhealthy is returned by GetHealth when the node reports anything
// other than ok.
var ErrNodeUnhealthy = errors.New("ledger node is unhealthy")

// Client is a JSON-RPC client for a ledger node.
type Client struct {
	// Logger is used for logging client operations and debugging
	Logger *zap.Logger
	// httpClient is the underlying HTTP client used for requests
	httpClient *http.Client
	// config contains the client configuration including base URL and timeout
	config *Config
	// limiter throttles outbound requests, nil when rate limiting is disabled
	limiter *rate.Limiter
	// requestID is used to generate unique request IDs for JSON-RPC calls
	requestID int64
}

// Config holds the configuration for the ledger client.
type Config struct {
	// BaseURL is the base URL of the ledger RPC service (e.g., "http://localhost:8899")
	BaseURL string
	// Timeout is the maximum duration for HTTP requests
	Timeout time.Duration
	// RequestsPerSecond caps outbound request rate; 0 disables the limiter
	RequestsPerSecond int
}

// DefaultConfig returns a default configuration for the ledger client.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:           "http://localhost:8899",
		Timeout:           30 * time.Second,
		RequestsPerSecond: 10,
	}
}

// NewClient creates a new ledger client with the given configuration and
// logger. Both cfg and logger must be non-nil.
func NewClient(cfg *Config, logger *zap.Logger) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("cfg cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.RequestsPerSecond)
	}

	logger.Sugar().Debugw("Creating new ledger client",
		zap.String("baseURL", cfg.BaseURL),
		zap.Duration("timeout", cfg.Timeout),
		zap.Int("requestsPerSecond", cfg.RequestsPerSecond),
	)

	return &Client{
		Logger:     logger,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		config:     cfg,
		limiter:    limiter,
		requestID:  0,
	}, nil
}

// SetHttpClient allows setting a custom HTTP client. This is useful for
// testing or when custom HTTP client configuration is needed.
func (c *Client) SetHttpClient(client *http.Client) {
	c.httpClient = client
}

// GetHealth checks node health. This corresponds to the getHealth JSON-RPC
// method. A node that is not fully caught up returns an error.
func (c *Client) GetHealth(ctx context.Context) error {
	var result string
	if err := c.makeJSONRPCRequest(ctx, "getHealth", nil, &result); err != nil {
		return fmt.Errorf("%w: %v", ErrNodeUnhealthy, err)
	}
	if result != "ok" {
		return fmt.Errorf("%w: status %q", ErrNodeUnhealthy, result)
	}
	return nil
}

// GetEpochInfo returns the current epoch position. This corresponds to the
// getEpochInfo JSON-RPC method.
func (c *Client) GetEpochInfo(ctx context.Context) (*EpochInfo, error) {
	var result EpochInfo
	if err := c.makeJSONRPCRequest(ctx, "getEpochInfo", nil, &result); err != nil {
		return nil, fmt.Errorf("failed to get epoch info: %w", err)
	}
	return &result, nil
}

// GetEpochSchedule returns the cluster's epoch schedule. This corresponds to
// the getEpochSchedule JSON-RPC method.
func (c *Client) GetEpochSchedule(ctx context.Context) (*EpochSchedule, error) {
	var result EpochSchedule
	if err := c.makeJSONRPCRequest(ctx, "getEpochSchedule", nil, &result); err != nil {
		return nil, fmt.Errorf("failed to get epoch schedule: %w", err)
	}
	return &result, nil
}

// GetLeaderSchedule returns the leader schedule for the epoch containing the
// given slot, keyed by validator identity with slot indexes relative to the
// first slot of that epoch. This corresponds to the getLeaderSchedule
// JSON-RPC method.
func (c *Client) GetLeaderSchedule(ctx context.Context, slot types.Slot) (map[types.Identity][]uint64, error) {
	params := []interface{}{slot}
	var result map[types.Identity][]uint64
	if err := c.makeJSONRPCRequest(ctx, "getLeaderSchedule", params, &result); err != nil {
		return nil, fmt.Errorf("failed to get leader schedule: %w", err)
	}
	return result, nil
}

// GetFirstAvailableBlock returns the lowest slot the node still has a block
// for. This corresponds to the getFirstAvailableBlock JSON-RPC method.
func (c *Client) GetFirstAvailableBlock(ctx context.Context) (types.Slot, error) {
	var result types.Slot
	if err := c.makeJSONRPCRequest(ctx, "getFirstAvailableBlock", nil, &result); err != nil {
		return 0, fmt.Errorf("failed to get first available block: %w", err)
	}
	return result, nil
}

// GetBlocksInRange returns the confirmed slots in [first, last], inclusive.
// This corresponds to the getConfirmedBlocks JSON-RPC method.
func (c *Client) GetBlocksInRange(ctx context.Context, first, last types.Slot) ([]types.Slot, error) {
	params := []interface{}{first, last}
	var result []types.Slot
	if err := c.makeJSONRPCRequest(ctx, "getConfirmedBlocks", params, &result); err != nil {
		return nil, fmt.Errorf("failed to get confirmed blocks [%d, %d]: %w", first, last, err)
	}
	return result, nil
}

// GetVoteAccounts returns all current and delinquent vote accounts. This
// corresponds to the getVoteAccounts JSON-RPC method.
func (c *Client) GetVoteAccounts(ctx context.Context) (*VoteAccounts, error) {
	var result VoteAccounts
	if err := c.makeJSONRPCRequest(ctx, "getVoteAccounts", nil, &result); err != nil {
		return nil, fmt.Errorf("failed to get vote accounts: %w", err)
	}
	return &result, nil
}

// GetClusterNodes returns gossip metadata for every known node. This
// corresponds to the getClusterNodes JSON-RPC method.
func (c *Client) GetClusterNodes(ctx context.Context) ([]ClusterNode, error) {
	var result []ClusterNode
	if err := c.makeJSONRPCRequest(ctx, "getClusterNodes", nil, &result); err != nil {
		return nil, fmt.Errorf("failed to get cluster nodes: %w", err)
	}
	return result, nil
}

// GetBalance returns an account balance in base units. This corresponds to
// the getBalance JSON-RPC method.
func (c *Client) GetBalance(ctx context.Context, id types.Identity) (uint64, error) {
	params := []interface{}{id.String()}
	var result uint64
	if err := c.makeJSONRPCRequest(ctx, "getBalance", params, &result); err != nil {
		return 0, fmt.Errorf("failed to get balance for %s: %w", id, err)
	}
	return result, nil
}

// GetMinimumBalanceForRentExemption returns the minimum balance a new account
// of the given size needs to be rent exempt. This corresponds to the
// getMinimumBalanceForRentExemption JSON-RPC method.
func (c *Client) GetMinimumBalanceForRentExemption(ctx context.Context, dataLen uint64) (uint64, error) {
	params := []interface{}{dataLen}
	var result uint64
	if err := c.makeJSONRPCRequest(ctx, "getMinimumBalanceForRentExemption", params, &result); err != nil {
		return 0, fmt.Errorf("failed to get rent exemption minimum: %w", err)
	}
	return result, nil
}

// GetLatestSequenceToken returns a fresh sequence token to sign operations
// over. This corresponds to the getLatestSequenceToken JSON-RPC method.
func (c *Client) GetLatestSequenceToken(ctx context.Context) (SequenceToken, error) {
	var result SequenceToken
	if err := c.makeJSONRPCRequest(ctx, "getLatestSequenceToken", nil, &result); err != nil {
		return "", fmt.Errorf("failed to get sequence token: %w", err)
	}
	return result, nil
}

// SubmitOperation submits a signed operation envelope and returns its
// signature for status polling. This corresponds to the submitOperation
// JSON-RPC method.
func (c *Client) SubmitOperation(ctx context.Context, envelope *OperationEnvelope) (string, error) {
	params := []interface{}{envelope}
	var result string
	if err := c.makeJSONRPCRequest(ctx, "submitOperation", params, &result); err != nil {
		return "", fmt.Errorf("failed to submit operation: %w", err)
	}
	return result, nil
}

// GetOperationStatuses returns the confirmation state of previously submitted
// operations. This corresponds to the getOperationStatuses JSON-RPC method.
func (c *Client) GetOperationStatuses(ctx context.Context, signatures []string) ([]OperationStatus, error) {
	params := []interface{}{signatures}
	var result []OperationStatus
	if err := c.makeJSONRPCRequest(ctx, "getOperationStatuses", params, &result); err != nil {
		return nil, fmt.Errorf("failed to get operation statuses: %w", err)
	}
	return result, nil
}

// GetStakeAccount returns the state of one stake account, or
// ErrAccountNotFound when it does not exist. This corresponds to the
// getStakeAccount JSON-RPC method.
func (c *Client) GetStakeAccount(ctx context.Context, id types.Identity) (*StakeAccountInfo, error) {
	params := []interface{}{id.String()}
	var result *StakeAccountInfo
	if err := c.makeJSONRPCRequest(ctx, "getStakeAccount", params, &result); err != nil {
		return nil, fmt.Errorf("failed to get stake account %s: %w", id, err)
	}
	if result == nil {
		return nil, fmt.Errorf("stake account %s: %w", id, ErrAccountNotFound)
	}
	return result, nil
}

// GetPoolInfo returns the state of a pool account. This corresponds to the
// getPoolInfo JSON-RPC method.
func (c *Client) GetPoolInfo(ctx context.Context, pool types.Identity) (*PoolInfo, error) {
	params := []interface{}{pool.String()}
	var result *PoolInfo
	if err := c.makeJSONRPCRequest(ctx, "getPoolInfo", params, &result); err != nil {
		return nil, fmt.Errorf("failed to get pool info for %s: %w", pool, err)
	}
	if result == nil {
		return nil, fmt.Errorf("pool %s: %w", pool, ErrAccountNotFound)
	}
	return result, nil
}

// GetRegistryRecords returns every registration record owned by the given
// registry program. This corresponds to the getRegistryRecords JSON-RPC
// method.
func (c *Client) GetRegistryRecords(ctx context.Context, program types.Identity) ([]RegistryRecord, error) {
	params := []interface{}{program.String()}
	var result []RegistryRecord
	if err := c.makeJSONRPCRequest(ctx, "getRegistryRecords", params, &result); err != nil {
		return nil, fmt.Errorf("failed to get registry records: %w", err)
	}
	return result, nil
}

// makeJSONRPCRequest performs a JSON-RPC request to the ledger service.
func (c *Client) makeJSONRPCRequest(ctx context.Context, method string, params interface{}, result interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter wait failed: %w", err)
		}
	}

	id := atomic.AddInt64(&c.requestID, 1)

	request := JSONRPCRequest{
		Jsonrpc: "2.0",
		Method:  method,
		Params:  params,
		ID:      id,
	}

	requestData, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON-RPC request: %w", err)
	}

	url := strings.TrimSuffix(c.config.BaseURL, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(requestData))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	c.Logger.Sugar().Debugw("Making ledger JSON-RPC request",
		zap.String("method", method),
		zap.Int64("id", id),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("JSON-RPC request failed: %w", err)
	}
	defer resp.Body.Close()

	responseData, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return &LedgerError{
			Code:    resp.StatusCode,
			Message: fmt.Sprintf("HTTP error %d: %s", resp.StatusCode, string(responseData)),
		}
	}

	var jsonRPCResponse JSONRPCResponse
	if err := json.Unmarshal(responseData, &jsonRPCResponse); err != nil {
		return fmt.Errorf("failed to unmarshal JSON-RPC response: %w", err)
	}

	if jsonRPCResponse.Error != nil {
		return &LedgerError{
			Code:    jsonRPCResponse.Error.Code,
			Message: jsonRPCResponse.Error.Message,
		}
	}

	if result != nil && jsonRPCResponse.Result != nil {
		resultData, err := json.Marshal(jsonRPCResponse.Result)
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		if err := json.Unmarshal(resultData, result); err != nil {
			return fmt.Errorf("failed to unmarshal result: %w", err)
		}
	}

	return nil
}

// Package indexer is the thin read-only adapter to the external indexer
// that tracks on-chain resource-lock balances, pending withdrawals,
// settled claims, and registered compacts. No GraphQL client exists
// anywhere in the dependency corpus this service was built from, so the
// adapter is a plain JSON-over-HTTP client, matching the shape of this
// codebase's other external-service clients (KMS, gas-price oracles).
package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/the-compact/allocator/internal/metrics"
)

// Error wraps a failure talking to the indexer; callers surface it as a
// 502/500 at the HTTP boundary, never retrying inside the core.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string  { return fmt.Sprintf("indexer: %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error  { return e.Err }

// ResourceLock is the on-chain state of a single lock.
type ResourceLock struct {
	WithdrawalStatus int    `json:"withdrawalStatus"`
	Balance          string `json:"balance"` // decimal uint256
}

// AccountDelta is one signed pending outflow against a lock.
type AccountDelta struct {
	Delta string `json:"delta"` // decimal, signed
}

// Claim is a settled claim on a lock.
type Claim struct {
	ClaimHash string `json:"claimHash"`
}

// CompactDetails is the aggregate response for getCompactDetails.
type CompactDetails struct {
	ResourceLock  *ResourceLock  `json:"resourceLock"`
	AccountDeltas []AccountDelta `json:"accountDeltas"`
	Claims        []Claim        `json:"claims"`
}

// ResourceLockRef identifies one lock a sponsor holds.
type ResourceLockRef struct {
	ChainID          uint64 `json:"chainId"`
	LockID           string `json:"lockId"`
	AllocatorAddress string `json:"allocatorAddress"`
}

// SupportedChain is one entry of getSupportedChains.
type SupportedChain struct {
	ChainID     uint64 `json:"chainId"`
	AllocatorID string `json:"allocatorId"`
}

// RegisteredCompact is the optional on-chain registration record used by
// the registration-based sponsor-authorization fallback.
type RegisteredCompact struct {
	Expires  int64  `json:"expires"`
	Sponsor  string `json:"sponsor"`
	Typehash string `json:"typehash"`
	Claim    *struct {
		ClaimHash string `json:"claimHash"`
	} `json:"claim"`
}

// Client is the interface the balance engine, nonce service, and sponsor
// authorization logic depend on. The concrete HTTPClient below is the
// production implementation; tests substitute a fake.
type Client interface {
	GetCompactDetails(ctx context.Context, allocator, sponsor, lockID string, chainID uint64) (*CompactDetails, error)
	GetAllResourceLocks(ctx context.Context, sponsor string) ([]ResourceLockRef, error)
	GetSupportedChains(ctx context.Context, allocator string) ([]SupportedChain, error)
	GetRegisteredCompact(ctx context.Context, allocator, sponsor, claimHash string, chainID uint64) (*RegisteredCompact, error)
	IsNonceConsumedOnChain(ctx context.Context, chainID uint64, sponsor string, nonceVal *big.Int) (bool, error)
}

// HTTPClient is the production Client, a thin wrapper over net/http.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) get(ctx context.Context, op, path string, out interface{}) error {
	start := time.Now()
	err := c.doGet(ctx, path, out)
	metrics.IndexerCallDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.IndexerCallErrors.WithLabelValues(op).Inc()
	}
	return err
}

func (c *HTTPClient) doGet(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return &Error{Op: path, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Op: path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Op: path, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Error{Op: path, Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(body))}
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &Error{Op: path, Err: err}
	}
	return nil
}

func (c *HTTPClient) GetCompactDetails(ctx context.Context, allocator, sponsor, lockID string, chainID uint64) (*CompactDetails, error) {
	path := fmt.Sprintf("/compact-details?allocator=%s&sponsor=%s&lockId=%s&chainId=%d", allocator, sponsor, lockID, chainID)
	var out CompactDetails
	if err := c.get(ctx, "getCompactDetails", path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) GetAllResourceLocks(ctx context.Context, sponsor string) ([]ResourceLockRef, error) {
	path := fmt.Sprintf("/resource-locks?sponsor=%s", sponsor)
	var out []ResourceLockRef
	if err := c.get(ctx, "getAllResourceLocks", path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) GetSupportedChains(ctx context.Context, allocator string) ([]SupportedChain, error) {
	path := fmt.Sprintf("/supported-chains?allocator=%s", allocator)
	var out []SupportedChain
	if err := c.get(ctx, "getSupportedChains", path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) GetRegisteredCompact(ctx context.Context, allocator, sponsor, claimHash string, chainID uint64) (*RegisteredCompact, error) {
	path := fmt.Sprintf("/registered-compact?allocator=%s&sponsor=%s&claimHash=%s&chainId=%d", allocator, sponsor, claimHash, chainID)
	var out RegisteredCompact
	if err := c.get(ctx, "getRegisteredCompact", path, &out); err != nil {
		return nil, err
	}
	if out.Sponsor == "" {
		return nil, nil
	}
	return &out, nil
}

func (c *HTTPClient) IsNonceConsumedOnChain(ctx context.Context, chainID uint64, sponsor string, nonceVal *big.Int) (bool, error) {
	path := fmt.Sprintf("/nonce-consumed?sponsor=%s&nonce=%s&chainId=%d", sponsor, nonceVal.String(), chainID)
	var out struct {
		Consumed bool `json:"consumed"`
	}
	if err := c.get(ctx, "isNonceConsumedOnChain", path, &out); err != nil {
		return false, err
	}
	return out.Consumed, nil
}

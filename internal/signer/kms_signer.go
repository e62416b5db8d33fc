package signer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// KMSSigner delegates signing to a remote key-management service instead
// of holding the key in process memory, for deployments where the
// private key must never touch the allocator's own address space.
type KMSSigner struct {
	baseURL    string
	authToken  string
	keyAlias   string
	addr       common.Address
	httpClient *http.Client
}

type kmsSignRequest struct {
	KeyAlias string `json:"key_alias"`
	Digest   string `json:"digest"` // hex, 0x-prefixed
}

type kmsSignResponse struct {
	Success   bool   `json:"success"`
	Signature string `json:"signature,omitempty"` // hex compact (64-byte) signature
	Error     string `json:"error,omitempty"`
}

// NewKMSSigner constructs a KMS-backed signer and resolves the address
// bound to keyAlias via the service's key-listing endpoint.
func NewKMSSigner(baseURL, authToken, keyAlias string, timeout time.Duration) (*KMSSigner, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	s := &KMSSigner{
		baseURL:    baseURL,
		authToken:  authToken,
		keyAlias:   keyAlias,
		httpClient: &http.Client{Timeout: timeout},
	}
	addr, err := s.resolveAddress()
	if err != nil {
		return nil, fmt.Errorf("resolve KMS key address: %w", err)
	}
	s.addr = addr
	return s, nil
}

func (s *KMSSigner) Address() common.Address { return s.addr }

func (s *KMSSigner) Sign(ctx context.Context, digest [32]byte) ([]byte, error) {
	req := kmsSignRequest{KeyAlias: s.keyAlias, Digest: "0x" + common.Bytes2Hex(digest[:])}
	body, err := s.makeRequest(ctx, http.MethodPost, "/api/v1/allocator/sign", req)
	if err != nil {
		return nil, fmt.Errorf("KMS sign request failed: %w", err)
	}
	var resp kmsSignResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse KMS sign response: %w", err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("KMS sign failed: %s", resp.Error)
	}
	return common.FromHex(resp.Signature), nil
}

func (s *KMSSigner) resolveAddress() (common.Address, error) {
	body, err := s.makeRequest(context.Background(), http.MethodGet, "/api/v1/keys/"+s.keyAlias, nil)
	if err != nil {
		return common.Address{}, err
	}
	var resp struct {
		Success       bool   `json:"success"`
		PublicAddress string `json:"public_address"`
		Error         string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.Address{}, err
	}
	if !resp.Success {
		return common.Address{}, fmt.Errorf("%s", resp.Error)
	}
	return common.HexToAddress(resp.PublicAddress), nil
}

func (s *KMSSigner) makeRequest(ctx context.Context, method, path string, data interface{}) ([]byte, error) {
	var body io.Reader
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		body = bytes.NewBuffer(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "the-compact-allocator/1.0")
	if s.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.authToken)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

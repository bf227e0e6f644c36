// Package blockengine submits transaction bundles to a block engine over
// JSON-RPC.
package blockengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/swaprouter/internal/domain"
	"github.com/alanyoungcy/swaprouter/internal/mev"
)

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

// sendOptions rides along with the transactions in sendBundle.
type sendOptions struct {
	Encoding                 string `json:"encoding"`
	TipAccount               string `json:"tipAccount,omitempty"`
	TipLamports              uint64 `json:"tipLamports"`
	PriorityFeeMicroLamports uint64 `json:"priorityFeeMicroLamports"`
}

type bundleStatusValue struct {
	BundleID           string   `json:"bundle_id"`
	Transactions       []string `json:"transactions"`
	ConfirmationStatus string   `json:"confirmation_status"`
	Err                any      `json:"err"`
}

type bundleStatuses struct {
	Value []*bundleStatusValue `json:"value"`
}

// Client implements mev.BundleClient.
type Client struct {
	url        string
	authToken  string
	httpClient *http.Client
	nextID     atomic.Uint64
}

// NewClient creates a Client for the bundle endpoint, e.g.
// "https://mainnet.block-engine.example/api/v1/bundles".
func NewClient(url, authToken string) *Client {
	return &Client{
		url:       url,
		authToken: strings.TrimSpace(authToken),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SendBundle submits req and returns the engine's bundle ID.
func (c *Client) SendBundle(ctx context.Context, req mev.BundleRequest) (string, error) {
	opts := sendOptions{
		Encoding:                 "base64",
		TipAccount:               req.TipAccount,
		TipLamports:              req.TipLamports,
		PriorityFeeMicroLamports: req.PriorityFeeMicroLamports,
	}
	raw, err := c.call(ctx, "sendBundle", req.Transactions, opts)
	if err != nil {
		return "", fmt.Errorf("blockengine: send bundle: %w", err)
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return "", fmt.Errorf("blockengine: decode bundle id: %w", err)
	}
	if id == "" {
		return "", fmt.Errorf("blockengine: send bundle: empty bundle id")
	}
	return id, nil
}

// GetBundleStatus returns the status of bundleID. An unknown bundle is
// reported as pending.
func (c *Client) GetBundleStatus(ctx context.Context, bundleID string) (mev.BundleStatus, error) {
	raw, err := c.call(ctx, "getBundleStatuses", []string{bundleID})
	if err != nil {
		return mev.BundleStatus{}, fmt.Errorf("blockengine: bundle status %s: %w", bundleID, err)
	}
	var st bundleStatuses
	if err := json.Unmarshal(raw, &st); err != nil {
		return mev.BundleStatus{}, fmt.Errorf("blockengine: decode bundle status: %w", err)
	}
	if len(st.Value) == 0 || st.Value[0] == nil {
		return mev.BundleStatus{Status: domain.BundlePending}, nil
	}

	v := st.Value[0]
	out := mev.BundleStatus{Status: domain.BundlePending, Signatures: v.Transactions}
	if v.Err != nil && !isOkErr(v.Err) {
		out.Status = domain.BundleFailed
		b, _ := json.Marshal(v.Err)
		out.Error = string(b)
		return out, nil
	}
	switch v.ConfirmationStatus {
	case "processed", "confirmed", "finalized", "landed":
		out.Status = domain.BundleLanded
	case "failed", "invalid", "dropped":
		out.Status = domain.BundleFailed
		out.Error = v.ConfirmationStatus
	}
	return out, nil
}

// isOkErr recognises the {"Ok": null} shape engines use for "no error".
func isOkErr(v any) bool {
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}
	okVal, has := m["Ok"]
	return has && okVal == nil && len(m) == 1
}

func (c *Client) call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("x-jito-auth", c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var rr rpcResponse
	if err := json.Unmarshal(respBody, &rr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if rr.Error != nil {
		return nil, fmt.Errorf("rpc error %d: %s", rr.Error.Code, rr.Error.Message)
	}
	return rr.Result, nil
}

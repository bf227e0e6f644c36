// Package gateway talks to the transaction gateway that turns plans into
// signed transactions and submits them.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/swaprouter/internal/crypto"
	"github.com/alanyoungcy/swaprouter/internal/domain"
	"github.com/alanyoungcy/swaprouter/internal/executor"
)

type buildRequest struct {
	Plan   *domain.AtomicSwapPlan `json:"plan"`
	Wallet string                 `json:"wallet,omitempty"`
}

type buildResponse struct {
	Transactions []string `json:"transactions"`
}

type sendRequest struct {
	Transactions []string `json:"transactions"`
}

type sendResponse struct {
	Signatures   []string `json:"signatures"`
	OutputAmount string   `json:"output_amount"`
	Error        string   `json:"error,omitempty"`
}

// Client implements executor.Gateway.
type Client struct {
	baseURL    string
	auth       *crypto.HMACAuth
	httpClient *http.Client
}

// NewClient creates a gateway client. auth may be nil.
func NewClient(baseURL string, auth *crypto.HMACAuth, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		auth:    auth,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// BuildTransactions asks the gateway to encode and sign plan for wallet.
func (c *Client) BuildTransactions(ctx context.Context, plan *domain.AtomicSwapPlan, wallet string) ([]string, error) {
	body, status, err := c.doPost(ctx, "/v1/transactions/build", buildRequest{Plan: plan, Wallet: wallet})
	if err != nil {
		return nil, fmt.Errorf("gateway: build %s: %w", plan.ID, err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("gateway: build %s (HTTP %d): %s", plan.ID, status, string(body))
	}
	var out buildResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("gateway: decode build response: %w", err)
	}
	if len(out.Transactions) == 0 {
		return nil, fmt.Errorf("gateway: build %s: no transactions returned", plan.ID)
	}
	return out.Transactions, nil
}

// SendTransactions submits txs directly. A rejection by the chain (HTTP 409
// or 422) is reported as domain.ErrExecutionReverted.
func (c *Client) SendTransactions(ctx context.Context, txs []string) (executor.Submission, error) {
	body, status, err := c.doPost(ctx, "/v1/transactions/send", sendRequest{Transactions: txs})
	if err != nil {
		return executor.Submission{}, fmt.Errorf("gateway: send: %w", err)
	}

	var out sendResponse
	_ = json.Unmarshal(body, &out)
	switch {
	case status == http.StatusConflict || status == http.StatusUnprocessableEntity:
		return executor.Submission{}, fmt.Errorf("gateway: send: %w: %s", domain.ErrExecutionReverted, out.Error)
	case status != http.StatusOK:
		return executor.Submission{}, fmt.Errorf("gateway: send (HTTP %d): %s", status, string(body))
	}

	sub := executor.Submission{Signatures: out.Signatures}
	if out.OutputAmount != "" {
		amt, err := strconv.ParseFloat(out.OutputAmount, 64)
		if err != nil {
			return sub, fmt.Errorf("gateway: parse output amount %q: %w", out.OutputAmount, err)
		}
		sub.OutputAmount = amt
	}
	return sub, nil
}

func (c *Client) doPost(ctx context.Context, path string, payload any) ([]byte, int, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.auth.Sign(req, reqBody)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

// Package pool implements the destination-ledger yield protocol client.
package pool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/solturn/yieldbridge/internal/domain"
)

// Client implements domain.YieldPool against the lending protocol's HTTP API.
// Deposits and withdrawals are executed under the service's protocol account;
// the secret credential is loaded from the encrypted keystore at startup.
type Client struct {
	baseURL    string
	accountID  string
	credential string
	httpClient *http.Client
}

// NewClient creates a yield pool client. credential may be empty for
// read-only use (GetProtocolInfo only).
func NewClient(baseURL, accountID, credential string) *Client {
	return &Client{
		baseURL:    baseURL,
		accountID:  accountID,
		credential: credential,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type protocolInfoResponse struct {
	ProtocolName         string  `json:"protocol_name"`
	CurrentAPY           float64 `json:"current_apy"`
	TotalValueLocked     float64 `json:"total_value_locked"`
	MinDeposit           float64 `json:"min_deposit"`
	MaxDeposit           float64 `json:"max_deposit"`
	WithdrawalFeePercent float64 `json:"withdrawal_fee_percent"`
}

// GetProtocolInfo fetches the protocol's current lending terms.
func (c *Client) GetProtocolInfo(ctx context.Context) (domain.ProtocolInfo, error) {
	var resp protocolInfoResponse
	if err := c.doGet(ctx, "/v1/protocol", &resp); err != nil {
		return domain.ProtocolInfo{}, fmt.Errorf("pool: protocol info: %w", err)
	}

	return domain.ProtocolInfo{
		ProtocolName:         resp.ProtocolName,
		CurrentAPY:           resp.CurrentAPY,
		TotalValueLocked:     resp.TotalValueLocked,
		MinDeposit:           resp.MinDeposit,
		MaxDeposit:           resp.MaxDeposit,
		WithdrawalFeePercent: resp.WithdrawalFeePercent,
	}, nil
}

type depositRequest struct {
	AccountRef string  `json:"account_ref"`
	Amount     float64 `json:"amount"`
	PoolID     string  `json:"pool_id"`
}

type depositResponse struct {
	Success    bool    `json:"success"`
	TxRef      string  `json:"tx_ref"`
	CurrentAPY float64 `json:"current_apy"`
	Error      string  `json:"error"`
}

// Deposit supplies amount into poolID on behalf of accountRef.
func (c *Client) Deposit(ctx context.Context, accountRef string, amount float64, poolID string) (domain.PoolDeposit, error) {
	var resp depositResponse
	err := c.doPost(ctx, "/v1/deposits", depositRequest{
		AccountRef: accountRef,
		Amount:     amount,
		PoolID:     poolID,
	}, &resp)
	if err != nil {
		return domain.PoolDeposit{}, fmt.Errorf("pool: deposit %s: %w", accountRef, err)
	}
	if !resp.Success {
		return domain.PoolDeposit{}, fmt.Errorf("pool: deposit %s rejected: %s", accountRef, resp.Error)
	}

	return domain.PoolDeposit{
		TxRef:      resp.TxRef,
		CurrentAPY: resp.CurrentAPY,
	}, nil
}

type withdrawRequest struct {
	AccountRef string  `json:"account_ref"`
	Amount     float64 `json:"amount"`
}

type withdrawResponse struct {
	Success         bool    `json:"success"`
	TxRef           string  `json:"tx_ref"`
	WithdrawnAmount float64 `json:"withdrawn_amount"`
	Error           string  `json:"error"`
}

// Withdraw pulls amount back out of the protocol for accountRef.
func (c *Client) Withdraw(ctx context.Context, accountRef string, amount float64) (domain.PoolWithdrawal, error) {
	var resp withdrawResponse
	err := c.doPost(ctx, "/v1/withdrawals", withdrawRequest{
		AccountRef: accountRef,
		Amount:     amount,
	}, &resp)
	if err != nil {
		return domain.PoolWithdrawal{}, fmt.Errorf("pool: withdraw %s: %w", accountRef, err)
	}
	if !resp.Success {
		return domain.PoolWithdrawal{}, fmt.Errorf("pool: withdraw %s rejected: %s", accountRef, resp.Error)
	}

	return domain.PoolWithdrawal{
		TxRef:           resp.TxRef,
		WithdrawnAmount: resp.WithdrawnAmount,
	}, nil
}

func (c *Client) doPost(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	return c.do(req, out)
}

func (c *Client) doGet(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	c.authorize(req)

	return c.do(req, out)
}

func (c *Client) authorize(req *http.Request) {
	if c.accountID != "" {
		req.Header.Set("X-Account-Id", c.accountID)
	}
	if c.credential != "" {
		req.Header.Set("Authorization", "Bearer "+c.credential)
	}
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.YieldPool = (*Client)(nil)

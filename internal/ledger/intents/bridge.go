// Package intents implements the cross-chain bridge finalizer over the
// bridge-intents HTTP API.
package intents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/solturn/yieldbridge/internal/domain"
)

// Bridge implements domain.BridgeFinalizer against a bridge-intents service.
type Bridge struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewBridge creates a Bridge client for the given API root.
func NewBridge(baseURL, apiKey string) *Bridge {
	return &Bridge{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type quoteRequest struct {
	OwnerAddress string  `json:"owner_address"`
	Amount       float64 `json:"amount"`
}

type quoteResponse struct {
	BridgeAddress  string  `json:"bridge_address"`
	ExpectedAmount float64 `json:"expected_amount"`
	ETAMinutes     int     `json:"eta_minutes"`
	FeePercent     float64 `json:"fee_percent"`
	IntentID       string  `json:"intent_id"`
	EncodedArgs    string  `json:"encoded_args"`
	MinAmount      float64 `json:"min_amount"`
}

// GetDepositQuote asks the bridge for a deposit address and terms.
func (b *Bridge) GetDepositQuote(ctx context.Context, ownerAddress string, amount float64) (domain.DepositQuote, error) {
	var resp quoteResponse
	err := b.doPost(ctx, "/v1/quotes", quoteRequest{
		OwnerAddress: ownerAddress,
		Amount:       amount,
	}, &resp)
	if err != nil {
		return domain.DepositQuote{}, fmt.Errorf("intents: deposit quote for %s: %w", ownerAddress, err)
	}

	return domain.DepositQuote{
		BridgeAddress:  resp.BridgeAddress,
		ExpectedAmount: resp.ExpectedAmount,
		ETAMinutes:     resp.ETAMinutes,
		FeePercent:     resp.FeePercent,
		IntentID:       resp.IntentID,
		EncodedArgs:    resp.EncodedArgs,
		MinAmount:      resp.MinAmount,
	}, nil
}

type finalizeRequest struct {
	OwnerAddress string `json:"owner_address"`
	TxRef        string `json:"tx_ref"`
	OutputIndex  int    `json:"output_index"`
	EncodedArgs  string `json:"encoded_args"`
}

type finalizeResponse struct {
	Success          bool    `json:"success"`
	DestinationTxRef string  `json:"destination_tx_ref"`
	MintedAmount     float64 `json:"minted_amount"`
	Error            string  `json:"error"`
}

// FinalizeDeposit asks the bridge to mint against a confirmed source payment.
func (b *Bridge) FinalizeDeposit(ctx context.Context, ownerAddress, txRef string, outputIndex int, encodedArgs string) (domain.FinalizeResult, error) {
	var resp finalizeResponse
	err := b.doPost(ctx, "/v1/deposits/finalize", finalizeRequest{
		OwnerAddress: ownerAddress,
		TxRef:        txRef,
		OutputIndex:  outputIndex,
		EncodedArgs:  encodedArgs,
	}, &resp)
	if err != nil {
		return domain.FinalizeResult{}, fmt.Errorf("intents: finalize deposit %s: %w", txRef, err)
	}
	if !resp.Success {
		return domain.FinalizeResult{}, fmt.Errorf("intents: finalize deposit %s rejected: %s", txRef, resp.Error)
	}

	return domain.FinalizeResult{
		DestinationTxRef: resp.DestinationTxRef,
		MintedAmount:     resp.MintedAmount,
	}, nil
}

type withdrawalRequest struct {
	OwnerAddress       string  `json:"owner_address"`
	DestinationAddress string  `json:"destination_address"`
	Amount             float64 `json:"amount"`
}

type withdrawalResponse struct {
	Success          bool   `json:"success"`
	PendingID        string `json:"pending_id"`
	DestinationTxRef string `json:"destination_tx_ref"`
	ETAMinutes       int    `json:"eta_minutes"`
	Error            string `json:"error"`
}

// InitiateWithdrawal starts the reverse bridge transfer.
func (b *Bridge) InitiateWithdrawal(ctx context.Context, ownerAddress, destinationAddress string, amount float64) (domain.WithdrawalInit, error) {
	var resp withdrawalResponse
	err := b.doPost(ctx, "/v1/withdrawals", withdrawalRequest{
		OwnerAddress:       ownerAddress,
		DestinationAddress: destinationAddress,
		Amount:             amount,
	}, &resp)
	if err != nil {
		return domain.WithdrawalInit{}, fmt.Errorf("intents: initiate withdrawal for %s: %w", ownerAddress, err)
	}
	if !resp.Success {
		return domain.WithdrawalInit{}, fmt.Errorf("intents: withdrawal for %s rejected: %s", ownerAddress, resp.Error)
	}

	return domain.WithdrawalInit{
		PendingRef:       resp.PendingID,
		DestinationTxRef: resp.DestinationTxRef,
		ETAMinutes:       resp.ETAMinutes,
	}, nil
}

type withdrawalStatusResponse struct {
	Status      string `json:"status"` // pending, completed, failed
	SourceTxRef string `json:"source_tx_ref"`
	Error       string `json:"error"`
}

// FinalizeWithdrawal polls the state of an in-flight reverse transfer.
// Completed=false with a nil error means the transfer is still pending.
func (b *Bridge) FinalizeWithdrawal(ctx context.Context, ownerAddress, pendingRef string) (domain.WithdrawalFinal, error) {
	path := fmt.Sprintf("/v1/withdrawals/%s?owner=%s",
		url.PathEscape(pendingRef), url.QueryEscape(ownerAddress))

	var resp withdrawalStatusResponse
	if err := b.doGet(ctx, path, &resp); err != nil {
		return domain.WithdrawalFinal{}, fmt.Errorf("intents: withdrawal status %s: %w", pendingRef, err)
	}

	switch resp.Status {
	case "completed":
		return domain.WithdrawalFinal{Completed: true, SourceTxRef: resp.SourceTxRef}, nil
	case "pending":
		return domain.WithdrawalFinal{}, nil
	default:
		return domain.WithdrawalFinal{}, fmt.Errorf("intents: withdrawal %s failed: %s", pendingRef, resp.Error)
	}
}

func (b *Bridge) doPost(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	return b.do(req, out)
}

func (b *Bridge) doGet(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	return b.do(req, out)
}

func (b *Bridge) do(req *http.Request, out any) error {
	resp, err := b.httpClient.Do(req)
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
var _ domain.BridgeFinalizer = (*Bridge)(nil)

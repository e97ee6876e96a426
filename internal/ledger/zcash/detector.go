// Package zcash implements the source-ledger deposit detector over the
// zcashd JSON-RPC interface.
package zcash

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

// Detector implements domain.DepositDetector against a zcashd node. It
// watches transparent outputs only; minConfirmations decides when a payment
// counts as confirmed.
type Detector struct {
	rpcURL           string
	rpcUser          string
	rpcPassword      string
	minConfirmations int
	httpClient       *http.Client
}

// NewDetector creates a Detector for the given zcashd RPC endpoint.
func NewDetector(rpcURL, rpcUser, rpcPassword string, minConfirmations int) *Detector {
	return &Detector{
		rpcURL:           rpcURL,
		rpcUser:          rpcUser,
		rpcPassword:      rpcPassword,
		minConfirmations: minConfirmations,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
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

// unspentOutput mirrors one entry of a listunspent response.
type unspentOutput struct {
	TxID          string  `json:"txid"`
	Vout          int     `json:"vout"`
	Address       string  `json:"address"`
	Amount        float64 `json:"amount"`
	Confirmations int     `json:"confirmations"`
}

// DetectDeposits returns unspent transparent outputs paying address with
// amount >= minAmount, newest first. Zero-confirmation outputs are included
// so callers can surface detected-but-unconfirmed payments.
func (d *Detector) DetectDeposits(ctx context.Context, address string, minAmount float64) ([]domain.DetectedDeposit, error) {
	var outputs []unspentOutput
	if err := d.call(ctx, "listunspent", []any{0, 9999999, []string{address}}, &outputs); err != nil {
		return nil, fmt.Errorf("zcash: list unspent for %s: %w", address, err)
	}

	var tip int64
	if err := d.call(ctx, "getblockcount", []any{}, &tip); err != nil {
		return nil, fmt.Errorf("zcash: get block count: %w", err)
	}

	var deposits []domain.DetectedDeposit
	for _, out := range outputs {
		if out.Amount < minAmount {
			continue
		}
		dep := domain.DetectedDeposit{
			TxRef:         out.TxID,
			OutputIndex:   out.Vout,
			Amount:        out.Amount,
			Confirmations: out.Confirmations,
			Timestamp:     time.Now().UTC(),
			Confirmed:     out.Confirmations >= d.minConfirmations,
		}
		if out.Confirmations > 0 {
			dep.BlockHeight = tip - int64(out.Confirmations) + 1
		}
		deposits = append(deposits, dep)
	}

	// Newest first: fewer confirmations means more recent.
	for i := 0; i < len(deposits); i++ {
		for j := i + 1; j < len(deposits); j++ {
			if deposits[j].Confirmations < deposits[i].Confirmations {
				deposits[i], deposits[j] = deposits[j], deposits[i]
			}
		}
	}

	return deposits, nil
}

// call performs a single JSON-RPC request and decodes the result into out.
func (d *Detector) call(ctx context.Context, method string, params []any, out any) error {
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "1.0",
		ID:      "yieldbridge",
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.rpcURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.rpcUser != "" {
		req.SetBasicAuth(d.rpcUser, d.rpcPassword)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read body: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: status %d: %s", method, resp.StatusCode, string(body))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("%s: rpc error %d: %s", method, rpcResp.Error.Code, rpcResp.Error.Message)
	}

	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.DepositDetector = (*Detector)(nil)

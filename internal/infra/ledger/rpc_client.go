// File: internal/infra/ledger/rpc_client.go
package ledger

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/mr-tron/base58"
	"github.com/rs/zerolog"

	"delegated-billing/internal/domain/ports/adapter"
	"delegated-billing/internal/infra/metrics"
)

var _ adapter.LedgerClient = (*RPCClient)(nil)

// RetryPolicy bounds the internal retries on transient RPC failures.
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseBackoff: 200 * time.Millisecond, MaxBackoff: 2 * time.Second}
}

// RPCClient talks JSON-RPC to a ledger node over a single reused HTTP
// connection pool. It is advisory only: submission acceptance is never
// treated as proof of transfer; the charge executor verifies balances
// independently around every call.
//
// Fee policy: the delegate key is the fee payer for every transfer it signs
// (the delegate is funded with a small native balance at grant time).
type RPCClient struct {
	url    string
	client *http.Client
	retry  RetryPolicy
	nextID uint64
	log    *zerolog.Logger
}

func NewRPCClient(url string, retry RetryPolicy, logger *zerolog.Logger) *RPCClient {
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryPolicy()
	}
	l := logger.With().Str("component", "LedgerRPC").Logger()
	return &RPCClient{
		url:    url,
		client: &http.Client{Timeout: 15 * time.Second},
		retry:  retry,
		log:    &l,
	}
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      uint64      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string { return fmt.Sprintf("rpc %d: %s", e.Code, e.Message) }

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// Node-side throttling/sync errors worth retrying. Anything else the node
// reports is a fact about the request, not the connection.
func (e *rpcError) transient() bool {
	switch e.Code {
	case -32005, -32004: // node unhealthy / behind
		return true
	}
	return false
}

// call performs one JSON-RPC round trip with bounded exponential backoff on
// transient failures. Permanent errors short-circuit immediately.
func (c *RPCClient) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	var lastErr error
	backoff := c.retry.BaseBackoff
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		err := c.callOnce(ctx, method, params, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if adapter.IsPermanent(err) {
			return err
		}
		metrics.IncLedgerRetry(method)
		if attempt == c.retry.MaxAttempts || ctx.Err() != nil {
			break
		}
		// full backoff plus up to 25% jitter, capped
		sleep := backoff + time.Duration(rand.Int63n(int64(backoff)/4+1))
		if sleep > c.retry.MaxBackoff {
			sleep = c.retry.MaxBackoff
		}
		c.log.Debug().Str("method", method).Int("attempt", attempt).Dur("backoff", sleep).Msg("retrying ledger call")
		select {
		case <-ctx.Done():
			return &adapter.TransientError{Err: ctx.Err()}
		case <-time.After(sleep):
		}
		backoff *= 2
	}
	return lastErr
}

func (c *RPCClient) callOnce(ctx context.Context, method string, params interface{}, out interface{}) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      atomic.AddUint64(&c.nextID, 1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return &adapter.PermanentError{Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return &adapter.PermanentError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return &adapter.TransientError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return &adapter.TransientError{Err: fmt.Errorf("node returned %s", resp.Status)}
	}
	if resp.StatusCode != http.StatusOK {
		return &adapter.PermanentError{Err: fmt.Errorf("node returned %s", resp.Status)}
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return &adapter.TransientError{Err: fmt.Errorf("decode response: %w", err)}
	}
	if rpcResp.Error != nil {
		if rpcResp.Error.transient() {
			return &adapter.TransientError{Err: rpcResp.Error}
		}
		return &adapter.PermanentError{Err: rpcResp.Error}
	}
	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return &adapter.PermanentError{Err: fmt.Errorf("decode result: %w", err)}
		}
	}
	return nil
}

func (c *RPCClient) GetBalance(ctx context.Context, account string) (int64, error) {
	var res struct {
		Value int64 `json:"value"`
	}
	if err := c.call(ctx, "getBalance", []string{account}, &res); err != nil {
		return 0, err
	}
	return res.Value, nil
}

func (c *RPCClient) GetAllowance(ctx context.Context, sourceAccount, delegatePublic string) (int64, error) {
	var res struct {
		Delegate string `json:"delegate"`
		Value    int64  `json:"value"`
	}
	if err := c.call(ctx, "getDelegatedAllowance", []string{sourceAccount, delegatePublic}, &res); err != nil {
		return 0, err
	}
	if res.Delegate != "" && res.Delegate != delegatePublic {
		// The account's delegation slot is held by someone else: the grant
		// was superseded on-ledger. That is not retryable.
		return 0, &adapter.PermanentError{Err: fmt.Errorf("delegation slot held by %s", res.Delegate)}
	}
	return res.Value, nil
}

// anchor is a recent finality reference the node requires on every
// submission. Stale anchors make the node reject the transfer as expired, so
// one is fetched immediately before signing and never cached or reused: the
// ordering fetch -> sign -> submit is a correctness rule, not an optimization.
type anchor struct {
	Value        string `json:"value"`
	ValidUntilMs int64  `json:"valid_until_ms"`
}

func (c *RPCClient) recentAnchor(ctx context.Context) (anchor, error) {
	var a anchor
	if err := c.call(ctx, "getRecentAnchor", nil, &a); err != nil {
		return anchor{}, err
	}
	if a.ValidUntilMs > 0 && time.Now().UnixMilli() >= a.ValidUntilMs {
		return anchor{}, &adapter.TransientError{Err: fmt.Errorf("node returned expired anchor")}
	}
	return a, nil
}

func (c *RPCClient) SubmitDelegatedTransfer(ctx context.Context, req adapter.TransferRequest) (string, error) {
	a, err := c.recentAnchor(ctx)
	if err != nil {
		return "", err
	}

	delegatePub := base58.Encode(req.DelegateSecret.Public().(ed25519.PublicKey))
	payload := transferPayload(req.SourceAccount, req.DestinationAccount, delegatePub, req.Amount, a.Value)
	sig := ed25519.Sign(req.DelegateSecret, payload)

	var res struct {
		TxRef string `json:"tx_ref"`
	}
	err = c.call(ctx, "submitDelegatedTransfer", map[string]interface{}{
		"source":      req.SourceAccount,
		"destination": req.DestinationAccount,
		"delegate":    delegatePub,
		"fee_payer":   delegatePub,
		"amount":      req.Amount,
		"anchor":      a.Value,
		"signature":   base58.Encode(sig),
	}, &res)
	if err != nil {
		return "", err
	}
	if res.TxRef == "" {
		return "", &adapter.PermanentError{Err: fmt.Errorf("node accepted transfer without a reference")}
	}
	return res.TxRef, nil
}

func (c *RPCClient) Confirm(ctx context.Context, txRef string) (adapter.ConfirmationStatus, error) {
	var res struct {
		Status string `json:"status"`
	}
	if err := c.call(ctx, "getTransferStatus", []string{txRef}, &res); err != nil {
		return "", err
	}
	switch res.Status {
	case "finalized":
		return adapter.ConfirmationFinalized, nil
	case "failed":
		return adapter.ConfirmationFailed, nil
	default:
		return adapter.ConfirmationPending, nil
	}
}

// transferPayload is the canonical byte sequence the delegate signs. Field
// order and separators are part of the wire contract with the node.
func transferPayload(source, dest, delegate string, amount int64, anchorValue string) []byte {
	buf := make([]byte, 0, 128)
	buf = append(buf, "xfer/1|"...)
	buf = append(buf, source...)
	buf = append(buf, '|')
	buf = append(buf, dest...)
	buf = append(buf, '|')
	buf = append(buf, delegate...)
	buf = append(buf, '|')
	buf = strconv.AppendInt(buf, amount, 10)
	buf = append(buf, '|')
	buf = append(buf, anchorValue...)
	return buf
}

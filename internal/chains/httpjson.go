package chains

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rawblock/wallet-investigator/pkg/models"
)

const maxBodyBytes = 10 << 20

// jsonClient is the shared HTTP/JSON transport for REST explorers and
// JSON-RPC nodes. HTTP 429 and JSON-RPC rate-limit codes are surfaced as
// models.ErrRateLimited so the paginator can back off.
type jsonClient struct {
	hc    *http.Client
	reqID atomic.Int64
}

func newJSONClient(timeout time.Duration) *jsonClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &jsonClient{hc: &http.Client{Timeout: timeout}}
}

func (c *jsonClient) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req, out)
}

func (c *jsonClient) postJSON(ctx context.Context, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *jsonClient) do(req *http.Request, out any) error {
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// Never echo the full URL, it may carry an API key.
	where := req.URL.Host + req.URL.Path
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("HTTP 429 from %s: %w", where, models.ErrRateLimited)
	case resp.StatusCode >= 400:
		return fmt.Errorf("HTTP %d from %s", resp.StatusCode, where)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", where, err)
	}
	return nil
}

// ─── JSON-RPC 2.0 ──────────────────────────────────────────────────────────

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// callRPC invokes method and decodes its result into out.
func (c *jsonClient) callRPC(ctx context.Context, url, method string, params []any, out any) error {
	req := rpcRequest{JSONRPC: "2.0", ID: c.reqID.Add(1), Method: method, Params: params}

	var resp rpcResponse
	if err := c.postJSON(ctx, url, req, &resp); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	if resp.Error != nil {
		// 429 is what Solana RPC gateways use for throttling
		if resp.Error.Code == http.StatusTooManyRequests || resp.Error.Code == -32429 {
			return fmt.Errorf("%s: %v: %w", method, resp.Error, models.ErrRateLimited)
		}
		return fmt.Errorf("%s: %w", method, resp.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}

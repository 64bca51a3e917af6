package payment

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

	"golang.org/x/time/rate"
)

// LNbitsClient implements Client against an LNbits wallet API. Outbound calls
// are throttled so a burst of polls cannot trip the backend's own limits.
type LNbitsClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	now        func() time.Time
}

// NewLNbitsClient creates a client for the wallet at baseURL. apiKey must be
// an admin key for Pay to work. rps <= 0 disables throttling.
func NewLNbitsClient(baseURL, apiKey string, rps float64) *LNbitsClient {
	limit := rate.Inf
	burst := 1
	if rps > 0 {
		limit = rate.Limit(rps)
		burst = int(rps) + 1
	}
	return &LNbitsClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    rate.NewLimiter(limit, burst),
		now:        time.Now,
	}
}

type createInvoiceRequest struct {
	Out    bool   `json:"out"`
	Amount int64  `json:"amount"`
	Memo   string `json:"memo"`
	Expiry int64  `json:"expiry,omitempty"`
}

type createInvoiceResponse struct {
	PaymentHash    string `json:"payment_hash"`
	PaymentRequest string `json:"payment_request"`
	Bolt11         string `json:"bolt11"`
}

// CreateInvoice implements Client.
func (c *LNbitsClient) CreateInvoice(ctx context.Context, amountSats int64, memo string, expiry time.Duration) (*Invoice, error) {
	var out createInvoiceResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/payments", createInvoiceRequest{
		Amount: amountSats,
		Memo:   memo,
		Expiry: int64(expiry / time.Second),
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("create invoice: %w", err)
	}
	req := out.PaymentRequest
	if req == "" {
		req = out.Bolt11
	}
	if out.PaymentHash == "" || req == "" {
		return nil, fmt.Errorf("create invoice: backend returned an incomplete invoice")
	}
	return &Invoice{
		PaymentRequest: req,
		PaymentHash:    out.PaymentHash,
		AmountSats:     amountSats,
		ExpiresAt:      c.now().Add(expiry),
	}, nil
}

type paymentStatusResponse struct {
	Paid     bool   `json:"paid"`
	Preimage string `json:"preimage"`
	Details  struct {
		Status string          `json:"status"`
		Expiry json.RawMessage `json:"expiry"`
	} `json:"details"`
}

// InvoiceStatus implements Client.
func (c *LNbitsClient) InvoiceStatus(ctx context.Context, paymentHash string) (*InvoiceStatus, error) {
	var out paymentStatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/payments/"+paymentHash, nil, &out); err != nil {
		return nil, fmt.Errorf("invoice status: %w", err)
	}
	st := &InvoiceStatus{Paid: out.Paid, Preimage: out.Preimage}
	if !st.Paid {
		switch out.Details.Status {
		case "expired", "failed":
			st.Expired = true
		default:
			if exp, ok := parseExpiry(out.Details.Expiry); ok && c.now().After(exp) {
				st.Expired = true
			}
		}
	}
	return st, nil
}

type payRequest struct {
	Out    bool   `json:"out"`
	Bolt11 string `json:"bolt11"`
}

// Pay implements Client.
func (c *LNbitsClient) Pay(ctx context.Context, bolt11 string) (string, error) {
	var out createInvoiceResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/payments", payRequest{Out: true, Bolt11: bolt11}, &out); err != nil {
		return "", fmt.Errorf("pay invoice: %w", err)
	}
	return out.PaymentHash, nil
}

func (c *LNbitsClient) do(ctx context.Context, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrUnknownInvoice
	}
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("backend returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// parseExpiry accepts either a unix timestamp or an RFC 3339 string; LNbits
// has used both across versions.
func parseExpiry(raw json.RawMessage) (time.Time, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t, true
		}
		if t, err := time.Parse("2006-01-02T15:04:05.999999", s); err == nil {
			return t, true
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return time.Unix(int64(n), 0), true
		}
		return time.Time{}, false
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil && n > 0 {
		return time.Unix(int64(n), 0), true
	}
	return time.Time{}, false
}

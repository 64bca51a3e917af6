package transport

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// SignatureHeader carries the HMAC-SHA256 of the request body on both
// inbound mentions and outbound replies.
const SignatureHeader = "X-FitBounty-Signature"

// MetricsRecorder is an optional callback for recording delivery outcomes.
type MetricsRecorder func(success bool)

// BridgePublisher posts replies to the relay bridge over HTTP. The bridge
// signs and broadcasts the event and answers with the number of relays that
// accepted it.
type BridgePublisher struct {
	url        string
	secret     string
	httpClient *http.Client
	delays     []time.Duration
	onMetrics  MetricsRecorder
	logger     *zap.Logger
}

// NewBridgePublisher creates a BridgePublisher. An empty secret sends
// unsigned requests.
func NewBridgePublisher(url, secret string, logger *zap.Logger) *BridgePublisher {
	return &BridgePublisher{
		url:        url,
		secret:     secret,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		// Retry with backoff: immediately, then 1s, then 5s.
		delays: []time.Duration{0, 1 * time.Second, 5 * time.Second},
		logger: logger,
	}
}

// SetMetricsRecorder configures the metrics callback.
func (p *BridgePublisher) SetMetricsRecorder(fn MetricsRecorder) {
	p.onMetrics = fn
}

// SetRetryDelays replaces the per-attempt delays. The number of entries is
// the number of attempts.
func (p *BridgePublisher) SetRetryDelays(d []time.Duration) {
	if len(d) > 0 {
		p.delays = d
	}
}

type bridgeResponse struct {
	Accepted int `json:"accepted"`
}

// Publish implements Publisher.
func (p *BridgePublisher) Publish(ctx context.Context, r Reply) (int, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return 0, fmt.Errorf("%w: marshal reply: %v", ErrPublish, err)
	}
	signature := ""
	if p.secret != "" {
		signature = Sign(body, p.secret)
	}

	var lastErr error
	for attempt, delay := range p.delays {
		if delay > 0 {
			select {
			case <-ctx.Done():
				return 0, fmt.Errorf("%w: %v", ErrPublish, ctx.Err())
			case <-time.After(delay):
			}
		}

		accepted, err := p.deliver(ctx, body, signature)
		if p.onMetrics != nil {
			p.onMetrics(err == nil)
		}
		if err == nil {
			return accepted, nil
		}
		lastErr = err
		p.logger.Warn("reply delivery failed",
			zap.String("in_reply_to", r.InReplyTo),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return 0, fmt.Errorf("%w: %v", ErrPublish, lastErr)
}

func (p *BridgePublisher) deliver(ctx context.Context, body []byte, signature string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1024)) //nolint:errcheck
		return 0, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	var out bridgeResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode bridge response: %w", err)
	}
	if out.Accepted == 0 {
		return 0, fmt.Errorf("no relay accepted the reply")
	}
	return out.Accepted, nil
}

// Sign computes the HMAC-SHA256 signature header value for body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature is a valid Sign value for body.
func VerifySignature(body []byte, secret, signature string) bool {
	if !strings.HasPrefix(signature, "sha256=") {
		return false
	}
	return hmac.Equal([]byte(Sign(body, secret)), []byte(signature))
}

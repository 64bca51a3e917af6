package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	// ErrNotFound is wrapped by APIError for 404 responses.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized is wrapped by APIError for 401 responses.
	ErrUnauthorized = errors.New("unauthorized")
)

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps well-known status codes to sentinel errors.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusUnauthorized:
		return ErrUnauthorized
	}
	return nil
}

// ─── Wire types ──────────────────────────────────────────────────────────────

// Exercise describes the activity a challenge commits to.
type Exercise struct {
	Description     string `json:"description"`
	Type            string `json:"type"`
	Count           int    `json:"count"`
	Frequency       string `json:"frequency"`
	FullDescription string `json:"full_description"`
}

// Penalty is the stake of a penalty bet.
type Penalty struct {
	AmountSats int64  `json:"amount_sats"`
	Recipient  string `json:"recipient"`
}

// Pledge is one contribution to a bounty pool.
type Pledge struct {
	Contributor string `json:"contributor"`
	AmountSats  int64  `json:"amount_sats"`
	PaymentHash string `json:"payment_hash"`
	Paid        bool   `json:"paid"`
}

// Bounty is the pledged pool of a bounty challenge.
type Bounty struct {
	AmountSats int64    `json:"amount_sats"`
	Pledges    []Pledge `json:"pledges"`
}

// Escrow is the payment state of a challenge.
type Escrow struct {
	PaymentRequest string `json:"payment_request,omitempty"`
	PaymentHash    string `json:"payment_hash,omitempty"`
	ConfirmationID string `json:"confirmation_id,omitempty"`
	Paid           bool   `json:"paid"`
	PayoutHash     string `json:"payout_hash,omitempty"`
	PayoutPending  bool   `json:"payout_pending,omitempty"`
}

// DayProgress is the recorded result of one challenge day.
type DayProgress struct {
	Completed  bool      `json:"completed"`
	ProofRef   string    `json:"proof_ref,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Challenge is the challenge record returned by the API.
type Challenge struct {
	ID                string   `json:"id"`
	Kind              string   `json:"kind"`
	Owner             string   `json:"owner"`
	OriginalMessageID string   `json:"original_message_id,omitempty"`
	Exercise          Exercise `json:"exercise"`
	Duration          struct {
		Days    int        `json:"days"`
		EndDate *time.Time `json:"end_date,omitempty"`
	} `json:"duration"`
	Penalty     *Penalty               `json:"penalty,omitempty"`
	Bounty      *Bounty                `json:"bounty,omitempty"`
	Status      string                 `json:"status"`
	Escrow      Escrow                 `json:"escrow"`
	Progress    map[string]DayProgress `json:"daily_progress"`
	CreatedAt   time.Time              `json:"created_at"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
}

// ParseResult is the outcome of a dry-run resolution. Ignored is set when the
// text does not address the bot.
type ParseResult struct {
	Ignored    bool           `json:"ignored,omitempty"`
	Command    string         `json:"command"`
	Params     map[string]any `json:"params"`
	Confidence float64        `json:"confidence"`
	RuleID     string         `json:"rule_id,omitempty"`
	ErrorKind  string         `json:"error_kind,omitempty"`
	Errors     []string       `json:"errors,omitempty"`
}

// LeaderboardEntry is one owner's record.
type LeaderboardEntry struct {
	Owner      string `json:"owner"`
	Completed  int    `json:"completed"`
	Failed     int    `json:"failed"`
	SatsEarned int64  `json:"sats_earned"`
}

// Leaderboard is the ranking returned by GET /api/v1/leaderboard.
type Leaderboard struct {
	Top             []LeaderboardEntry `json:"top"`
	Total           int                `json:"total"`
	SuccessRate     int                `json:"success_rate"`
	TotalSatsEarned int64              `json:"total_sats_earned"`
}

// ListOptions narrows ListChallenges. Zero values mean "any".
type ListOptions struct {
	Status string
	Kind   string
	Owner  string
	Limit  int
	Offset int
}

// LedgerEntry is one audit record.
type LedgerEntry struct {
	Index       int       `json:"index"`
	Timestamp   time.Time `json:"timestamp"`
	ChallengeID string    `json:"challenge_id,omitempty"`
	Action      string    `json:"action"`
	Actor       string    `json:"actor"`
	Hash        string    `json:"hash"`
}

// ─── Client ──────────────────────────────────────────────────────────────────

// Client talks to one FitBounty API server.
type Client struct {
	base       string
	httpClient *http.Client
	cache      *leaderboardCache

	mu          sync.Mutex
	bearerToken string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithBearerToken attaches a previously issued admin token to every request.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		return nil
	}
}

// WithLeaderboardCache caches leaderboard responses for ttl.
func WithLeaderboardCache(ttl time.Duration) Option {
	return func(c *Client) error {
		c.cache = newLeaderboardCache(ttl)
		return nil
	}
}

// New creates a Client for the API at base, e.g. "http://localhost:8080".
func New(base string, opts ...Option) (*Client, error) {
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", base, err)
	}
	c := &Client{
		base:       strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error.
func MustNew(base string, opts ...Option) *Client {
	c, err := New(base, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Token returns the bearer token currently attached to requests.
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bearerToken
}

// ─── Public queries ──────────────────────────────────────────────────────────

// Parse resolves text without executing it.
func (c *Client) Parse(ctx context.Context, text string, tags [][]string) (*ParseResult, error) {
	var out ParseResult
	err := c.doJSON(ctx, http.MethodPost, "/api/v1/parse", map[string]any{"text": text, "tags": tags}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetChallenge fetches a challenge by id.
func (c *Client) GetChallenge(ctx context.Context, id string) (*Challenge, error) {
	var out Challenge
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/challenges/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListChallenges returns challenges matching opts, newest first.
func (c *Client) ListChallenges(ctx context.Context, opts ListOptions) ([]Challenge, error) {
	q := url.Values{}
	if opts.Status != "" {
		q.Set("status", opts.Status)
	}
	if opts.Kind != "" {
		q.Set("kind", opts.Kind)
	}
	if opts.Owner != "" {
		q.Set("owner", opts.Owner)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	path := "/api/v1/challenges"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var wrapper struct {
		Challenges []Challenge `json:"challenges"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &wrapper); err != nil {
		return nil, err
	}
	return wrapper.Challenges, nil
}

// NeedingCheck returns active challenges whose end date has passed.
func (c *Client) NeedingCheck(ctx context.Context) ([]Challenge, error) {
	var wrapper struct {
		Challenges []Challenge `json:"challenges"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/challenges/needing-check", nil, &wrapper); err != nil {
		return nil, err
	}
	return wrapper.Challenges, nil
}

// UserChallenge returns the open or most recent challenge of an identity
// (hex key or npub).
func (c *Client) UserChallenge(ctx context.Context, identity string) (*Challenge, error) {
	var out Challenge
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/users/"+url.PathEscape(identity)+"/challenge", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Leaderboard returns the top limit owners and overall totals.
func (c *Client) Leaderboard(ctx context.Context, limit int) (*Leaderboard, error) {
	key := strconv.Itoa(limit)
	if c.cache != nil {
		if lb, ok := c.cache.get(key); ok {
			return lb, nil
		}
	}
	var out Leaderboard
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/leaderboard?limit="+key, nil, &out); err != nil {
		return nil, err
	}
	if c.cache != nil {
		c.cache.set(key, &out)
	}
	return &out, nil
}

// History returns the audit entries recorded for one challenge.
func (c *Client) History(ctx context.Context, id string) ([]LedgerEntry, error) {
	var wrapper struct {
		Entries []LedgerEntry `json:"entries"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/challenges/"+url.PathEscape(id)+"/history", nil, &wrapper); err != nil {
		return nil, err
	}
	return wrapper.Entries, nil
}

// VerifyLedger asks the server to verify the audit chain. A broken chain is
// reported as valid=false with the reason, not as an error.
func (c *Client) VerifyLedger(ctx context.Context) (valid bool, reason string, err error) {
	var out struct {
		Valid bool   `json:"valid"`
		Error string `json:"error"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/ledger/verify", nil, &out); err != nil {
		return false, "", err
	}
	return out.Valid, out.Error, nil
}

// ─── Admin ───────────────────────────────────────────────────────────────────

// AdminLogin exchanges the admin secret for a session token and attaches it
// to later requests.
func (c *Client) AdminLogin(ctx context.Context, secret string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/auth/admin", map[string]string{"secret": secret}, &out); err != nil {
		return "", err
	}
	c.mu.Lock()
	c.bearerToken = out.Token
	c.mu.Unlock()
	return out.Token, nil
}

// Activate manually activates a pending challenge.
func (c *Client) Activate(ctx context.Context, id, confirmationID string) (*Challenge, error) {
	var out Challenge
	body := map[string]string{"confirmation_id": confirmationID}
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/challenges/"+url.PathEscape(id)+"/activate", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RecordProgress records the result of one challenge day.
func (c *Client) RecordProgress(ctx context.Context, id string, day int, completed bool, proofRef string) (*Challenge, error) {
	var out Challenge
	body := map[string]any{"day": day, "completed": completed, "proof_ref": proofRef}
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/challenges/"+url.PathEscape(id)+"/progress", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Finish completes or fails an ended challenge. A non-empty payoutInvoice is
// paid from escrow.
func (c *Client) Finish(ctx context.Context, id, outcome, payoutInvoice string) (*Challenge, error) {
	var out Challenge
	body := map[string]string{"outcome": outcome, "payout_invoice": payoutInvoice}
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/challenges/"+url.PathEscape(id)+"/finish", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Payout retries the payout of a finished challenge.
func (c *Client) Payout(ctx context.Context, id, invoice string) (*Challenge, error) {
	var out Challenge
	body := map[string]string{"invoice": invoice}
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/challenges/"+url.PathEscape(id)+"/payout", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteChallenge permanently removes a challenge.
func (c *Client) DeleteChallenge(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/v1/challenges/"+url.PathEscape(id), nil, nil)
}

// doJSON sends in as a JSON body (when non-nil) and decodes the response
// into out (when non-nil).
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var bodyReader io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bodyReader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if tok := c.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}
	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func errorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(body))
}

// --- simple in-memory leaderboard cache ---

type cacheEntry struct {
	result    *Leaderboard
	expiresAt time.Time
}

type leaderboardCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	ttl     time.Duration
}

func newLeaderboardCache(ttl time.Duration) *leaderboardCache {
	return &leaderboardCache{entries: make(map[string]*cacheEntry), ttl: ttl}
}

func (lc *leaderboardCache) get(key string) (*Leaderboard, bool) {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	e, ok := lc.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.result, true
}

func (lc *leaderboardCache) set(key string, result *Leaderboard) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.entries[key] = &cacheEntry{result: result, expiresAt: time.Now().Add(lc.ttl)}
}

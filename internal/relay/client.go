// Package relay talks to the outbound push relay: one HTTP POST per
// delivery, no retries, defensive response parsing.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	logx "pushbridge/pkg/logx"
)

var ErrNoEndpoint = errors.New("relay url not configured")

const maxResponseBytes = 1 << 20

type Config struct {
	URL        string
	Timeout    time.Duration
	RatePerSec int
}

// Message is one delivery request. ItemID is optional and lets the mobile
// client deep-link into the referenced library item.
type Message struct {
	Title  string
	Body   string
	ItemID string
	Tokens []string
}

// Result is the outcome of one delivery attempt. InvalidTokens lists device
// tokens the relay reports as invalid or expired; it is meaningful on both
// success and failure responses. Consumed once, never persisted.
type Result struct {
	Status        int
	InvalidTokens []string
}

// Client posts deliveries to the relay endpoint.
//
// There are deliberately no retries: a failed relay call is surfaced as a
// delivery failure rather than risking duplicate notifications on transient
// relay errors.
type Client struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	http    *http.Client
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Client{log: log}
	c.applyLocked(cfg)
	return c
}

func (c *Client) Apply(cfg Config) {
	c.mu.Lock()
	c.applyLocked(cfg)
	c.mu.Unlock()
}

func (c *Client) applyLocked(cfg Config) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	c.cfg = cfg
	// Burst = rate per sec so short spikes don't block too hard.
	c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	c.http = &http.Client{Timeout: cfg.Timeout}
}

type singleRequest struct {
	Title       string `json:"title"`
	Body        string `json:"body"`
	ItemID      string `json:"itemId,omitempty"`
	DeviceToken string `json:"deviceToken"`
}

type batchRequest struct {
	Title        string   `json:"title"`
	Body         string   `json:"body"`
	ItemID       string   `json:"itemId,omitempty"`
	DeviceTokens []string `json:"deviceTokens"`
}

type relayResponse struct {
	InvalidTokens []string `json:"invalidTokens"`
}

// Send performs one POST for the message. The returned Result carries any
// relay-reported invalid tokens even when err is non-nil.
func (c *Client) Send(ctx context.Context, m Message) (Result, error) {
	c.mu.Lock()
	cfg := c.cfg
	lim := c.limiter
	hc := c.http
	c.mu.Unlock()

	if strings.TrimSpace(cfg.URL) == "" {
		return Result{}, ErrNoEndpoint
	}
	if len(m.Tokens) == 0 {
		return Result{}, errors.New("no device tokens")
	}

	if err := lim.Wait(ctx); err != nil {
		return Result{}, err
	}

	var payload any
	if len(m.Tokens) == 1 {
		payload = singleRequest{Title: m.Title, Body: m.Body, ItemID: m.ItemID, DeviceToken: m.Tokens[0]}
	} else {
		payload = batchRequest{Title: m.Title, Body: m.Body, ItemID: m.ItemID, DeviceTokens: m.Tokens}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("relay post: %w", err)
	}
	defer resp.Body.Close()

	res := Result{Status: resp.StatusCode}
	res.InvalidTokens = parseInvalidTokens(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return res, fmt.Errorf("relay returned status %d", resp.StatusCode)
	}
	return res, nil
}

// parseInvalidTokens reads the relay response defensively: an absent or
// malformed body yields an empty list, never an error for the caller.
func parseInvalidTokens(r io.Reader) []string {
	b, err := io.ReadAll(io.LimitReader(r, maxResponseBytes))
	if err != nil || len(bytes.TrimSpace(b)) == 0 {
		return nil
	}
	var rr relayResponse
	if err := json.Unmarshal(b, &rr); err != nil {
		return nil
	}
	out := rr.InvalidTokens[:0]
	for _, t := range rr.InvalidTokens {
		if strings.TrimSpace(t) != "" {
			out = append(out, t)
		}
	}
	return out
}

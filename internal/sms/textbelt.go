package sms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/suPer8Hu/omi-jarvis/internal/common"
	"golang.org/x/time/rate"
)

// Result is the provider's answer to a send.
type Result struct {
	Success        bool   `json:"success"`
	TextID         string `json:"textId,omitempty"`
	QuotaRemaining int    `json:"quotaRemaining"`
	Error          string `json:"error,omitempty"`
}

// Sender delivers a text message. An empty to uses the configured default
// number.
type Sender interface {
	Send(ctx context.Context, text, to string) (Result, error)
}

type TextbeltClient struct {
	BaseURL       string
	APIKey        string
	DefaultNumber string
	Client        *http.Client

	limiter *rate.Limiter
}

// NewTextbeltClient returns a client for the Textbelt API. ratePerMinute
// <= 0 disables client-side throttling.
func NewTextbeltClient(baseURL, apiKey, defaultNumber string, ratePerMinute float64) *TextbeltClient {
	if baseURL == "" {
		baseURL = "https://textbelt.com"
	}
	if apiKey == "" {
		apiKey = "textbelt"
	}
	c := &TextbeltClient{
		BaseURL:       baseURL,
		APIKey:        apiKey,
		DefaultNumber: defaultNumber,
		Client:        &http.Client{Timeout: 30 * time.Second},
	}
	if ratePerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(ratePerMinute/60.0), 1)
	}
	return c
}

func (c *TextbeltClient) Send(ctx context.Context, text, to string) (Result, error) {
	phone := strings.TrimSpace(to)
	if phone == "" {
		phone = strings.TrimSpace(c.DefaultNumber)
	}
	if phone == "" {
		return Result{}, fmt.Errorf("%w: no phone number configured", common.ErrDelivery)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Result{}, fmt.Errorf("%w: rate limit wait: %w", common.ErrDelivery, err)
		}
	}

	form := url.Values{}
	form.Set("phone", phone)
	form.Set("message", text)
	form.Set("key", c.APIKey)

	endpoint := fmt.Sprintf("%s/text", strings.TrimRight(c.BaseURL, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Result{}, fmt.Errorf("%w: build request: %w", common.ErrDelivery, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	log.Info().Str("phone", phone).Int("length", len(text)).Msg("sending sms")

	resp, err := c.Client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", common.ErrDelivery, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return Result{}, fmt.Errorf("%w: read response: %w", common.ErrDelivery, err)
	}

	var res Result
	if err := json.Unmarshal(body, &res); err != nil {
		return Result{}, fmt.Errorf("%w: textbelt http %d: %s", common.ErrDelivery, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if !res.Success {
		msg := res.Error
		if msg == "" {
			msg = "unknown error"
		}
		log.Warn().Str("error", msg).Int("quota_remaining", res.QuotaRemaining).Msg("sms rejected")
		return res, fmt.Errorf("%w: %s", common.ErrDelivery, msg)
	}

	log.Info().Str("text_id", res.TextID).Int("quota_remaining", res.QuotaRemaining).Msg("sms sent")
	return res, nil
}

// DryRun logs messages instead of sending them.
type DryRun struct {
	DefaultNumber string
}

func (d DryRun) Send(_ context.Context, text, to string) (Result, error) {
	if to == "" {
		to = d.DefaultNumber
	}
	if to == "" {
		return Result{}, fmt.Errorf("%w: no phone number configured", common.ErrDelivery)
	}
	log.Info().Str("phone", to).Str("message", text).Msg("sms dry run")
	return Result{Success: true, TextID: "dry-run"}, nil
}

// Package forward delivers finalized harvest results to a downstream
// consumer over HTTP.
package forward

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/harvester-cli/api/schemas"
	"github.com/xkilldash9x/harvester-cli/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrRejected is returned when the consumer answers with a non-2xx status.
var ErrRejected = errors.New("consumer rejected result")

const userAgent = "harvester/1"

// Client posts harvest results to the configured consumer URL.
type Client struct {
	http   *resty.Client
	url    string
	logger *zap.Logger
}

// New returns a client for cfg. Server errors and throttling are retried up
// to cfg.Retries times.
func New(cfg config.ForwardConfig, logger *zap.Logger) *Client {
	logger = logger.Named("forward")

	client := resty.New()
	client.SetTimeout(cfg.Timeout)
	client.SetRetryCount(cfg.Retries)
	client.SetRetryWaitTime(500 * time.Millisecond)
	client.SetRetryMaxWaitTime(5 * time.Second)
	client.AddRetryCondition(func(r *resty.Response, err error) bool {
		if err != nil {
			return true
		}
		return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= http.StatusInternalServerError
	})
	client.SetHeader("User-Agent", userAgent)
	client.SetHeader("Content-Type", "application/json")
	for k, v := range cfg.Headers {
		client.SetHeader(k, v)
	}
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}
	client.OnAfterResponse(func(_ *resty.Client, r *resty.Response) error {
		logger.Debug("Consumer responded.",
			zap.Int("status", r.StatusCode()),
			zap.Int("attempt", r.Request.Attempt),
			zap.Duration("elapsed", r.Time()))
		return nil
	})

	return &Client{http: client, url: cfg.URL, logger: logger}
}

// Forward posts result as JSON.
func (c *Client) Forward(ctx context.Context, result *schemas.HarvestResult) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("X-Harvest-Run", result.RunID).
		SetHeader("X-Harvest-Portal", result.Portal).
		SetBody(body).
		Post(c.url)
	if err != nil {
		return fmt.Errorf("failed to post result to %s: %w", c.url, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: %s: %s", ErrRejected, resp.Status(), truncate(resp.String(), 256))
	}

	c.logger.Info("Result forwarded.",
		zap.String("run_id", result.RunID),
		zap.Int("orders", len(result.Orders)),
		zap.Int("status", resp.StatusCode()))
	return nil
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

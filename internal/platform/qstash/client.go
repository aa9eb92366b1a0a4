package qstash

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yungbote/quizforge-backend/internal/pkg/logger"
)

// PublishOptions controls one queue publish. Callback URLs point back at this
// system's webhook handlers; the queue service retries delivery on its side.
type PublishOptions struct {
	Delay           time.Duration
	Retries         int
	Callback        string
	FailureCallback string
}

// Gateway wraps the external message-queue HTTP API. Both the parser client
// (queued parse requests) and the generation orchestrator (process callbacks,
// backoff reschedules) publish through it.
type Gateway interface {
	Publish(ctx context.Context, destinationURL string, body any, opts PublishOptions) (messageID string, err error)
	// VerifySignature authenticates an inbound webhook request before its body
	// is parsed. In development mode verification is bypassed; production
	// builds must never run with DevBypass set.
	VerifySignature(signature string, rawURL string, rawBody []byte) bool
}

type Config struct {
	// BaseURL of the queue service publish API.
	BaseURL string
	Token   string
	// CurrentSigningKey and NextSigningKey support zero-downtime rotation:
	// inbound signatures are checked against current first, then next.
	CurrentSigningKey string
	NextSigningKey    string
	// DevBypass disables signature verification. Development only.
	DevBypass bool
}

type gateway struct {
	log        *logger.Logger
	cfg        Config
	httpClient *http.Client
}

func NewGateway(log *logger.Logger, cfg Config) (Gateway, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("qstash: base URL required")
	}
	if !cfg.DevBypass && strings.TrimSpace(cfg.CurrentSigningKey) == "" {
		return nil, fmt.Errorf("qstash: signing key required outside dev bypass")
	}
	return &gateway{
		log:        log.With("service", "QstashGateway"),
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type publishResponse struct {
	MessageID string `json:"messageId"`
}

func (g *gateway) Publish(ctx context.Context, destinationURL string, body any, opts PublishOptions) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("qstash: marshal payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v2/publish/%s", strings.TrimRight(g.cfg.BaseURL, "/"), destinationURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("qstash: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.cfg.Token)
	req.Header.Set("Content-Type", "application/json")
	if opts.Retries > 0 {
		req.Header.Set("Upstash-Retries", fmt.Sprintf("%d", opts.Retries))
	}
	if opts.Delay > 0 {
		req.Header.Set("Upstash-Delay", fmt.Sprintf("%ds", int(opts.Delay.Seconds())))
	}
	if opts.Callback != "" {
		req.Header.Set("Upstash-Callback", opts.Callback)
	}
	if opts.FailureCallback != "" {
		req.Header.Set("Upstash-Failure-Callback", opts.FailureCallback)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("qstash: publish: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("qstash: publish rejected (%d): %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var pr publishResponse
	if err := json.Unmarshal(raw, &pr); err != nil {
		return "", fmt.Errorf("qstash: decode publish response: %w", err)
	}
	if pr.MessageID == "" {
		return "", fmt.Errorf("qstash: publish response missing messageId")
	}
	g.log.Debug("Published queue message", "destination", destinationURL, "message_id", pr.MessageID, "delay", opts.Delay)
	return pr.MessageID, nil
}

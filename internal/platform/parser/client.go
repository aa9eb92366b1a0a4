package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/quizforge-backend/internal/pkg/logger"
	"github.com/yungbote/quizforge-backend/internal/platform/qstash"
)

// Page is one page of extracted text.
type Page struct {
	Page int    `json:"page"`
	Text string `json:"text"`
}

// Result is the normalized parser output, identical whether it arrived
// inline (direct mode) or through a webhook (queued mode).
type Result struct {
	JobID     string         `json:"job_id,omitempty"`
	FileID    string         `json:"file_id,omitempty"`
	Text      string         `json:"text"`
	PageCount int            `json:"page_count"`
	Pages     []Page         `json:"pages,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Failure is a direct-mode parse failure. The client never turns a parser
// error into a Go error for the orchestrator to catch; it reports the
// structured outcome and lets the orchestrator decide HTTP semantics.
type Failure struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// Outcome is the single result shape for both execution modes.
type Outcome struct {
	Success   bool
	Mode      string // "direct" or "queued"
	MessageID string
	Result    *Result
	Failure   *Failure
}

// Client invokes the external parsing service.
type Client interface {
	// Parse calls the parser synchronously and folds the response into the
	// outcome.
	Parse(ctx context.Context, req Request) Outcome
	// Enqueue publishes the parse request through the queue gateway with
	// webhook callbacks; the result arrives later at the parse-complete or
	// parse-failed endpoint.
	Enqueue(ctx context.Context, req Request, jobID, fileID uuid.UUID) (messageID string, err error)
}

type Config struct {
	// ParserURL is the external parsing service endpoint.
	ParserURL string
	// CallbackBaseURL is this system's externally reachable base URL; the
	// webhook paths are appended to it.
	CallbackBaseURL string
	// Retries is handed to the queue service for delivery retries.
	Retries int
}

type client struct {
	log        *logger.Logger
	cfg        Config
	gateway    qstash.Gateway
	httpClient *http.Client
}

func NewClient(log *logger.Logger, cfg Config, gateway qstash.Gateway) (Client, error) {
	if strings.TrimSpace(cfg.ParserURL) == "" {
		return nil, fmt.Errorf("parser: parser URL required")
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	return &client{
		log:        log.With("service", "ParserClient"),
		cfg:        cfg,
		gateway:    gateway,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}, nil
}

type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}

func (c *client) Parse(ctx context.Context, req Request) Outcome {
	payload, err := json.Marshal(req)
	if err != nil {
		return directFailure("encode_failed", err.Error(), false)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.parseEndpoint(), bytes.NewReader(payload))
	if err != nil {
		return directFailure("request_failed", err.Error(), false)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Network failures are retryable from the caller's point of view: a
		// fresh upload may succeed.
		return directFailure("parser_unreachable", err.Error(), true)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		code, msg, retryable := classifyFailure(resp.StatusCode, raw)
		c.log.Warn("Direct parse failed", "status", resp.StatusCode, "code", code)
		return directFailure(code, msg, retryable)
	}

	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return directFailure("invalid_parser_response", err.Error(), false)
	}
	return Outcome{Success: true, Mode: "direct", Result: &result}
}

func (c *client) Enqueue(ctx context.Context, req Request, jobID, fileID uuid.UUID) (string, error) {
	req.JobID = jobID.String()
	req.FileID = fileID.String()

	base := strings.TrimRight(c.cfg.CallbackBaseURL, "/")
	messageID, err := c.gateway.Publish(ctx, c.parseEndpoint(), req, qstash.PublishOptions{
		Retries:         c.cfg.Retries,
		Callback:        base + "/api/files/parse-complete",
		FailureCallback: base + "/api/files/parse-failed",
	})
	if err != nil {
		return "", err
	}
	return messageID, nil
}

func (c *client) parseEndpoint() string {
	return strings.TrimRight(c.cfg.ParserURL, "/") + "/parse"
}

func directFailure(code, msg string, retryable bool) Outcome {
	return Outcome{
		Success: false,
		Mode:    "direct",
		Failure: &Failure{Code: code, Message: msg, Retryable: retryable},
	}
}

// classifyFailure maps the parser's error body onto the failure taxonomy; an
// unparseable body falls back to the raw text.
func classifyFailure(status int, raw []byte) (code, msg string, retryable bool) {
	var eb errorBody
	if err := json.Unmarshal(raw, &eb); err == nil {
		msg = eb.Message
		if msg == "" {
			msg = eb.Error
		}
		code = eb.Code
		retryable = eb.Retryable
	}
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}
	if code == "" {
		switch {
		case status == http.StatusUnprocessableEntity:
			code = "unparseable_document"
		case status == http.StatusTooManyRequests:
			code, retryable = "parser_rate_limited", true
		case status >= 500:
			code, retryable = "parser_error", true
		default:
			code = "parse_failed"
		}
	}
	return code, msg, retryable
}

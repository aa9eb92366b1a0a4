package aiprov

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yungbote/quizforge-backend/internal/domain/quizzes"
	"github.com/yungbote/quizforge-backend/internal/pkg/httpx"
	"github.com/yungbote/quizforge-backend/internal/pkg/logger"
)

const openAIName = "openai"

type openAIProvider struct {
	log        *logger.Logger
	apiKey     string
	baseURL    string
	model      string
	inCost1K   float64
	outCost1K  float64
	httpClient *http.Client
	maxRetries int
}

func NewOpenAIProvider(log *logger.Logger, apiKey string, cfg ProviderConfig) (Provider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("aiprov: openai api key required")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &openAIProvider{
		log:        log.With("provider", openAIName),
		apiKey:     apiKey,
		baseURL:    baseURL,
		model:      model,
		inCost1K:   cfg.InputCostPer1K,
		outCost1K:  cfg.OutputCostPer1K,
		httpClient: &http.Client{Timeout: 180 * time.Second},
		maxRetries: 2,
	}, nil
}

func (p *openAIProvider) Name() string { return openAIName }

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	ResponseFormat respFormat    `json:"response_format"`
	Temperature    float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// quizPayload is the JSON shape the model is instructed to emit.
type quizPayload struct {
	Topic     string             `json:"topic"`
	Questions []quizzes.Question `json:"questions"`
}

func (p *openAIProvider) GenerateQuiz(ctx context.Context, in GenerateInput) (*GenerateOutput, error) {
	reqBody := chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: p.systemPrompt(in)},
			{Role: "user", Content: in.Text},
		},
		ResponseFormat: respFormat{Type: "json_object"},
		Temperature:    0.4,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, &ProviderError{Provider: openAIName, Kind: ErrGeneric, Err: err}
	}

	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, &ProviderError{Provider: openAIName, Kind: ErrTimeout, Err: ctx.Err()}
			case <-time.After(httpx.Jitter(time.Duration(attempt) * 2 * time.Second)):
			}
		}
		out, err := p.callOnce(ctx, payload)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (p *openAIProvider) callOnce(ctx context.Context, payload []byte) (*GenerateOutput, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, &ProviderError{Provider: openAIName, Kind: ErrGeneric, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		kind := ErrTransient
		if httpx.IsRetryableError(err) {
			kind = ErrTimeout
		}
		return nil, &ProviderError{Provider: openAIName, Kind: kind, Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 16<<20))

	var cr chatResponse
	_ = json.Unmarshal(raw, &cr)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, p.statusError(resp.StatusCode, &cr, raw)
	}
	if len(cr.Choices) == 0 {
		return nil, &ProviderError{Provider: openAIName, Kind: ErrInvalidOutput, Err: fmt.Errorf("empty choices")}
	}

	var qp quizPayload
	if err := json.Unmarshal([]byte(cr.Choices[0].Message.Content), &qp); err != nil {
		return nil, &ProviderError{Provider: openAIName, Kind: ErrInvalidOutput, Err: fmt.Errorf("decode quiz payload: %w", err)}
	}
	return &GenerateOutput{
		Topic:     qp.Topic,
		Questions: qp.Questions,
		Model:     p.model,
		Usage:     cr.Usage,
	}, nil
}

func (p *openAIProvider) statusError(status int, cr *chatResponse, raw []byte) error {
	msg := strings.TrimSpace(string(raw))
	code := ""
	if cr != nil && cr.Error != nil {
		msg = cr.Error.Message
		code = cr.Error.Code
	}
	err := fmt.Errorf("openai %d: %s", status, msg)
	switch {
	case code == "insufficient_quota":
		return &ProviderError{Provider: openAIName, Kind: ErrQuotaExceeded, Err: err}
	case status == http.StatusTooManyRequests:
		return &ProviderError{Provider: openAIName, Kind: ErrRateLimited, Err: err}
	case status == http.StatusRequestTimeout:
		return &ProviderError{Provider: openAIName, Kind: ErrTimeout, Err: err}
	case httpx.IsRetryableStatus(status):
		return &ProviderError{Provider: openAIName, Kind: ErrTransient, Err: err}
	}
	return &ProviderError{Provider: openAIName, Kind: ErrGeneric, Err: err}
}

func (p *openAIProvider) ValidateResponse(out *GenerateOutput) error {
	if out == nil {
		return &ProviderError{Provider: openAIName, Kind: ErrInvalidOutput, Err: fmt.Errorf("nil output")}
	}
	if err := ValidateQuestions(out.Questions); err != nil {
		return &ProviderError{Provider: openAIName, Kind: ErrInvalidOutput, Err: err}
	}
	return nil
}

func (p *openAIProvider) CalculateCost(usage Usage) float64 {
	return float64(usage.PromptTokens)/1000*p.inCost1K +
		float64(usage.CompletionTokens)/1000*p.outCost1K
}

func (p *openAIProvider) systemPrompt(in GenerateInput) string {
	var b strings.Builder
	b.WriteString("You generate quizzes from study material. Return ONLY a JSON object of the shape ")
	b.WriteString(`{"topic": string, "questions": [{"id": string, "type": "multiple-choice"|"true-false"|"short-answer", "question": string, "options": [string] (multiple-choice only), "correctAnswer": integer index for multiple-choice | the string "true" or "false" for true-false | string for short-answer, "explanation": string, "difficulty": "easy"|"medium"|"hard", "topic": string}]}.`)
	fmt.Fprintf(&b, " Generate exactly %d questions", in.NumQuestions)
	if len(in.QuestionTypes) > 0 {
		fmt.Fprintf(&b, " of types %s", strings.Join(in.QuestionTypes, ", "))
	}
	fmt.Fprintf(&b, ". Difficulty: %s. Write questions and answers in language %q.", in.Difficulty, in.Language)
	if !in.IncludeExplanations {
		b.WriteString(" Omit explanations.")
	}
	b.WriteString(` For true-false questions correctAnswer MUST be the string "true" or "false", never a boolean.`)
	return b.String()
}

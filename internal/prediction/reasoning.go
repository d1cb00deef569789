package prediction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	xerrors "Argos-Oracle/internal/errors"
)

const (
	defaultReasoningModel   = openai.GPT3Dot5Turbo
	defaultReasoningTimeout = 30 * time.Second
)

const reasoningSystemPrompt = "" +
	"You are an analytical oracle. Evaluate the given proposition and provide a binary prediction " +
	"and a confidence score from 0 to 100. " +
	"Respond with a JSON object with exactly two keys: \"outcome\" (boolean) and \"confidence\" (integer). " +
	"Do not provide any other text outside of the JSON object."

// ChatClient is the part of the go-openai client used by the reasoning
// predictor.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// ReasoningConfig describes how to reach an OpenAI compatible service.
type ReasoningConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Reasoning asks an external reasoning service for {outcome, confidence} and
// validates the answer strictly. It never substitutes a guessed value.
type Reasoning struct {
	client  ChatClient
	model   string
	timeout time.Duration
}

// NewReasoning builds the predictor on top of go-openai. Without an API key
// the variant is disabled rather than broken.
func NewReasoning(cfg ReasoningConfig) (*Reasoning, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, xerrors.New(xerrors.CodeAgentDisabled, "未配置推理服务 API Key，跳过推理代理")
	}
	clientCfg := openai.DefaultConfig(apiKey)
	if baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); baseURL != "" {
		clientCfg.BaseURL = baseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultReasoningTimeout
	}
	clientCfg.HTTPClient = &http.Client{Timeout: timeout}
	return NewReasoningWithClient(openai.NewClientWithConfig(clientCfg), cfg.Model, timeout), nil
}

// NewReasoningWithClient wires an existing chat client.
func NewReasoningWithClient(client ChatClient, model string, timeout time.Duration) *Reasoning {
	if strings.TrimSpace(model) == "" {
		model = defaultReasoningModel
	}
	return &Reasoning{client: client, model: model, timeout: timeout}
}

// Name implements Predictor.
func (r *Reasoning) Name() string { return "reasoning" }

// Predict implements Predictor.
func (r *Reasoning) Predict(ctx context.Context, query string) (Prediction, error) {
	if r.client == nil {
		return Prediction{}, Unavailable(nil, "未初始化推理客户端")
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: r.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: reasoningSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: "Question: " + strings.TrimSpace(query)},
		},
		Temperature: 0.1,
		MaxTokens:   50,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return Prediction{}, Unavailable(err, "推理服务调用失败")
	}
	if len(resp.Choices) == 0 {
		return Prediction{}, Unavailable(nil, "推理服务响应中没有 choices")
	}

	content := resp.Choices[0].Message.Content
	outcome, confidence, err := ParseVerdict(content)
	if err != nil {
		return Prediction{}, Unavailable(err, "推理服务响应未通过校验")
	}
	return New(outcome, confidence, ProofOf(r.Name(), query, r.model, strings.TrimSpace(content)))
}

// ParseVerdict validates a {"outcome": bool, "confidence": int} document.
// Both keys must be present with the exact JSON types and the confidence must
// lie in [0,100]; anything else is rejected.
func ParseVerdict(content string) (bool, int, error) {
	dec := json.NewDecoder(strings.NewReader(content))
	dec.UseNumber()

	var fields map[string]json.RawMessage
	if err := dec.Decode(&fields); err != nil {
		return false, 0, fmt.Errorf("响应不是 JSON 对象: %w", err)
	}
	if fields == nil {
		return false, 0, errors.New("响应不是 JSON 对象")
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return false, 0, errors.New("JSON 对象之后存在多余内容")
	}

	rawOutcome, ok := fields["outcome"]
	if !ok {
		return false, 0, errors.New("缺少 outcome 字段")
	}
	rawOutcome = bytes.TrimSpace(rawOutcome)
	var outcome bool
	switch string(rawOutcome) {
	case "true":
		outcome = true
	case "false":
		outcome = false
	default:
		return false, 0, fmt.Errorf("outcome 必须是布尔值，实际为 %s", rawOutcome)
	}

	rawConfidence, ok := fields["confidence"]
	if !ok {
		return false, 0, errors.New("缺少 confidence 字段")
	}
	rawConfidence = bytes.TrimSpace(rawConfidence)
	if len(rawConfidence) == 0 || (rawConfidence[0] != '-' && (rawConfidence[0] < '0' || rawConfidence[0] > '9')) {
		return false, 0, fmt.Errorf("confidence 必须是整数，实际为 %s", rawConfidence)
	}
	confidence, err := json.Number(rawConfidence).Int64()
	if err != nil {
		return false, 0, fmt.Errorf("confidence 必须是整数，实际为 %s", rawConfidence)
	}
	if confidence < 0 || confidence > MaxConfidence {
		return false, 0, fmt.Errorf("confidence %d 超出 0-100", confidence)
	}
	return outcome, int(confidence), nil
}

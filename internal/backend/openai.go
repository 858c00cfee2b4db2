package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

// OpenAIOptions configures the OpenAI chat-completions backend.
type OpenAIOptions struct {
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature float32
	HTTPClient  *http.Client
}

// OpenAI translates through the chat-completions API.
type OpenAI struct {
	client      *openai.Client
	logger      *logrus.Logger
	model       string
	maxTokens   int
	temperature float32

	observed
}

func NewOpenAI(opts OpenAIOptions, logger *logrus.Logger) *OpenAI {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	if opts.HTTPClient != nil {
		cfg.HTTPClient = opts.HTTPClient
	}
	model := opts.Model
	if model == "" {
		model = openai.GPT4oMini
	}

	return &OpenAI{
		client:      openai.NewClientWithConfig(cfg),
		logger:      logger,
		model:       model,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
	}
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) Translate(ctx context.Context, req Request) (Response, error) {
	startTime := time.Now()
	requestID, finish := o.begin(o.Name(), o.model, o.temperature, req)
	system, user := BuildPrompt(req)

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		MaxTokens:   o.maxTokens,
		Temperature: o.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})

	var out Response
	if err == nil {
		if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
			err = fmt.Errorf("%w: openai returned no content", ErrMalformed)
		} else {
			out = Response{Text: resp.Choices[0].Message.Content, TotalTokens: resp.Usage.TotalTokens}
		}
	} else {
		err = classifyOpenAIError(err)
	}

	if err != nil {
		o.logger.Debugf("OpenAI request %s failed: %v", requestID, err)
	} else {
		o.logger.Debugf("OpenAI request %s completed in %s (%d tokens)", requestID, time.Since(startTime), out.TotalTokens)
	}
	finish(out, err)

	return out, err
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus("openai", apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus("openai", reqErr.HTTPStatusCode, reqErr.Error())
	}
	return classifyTransport("openai", err)
}

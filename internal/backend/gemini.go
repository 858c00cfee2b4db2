package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/genai"
)

// GeminiOptions configures the Gemini generateContent backend.
type GeminiOptions struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float32
	MaxTokens   int
	HTTPClient  *http.Client
}

// Gemini translates through the Google Gen AI SDK.
type Gemini struct {
	client      *genai.Client
	logger      *logrus.Logger
	model       string
	temperature float32
	maxTokens   int

	observed
}

func NewGemini(ctx context.Context, opts GeminiOptions, logger *logrus.Logger) (*Gemini, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key is required", ErrAuth)
	}

	cc := &genai.ClientConfig{
		APIKey:     opts.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: opts.HTTPClient,
	}
	if opts.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: strings.TrimRight(opts.BaseURL, "/") + "/"}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := opts.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}

	return &Gemini{
		client:      client,
		logger:      logger,
		model:       model,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
	}, nil
}

func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) Translate(ctx context.Context, req Request) (Response, error) {
	requestID, finish := g.begin(g.Name(), g.model, g.temperature, req)
	out, err := g.generate(ctx, req)
	if err != nil {
		g.logger.Debugf("Gemini request %s failed: %v", requestID, err)
	}
	finish(out, err)
	return out, err
}

func (g *Gemini) generate(ctx context.Context, req Request) (Response, error) {
	system, user := BuildPrompt(req)
	start := time.Now()

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		Temperature:       genai.Ptr(g.temperature),
	}
	if g.maxTokens > 0 {
		config.MaxOutputTokens = int32(g.maxTokens)
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{genai.NewPartFromText(user)}, genai.RoleUser),
	}

	result, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return Response{}, classifyGeminiError(err)
	}

	text := responseText(result)
	if strings.TrimSpace(text) == "" {
		return Response{}, fmt.Errorf("%w: gemini returned no text", ErrMalformed)
	}

	out := Response{Text: text}
	if result.UsageMetadata != nil {
		out.TotalTokens = int(result.UsageMetadata.TotalTokenCount)
	}
	g.logger.Debugf("Gemini request completed in %s (%d tokens)", time.Since(start), out.TotalTokens)
	return out, nil
}

func responseText(result *genai.GenerateContentResponse) string {
	if result == nil {
		return ""
	}
	var sb strings.Builder
	for _, candidate := range result.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part != nil && !part.Thought {
				sb.WriteString(part.Text)
			}
		}
		if sb.Len() > 0 {
			break
		}
	}
	return sb.String()
}

func classifyGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus("gemini", apiErr.Code, apiErr.Message)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return classifyStatus("gemini", apiErrPtr.Code, apiErrPtr.Message)
	}
	return classifyTransport("gemini", err)
}

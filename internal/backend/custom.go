package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

// Wire formats understood by the custom endpoint backend.
const (
	FormatOpenAI    = "openai"
	FormatAnthropic = "anthropic"
	FormatGemini    = "gemini"
)

// CustomOptions configures a self-hosted or third-party endpoint.
type CustomOptions struct {
	Endpoint    string
	APIKey      string
	Model       string
	Format      string
	Temperature float32
	MaxTokens   int
	Headers     map[string]string
	Proxy       string
	HTTPClient  *http.Client
}

// Custom posts batches to an arbitrary endpoint speaking one of the known
// wire formats.
type Custom struct {
	opts   CustomOptions
	client *http.Client
	logger *logrus.Logger

	observed
}

func NewCustom(opts CustomOptions, logger *logrus.Logger) (*Custom, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("custom backend requires an endpoint")
	}
	if _, err := url.Parse(opts.Endpoint); err != nil {
		return nil, fmt.Errorf("invalid custom endpoint: %w", err)
	}
	switch opts.Format {
	case "":
		opts.Format = FormatOpenAI
	case FormatOpenAI, FormatAnthropic, FormatGemini:
	default:
		return nil, fmt.Errorf("unsupported custom format %q", opts.Format)
	}

	client := opts.HTTPClient
	if client == nil {
		client = makeHTTPClient(opts.Proxy)
	}
	return &Custom{opts: opts, client: client, logger: logger}, nil
}

func makeHTTPClient(proxyURL string) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxyURL != "" {
		if parsed, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(parsed)
		}
	} else {
		transport.Proxy = http.ProxyFromEnvironment
	}
	return &http.Client{Transport: transport}
}

func (c *Custom) Name() string { return "custom" }

func (c *Custom) Translate(ctx context.Context, req Request) (Response, error) {
	requestID, finish := c.begin(c.Name(), c.opts.Model, c.opts.Temperature, req)
	out, err := c.post(ctx, req)
	if err != nil {
		c.logger.Debugf("Custom request %s failed: %v", requestID, err)
	}
	finish(out, err)
	return out, err
}

func (c *Custom) post(ctx context.Context, req Request) (Response, error) {
	system, user := BuildPrompt(req)
	endpoint, headers, body, err := c.buildRequest(system, user)
	if err != nil {
		return Response{}, fmt.Errorf("failed to build request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range c.opts.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Response{}, classifyTransport("custom", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, classifyTransport("custom", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Response{}, classifyStatus("custom", resp.StatusCode, truncateText(string(data), 300))
	}

	out, err := extractResponse(data)
	if err != nil {
		return Response{}, err
	}
	c.logger.Debugf("Custom endpoint returned %d chars (%d tokens)", len(out.Text), out.TotalTokens)
	return out, nil
}

func (c *Custom) buildRequest(system, user string) (string, map[string]string, []byte, error) {
	headers := map[string]string{"Content-Type": "application/json"}
	base := strings.TrimRight(c.opts.Endpoint, "/")

	var (
		endpoint string
		payload  interface{}
	)
	switch c.opts.Format {
	case FormatGemini:
		endpoint = base
		if !strings.Contains(base, ":generateContent") {
			endpoint = fmt.Sprintf("%s/v1beta/models/%s:generateContent", base, c.opts.Model)
		}
		if c.opts.APIKey != "" {
			headers["x-goog-api-key"] = c.opts.APIKey
		}
		payload = geminiRequest{
			SystemInstruction: &geminiContent{Parts: []geminiPart{{Text: system}}},
			Contents:          []geminiContent{{Role: "user", Parts: []geminiPart{{Text: user}}}},
			GenerationConfig:  geminiGenConfig{Temperature: c.opts.Temperature, MaxOutputTokens: c.opts.MaxTokens},
		}

	case FormatAnthropic:
		endpoint = base
		if !strings.HasSuffix(base, "/messages") {
			endpoint = base + "/messages"
		}
		if c.opts.APIKey != "" {
			headers["x-api-key"] = c.opts.APIKey
		}
		headers["anthropic-version"] = "2023-06-01"
		maxTokens := c.opts.MaxTokens
		if maxTokens <= 0 {
			maxTokens = 4096
		}
		payload = anthropicRequest{
			Model:       c.opts.Model,
			System:      system,
			MaxTokens:   maxTokens,
			Temperature: c.opts.Temperature,
			Messages:    []chatMessage{{Role: "user", Content: user}},
		}

	default:
		endpoint = base
		if !strings.HasSuffix(base, "/chat/completions") {
			endpoint = base + "/chat/completions"
		}
		if c.opts.APIKey != "" {
			headers["Authorization"] = "Bearer " + c.opts.APIKey
		}
		payload = chatRequest{
			Model:       c.opts.Model,
			Temperature: c.opts.Temperature,
			MaxTokens:   c.opts.MaxTokens,
			Messages: []chatMessage{
				{Role: "system", Content: system},
				{Role: "user", Content: user},
			},
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", nil, nil, err
	}
	return endpoint, headers, body, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type anthropicRequest struct {
	Model       string        `json:"model"`
	System      string        `json:"system,omitempty"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float32       `json:"temperature"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenConfig struct {
	Temperature     float32 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
	GenerationConfig  geminiGenConfig `json:"generationConfig"`
}

// extractResponse accepts OpenAI chat, Gemini and Anthropic response bodies.
func extractResponse(body []byte) (Response, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return Response{}, fmt.Errorf("%w: invalid JSON response: %v", ErrMalformed, err)
	}

	if errObj, ok := raw["error"]; ok && errObj != nil {
		if errMap, ok := errObj.(map[string]any); ok {
			if msg, ok := errMap["message"].(string); ok {
				return Response{}, fmt.Errorf("%w: API error: %s", ErrUpstream, msg)
			}
		}
		return Response{}, fmt.Errorf("%w: API error: %v", ErrUpstream, errObj)
	}

	text, ok := "", false
	if choices, isArr := raw["choices"].([]any); isArr && len(choices) > 0 {
		if choice, isMap := choices[0].(map[string]any); isMap {
			if message, isMap := choice["message"].(map[string]any); isMap {
				text, ok = message["content"].(string)
			}
		}
	}
	if !ok {
		if candidates, isArr := raw["candidates"].([]any); isArr && len(candidates) > 0 {
			if candidate, isMap := candidates[0].(map[string]any); isMap {
				if content, isMap := candidate["content"].(map[string]any); isMap {
					if parts, isArr := content["parts"].([]any); isArr {
						var sb strings.Builder
						for _, p := range parts {
							if part, isMap := p.(map[string]any); isMap {
								if t, isStr := part["text"].(string); isStr {
									sb.WriteString(t)
								}
							}
						}
						text, ok = sb.String(), sb.Len() > 0
					}
				}
			}
		}
	}
	if !ok {
		if blocks, isArr := raw["content"].([]any); isArr {
			for _, b := range blocks {
				if block, isMap := b.(map[string]any); isMap && block["type"] == "text" {
					if t, isStr := block["text"].(string); isStr {
						text, ok = t, true
						break
					}
				}
			}
		}
	}

	if !ok || strings.TrimSpace(text) == "" {
		return Response{}, fmt.Errorf("%w: could not extract text from response: %s", ErrMalformed, truncateText(string(body), 300))
	}
	return Response{Text: text, TotalTokens: extractTokens(raw)}, nil
}

func extractTokens(raw map[string]any) int {
	number := func(m map[string]any, key string) int {
		if v, ok := m[key].(float64); ok {
			return int(v)
		}
		return 0
	}
	if usage, ok := raw["usage"].(map[string]any); ok {
		if total := number(usage, "total_tokens"); total > 0 {
			return total
		}
		return number(usage, "input_tokens") + number(usage, "output_tokens")
	}
	if usage, ok := raw["usageMetadata"].(map[string]any); ok {
		return number(usage, "totalTokenCount")
	}
	return 0
}

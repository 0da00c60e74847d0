package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/forensics-gateway/internal/config"
)

// classifyPrompt is the fixed single-turn instruction sent with every image.
const classifyPrompt = "You are an AI image forensics system.\n\n" +
	"Classify the image as ONE of:\n" +
	"- AI Generated\n" +
	"- Manipulated\n" +
	"- Real Photograph\n\n" +
	"Evaluate lighting, textures, edges, distortions, and generative artifacts.\n\n" +
	"Respond ONLY in JSON:\n" +
	"{\n" +
	"  \"classification\": \"AI Generated | Manipulated | Real Photograph\",\n" +
	"  \"confidence_raw\": number between 0 and 100,\n" +
	"  \"reason\": \"1 short sentence explanation\"\n" +
	"}"

const defaultBaseURL = "https://api.openai.com"

// caller is one vendor call shape. The vendor API grew a second request
// format over time; both must yield identical downstream behavior.
type caller interface {
	call(ctx context.Context, c *OpenAIClient, dataURL string) (string, error)
}

// OpenAIClient talks to an OpenAI-compatible multimodal endpoint over HTTP.
// The call variant is picked once at construction.
type OpenAIClient struct {
	apiKey  string
	model   string
	baseURL string
	httpc   *http.Client
	caller  caller
	logger  *zap.Logger
}

// Option customizes an OpenAIClient.
type Option func(*OpenAIClient)

// WithBaseURL overrides the vendor endpoint (used by tests).
func WithBaseURL(baseURL string) Option {
	return func(c *OpenAIClient) {
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithHTTPClient overrides the internal HTTP client (e.g., for custom timeouts).
func WithHTTPClient(httpc *http.Client) Option {
	return func(c *OpenAIClient) {
		if httpc != nil {
			c.httpc = httpc
		}
	}
}

// NewOpenAIClient constructs a client using the given call style
// (config.StyleResponses or config.StyleChat).
func NewOpenAIClient(apiKey, model, style string, logger *zap.Logger, opts ...Option) *OpenAIClient {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 120 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
	}

	c := &OpenAIClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: defaultBaseURL,
		httpc:   &http.Client{Timeout: 0, Transport: tr},
		logger:  logger.Named("inference"),
	}
	if style == config.StyleChat {
		c.caller = chatCaller{}
	} else {
		c.caller = responsesCaller{}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify sends the image inline as a base64 data URL and returns the
// model's answer text. One upstream call, no retries.
func (c *OpenAIClient) Classify(ctx context.Context, mediaType string, image []byte) (string, error) {
	if c.apiKey == "" {
		return "", ErrMissingCredential
	}

	mediaType = strings.ToLower(strings.TrimSpace(mediaType))
	dataURL := "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(image)

	start := time.Now()
	text, err := c.caller.call(ctx, c, dataURL)
	c.logger.Debug("inference call finished",
		zap.Int64("elapsed_ms", time.Since(start).Milliseconds()),
		zap.Error(err))
	if err != nil {
		return "", err
	}

	text = stripCodeFences(text)
	if strings.TrimSpace(text) == "" {
		return "", ErrNoTextOutput
	}
	return text, nil
}

func (c *OpenAIClient) post(ctx context.Context, path string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Status: resp.StatusCode, Message: truncateBytes(bytes.TrimSpace(raw), 512)}
	}
	return raw, nil
}

// responsesCaller uses the newer structured-input endpoint.
type responsesCaller struct{}

func (responsesCaller) call(ctx context.Context, c *OpenAIClient, dataURL string) (string, error) {
	body := map[string]any{
		"model": c.model,
		"input": []any{
			map[string]any{
				"role": "user",
				"content": []any{
					map[string]any{"type": "input_text", "text": classifyPrompt},
					map[string]any{"type": "input_image", "image_url": dataURL},
				},
			},
		},
		"temperature": 0,
	}

	raw, err := c.post(ctx, "/v1/responses", body)
	if err != nil {
		return "", err
	}
	return extractResponsesText(raw), nil
}

// chatCaller uses the older chat-completions endpoint.
type chatCaller struct{}

func (chatCaller) call(ctx context.Context, c *OpenAIClient, dataURL string) (string, error) {
	body := map[string]any{
		"model": c.model,
		"messages": []any{
			map[string]any{
				"role": "user",
				"content": []any{
					map[string]any{"type": "text", "text": classifyPrompt},
					map[string]any{"type": "image_url", "image_url": map[string]any{"url": dataURL}},
				},
			},
		},
		"temperature": 0,
	}

	raw, err := c.post(ctx, "/v1/chat/completions", body)
	if err != nil {
		return "", err
	}
	return extractChatText(raw), nil
}

// extractResponsesText pulls model text from the Responses API envelope.
// It prefers the flat `output_text` convenience field and otherwise
// concatenates text segments found in `output[i].content[j].text`.
func extractResponsesText(raw []byte) string {
	type content struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	type output struct {
		Content []content `json:"content"`
		Role    string    `json:"role,omitempty"`
	}
	var env struct {
		Output     []output `json:"output"`
		OutputText string   `json:"output_text"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return ""
	}

	if s := strings.TrimSpace(env.OutputText); s != "" {
		return s
	}

	var b strings.Builder
	for _, o := range env.Output {
		for _, part := range o.Content {
			if strings.TrimSpace(part.Text) == "" {
				continue
			}
			// both `output_text` and `text` are seen in practice
			if part.Type == "output_text" || part.Type == "text" || part.Type == "" {
				if b.Len() > 0 {
					b.WriteByte('\n')
				}
				b.WriteString(part.Text)
			}
		}
	}
	return b.String()
}

// extractChatText pulls model text from the chat-completions envelope.
// `message.content` is a flat string on current models but some deployments
// answer with an array of content blocks; both shapes are accepted.
func extractChatText(raw []byte) string {
	var env struct {
		Choices []struct {
			Message struct {
				Content json.RawMessage `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &env); err != nil || len(env.Choices) == 0 {
		return ""
	}

	content := env.Choices[0].Message.Content
	var flat string
	if err := json.Unmarshal(content, &flat); err == nil {
		return flat
	}

	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(content, &blocks); err != nil {
		return ""
	}
	var b strings.Builder
	for _, block := range blocks {
		if strings.TrimSpace(block.Text) == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(block.Text)
	}
	return b.String()
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func truncateBytes(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

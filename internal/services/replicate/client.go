// Package replicate runs image models through the Replicate predictions API.
package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"reelsmith/internal/services"
)

const (
	defaultBaseURL      = "https://api.replicate.com/v1"
	defaultHTTPTimeout  = 120 * time.Second
	defaultPollInterval = 2 * time.Second
	serviceName         = "replicate"
)

// Config holds account and model settings. Model is either "owner/name" for
// official models or "owner/name:version" for a pinned version.
type Config struct {
	APIToken       string
	BaseURL        string
	Model          string
	TimeoutSeconds int
}

// Input is the model input for one prediction.
type Input struct {
	Prompt            string  `json:"prompt"`
	NegativePrompt    string  `json:"negative_prompt,omitempty"`
	Width             int     `json:"width,omitempty"`
	Height            int     `json:"height,omitempty"`
	NumOutputs        int     `json:"num_outputs,omitempty"`
	NumInferenceSteps int     `json:"num_inference_steps,omitempty"`
	GuidanceScale     float64 `json:"guidance_scale,omitempty"`
	Seed              int64   `json:"seed,omitempty"`
}

// Image is one downloaded prediction output.
type Image struct {
	Data        []byte
	ContentType string
	SourceURL   string
}

// Client issues predictions and downloads their outputs.
type Client struct {
	cfg          Config
	httpClient   *http.Client
	pollInterval time.Duration
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithPollInterval overrides how often unfinished predictions are polled.
func WithPollInterval(interval time.Duration) Option {
	return func(c *Client) {
		if interval > 0 {
			c.pollInterval = interval
		}
	}
}

// NewClient constructs a client, filling in service defaults.
func NewClient(cfg Config, opts ...Option) *Client {
	cfg.APIToken = strings.TrimSpace(cfg.APIToken)
	cfg.Model = strings.TrimSpace(cfg.Model)
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		cfg:          cfg,
		httpClient:   &http.Client{Timeout: timeout},
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

type prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  any             `json:"error"`
	URLs   struct {
		Get string `json:"get"`
	} `json:"urls"`
}

func (p prediction) terminal() bool {
	switch p.Status {
	case "succeeded", "failed", "canceled":
		return true
	}
	return false
}

func (p prediction) errorText() string {
	if p.Error == nil {
		return ""
	}
	if s, ok := p.Error.(string); ok {
		return strings.TrimSpace(s)
	}
	encoded, _ := json.Marshal(p.Error)
	return string(encoded)
}

// Generate runs a prediction and downloads every image it produced.
func (c *Client) Generate(ctx context.Context, input Input) ([]Image, error) {
	if c.cfg.APIToken == "" {
		return nil, services.Wrap(services.ErrConfiguration, serviceName, "predict", "api token required", nil)
	}
	if c.cfg.Model == "" {
		return nil, services.Wrap(services.ErrConfiguration, serviceName, "predict", "model required", nil)
	}
	if strings.TrimSpace(input.Prompt) == "" {
		return nil, services.Wrap(services.ErrFatalInput, serviceName, "predict", "prompt required", nil)
	}

	pred, err := c.create(ctx, input)
	if err != nil {
		return nil, err
	}
	for !pred.terminal() {
		if pred.URLs.Get == "" {
			return nil, services.Wrap(services.ErrTransient, serviceName, "poll", "prediction has no poll url", nil)
		}
		timer := time.NewTimer(c.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, services.ClassifyHTTP(serviceName, "poll", ctx.Err())
		case <-timer.C:
		}
		pred, err = c.fetch(ctx, pred.URLs.Get)
		if err != nil {
			return nil, err
		}
	}

	switch pred.Status {
	case "failed":
		msg := pred.errorText()
		if isContentPolicy(msg) {
			return nil, services.Wrap(services.ErrFatalInput, serviceName, "predict", "content policy rejection: "+msg, nil)
		}
		return nil, services.Wrap(services.ErrTransient, serviceName, "predict", "prediction failed: "+msg, nil)
	case "canceled":
		return nil, services.Wrap(services.ErrTransient, serviceName, "predict", "prediction canceled", nil)
	}

	urls, err := outputURLs(pred.Output)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, serviceName, "predict", "decode output", err)
	}
	if len(urls) == 0 {
		return nil, services.Wrap(services.ErrTransient, serviceName, "predict", "prediction returned no images", nil)
	}
	images := make([]Image, 0, len(urls))
	for _, u := range urls {
		img, err := c.download(ctx, u)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, nil
}

func (c *Client) create(ctx context.Context, input Input) (prediction, error) {
	endpoint := c.cfg.BaseURL + "/predictions"
	body := map[string]any{"input": input}
	if _, version, ok := strings.Cut(c.cfg.Model, ":"); ok {
		body["version"] = version
	} else {
		endpoint = fmt.Sprintf("%s/models/%s/predictions", c.cfg.BaseURL, c.cfg.Model)
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return prediction{}, services.Wrap(services.ErrFatalInput, serviceName, "predict", "encode body", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return prediction{}, services.Wrap(services.ErrConfiguration, serviceName, "predict", "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "wait")
	return c.doPrediction(req, "predict")
}

func (c *Client) fetch(ctx context.Context, getURL string) (prediction, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, getURL, nil)
	if err != nil {
		return prediction{}, services.Wrap(services.ErrTransient, serviceName, "poll", "build request", err)
	}
	return c.doPrediction(req, "poll")
}

func (c *Client) doPrediction(req *http.Request, op string) (prediction, error) {
	var pred prediction
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pred, services.ClassifyHTTP(serviceName, op, err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return pred, services.ClassifyHTTP(serviceName, op, err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		statusErr := services.NewStatusError(serviceName, resp, payload)
		if resp.StatusCode == http.StatusUnprocessableEntity && isContentPolicy(string(payload)) {
			return pred, services.Wrap(services.ErrFatalInput, serviceName, op, "content policy rejection", statusErr)
		}
		return pred, services.ClassifyHTTP(serviceName, op, statusErr)
	}
	if err := json.Unmarshal(payload, &pred); err != nil {
		return pred, services.Wrap(services.ErrTransient, serviceName, op, "decode prediction", err)
	}
	return pred, nil
}

func (c *Client) download(ctx context.Context, source string) (Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return Image{}, services.Wrap(services.ErrTransient, serviceName, "download", "build request", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Image{}, services.ClassifyHTTP(serviceName, "download", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Image{}, services.ClassifyHTTP(serviceName, "download", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Image{}, services.ClassifyHTTP(serviceName, "download", services.NewStatusError(serviceName, resp, nil))
	}
	if len(data) == 0 {
		return Image{}, services.Wrap(services.ErrTransient, serviceName, "download", "empty image body", nil)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return Image{Data: data, ContentType: contentType, SourceURL: source}, nil
}

func outputURLs(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if single == "" {
			return nil, nil
		}
		return []string{single}, nil
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil, err
	}
	out := many[:0]
	for _, u := range many {
		if strings.TrimSpace(u) != "" {
			out = append(out, u)
		}
	}
	return out, nil
}

func isContentPolicy(message string) bool {
	lower := strings.ToLower(message)
	for _, marker := range []string{"nsfw", "content policy", "sensitive", "safety"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

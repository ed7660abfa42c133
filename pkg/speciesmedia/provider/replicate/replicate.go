// Package replicate implements the speciesmedia.Provider interface against
// the Replicate predictions API.
package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/extinctlab/species-media/pkg/speciesmedia"
)

const defaultBaseURL = "https://api.replicate.com/v1"

// Config options for the Replicate client
type Config struct {
	Token      string        // API token
	BaseURL    string        // API base URL (default: https://api.replicate.com/v1)
	ImageModel string        // model slug for image generation, e.g. "black-forest-labs/flux-schnell"
	VideoModel string        // model slug for image-to-video generation
	Timeout    time.Duration // per-request HTTP timeout (default: 30s)
}

// Client talks to the Replicate predictions API.
type Client struct {
	config Config
	client *http.Client
}

// New creates a Replicate API client.
func New(config Config) (*Client, error) {
	if config.Token == "" {
		return nil, errors.New("API token is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	return &Client{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}, nil
}

// prediction is the wire shape of a Replicate prediction. Output is either a
// single URL string or a list of URL strings depending on the model.
type prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  any             `json:"error"`
}

// CreateImage submits an image generation for the prompt.
func (c *Client) CreateImage(ctx context.Context, prompt string) (*speciesmedia.Prediction, error) {
	if c.config.ImageModel == "" {
		return nil, errors.New("image model is not configured")
	}

	input := map[string]any{
		"prompt": prompt,
	}
	return c.createPrediction(ctx, c.config.ImageModel, input)
}

// CreateVideo submits a video generation seeded with an image URL.
func (c *Client) CreateVideo(ctx context.Context, prompt, seedImageURL string) (*speciesmedia.Prediction, error) {
	if c.config.VideoModel == "" {
		return nil, errors.New("video model is not configured")
	}

	input := map[string]any{
		"prompt": prompt,
		"image":  seedImageURL,
	}
	return c.createPrediction(ctx, c.config.VideoModel, input)
}

func (c *Client) createPrediction(ctx context.Context, model string, input map[string]any) (*speciesmedia.Prediction, error) {
	body, err := json.Marshal(map[string]any{"input": input})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s/predictions", c.config.BaseURL, model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.Token)
	req.Header.Set("Content-Type", "application/json")

	return c.do(req)
}

// GetPrediction fetches the current state of a prediction.
func (c *Client) GetPrediction(ctx context.Context, id string) (*speciesmedia.Prediction, error) {
	url := fmt.Sprintf("%s/predictions/%s", c.config.BaseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.Token)

	return c.do(req)
}

func (c *Client) do(req *http.Request) (*speciesmedia.Prediction, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("provider returned status %d: %s", resp.StatusCode, string(data))
	}

	var p prediction
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode prediction: %w", err)
	}

	return toPrediction(&p), nil
}

func toPrediction(p *prediction) *speciesmedia.Prediction {
	result := &speciesmedia.Prediction{
		ID:     p.ID,
		Status: speciesmedia.PredictionStatus(p.Status),
		Output: normalizeOutput(p.Output),
	}
	if p.Error != nil {
		result.Error = fmt.Sprintf("%v", p.Error)
	}
	return result
}

// normalizeOutput flattens the provider's output field, which is a single
// URL string for some models and a list for others.
func normalizeOutput(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if single == "" {
			return nil
		}
		return []string{single}
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}

	return nil
}

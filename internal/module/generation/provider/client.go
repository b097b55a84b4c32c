package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Provider errors. Callers classify on these with errors.Is.
var (
	ErrUnavailable = errors.New("provider unavailable")
	ErrTimeout     = errors.New("provider timeout")
	ErrRateLimited = errors.New("provider rate limited")
	ErrRejected    = errors.New("provider rejected request")
)

// TextRequest asks for styling advice text.
type TextRequest struct {
	Prompt string `json:"prompt"`
}

// TextResult is the provider's text response.
type TextResult struct {
	Text string `json:"text"`
}

// ImageRequest asks for one composed image. Reference images are ordered;
// the instruction block describes each one's role.
type ImageRequest struct {
	Prompt      string   `json:"prompt"`
	ImageURLs   []string `json:"image_urls,omitempty"`
	AspectRatio string   `json:"aspect_ratio,omitempty"`
}

// ImageResult carries the generated image bytes.
type ImageResult struct {
	Data        []byte
	ContentType string
}

// VideoRequest asks for a short video clip.
type VideoRequest struct {
	Prompt      string   `json:"prompt"`
	ImageURLs   []string `json:"image_urls,omitempty"`
	AspectRatio string   `json:"aspect_ratio,omitempty"`
}

// VideoJobStatus is one poll of an async video job.
type VideoJobStatus struct {
	State    string `json:"state"` // queued, running, succeeded, failed
	VideoURL string `json:"video_url,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Terminal reports whether the provider will make no further progress.
func (s *VideoJobStatus) Terminal() bool {
	return s.State == "succeeded" || s.State == "failed"
}

// Client is the generative provider interface consumed by the orchestrator.
type Client interface {
	GenerateText(ctx context.Context, req *TextRequest) (*TextResult, error)
	GenerateImage(ctx context.Context, req *ImageRequest) (*ImageResult, error)
	SubmitVideo(ctx context.Context, req *VideoRequest) (string, error)
	GetVideoJob(ctx context.Context, providerJobID string) (*VideoJobStatus, error)
}

// Config holds provider client configuration.
type Config struct {
	BaseURL        string
	APIKey         string
	RequestTimeout time.Duration
}

// HTTPClient talks to the generative provider over HTTP, with a circuit
// breaker so a struggling provider sheds load fast instead of queueing
// requests into their timeout.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
}

// NewHTTPClient creates a new provider client.
func NewHTTPClient(config *Config) *HTTPClient {
	settings := gobreaker.Settings{
		Name:    "generative-provider",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// Only availability failures should trip the breaker.
			return err == nil || !errors.Is(err, ErrUnavailable)
		},
	}
	return &HTTPClient{
		baseURL: config.BaseURL,
		apiKey:  config.APIKey,
		client:  &http.Client{Timeout: config.RequestTimeout},
		breaker: gobreaker.NewCircuitBreaker[[]byte](settings),
	}
}

// GenerateText requests styling text.
func (c *HTTPClient) GenerateText(ctx context.Context, req *TextRequest) (*TextResult, error) {
	body, err := c.post(ctx, "/v1/text", req)
	if err != nil {
		return nil, err
	}
	var result TextResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode text response: %w", err)
	}
	return &result, nil
}

type imageResponse struct {
	ImageB64    string `json:"image_b64"`
	ContentType string `json:"content_type"`
}

// GenerateImage requests one composed image and returns its bytes.
func (c *HTTPClient) GenerateImage(ctx context.Context, req *ImageRequest) (*ImageResult, error) {
	body, err := c.post(ctx, "/v1/images", req)
	if err != nil {
		return nil, err
	}
	var resp imageResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode image response: %w", err)
	}
	data, err := decodeBase64(resp.ImageB64)
	if err != nil {
		return nil, fmt.Errorf("decode image data: %w", err)
	}
	contentType := resp.ContentType
	if contentType == "" {
		contentType = "image/png"
	}
	return &ImageResult{Data: data, ContentType: contentType}, nil
}

type submitVideoResponse struct {
	JobID string `json:"job_id"`
}

// SubmitVideo submits an async video job and returns the provider handle.
func (c *HTTPClient) SubmitVideo(ctx context.Context, req *VideoRequest) (string, error) {
	body, err := c.post(ctx, "/v1/videos", req)
	if err != nil {
		return "", err
	}
	var resp submitVideoResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode submit response: %w", err)
	}
	if resp.JobID == "" {
		return "", fmt.Errorf("%w: empty job id", ErrRejected)
	}
	return resp.JobID, nil
}

// GetVideoJob polls one async video job.
func (c *HTTPClient) GetVideoJob(ctx context.Context, providerJobID string) (*VideoJobStatus, error) {
	body, err := c.get(ctx, "/v1/videos/"+providerJobID)
	if err != nil {
		return nil, err
	}
	var status VideoJobStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("decode job status: %w", err)
	}
	return &status, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return c.execute(ctx, http.MethodPost, path, bytes.NewReader(body))
}

func (c *HTTPClient) get(ctx context.Context, path string) ([]byte, error) {
	return c.execute(ctx, http.MethodGet, path, nil)
}

func (c *HTTPClient) execute(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	result, err := c.breaker.Execute(func() ([]byte, error) {
		return c.do(ctx, method, path, body)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: circuit open", ErrUnavailable)
		}
		return nil, err
	}
	return result, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return respBody, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: %s", ErrRateLimited, truncate(respBody))
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, truncate(respBody))
	default:
		return nil, fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, truncate(respBody))
	}
}

func decodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

func truncate(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}

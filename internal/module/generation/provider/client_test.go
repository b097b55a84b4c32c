package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewHTTPClient(&Config{
		BaseURL:        srv.URL,
		APIKey:         "test-key",
		RequestTimeout: 2 * time.Second,
	})
}

func TestGenerateText(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/text", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req TextRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "evening outfit for a gallery opening", req.Prompt)

		json.NewEncoder(w).Encode(TextResult{Text: "Pair a silk slip dress with..."})
	})

	result, err := client.GenerateText(context.Background(), &TextRequest{
		Prompt: "evening outfit for a gallery opening",
	})
	require.NoError(t, err)
	assert.Contains(t, result.Text, "silk slip dress")
}

func TestGenerateImage(t *testing.T) {
	imageBytes := []byte("fake-png-bytes")
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/images", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{
			"image_b64":    base64.StdEncoding.EncodeToString(imageBytes),
			"content_type": "image/png",
		})
	})

	result, err := client.GenerateImage(context.Background(), &ImageRequest{Prompt: "street style look"})
	require.NoError(t, err)
	assert.Equal(t, imageBytes, result.Data)
	assert.Equal(t, "image/png", result.ContentType)
}

func TestSubmitAndPollVideo(t *testing.T) {
	polls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/videos":
			json.NewEncoder(w).Encode(map[string]string{"job_id": "vid_123"})
		case r.Method == http.MethodGet && r.URL.Path == "/v1/videos/vid_123":
			polls++
			if polls < 2 {
				json.NewEncoder(w).Encode(VideoJobStatus{State: "running"})
				return
			}
			json.NewEncoder(w).Encode(VideoJobStatus{State: "succeeded", VideoURL: "https://cdn.example/v.mp4"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	jobID, err := client.SubmitVideo(context.Background(), &VideoRequest{Prompt: "runway walk"})
	require.NoError(t, err)
	assert.Equal(t, "vid_123", jobID)

	status, err := client.GetVideoJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.False(t, status.Terminal())

	status, err = client.GetVideoJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.True(t, status.Terminal())
	assert.Equal(t, "https://cdn.example/v.mp4", status.VideoURL)
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"rate limited", http.StatusTooManyRequests, ErrRateLimited},
		{"bad gateway", http.StatusBadGateway, ErrUnavailable},
		{"service unavailable", http.StatusServiceUnavailable, ErrUnavailable},
		{"bad request", http.StatusBadRequest, ErrRejected},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			})
			_, err := client.GenerateText(context.Background(), &TextRequest{Prompt: "x"})
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestRequestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	t.Cleanup(srv.Close)

	client := NewHTTPClient(&Config{
		BaseURL:        srv.URL,
		APIKey:         "test-key",
		RequestTimeout: 20 * time.Millisecond,
	})

	_, err := client.GenerateText(context.Background(), &TextRequest{Prompt: "x"})
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	for i := 0; i < 5; i++ {
		_, err := client.GenerateText(context.Background(), &TextRequest{Prompt: "x"})
		assert.ErrorIs(t, err, ErrUnavailable)
	}
	assert.Equal(t, 5, calls)

	// The breaker is now open: requests fail without reaching the provider.
	_, err := client.GenerateText(context.Background(), &TextRequest{Prompt: "x"})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 5, calls)
}

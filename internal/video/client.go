package video

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/kiranshivaraju/scoutreport/pkg/models"
)

// Sentinel errors for video service failures.
var (
	ErrVideoNotFound       = errors.New("video not found")
	ErrUpstreamUnavailable = errors.New("video service unavailable")
)

// Client fetches descriptive metadata for uploaded videos.
type Client interface {
	GetVideoMetadata(ctx context.Context, videoID string) (*models.VideoMetadata, error)
}

// HTTPClient implements Client against the main backend's video API.
// Calls are bounded by the client timeout and never retried here.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a new video service HTTP client.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type videoResponse struct {
	Data struct {
		Title        string  `json:"title"`
		StreamingURL string  `json:"streaming_url"`
		Duration     float64 `json:"duration"`
		ContentType  string  `json:"content_type"`
	} `json:"data"`
}

func (c *HTTPClient) GetVideoMetadata(ctx context.Context, videoID string) (*models.VideoMetadata, error) {
	u := fmt.Sprintf("%s/api/videos/%s", c.baseURL, url.PathEscape(videoID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrVideoNotFound, videoID)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: status %d", ErrUpstreamUnavailable, resp.StatusCode)
	}

	var body videoResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decoding video response: %v", ErrUpstreamUnavailable, err)
	}

	return &models.VideoMetadata{
		ID:               videoID,
		Title:            body.Data.Title,
		DurationSeconds:  body.Data.Duration,
		PlayableLocation: body.Data.StreamingURL,
		ContentType:      body.Data.ContentType,
	}, nil
}

// classifyError maps transport-level errors to sentinel errors. Timeouts
// and cancellations count as the upstream being unavailable.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: timeout: %v", ErrUpstreamUnavailable, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: timeout: %v", ErrUpstreamUnavailable, err)
	}

	return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
}

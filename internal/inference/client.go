package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"safescan/internal/scan"
)

// Client talks to the remote detection service over HTTP/JSON.
// Each Infer performs exactly one outbound call; the caller's context
// carries the per-request deadline and cancellation aborts the transport.
type Client struct {
	endpoint string
	client   *http.Client
}

// NewClient creates a client for the detection service at endpoint
// (e.g. "http://localhost:8000"). No client-level timeout is set; the
// per-request context owns the deadline.
func NewClient(endpoint string) *Client {
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{},
	}
}

// detectRequest is the POST /detect payload
type detectRequest struct {
	Image      string  `json:"image"` // Base64 JPEG payload
	Confidence float64 `json:"confidence"`
}

// detectedObject mirrors one element of the service's objects array
type detectedObject struct {
	Name       string    `json:"name"`
	Confidence float64   `json:"confidence"`
	BBox       scan.BBox `json:"bbox"`
}

// detectResponse is the POST /detect response shape
type detectResponse struct {
	Objects         []detectedObject `json:"objects"`
	InferenceTimeMs float64          `json:"inference_time_ms"`
	ImageSize       []int            `json:"image_size"` // [width, height]
}

// healthResponse is the GET /health response shape
type healthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
}

// Infer submits one encoded frame and returns the detection set.
// Failure modes: *TimeoutError when the deadline passed, *NetworkError on
// transport failure, *ServerError on a non-2xx response. A canceled
// context propagates as context.Canceled.
func (c *Client) Infer(ctx context.Context, frame *scan.EncodedFrame, confidence float64) (*scan.DetectionSet, error) {
	payload := detectRequest{
		Image:      base64.StdEncoding.EncodeToString(frame.Data),
		Confidence: confidence,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode detect request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/detect", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build detect request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, c.classifyTransport(ctx, err, start)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &ServerError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	var decoded detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, &NetworkError{Err: fmt.Errorf("malformed detect response: %w", err)}
	}

	set := &scan.DetectionSet{
		Objects:     make([]scan.Detection, 0, len(decoded.Objects)),
		InferenceMs: decoded.InferenceTimeMs,
		Latency:     time.Since(start),
	}
	for _, obj := range decoded.Objects {
		set.Objects = append(set.Objects, scan.Detection{
			Name:       obj.Name,
			Confidence: obj.Confidence,
			BBox:       obj.BBox,
		})
	}
	if len(decoded.ImageSize) == 2 {
		set.ImageWidth = decoded.ImageSize[0]
		set.ImageHeight = decoded.ImageSize[1]
	}
	return set, nil
}

// CheckHealth probes GET /health and returns nil only when the service
// reports itself healthy with the model loaded
func (c *Client) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to build health request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &ServerError{StatusCode: resp.StatusCode}
	}

	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return &NetworkError{Err: fmt.Errorf("malformed health response: %w", err)}
	}
	if health.Status != "healthy" {
		return fmt.Errorf("detection service reported status %q", health.Status)
	}
	if !health.ModelLoaded {
		return errors.New("detection service model not loaded")
	}
	return nil
}

// classifyTransport maps an http.Client error onto the failure taxonomy.
// A parent cancellation is not a failure of the service and propagates
// unchanged so callers can tell superseded requests apart.
func (c *Client) classifyTransport(ctx context.Context, err error, start time.Time) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &TimeoutError{Timeout: time.Since(start).Round(time.Millisecond)}
	case errors.Is(ctx.Err(), context.Canceled):
		return context.Canceled
	default:
		return &NetworkError{Err: err}
	}
}

// Endpoint returns the configured service base URL
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Ensure Client implements the scanner's client contract
var _ scan.InferenceClient = (*Client)(nil)

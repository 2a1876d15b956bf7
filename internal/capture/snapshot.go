package capture

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"safescan/internal/encode"
	"safescan/internal/scan"
)

// SnapshotSource fetches one still image per capture from an HTTP
// endpoint (IP cameras and phone camera bridges commonly expose one).
// The scanner owns the cadence, so the source pulls on demand instead of
// polling on its own timer.
type SnapshotSource struct {
	url    string
	client *http.Client
}

// NewSnapshotSource creates a source for an HTTP still-image endpoint
func NewSnapshotSource(url string) *SnapshotSource {
	return &SnapshotSource{
		url:    url,
		client: &http.Client{},
	}
}

// Capture fetches and decodes one frame
func (s *SnapshotSource) Capture(ctx context.Context) (*scan.Frame, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("snapshot fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("snapshot endpoint returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("snapshot read failed: %w", err)
	}

	img, err := encode.Decode(data)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	return &scan.Frame{
		Image:     img,
		Width:     bounds.Dx(),
		Height:    bounds.Dy(),
		Timestamp: time.Now(),
	}, nil
}

// Ensure SnapshotSource satisfies the scanner's source contract
var _ scan.FrameSource = (*SnapshotSource)(nil)

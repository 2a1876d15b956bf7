package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"safescan/internal/encode"
	"safescan/internal/scan"
)

// imageExtensions lists the file types the directory source picks up
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
}

// DirSource cycles through the image files of a directory, one per
// capture. Useful for offline runs and for replaying recorded scans
// against a live detection service.
type DirSource struct {
	dir   string
	mu    sync.Mutex
	files []string
	next  int
}

// NewDirSource creates a source over the images in dir. The file list is
// resolved once, in name order.
func NewDirSource(dir string) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read image directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if imageExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no images found in %s", dir)
	}
	sort.Strings(files)

	return &DirSource{dir: dir, files: files}, nil
}

// Capture reads and decodes the next image, wrapping around at the end
func (d *DirSource) Capture(ctx context.Context) (*scan.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	path := d.files[d.next]
	d.next = (d.next + 1) % len(d.files)
	d.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	img, err := encode.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	bounds := img.Bounds()
	return &scan.Frame{
		Image:     img,
		Width:     bounds.Dx(),
		Height:    bounds.Dy(),
		Timestamp: time.Now(),
	}, nil
}

// Len returns the number of images the source cycles through
func (d *DirSource) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.files)
}

// Ensure DirSource satisfies the scanner's source contract
var _ scan.FrameSource = (*DirSource)(nil)

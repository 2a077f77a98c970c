// Package frames provides the image sources the tracker consumes.
package frames

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/kozaktomas/people-tracker/internal/imaging"
)

// ErrNoFrames is returned when a directory holds no images.
var ErrNoFrames = errors.New("no image files found")

// Source yields frames. Next returns io.EOF when the source is exhausted.
type Source interface {
	Next(ctx context.Context) (image.Image, time.Time, error)
}

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
}

// DirSource replays image files from a directory in lexical order.
type DirSource struct {
	files []string
	next  int
	start time.Time
	step  time.Duration
}

// NewDirSource lists the images in dir. Frame timestamps are synthesized at
// the given fps starting now, so replays behave like a live camera.
func NewDirSource(dir string, fps float64) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frame directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%s: %w", dir, ErrNoFrames)
	}
	slices.Sort(files)

	step := time.Second
	if fps > 0 {
		step = time.Duration(float64(time.Second) / fps)
	}
	return &DirSource{files: files, start: time.Now(), step: step}, nil
}

// Len returns the number of frames in the directory.
func (s *DirSource) Len() int { return len(s.files) }

func (s *DirSource) Next(ctx context.Context) (image.Image, time.Time, error) {
	if err := ctx.Err(); err != nil {
		return nil, time.Time{}, err
	}
	if s.next >= len(s.files) {
		return nil, time.Time{}, io.EOF
	}
	path := s.files[s.next]
	at := s.start.Add(time.Duration(s.next) * s.step)
	s.next++

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, at, fmt.Errorf("read frame: %w", err)
	}
	img, err := imaging.Decode(data)
	if err != nil {
		return nil, at, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return img, at, nil
}

// HTTPSource polls a snapshot URL (for example an IP camera's JPEG endpoint).
type HTTPSource struct {
	url    string
	client *http.Client
}

func NewHTTPSource(url string, timeout time.Duration) *HTTPSource {
	return &HTTPSource{url: url, client: &http.Client{Timeout: timeout}}
}

func (s *HTTPSource) Next(ctx context.Context) (image.Image, time.Time, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("fetch snapshot: %w", err)
	}
	defer resp.Body.Close()
	at := time.Now()

	if resp.StatusCode != http.StatusOK {
		return nil, at, fmt.Errorf("snapshot returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, at, fmt.Errorf("read snapshot: %w", err)
	}
	img, err := imaging.Decode(data)
	if err != nil {
		return nil, at, err
	}
	return img, at, nil
}

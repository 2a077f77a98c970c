// Package detect is the client of the face and body detection server that
// turns camera frames into tracking.Frame observations.
package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kozaktomas/people-tracker/internal/facematch"
	"github.com/kozaktomas/people-tracker/internal/identity"
	"github.com/kozaktomas/people-tracker/internal/imaging"
	"github.com/kozaktomas/people-tracker/internal/tracking"
)

const (
	defaultDetectorURL = "http://localhost:8000"
	uploadQuality      = 90

	// Detections overlapping a better one by more than this are duplicates.
	faceOverlapIoU = 0.6
)

// Options configures the detector client.
type Options struct {
	URL       string
	Timeout   time.Duration // per request
	ResizeMax int           // frames are downscaled to this size before upload
	MinScore  float64       // faces below this detection score are ignored
}

// Client calls the detection server.
type Client struct {
	baseURL   string
	client    *http.Client
	resizeMax int
	minScore  float64
	logger    *slog.Logger

	// bodiesDisabled is set once the server reports it has no body endpoint.
	bodiesDisabled atomic.Bool
}

// NewClient creates a detector client.
func NewClient(opts Options, logger *slog.Logger) *Client {
	if opts.URL == "" {
		opts.URL = defaultDetectorURL
	}
	return &Client{
		baseURL:   strings.TrimSuffix(opts.URL, "/"),
		client:    &http.Client{Timeout: opts.Timeout},
		resizeMax: opts.ResizeMax,
		minScore:  opts.MinScore,
		logger:    logger,
	}
}

// FaceDetection represents a single detected face
type FaceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score"`
}

// FaceResponse represents the response from the face embedding endpoint
type FaceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []FaceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// BodyDetection is one detected person with optional pose landmarks.
type BodyDetection struct {
	BBox      []float64           `json:"bbox"`
	Score     float64             `json:"score"`
	Landmarks []identity.Landmark `json:"landmarks,omitempty"`
}

// BodyResponse represents the response from the body detection endpoint.
type BodyResponse struct {
	Bodies []BodyDetection `json:"bodies"`
}

var errNotFound = errors.New("endpoint not found")

// postMultipartImage posts the image as the "file" form field.
func (c *Client) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", "frame.jpg")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, errNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// DetectFaces returns the faces of an encoded image.
func (c *Client) DetectFaces(ctx context.Context, imageData []byte) (*FaceResponse, error) {
	body, err := c.postMultipartImage(ctx, "/embed/face", imageData)
	if err != nil {
		return nil, err
	}
	var faceResp FaceResponse
	if err := json.Unmarshal(body, &faceResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &faceResp, nil
}

// DetectBodies returns the people of an encoded image.
func (c *Client) DetectBodies(ctx context.Context, imageData []byte) (*BodyResponse, error) {
	body, err := c.postMultipartImage(ctx, "/detect/body", imageData)
	if err != nil {
		return nil, err
	}
	var bodyResp BodyResponse
	if err := json.Unmarshal(body, &bodyResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &bodyResp, nil
}

// Detect runs face and body detection on a frame. Boxes are mapped back to
// the coordinates of img and crops are cut from the full-resolution frame.
// A missing body endpoint is tolerated; the frame then has faces only.
func (c *Client) Detect(ctx context.Context, img image.Image) (tracking.Frame, error) {
	frame := tracking.Frame{CapturedAt: time.Now()}

	small, scale := imaging.Fit(img, c.resizeMax)
	data, err := imaging.EncodeJPEG(small, uploadQuality)
	if err != nil {
		return frame, err
	}
	inv := 1 / scale

	faces, err := c.DetectFaces(ctx, data)
	if err != nil {
		return frame, fmt.Errorf("detect faces: %w", err)
	}
	for _, f := range suppressOverlaps(faces.Faces, faceOverlapIoU) {
		if f.DetScore < c.minScore || len(f.Embedding) == 0 {
			continue
		}
		box := facematch.ScaleBox(f.BBox, inv)
		crop, err := imaging.Crop(img, box)
		if err != nil {
			c.logger.Debug("skipping face outside frame", "bbox", box, "error", err)
			continue
		}
		frame.Faces = append(frame.Faces, tracking.FaceObservation{
			Fingerprint: identity.Fingerprint(f.Embedding),
			Crop:        crop,
			Box:         box,
		})
	}

	if c.bodiesDisabled.Load() {
		return frame, nil
	}
	bodies, err := c.DetectBodies(ctx, data)
	if errors.Is(err, errNotFound) {
		c.bodiesDisabled.Store(true)
		c.logger.Info("detector has no body endpoint, continuing with faces only")
		return frame, nil
	}
	if err != nil {
		return frame, fmt.Errorf("detect bodies: %w", err)
	}
	for _, b := range bodies.Bodies {
		box := facematch.ScaleBox(b.BBox, inv)
		crop, err := imaging.Crop(img, box)
		if err != nil {
			continue
		}
		obs := tracking.BodyObservation{Box: box, Crop: crop}
		if len(b.Landmarks) > 0 {
			obs.Pose = &identity.Pose{Landmarks: b.Landmarks}
		}
		frame.Bodies = append(frame.Bodies, obs)
	}
	return frame, nil
}

// suppressOverlaps keeps the highest scoring face of every group whose boxes
// overlap by more than maxIoU. Input order is preserved for the survivors.
func suppressOverlaps(faces []FaceDetection, maxIoU float64) []FaceDetection {
	order := make([]int, len(faces))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return faces[order[a]].DetScore > faces[order[b]].DetScore
	})

	dropped := make([]bool, len(faces))
	for i, a := range order {
		if dropped[a] {
			continue
		}
		for _, b := range order[i+1:] {
			if !dropped[b] && facematch.ComputeIoU(faces[a].BBox, faces[b].BBox) > maxIoU {
				dropped[b] = true
			}
		}
	}

	kept := make([]FaceDetection, 0, len(faces))
	for i, f := range faces {
		if !dropped[i] {
			kept = append(kept, f)
		}
	}
	return kept
}

// Health checks that the detection server answers.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("detector unreachable: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("detector health check returned status %d", resp.StatusCode)
	}
	return nil
}

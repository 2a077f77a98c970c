package plugins

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kozaktomas/people-tracker/internal/config"
	"github.com/kozaktomas/people-tracker/internal/identity"
	"github.com/kozaktomas/people-tracker/internal/imaging"
	"github.com/kozaktomas/people-tracker/internal/plugin"
	"golang.org/x/image/draw"
)

const (
	SnapshotCaptureName = "snapshot_capture"

	snapshotQuality = 90
	landmarkRadius  = 2
)

// Crop kinds written by SnapshotCapture, in write order.
const (
	CaptureHead = "head"
	CaptureBody = "body"
	CapturePose = "pose"
)

var landmarkColor = color.RGBA{R: 255, G: 32, B: 32, A: 255}

type captureKey struct {
	id   int64
	kind string
}

// SnapshotCapture writes head, body and pose crops of each person to
// <dir>/person_<id>/<kind>_<timestamp>.jpg, each kind on its own interval.
// The pose crop is the body crop with the landmarks marked.
type SnapshotCapture struct {
	dir       string
	intervals map[string]time.Duration
	logger    *slog.Logger

	mu   sync.Mutex
	last map[captureKey]time.Time
}

func NewSnapshotCapture(cfg config.CaptureConfig, logger *slog.Logger) *SnapshotCapture {
	return &SnapshotCapture{
		dir: cfg.Dir,
		intervals: map[string]time.Duration{
			CaptureHead: cfg.HeadInterval,
			CaptureBody: cfg.BodyInterval,
			CapturePose: cfg.PoseInterval,
		},
		logger: logger,
		last:   make(map[captureKey]time.Time),
	}
}

func (*SnapshotCapture) Name() string            { return SnapshotCaptureName }
func (*SnapshotCapture) Input() plugin.InputKind { return plugin.InputGeneric }
func (*SnapshotCapture) Async() bool             { return false }

func (c *SnapshotCapture) Process(ctx context.Context, s plugin.Subject) (map[string]any, error) {
	now := s.Now
	if now.IsZero() {
		now = time.Now()
	}

	saved := make(map[string]string)
	for _, kind := range []string{CaptureHead, CaptureBody, CapturePose} {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		interval := c.intervals[kind]
		if interval <= 0 {
			continue
		}
		key := captureKey{s.IdentityID, kind}
		if !c.due(key, now, interval) {
			continue
		}
		img := cropFor(kind, s.Observation)
		if img == nil {
			continue
		}
		path, err := c.write(s.IdentityID, kind, now, img)
		if err != nil {
			return nil, fmt.Errorf("save %s snapshot: %w", kind, err)
		}
		c.mu.Lock()
		c.last[key] = now
		c.mu.Unlock()
		saved[kind] = path
		c.logger.Debug("snapshot saved", "identity", s.IdentityID, "kind", kind, "path", path)
	}
	return map[string]any{
		"dir":   c.personDir(s.IdentityID),
		"saved": saved,
	}, nil
}

// IdentityLost forgets the capture times of an identity; a returning person
// is captured again straight away.
func (c *SnapshotCapture) IdentityLost(_ context.Context, id int64, _ time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.last {
		if key.id == id {
			delete(c.last, key)
		}
	}
}

func (c *SnapshotCapture) due(key captureKey, now time.Time, interval time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	last, ok := c.last[key]
	return !ok || now.Sub(last) >= interval
}

func (c *SnapshotCapture) personDir(id int64) string {
	return filepath.Join(c.dir, fmt.Sprintf("person_%d", id))
}

func (c *SnapshotCapture) write(id int64, kind string, now time.Time, img image.Image) (string, error) {
	dir := c.personDir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	data, err := imaging.EncodeJPEG(img, snapshotQuality)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.jpg", kind, now.UTC().Format("20060102T150405.000")))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func cropFor(kind string, obs identity.Observation) image.Image {
	switch kind {
	case CaptureHead:
		return obs.FaceImage
	case CaptureBody:
		return obs.BodyImage
	case CapturePose:
		if obs.BodyImage == nil || obs.Pose == nil || len(obs.Pose.Landmarks) == 0 {
			return nil
		}
		return markLandmarks(obs.BodyImage, obs.Pose)
	}
	return nil
}

// markLandmarks copies body and draws a small square on every landmark.
// Landmarks are normalized to the body crop.
func markLandmarks(body image.Image, pose *identity.Pose) *image.RGBA {
	b := body.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), body, b.Min, draw.Src)

	dot := image.NewUniform(landmarkColor)
	for _, lm := range pose.Landmarks {
		if lm.X < 0 || lm.X > 1 || lm.Y < 0 || lm.Y > 1 {
			continue
		}
		x := int(lm.X * float64(b.Dx()-1))
		y := int(lm.Y * float64(b.Dy()-1))
		r := image.Rect(x-landmarkRadius, y-landmarkRadius, x+landmarkRadius+1, y+landmarkRadius+1)
		draw.Draw(out, r.Intersect(out.Bounds()), dot, image.Point{}, draw.Src)
	}
	return out
}

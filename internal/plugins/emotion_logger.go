package plugins

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kozaktomas/people-tracker/internal/plugin"
	"github.com/kozaktomas/people-tracker/internal/results"
)

// EmotionLogger logs emotion changes reported by another plugin. It must be
// registered after the plugin it reads.
type EmotionLogger struct {
	source string
	logger *slog.Logger

	mu   sync.Mutex
	last map[int64]string
}

func NewEmotionLogger(source string, logger *slog.Logger) *EmotionLogger {
	return &EmotionLogger{source: source, logger: logger, last: make(map[int64]string)}
}

func (*EmotionLogger) Name() string            { return "emotion_logger" }
func (*EmotionLogger) Input() plugin.InputKind { return plugin.InputGeneric }
func (*EmotionLogger) Async() bool             { return false }

func (l *EmotionLogger) Process(_ context.Context, s plugin.Subject) (map[string]any, error) {
	res, ok := s.Results[l.source]
	if !ok || res.Status != results.StatusOK {
		return map[string]any{"available": false, "source": l.source}, nil
	}
	emotion, _ := res.Payload["emotion"].(string)
	confidence, _ := res.Payload["confidence"].(float64)

	l.mu.Lock()
	changed := l.last[s.IdentityID] != emotion
	l.last[s.IdentityID] = emotion
	l.mu.Unlock()

	if changed {
		l.logger.Info("emotion changed",
			"identity", s.IdentityID,
			"name", displayName(s.IdentityID, s.Name),
			"emotion", emotion,
			"confidence", confidence)
	}
	return map[string]any{
		"available":  true,
		"source":     l.source,
		"emotion":    emotion,
		"confidence": confidence,
		"changed":    changed,
	}, nil
}

// IdentityLost forgets the last logged emotion.
func (l *EmotionLogger) IdentityLost(_ context.Context, identityID int64, _ time.Time) {
	l.mu.Lock()
	delete(l.last, identityID)
	l.mu.Unlock()
}

// Package plugins contains the built-in enrichment plugins.
package plugins

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kozaktomas/people-tracker/internal/ai"
	"github.com/kozaktomas/people-tracker/internal/config"
	"github.com/kozaktomas/people-tracker/internal/plugin"
)

// Deps carries the collaborators of the built-in plugins.
type Deps struct {
	Logger      *slog.Logger
	HTTPClient  *http.Client // nil uses a client without timeout; requests are bounded by ctx
	EmotionAPI  config.EmotionAPIConfig
	ActivityAPI config.ActivityAPIConfig
	Capture     config.CaptureConfig // empty Dir skips snapshot_capture
	Describer   ai.Provider          // nil skips the description plugin
}

type builtin struct {
	plugin    plugin.Plugin
	interval  time.Duration
	rateLimit float64
}

// Register adds the built-in plugins to reg in their documented order.
// Plugins backed by a remote service are only registered when the service
// is configured. emotion_logger is registered after emotion_api so that it
// reads the emotion written in the same pass.
func Register(reg *plugin.Registry, deps Deps) error {
	client := deps.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	list := []builtin{
		{plugin: NewPersonEvents(deps.Logger), interval: time.Second},
		{plugin: NewFaceQuality(), interval: time.Second},
		{plugin: NewBodyActivity(), interval: 2 * time.Second},
		{plugin: NewPoseActivity(), interval: time.Second},
	}
	if deps.Capture.Dir != "" {
		list = append(list, builtin{plugin: NewSnapshotCapture(deps.Capture, deps.Logger), interval: time.Second})
	}
	if deps.EmotionAPI.URL != "" {
		list = append(list,
			builtin{plugin: NewEmotionAPI(deps.EmotionAPI.URL, client, deps.Logger), interval: 2 * time.Second, rateLimit: deps.EmotionAPI.RateLimit},
			builtin{plugin: NewEmotionLogger(EmotionAPIName, deps.Logger), interval: 2 * time.Second},
		)
	}
	if deps.ActivityAPI.URL != "" {
		list = append(list, builtin{
			plugin:    NewSmolVLM(deps.ActivityAPI.URL, deps.ActivityAPI.APIKey, deps.ActivityAPI.MaxNewTokens, client),
			interval:  5 * time.Second,
			rateLimit: deps.ActivityAPI.RateLimit,
		})
	}
	if deps.Describer != nil {
		list = append(list, builtin{plugin: NewDescription(deps.Describer), interval: 30 * time.Second})
	}

	for _, b := range list {
		if err := reg.Register(b.plugin, b.interval, true); err != nil {
			return fmt.Errorf("register %s: %w", b.plugin.Name(), err)
		}
		if b.rateLimit > 0 {
			if err := reg.SetRateLimit(b.plugin.Name(), b.rateLimit); err != nil {
				return err
			}
		}
	}
	return nil
}

package plugins

import (
	"context"
	"fmt"

	"github.com/kozaktomas/people-tracker/internal/imaging"
	"github.com/kozaktomas/people-tracker/internal/plugin"
)

// BodyActivity guesses an activity from the shape and texture of the body crop.
type BodyActivity struct{}

func NewBodyActivity() *BodyActivity { return &BodyActivity{} }

func (*BodyActivity) Name() string            { return "body_activity" }
func (*BodyActivity) Input() plugin.InputKind { return plugin.InputBody }
func (*BodyActivity) Async() bool             { return false }

func (*BodyActivity) Process(_ context.Context, s plugin.Subject) (map[string]any, error) {
	st := imaging.ComputeStats(s.Observation.BodyImage)
	if st.Width == 0 || st.Height == 0 {
		return nil, fmt.Errorf("empty body image")
	}
	aspect := float64(st.Height) / float64(st.Width)
	activity, confidence := classifyBody(aspect, st.Contrast)
	return map[string]any{
		"activity":     activity,
		"confidence":   confidence,
		"aspect_ratio": aspect,
		"brightness":   st.Brightness,
		"contrast":     st.Contrast,
		"edge_density": st.EdgeDensity,
		"method":       "body_heuristic",
	}, nil
}

// classifyBody maps the height/width ratio and luma contrast to an activity.
func classifyBody(aspect, contrast float64) (string, float64) {
	switch {
	case aspect > 2.0:
		return "standing", 0.7
	case aspect < 1.2:
		return "sitting", 0.6
	case contrast > 50:
		return "active", 0.5
	default:
		return "stationary", 0.8
	}
}

package plugins

import (
	"context"

	"github.com/kozaktomas/people-tracker/internal/imaging"
	"github.com/kozaktomas/people-tracker/internal/plugin"
)

// FaceQuality reports pixel statistics of the face crop.
type FaceQuality struct{}

func NewFaceQuality() *FaceQuality { return &FaceQuality{} }

func (*FaceQuality) Name() string            { return "face_quality" }
func (*FaceQuality) Input() plugin.InputKind { return plugin.InputFace }
func (*FaceQuality) Async() bool             { return false }

func (*FaceQuality) Process(_ context.Context, s plugin.Subject) (map[string]any, error) {
	st := imaging.ComputeStats(s.Observation.FaceImage)
	return map[string]any{
		"width":      st.Width,
		"height":     st.Height,
		"brightness": st.Brightness,
		"contrast":   st.Contrast,
		"sharpness":  st.Sharpness,
		"avg_red":    st.AvgRed,
		"avg_green":  st.AvgGreen,
		"avg_blue":   st.AvgBlue,
		"method":     "face_image_analysis",
	}, nil
}

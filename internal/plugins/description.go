package plugins

import (
	"context"
	"fmt"

	"github.com/kozaktomas/people-tracker/internal/ai"
	"github.com/kozaktomas/people-tracker/internal/imaging"
	"github.com/kozaktomas/people-tracker/internal/plugin"
)

// Description asks a vision LLM for a structured description of the person.
// The body crop is used when one is attached, otherwise the face crop.
type Description struct {
	provider ai.Provider
}

func NewDescription(provider ai.Provider) *Description {
	return &Description{provider: provider}
}

func (*Description) Name() string            { return "description" }
func (*Description) Input() plugin.InputKind { return plugin.InputFace }
func (*Description) Async() bool             { return true }

func (d *Description) Process(ctx context.Context, s plugin.Subject) (map[string]any, error) {
	img := s.Observation.BodyImage
	source := "body"
	if img == nil {
		img = s.Observation.FaceImage
		source = "face"
	}
	data, err := imaging.EncodeJPEG(img, uploadQuality)
	if err != nil {
		return nil, err
	}
	desc, err := d.provider.Describe(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("describe with %s: %w", d.provider.Name(), err)
	}
	payload := desc.Payload()
	payload["model"] = d.provider.Name()
	payload["source"] = source
	return payload, nil
}

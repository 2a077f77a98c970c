// Package plugin registers enrichment plugins, decides when they are due and
// runs them, inline for synchronous plugins and on bounded background workers
// for asynchronous ones.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/people-tracker/internal/identity"
	"github.com/kozaktomas/people-tracker/internal/results"
)

var (
	// ErrDuplicatePlugin is returned when a plugin name is registered twice.
	ErrDuplicatePlugin = errors.New("plugin already registered")
	// ErrUnknownPlugin is returned for names that are not registered.
	ErrUnknownPlugin = errors.New("unknown plugin")
	// ErrNoInput is recorded when the subject lacks what the plugin consumes.
	ErrNoInput = errors.New("input not available")
)

// InputKind is the capability tag declaring what a plugin consumes.
type InputKind int

const (
	InputFace InputKind = iota
	InputBody
	InputPose
	InputGeneric
)

func (k InputKind) String() string {
	switch k {
	case InputFace:
		return "face"
	case InputBody:
		return "body"
	case InputPose:
		return "pose"
	case InputGeneric:
		return "generic"
	default:
		return fmt.Sprintf("input(%d)", int(k))
	}
}

// MarshalText renders the kind by name in JSON.
func (k InputKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Subject is the per-identity input handed to a plugin.
type Subject struct {
	IdentityID  int64
	Name        string
	Observation identity.Observation
	// Results holds this identity's results as of the moment the plugin is
	// called, including those written earlier in the same pass.
	Results map[string]results.Result
	Now     time.Time
	// RequestID is set for asynchronous runs and should be forwarded to
	// remote services.
	RequestID string
}

// Plugin analyzes one identity. Process must honour ctx cancellation.
type Plugin interface {
	Name() string
	Input() InputKind
	// Async plugins run on background workers; sync plugins run inline on
	// the tick and must not do unbounded I/O. A sync call that outlives its
	// budget is abandoned, not stopped; the plugin is skipped until it returns.
	Async() bool
	Process(ctx context.Context, subject Subject) (map[string]any, error)
}

// Starter is implemented by plugins that need a startup check. Errors are
// logged and do not disable the plugin.
type Starter interface {
	Start(ctx context.Context) error
}

// LostHook is implemented by plugins that react to identities going Lost.
type LostHook interface {
	IdentityLost(ctx context.Context, identityID int64, at time.Time)
}

// missingInput returns a descriptive ErrNoInput when the subject cannot feed
// a plugin of the given kind.
func missingInput(kind InputKind, s Subject) error {
	switch kind {
	case InputFace:
		if s.Observation.FaceImage == nil {
			return fmt.Errorf("no face image available: %w", ErrNoInput)
		}
	case InputBody:
		if s.Observation.BodyImage == nil {
			return fmt.Errorf("no body image available: %w", ErrNoInput)
		}
	case InputPose:
		if s.Observation.Pose == nil || len(s.Observation.Pose.Landmarks) == 0 {
			return fmt.Errorf("no pose landmarks available: %w", ErrNoInput)
		}
	}
	return nil
}

// Package ai describes people in image crops using vision language models.
package ai

import (
	"context"
	"errors"
	"sync"
)

// ErrNoResponse is returned when a provider answers without content.
var ErrNoResponse = errors.New("empty response from provider")

// Provider describes the person shown in a JPEG crop.
type Provider interface {
	Name() string
	Describe(ctx context.Context, jpeg []byte) (*PersonDescription, error)
	Usage() Usage
}

// PersonDescription is the structured answer of a vision model.
type PersonDescription struct {
	Summary     string   `json:"summary"`
	ApparentAge string   `json:"apparent_age"`
	Clothing    []string `json:"clothing"`
	Accessories []string `json:"accessories"`
	Expression  string   `json:"expression"`
	Confidence  float64  `json:"confidence"` // 0-1
}

// Payload converts the description to a plugin result payload.
func (d *PersonDescription) Payload() map[string]any {
	return map[string]any{
		"summary":      d.Summary,
		"apparent_age": d.ApparentAge,
		"clothing":     append([]string(nil), d.Clothing...),
		"accessories":  append([]string(nil), d.Accessories...),
		"expression":   d.Expression,
		"confidence":   d.Confidence,
	}
}

// Usage tracks token usage across requests.
type Usage struct {
	Requests     int
	InputTokens  int
	OutputTokens int
}

// usageCounter is shared by providers; descriptions run on concurrent
// background workers.
type usageCounter struct {
	mu    sync.Mutex
	usage Usage
}

func (c *usageCounter) add(inputTokens, outputTokens int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.usage.Requests++
	c.usage.InputTokens += inputTokens
	c.usage.OutputTokens += outputTokens
}

func (c *usageCounter) Usage() Usage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage
}

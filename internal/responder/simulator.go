// Package responder provides the reference Responder implementation: a
// fixed-latency simulator producing templated replies. Production builds
// swap this for real provider clients without touching the chat store.
package responder

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DefaultDelay is the simulated round-trip latency.
const DefaultDelay = time.Second

// Simulator fakes a provider call with a fixed delay and a deterministic
// templated reply.
type Simulator struct {
	delay time.Duration
}

// NewSimulator creates a simulator. A non-positive delay falls back to
// DefaultDelay.
func NewSimulator(delay time.Duration) *Simulator {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Simulator{delay: delay}
}

// Respond waits out the simulated latency, then returns a reply mentioning
// the model. The reply varies on whether the user asked a question.
func (s *Simulator) Respond(ctx context.Context, userText, modelID string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(s.delay):
	}

	reply := fmt.Sprintf("This is a simulated response from the %s model.", modelID)
	if strings.Contains(userText, "?") {
		reply += " I noticed you asked a question. In a real implementation, I would process this through the selected AI service API."
	} else {
		reply += " Your input has been received and would be processed by the real AI service."
	}
	return reply, nil
}

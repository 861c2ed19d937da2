package anchor

import (
	"context"
	"time"

	"sipdmod/internal/host"
	"sipdmod/internal/logging"
)

const (
	DefaultSettleCeiling = 5 * time.Second
	DefaultSettlePoll    = 200 * time.Millisecond
)

// Outcome says why a settle wait ended.
type Outcome int

const (
	// SettledStable: the element was fully opaque with no active transition.
	SettledStable Outcome = iota
	// SettledTransitionEnd: a transitionend notification arrived.
	SettledTransitionEnd
	// SettledCeiling: the safety ceiling elapsed first.
	SettledCeiling
	// SettledCancelled: the caller's context ended.
	SettledCancelled
)

func (o Outcome) String() string {
	switch o {
	case SettledStable:
		return "stable"
	case SettledTransitionEnd:
		return "transitionend"
	case SettledCeiling:
		return "ceiling"
	case SettledCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Settler waits for an element's entrance transition to finish.
type Settler struct {
	Ceiling time.Duration
	Poll    time.Duration
}

// NewSettler creates a Settler. Non-positive durations fall back to defaults.
func NewSettler(ceiling, poll time.Duration) *Settler {
	if ceiling <= 0 {
		ceiling = DefaultSettleCeiling
	}
	if poll <= 0 {
		poll = DefaultSettlePoll
	}
	return &Settler{Ceiling: ceiling, Poll: poll}
}

// Wait returns once node is stable, a transitionend arrives, or the ceiling
// passes. Only SettledCancelled means the caller should not proceed.
func (s *Settler) Wait(ctx context.Context, doc host.Document, node host.Node) Outcome {
	if s.stable(ctx, doc, node) {
		return SettledStable
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.Ceiling)
	defer cancel()

	ended, err := doc.OnTransitionEnd(waitCtx, node)
	if err != nil {
		logging.AnchorDebug("Settler: transitionend unavailable for %s: %v", node.Describe(), err)
		ended = nil
	}

	ticker := time.NewTicker(s.Poll)
	defer ticker.Stop()

	for {
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return SettledCancelled
			}
			logging.AnchorDebug("Settler: ceiling %v reached for %s", s.Ceiling, node.Describe())
			return SettledCeiling

		case <-ended:
			return SettledTransitionEnd

		case <-ticker.C:
			if s.stable(waitCtx, doc, node) {
				return SettledStable
			}
		}
	}
}

func (s *Settler) stable(ctx context.Context, doc host.Document, node host.Node) bool {
	st, err := doc.Style(ctx, node)
	if err != nil {
		logging.AnchorDebug("Settler: style of %s: %v", node.Describe(), err)
		return false
	}
	return st.Stable()
}

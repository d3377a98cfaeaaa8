package playback

import (
	"context"
	"time"

	"github.com/reelsmith/reel-core/internal/feed"
)

// Session states. A session is short-lived: every terminal state converges
// back to idle and a new start always constructs a fresh session.
const (
	StateIdle      = "idle"
	StateStarting  = "starting"
	StateRunning   = "running"
	StateCompleted = "completed"
	StateStopped   = "stopped"
	StateErrored   = "errored"
)

// Session is the single live playback unit. It exclusively owns its audio
// streams and any pending speech utterance; the manager releases all of
// them on destruction. Callbacks carry a session pointer and are ignored
// once the session is no longer current.
type Session struct {
	ID   string
	item *feed.Item

	ctx    context.Context
	cancel context.CancelFunc

	state     string
	lastIndex int           // last slide scrolled into view, -1 before the first
	total     time.Duration // narration clip length, audio-driven mode only
}

// Item returns the item this session plays.
func (s *Session) Item() *feed.Item { return s.item }

// State returns the last published state.
func (s *Session) State() string { return s.state }

// resetCursor returns session bookkeeping to defaults, part of stop.
func (s *Session) resetCursor() {
	s.lastIndex = -1
	s.total = 0
}

// targetSlideIndex maps a narration playback position to the slide that
// should be on screen, assuming each slide owns an equal share of the
// total audio length. There is no per-line timing data in the input, so
// the uniform split is the policy, not an approximation of one.
func targetSlideIndex(pos, total time.Duration, slideCount int) int {
	if slideCount <= 0 || total <= 0 {
		return 0
	}
	share := total / time.Duration(slideCount)
	if share <= 0 {
		return slideCount - 1
	}
	idx := int(pos / share)
	if idx >= slideCount {
		idx = slideCount - 1
	}
	if idx < 0 {
		idx = 0
	}
	return idx
}

package feed

import (
	"errors"
	"fmt"
	"time"
)

// Narration modes.
const (
	ModeNarration = "narration" // pre-rendered narration audio, time-driven slides
	ModeSpeech    = "speech"    // per-slide synthesized speech, completion-driven slides
)

// Slide is an immutable (text line, image reference) pair. Order within an
// item is the playback sequence.
type Slide struct {
	Text     string `json:"text"`
	ImageRef string `json:"image_ref"`
}

// Item is one feed entry. ID is the unix-milli creation timestamp and the
// total order key (descending = newest first). The playback engine treats
// items as read-only; only the feed owns them.
type Item struct {
	ID              int64     `json:"id"`
	Slides          []Slide   `json:"slides"`
	Mode            string    `json:"mode"`
	NarrationRef    string    `json:"narration_ref,omitempty"`
	InstrumentalRef string    `json:"instrumental_ref,omitempty"`
	BeatID          string    `json:"beat_id,omitempty"`
	Voice           string    `json:"voice,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Validate checks the invariants the engine relies on. Called at ingest,
// before an item reaches storage or the activation tracker.
func (it *Item) Validate() error {
	if len(it.Slides) == 0 {
		return errors.New("item has no slides")
	}
	switch it.Mode {
	case ModeNarration:
		if it.NarrationRef == "" {
			return errors.New("narration mode requires a narration audio reference")
		}
	case ModeSpeech:
	default:
		return fmt.Errorf("unknown narration mode %q", it.Mode)
	}
	return nil
}

// Normalize fills derived fields for freshly generated items.
func (it *Item) Normalize(now time.Time) {
	if it.CreatedAt.IsZero() {
		it.CreatedAt = now.UTC()
	}
	if it.ID == 0 {
		it.ID = it.CreatedAt.UnixMilli()
	}
}

// SlideCount is a convenience for the advancement math.
func (it *Item) SlideCount() int {
	return len(it.Slides)
}

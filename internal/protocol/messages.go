package protocol

import "time"

// ItemVisibility reports the visible fraction of an item container in the
// vertical feed, streamed by viewer clients on every observation batch.
type ItemVisibility struct {
	ItemID int64   `json:"item_id"`
	Ratio  float64 `json:"ratio"`
}

// SlideVisibility reports the visible fraction of a single slide inside the
// horizontal sequence of an item.
type SlideVisibility struct {
	ItemID     int64   `json:"item_id"`
	SlideIndex int     `json:"slide_index"`
	Ratio      float64 `json:"ratio"`
}

// ActiveItemChanged announces an activation transition. PrevItemID is zero
// when no item was active before.
type ActiveItemChanged struct {
	ItemID     int64     `json:"item_id"`
	PrevItemID int64     `json:"prev_item_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Containment modes for vertical scrolling.
const (
	ContainmentLocked = "locked"
	ContainmentFree   = "free"
)

// ContainmentChanged announces a scroll-containment mode change for the
// active item.
type ContainmentChanged struct {
	ItemID int64  `json:"item_id"`
	Mode   string `json:"mode"`
}

// SlideFocus instructs clients to scroll the given slide into view.
type SlideFocus struct {
	ItemID     int64 `json:"item_id"`
	SlideIndex int   `json:"slide_index"`
}

// SlideMarker toggles the per-slide visibility marker used by presentation.
type SlideMarker struct {
	ItemID     int64 `json:"item_id"`
	SlideIndex int   `json:"slide_index"`
	Visible    bool  `json:"visible"`
}

// ItemFocus instructs clients to move focus to an item container (keyboard
// navigation); activation itself follows from the resulting visibility
// events.
type ItemFocus struct {
	ItemID int64 `json:"item_id"`
}

// Tap is a press on the feed surface outside any action control.
type Tap struct {
	ItemID int64 `json:"item_id,omitempty"`
}

// Replay requests the active item be restarted from the first slide.
type Replay struct{}

// Navigation directions.
const (
	DirectionPrev = "prev"
	DirectionNext = "next"
)

// Navigate is a vertical keyboard navigation gesture.
type Navigate struct {
	Direction string `json:"direction"`
}

// PlaybackState announces a session state transition.
type PlaybackState struct {
	SessionID string    `json:"session_id"`
	ItemID    int64     `json:"item_id"`
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}

// PlaybackError surfaces an audio or speech failure to the user. Fatal
// errors terminate the session; non-fatal ones leave it running degraded.
type PlaybackError struct {
	ItemID  int64  `json:"item_id"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Fatal   bool   `json:"fatal"`
}

// Audio chunk kinds.
const (
	AudioKindNarration    = "narration"
	AudioKindSpeech       = "speech"
	AudioKindInstrumental = "instrumental"
	AudioKindBeat         = "beat"
)

// AudioChunk carries PCM audio rendered by the engine toward clients.
type AudioChunk struct {
	SessionID  string  `json:"session_id"`
	Kind       string  `json:"kind"`
	Sequence   int     `json:"sequence"`
	SampleRate int     `json:"sample_rate"`
	Channels   int     `json:"channels"`
	Gain       float64 `json:"gain"`
	PCM        []byte  `json:"pcm"`
	Final      bool    `json:"final"`
}

// ItemInserted confirms an item was persisted and registered with the feed.
type ItemInserted struct {
	ItemID    int64     `json:"item_id"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectItemVisibility  = "viewport.item.visibility"
	SubjectSlideVisibility = "viewport.slide.visibility"
	SubjectActiveItem      = "viewport.item.active"
	SubjectContainment     = "viewport.containment"

	SubjectSlideFocus  = "ui.slide.focus"
	SubjectSlideMarker = "ui.slide.marker"
	SubjectItemFocus   = "ui.item.focus"

	SubjectInputTap      = "input.tap"
	SubjectInputReplay   = "input.replay"
	SubjectInputNavigate = "input.navigate"

	SubjectPlaybackState = "playback.state"
	SubjectPlaybackError = "playback.error"
	SubjectAudioOut      = "audio.out"

	SubjectItemCreated  = "feed.item.created"
	SubjectItemInserted = "feed.item.inserted"

	SubjectClientAnnounce        = "ctrl.client.announce"
	SubjectClientHeartbeatPrefix = "ctrl.client.heartbeat"
)

package playback

import (
	"context"
	"time"

	"github.com/reelsmith/reel-core/internal/media"
)

// player streams one decoded clip as a sequence of timed PCM chunks. It is
// the engine-side stand-in for an audio element: ticks advance a byte
// offset through the clip, each tick emits a chunk and a position sample.
type player struct {
	clip     media.Clip
	loop     bool
	interval time.Duration
}

// run drives the clip until the context is cancelled or, for non-looping
// clips, until the end of the stream. emit returns false when the owning
// session is gone; the player then exits without calling done.
func (p *player) run(ctx context.Context, emit func(seq int, pcm []byte, final bool) bool, progress func(time.Duration), done func()) {
	chunkBytes := p.clip.BytesPerInterval(p.interval)
	bytesPerSecond := float64(p.clip.SampleRate * p.clip.Channels * 2)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	offset := 0
	seq := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		end := offset + chunkBytes
		if end > len(p.clip.PCM) {
			end = len(p.clip.PCM)
		}
		final := !p.loop && end == len(p.clip.PCM)
		if !emit(seq, p.clip.PCM[offset:end], final) {
			return
		}
		seq++
		offset = end

		if progress != nil && bytesPerSecond > 0 {
			progress(time.Duration(float64(offset) / bytesPerSecond * float64(time.Second)))
		}

		if offset >= len(p.clip.PCM) {
			if p.loop {
				offset = 0
				continue
			}
			if done != nil {
				done()
			}
			return
		}
	}
}

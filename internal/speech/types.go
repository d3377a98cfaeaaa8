package speech

import "context"

// SynthRequest contains the parameters for one utterance.
type SynthRequest struct {
	SessionID string
	Text      string
	Voice     string
}

// SynthChunk carries a slice of synthesized PCM. Final marks the last
// chunk of the utterance; the playback session advances only after it.
type SynthChunk struct {
	Sequence   int
	SampleRate int
	Channels   int
	PCM        []byte
	Final      bool
}

// Synthesizer is the contract for producing speech audio. Both channels
// close when the utterance is finished or failed; cancelling ctx aborts
// synthesis.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error)
}

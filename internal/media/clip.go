package media

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-audio/wav"
)

// Clip is a fully decoded audio asset: 16-bit little-endian PCM plus the
// format needed to stream it.
type Clip struct {
	PCM        []byte
	SampleRate int
	Channels   int
	Duration   time.Duration
}

// Empty reports whether the clip carries no audio.
func (c Clip) Empty() bool { return len(c.PCM) == 0 || c.Duration <= 0 }

// BytesPerInterval returns how many PCM bytes cover the given wall-clock
// span at the clip's format.
func (c Clip) BytesPerInterval(d time.Duration) int {
	n := int(float64(c.SampleRate*c.Channels*2) * d.Seconds())
	if n <= 0 {
		n = 2
	}
	// keep sample alignment
	return n - n%2
}

// DecodeDataURI extracts the payload of a data-URI-like audio reference
// (data:audio/wav;base64,....). The generation pipeline hands narration and
// instrumental tracks to the engine in this form.
func DecodeDataURI(ref string) ([]byte, error) {
	if !strings.HasPrefix(ref, "data:") {
		return nil, errors.New("audio reference is not a data URI")
	}
	comma := strings.IndexByte(ref, ',')
	if comma < 0 {
		return nil, errors.New("malformed data URI: no payload separator")
	}
	meta, payload := ref[5:comma], ref[comma+1:]
	if !strings.HasSuffix(meta, ";base64") {
		return nil, fmt.Errorf("unsupported data URI encoding in %q", meta)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode data URI payload: %w", err)
	}
	return data, nil
}

// DecodeWAV parses a WAV byte stream into a Clip.
func DecodeWAV(data []byte) (Clip, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	dec.ReadInfo()
	if !dec.IsValidFile() {
		return Clip{}, errors.New("not a valid WAV stream")
	}
	dur, err := dec.Duration()
	if err != nil {
		return Clip{}, fmt.Errorf("read WAV duration: %w", err)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Clip{}, fmt.Errorf("read WAV samples: %w", err)
	}

	pcm := make([]byte, 2*len(buf.Data))
	for i, sample := range buf.Data {
		binary.LittleEndian.PutUint16(pcm[2*i:], uint16(int16(sample)))
	}

	return Clip{
		PCM:        pcm,
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		Duration:   dur,
	}, nil
}

// DecodeRef resolves a data-URI audio reference into a Clip.
func DecodeRef(ref string) (Clip, error) {
	data, err := DecodeDataURI(ref)
	if err != nil {
		return Clip{}, err
	}
	return DecodeWAV(data)
}

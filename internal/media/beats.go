package media

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// BeatSet is the small fixed set of pre-rendered instrumental loops that
// speech-mode items reference by symbolic id. Loops are decoded once at
// startup and shared across sessions; a session resets its own playback
// position, the clip itself never mutates.
type BeatSet struct {
	loops map[string]Clip
}

// LoadBeats decodes every WAV file in dir. The file base name (without
// extension) is the beat id. A missing directory yields an empty set, not
// an error: speech items without beats are still playable.
func LoadBeats(dir string, log *slog.Logger) (*BeatSet, error) {
	set := &BeatSet{loops: make(map[string]Clip)}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn("beat directory missing, beat playback disabled", slog.String("dir", dir))
			return set, nil
		}
		return nil, fmt.Errorf("read beat dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".wav") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read beat %s: %w", entry.Name(), err)
		}
		clip, err := DecodeWAV(data)
		if err != nil {
			return nil, fmt.Errorf("decode beat %s: %w", entry.Name(), err)
		}
		id := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		set.loops[id] = clip
	}

	log.Info("beat loops loaded", slog.Int("count", len(set.loops)))
	return set, nil
}

// Get returns the shared loop clip for id.
func (b *BeatSet) Get(id string) (Clip, error) {
	clip, ok := b.loops[id]
	if !ok {
		return Clip{}, fmt.Errorf("unknown beat id %q", id)
	}
	return clip, nil
}

// IDs lists the known beat ids.
func (b *BeatSet) IDs() []string {
	ids := make([]string, 0, len(b.loops))
	for id := range b.loops {
		ids = append(ids, id)
	}
	return ids
}

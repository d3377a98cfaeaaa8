package feed

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/reelsmith/reel-core/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openStore(t *testing.T, maxItems int) *Store {
	t.Helper()
	cfg := config.FeedConfig{Path: filepath.Join(t.TempDir(), "feed.db"), MaxItems: maxItems}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open feed store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveAndLoadNewestFirst(t *testing.T) {
	s := openStore(t, 0)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		item := &Item{
			Mode:      ModeSpeech,
			BeatID:    "lofi",
			Voice:     "en-US",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			Slides: []Slide{
				{Text: "line one", ImageRef: "img-a"},
				{Text: "line two", ImageRef: "img-b"},
			},
		}
		item.Normalize(item.CreatedAt)
		if err := s.Save(context.Background(), item); err != nil {
			t.Fatalf("save item %d: %v", i, err)
		}
	}

	items, err := s.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("load items: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	for i := 1; i < len(items); i++ {
		if items[i-1].ID <= items[i].ID {
			t.Fatalf("expected newest-first ordering, got %d before %d", items[i-1].ID, items[i].ID)
		}
	}
	if len(items[0].Slides) != 2 {
		t.Fatalf("expected 2 slides, got %d", len(items[0].Slides))
	}
	if items[0].Slides[1].Text != "line two" {
		t.Fatalf("slide order lost: %q", items[0].Slides[1].Text)
	}
}

func TestSaveRejectsInvalidItem(t *testing.T) {
	s := openStore(t, 0)
	item := &Item{Mode: ModeNarration, Slides: []Slide{{Text: "x"}}}
	item.Normalize(time.Now())
	if err := s.Save(context.Background(), item); err == nil {
		t.Fatal("expected error for narration item without audio reference")
	}
}

func TestPruneKeepsNewest(t *testing.T) {
	s := openStore(t, 2)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		item := &Item{
			Mode:      ModeSpeech,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			Slides:    []Slide{{Text: "t"}},
		}
		item.Normalize(item.CreatedAt)
		if err := s.Save(context.Background(), item); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	if err := s.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}
	items, err := s.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items after prune, got %d", len(items))
	}
	if items[0].CreatedAt.Before(items[1].CreatedAt) {
		t.Fatal("prune removed the wrong items")
	}
}

func TestValidateModes(t *testing.T) {
	it := &Item{Mode: "karaoke", Slides: []Slide{{Text: "a"}}}
	if err := it.Validate(); err == nil {
		t.Fatal("expected error for unknown mode")
	}
	it = &Item{Mode: ModeSpeech}
	if err := it.Validate(); err == nil {
		t.Fatal("expected error for empty slide sequence")
	}
}

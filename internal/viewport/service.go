package viewport

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/reelsmith/reel-core/internal/bus"
	"github.com/reelsmith/reel-core/internal/protocol"
)

// Service bridges the bus to the trackers: viewer clients stream
// visibility observations and the trackers turn them into activation and
// containment decisions.
type Service struct {
	bus     *bus.Client
	tracker *ActivationTracker
	slides  *SlideTracker
	logger  *slog.Logger
	subs    []*nats.Subscription
}

func NewService(busClient *bus.Client, tracker *ActivationTracker, slides *SlideTracker, log *slog.Logger) *Service {
	return &Service{
		bus:     busClient,
		tracker: tracker,
		slides:  slides,
		logger:  log.With(slog.String("component", "viewport-service")),
	}
}

func (s *Service) Start() error {
	itemSub, err := s.bus.Conn().Subscribe(protocol.SubjectItemVisibility, s.handleItem)
	if err != nil {
		return fmt.Errorf("subscribe item visibility: %w", err)
	}
	s.subs = append(s.subs, itemSub)

	slideSub, err := s.bus.Conn().Subscribe(protocol.SubjectSlideVisibility, s.handleSlide)
	if err != nil {
		return fmt.Errorf("subscribe slide visibility: %w", err)
	}
	s.subs = append(s.subs, slideSub)
	return nil
}

func (s *Service) Close() {
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
}

func (s *Service) Healthy() bool { return len(s.subs) == 2 }

func (s *Service) handleItem(msg *nats.Msg) {
	var ev protocol.ItemVisibility
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		s.logger.Warn("bad item visibility payload", slog.String("error", err.Error()))
		return
	}
	s.tracker.OnVisibility(ev)
}

func (s *Service) handleSlide(msg *nats.Msg) {
	var ev protocol.SlideVisibility
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		s.logger.Warn("bad slide visibility payload", slog.String("error", err.Error()))
		return
	}
	s.slides.OnVisibility(ev)
}

package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/reelsmith/reel-core/internal/bus"
	"github.com/reelsmith/reel-core/internal/protocol"
)

// Registrar receives every item that enters the feed, oldest first on
// startup and immediately on insertion afterward.
type Registrar interface {
	Register(item *Item)
}

// Service is the feed mutation layer: it persists items produced by the
// generation pipeline, registers them for viewport activation, and
// confirms insertion on the bus.
type Service struct {
	store     *Store
	bus       *bus.Client
	registrar Registrar
	logger    *slog.Logger
	sub       *nats.Subscription
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func NewService(parent context.Context, store *Store, busClient *bus.Client, registrar Registrar, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		store:     store,
		bus:       busClient,
		registrar: registrar,
		logger:    log.With(slog.String("component", "feed-service")),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start loads persisted items and begins accepting new ones. Items are
// registered oldest-to-newest so prepend-based feed construction yields
// newest-at-top placement on clients.
func (s *Service) Start() error {
	items, err := s.store.LoadAll(s.ctx)
	if err != nil {
		return fmt.Errorf("load feed items: %w", err)
	}
	for i := len(items) - 1; i >= 0; i-- {
		s.registrar.Register(items[i])
	}
	s.logger.Info("feed loaded", slog.Int("items", len(items)))

	sub, err := s.bus.Conn().Subscribe(protocol.SubjectItemCreated, s.handleCreated)
	if err != nil {
		return fmt.Errorf("subscribe item created: %w", err)
	}
	s.sub = sub
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return s.sub != nil }

func (s *Service) handleCreated(msg *nats.Msg) {
	var item Item
	if err := json.Unmarshal(msg.Data, &item); err != nil {
		s.logger.Warn("failed to decode item", slog.String("error", err.Error()))
		return
	}
	item.Normalize(time.Now())
	if err := item.Validate(); err != nil {
		s.logger.Warn("rejected invalid item", slog.Int64("item", item.ID), slog.String("error", err.Error()))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.store.Save(s.ctx, &item); err != nil {
			s.logger.Warn("failed to persist item", slog.Int64("item", item.ID), slog.String("error", err.Error()))
			return
		}
		s.registrar.Register(&item)
		_ = s.bus.PublishJSON(protocol.SubjectItemInserted, protocol.ItemInserted{
			ItemID:    item.ID,
			Timestamp: time.Now().UTC(),
		})
		s.logger.Info("item inserted", slog.Int64("item", item.ID), slog.String("mode", item.Mode))
	}()
}

package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/reelsmith/reel-core/internal/bus"
	"github.com/reelsmith/reel-core/internal/config"
	"github.com/reelsmith/reel-core/internal/protocol"
)

// ClientInfo is one viewer client as the registry last saw it.
type ClientInfo struct {
	ID       string    `json:"id"`
	Agent    string    `json:"agent,omitempty"`
	LastSeen time.Time `json:"last_seen"`
	Healthy  bool      `json:"healthy"`
}

type announceMessage struct {
	ClientID  string    `json:"client_id"`
	Agent     string    `json:"agent,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type heartbeatMessage struct {
	ClientID  string    `json:"client_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Registry tracks connected viewer clients for operational visibility.
// Playback never blocks on presence; a feed with zero healthy viewers
// still plays.
type Registry struct {
	cfg    config.PresenceConfig
	log    *slog.Logger
	bus    *bus.Client
	cancel context.CancelFunc

	mu      sync.RWMutex
	clients map[string]*ClientInfo

	subs  []*nats.Subscription
	gauge metric.Int64ObservableGauge
}

func NewRegistry(ctx context.Context, cfg config.PresenceConfig, busClient *bus.Client, log *slog.Logger) (*Registry, error) {
	ctx, cancel := context.WithCancel(ctx)
	r := &Registry{
		cfg:     cfg,
		log:     log.With(slog.String("component", "presence")),
		bus:     busClient,
		cancel:  cancel,
		clients: make(map[string]*ClientInfo),
	}

	if err := r.initMetrics(); err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}

	if err := r.subscribe(); err != nil {
		r.cancel()
		return nil, err
	}

	go r.monitorHealth(ctx)
	return r, nil
}

func (r *Registry) Close() {
	if r.cancel != nil {
		r.cancel()
	}
	for _, sub := range r.subs {
		_ = sub.Drain()
	}
}

func (r *Registry) subscribe() error {
	conn := r.bus.Conn()
	announceSub, err := conn.Subscribe(protocol.SubjectClientAnnounce, r.handleAnnounce)
	if err != nil {
		return fmt.Errorf("subscribe announce: %w", err)
	}
	r.subs = append(r.subs, announceSub)

	heartbeatSub, err := conn.Subscribe(protocol.SubjectClientHeartbeatPrefix+".*", r.handleHeartbeat)
	if err != nil {
		return fmt.Errorf("subscribe heartbeat: %w", err)
	}
	r.subs = append(r.subs, heartbeatSub)

	return nil
}

func (r *Registry) monitorHealth(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.evaluateHealth()
		}
	}
}

func (r *Registry) handleAnnounce(msg *nats.Msg) {
	var announcement announceMessage
	if err := json.Unmarshal(msg.Data, &announcement); err != nil {
		r.log.Warn("invalid announce message", slog.String("error", err.Error()))
		return
	}
	if announcement.ClientID == "" {
		return
	}
	if announcement.Timestamp.IsZero() {
		announcement.Timestamp = time.Now().UTC()
	}
	r.updateClient(announcement.ClientID, announcement.Agent, announcement.Timestamp)
	r.log.Info("client announced",
		slog.String("client", announcement.ClientID),
		slog.String("agent", announcement.Agent))
}

func (r *Registry) handleHeartbeat(msg *nats.Msg) {
	var hb heartbeatMessage
	if err := json.Unmarshal(msg.Data, &hb); err != nil {
		r.log.Warn("invalid heartbeat message", slog.String("error", err.Error()))
		return
	}
	if hb.ClientID == "" {
		return
	}
	if hb.Timestamp.IsZero() {
		hb.Timestamp = time.Now().UTC()
	}
	r.updateClient(hb.ClientID, "", hb.Timestamp)
}

func (r *Registry) updateClient(id, agent string, timestamp time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	client, ok := r.clients[id]
	if !ok {
		client = &ClientInfo{ID: id}
		r.clients[id] = client
	}
	if agent != "" {
		client.Agent = agent
	}
	client.LastSeen = timestamp
	client.Healthy = true
}

func (r *Registry) evaluateHealth() {
	r.mu.Lock()
	defer r.mu.Unlock()

	timeout := time.Duration(r.cfg.HeartbeatTimeoutMS) * time.Millisecond
	now := time.Now()
	for _, client := range r.clients {
		if now.Sub(client.LastSeen) > timeout {
			client.Healthy = false
		}
	}
}

// Clients returns a snapshot of every known client.
func (r *Registry) Clients() []ClientInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ClientInfo, 0, len(r.clients))
	for _, client := range r.clients {
		out = append(out, *client)
	}
	return out
}

// HealthyCount reports how many clients heartbeated within the timeout.
func (r *Registry) HealthyCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, client := range r.clients {
		if client.Healthy {
			n++
		}
	}
	return n
}

func (r *Registry) initMetrics() error {
	meter := otel.Meter("github.com/reelsmith/reel-core/presence")
	gauge, err := meter.Int64ObservableGauge("reel.presence.clients",
		metric.WithDescription("Number of healthy viewer clients"))
	if err != nil {
		return err
	}
	r.gauge = gauge
	_, err = meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		obs.ObserveInt64(gauge, int64(r.HealthyCount()))
		return nil
	}, gauge)
	return err
}

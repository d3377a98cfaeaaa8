package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Feed        FeedConfig      `yaml:"feed"`
	Viewport    ViewportConfig  `yaml:"viewport"`
	Playback    PlaybackConfig  `yaml:"playback"`
	Speech      SpeechConfig    `yaml:"speech"`
	Transport   TransportConfig `yaml:"transport"`
	Presence    PresenceConfig  `yaml:"presence"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type FeedConfig struct {
	Path          string `yaml:"path"`
	MaxItems      int    `yaml:"max_items"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type ViewportConfig struct {
	ItemThreshold  float64 `yaml:"item_threshold"`
	SlideThreshold float64 `yaml:"slide_threshold"`
}

type PlaybackConfig struct {
	BeatDir            string  `yaml:"beat_dir"`
	BeatGain           float64 `yaml:"beat_gain"`
	InstrumentalGain   float64 `yaml:"instrumental_gain"`
	ProgressIntervalMS int     `yaml:"progress_interval_ms"`
	ClipCacheSize      int     `yaml:"clip_cache_size"`
}

type SpeechConfig struct {
	Mode         string   `yaml:"mode"` // mock, exec
	Command      string   `yaml:"command"`
	DefaultVoice string   `yaml:"default_voice"`
	Voices       []string `yaml:"voices"`
	SampleRate   int      `yaml:"sample_rate"`
	Channels     int      `yaml:"channels"`
}

type TransportConfig struct {
	ReplaySettleMS int `yaml:"replay_settle_ms"`
}

type PresenceConfig struct {
	Enabled            bool `yaml:"enabled"`
	HeartbeatTimeoutMS int  `yaml:"heartbeat_timeout_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "reel-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Feed: FeedConfig{
			Path:     "./data/reel-feed.db",
			MaxItems: 500,
		},
		Viewport: ViewportConfig{
			ItemThreshold:  0.8,
			SlideThreshold: 0.8,
		},
		Playback: PlaybackConfig{
			BeatDir:            "./assets/beats",
			BeatGain:           0.18,
			InstrumentalGain:   0.45,
			ProgressIntervalMS: 250,
			ClipCacheSize:      32,
		},
		Speech: SpeechConfig{
			Mode:         "mock",
			DefaultVoice: "en-US",
			SampleRate:   22050,
			Channels:     1,
		},
		Transport: TransportConfig{
			ReplaySettleMS: 350,
		},
		Presence: PresenceConfig{
			Enabled:            true,
			HeartbeatTimeoutMS: 6000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "REEL_RUNTIME_NAME")
	overrideString(&cfg.Environment, "REEL_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "REEL_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "REEL_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "REEL_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "REEL_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "REEL_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Embedded, "REEL_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "REEL_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "REEL_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "REEL_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "REEL_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "REEL_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "REEL_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "REEL_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Feed.Path, "REEL_FEED_PATH")
	overrideInt(&cfg.Feed.MaxItems, "REEL_FEED_MAX_ITEMS")
	overrideBool(&cfg.Feed.VacuumOnStart, "REEL_FEED_VACUUM_ON_START")
	overrideFloat(&cfg.Viewport.ItemThreshold, "REEL_VIEWPORT_ITEM_THRESHOLD")
	overrideFloat(&cfg.Viewport.SlideThreshold, "REEL_VIEWPORT_SLIDE_THRESHOLD")
	overrideString(&cfg.Playback.BeatDir, "REEL_PLAYBACK_BEAT_DIR")
	overrideFloat(&cfg.Playback.BeatGain, "REEL_PLAYBACK_BEAT_GAIN")
	overrideFloat(&cfg.Playback.InstrumentalGain, "REEL_PLAYBACK_INSTRUMENTAL_GAIN")
	overrideInt(&cfg.Playback.ProgressIntervalMS, "REEL_PLAYBACK_PROGRESS_INTERVAL_MS")
	overrideInt(&cfg.Playback.ClipCacheSize, "REEL_PLAYBACK_CLIP_CACHE_SIZE")
	overrideString(&cfg.Speech.Mode, "REEL_SPEECH_MODE")
	overrideString(&cfg.Speech.Command, "REEL_SPEECH_COMMAND")
	overrideString(&cfg.Speech.DefaultVoice, "REEL_SPEECH_DEFAULT_VOICE")
	overrideStringSlice(&cfg.Speech.Voices, "REEL_SPEECH_VOICES")
	overrideInt(&cfg.Speech.SampleRate, "REEL_SPEECH_SAMPLE_RATE")
	overrideInt(&cfg.Speech.Channels, "REEL_SPEECH_CHANNELS")
	overrideInt(&cfg.Transport.ReplaySettleMS, "REEL_TRANSPORT_REPLAY_SETTLE_MS")
	overrideBool(&cfg.Presence.Enabled, "REEL_PRESENCE_ENABLED")
	overrideInt(&cfg.Presence.HeartbeatTimeoutMS, "REEL_PRESENCE_HEARTBEAT_TIMEOUT_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Feed.Path == "" {
		return errors.New("feed.path must not be empty")
	}
	if cfg.Feed.MaxItems < 0 {
		return errors.New("feed.max_items must be >= 0")
	}
	if cfg.Viewport.ItemThreshold <= 0 || cfg.Viewport.ItemThreshold > 1 {
		return errors.New("viewport.item_threshold must be in (0, 1]")
	}
	if cfg.Viewport.SlideThreshold <= 0 || cfg.Viewport.SlideThreshold > 1 {
		return errors.New("viewport.slide_threshold must be in (0, 1]")
	}
	if cfg.Playback.BeatGain < 0 || cfg.Playback.BeatGain > 1 {
		return errors.New("playback.beat_gain must be in [0, 1]")
	}
	if cfg.Playback.InstrumentalGain < 0 || cfg.Playback.InstrumentalGain > 1 {
		return errors.New("playback.instrumental_gain must be in [0, 1]")
	}
	if cfg.Playback.ProgressIntervalMS <= 0 {
		return errors.New("playback.progress_interval_ms must be positive")
	}
	if cfg.Playback.ClipCacheSize <= 0 {
		return errors.New("playback.clip_cache_size must be positive")
	}
	switch cfg.Speech.Mode {
	case "mock", "exec":
	default:
		return errors.New("speech.mode must be one of mock|exec")
	}
	if cfg.Speech.Mode == "exec" && cfg.Speech.Command == "" {
		return errors.New("speech.command must be set when mode=exec")
	}
	if cfg.Speech.DefaultVoice == "" {
		return errors.New("speech.default_voice must not be empty")
	}
	if cfg.Speech.SampleRate <= 0 {
		return errors.New("speech.sample_rate must be positive")
	}
	if cfg.Speech.Channels <= 0 {
		return errors.New("speech.channels must be positive")
	}
	if cfg.Transport.ReplaySettleMS <= 0 {
		return errors.New("transport.replay_settle_ms must be positive")
	}
	if cfg.Presence.Enabled && cfg.Presence.HeartbeatTimeoutMS <= 0 {
		return errors.New("presence.heartbeat_timeout_ms must be positive when presence is enabled")
	}
	return nil
}

// Package config provides the configuration schema, loader, environment
// overlay and provider registry for the Aura voice gateway.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to a [slog.Level]. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Reasoning selects who answers a finished query.
type Reasoning string

const (
	// ReasoningLLM answers with the configured reasoning provider.
	ReasoningLLM Reasoning = "llm"

	// ReasoningBridge hands the query to bridge clients and speaks their
	// "response" frames.
	ReasoningBridge Reasoning = "bridge"
)

// IsValid reports whether r is a recognised reasoning mode.
func (r Reasoning) IsValid() bool {
	return r == ReasoningLLM || r == ReasoningBridge
}

// Config is the root configuration structure. Start from [Default] and
// decode YAML over it; see [Load].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Room      RoomConfig      `yaml:"room"`
	Token     TokenConfig     `yaml:"token"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Gate      GateConfig      `yaml:"gate"`
	Egress    EgressConfig    `yaml:"egress"`
	Providers ProvidersConfig `yaml:"providers"`
}

// ServerConfig holds the admin listener: health, metrics, token minting and
// room signaling.
type ServerConfig struct {
	// ListenAddr is the TCP address the admin server listens on (e.g. ":8080").
	// Empty disables it.
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`
}

// RoomConfig selects the media room the gateway joins.
type RoomConfig struct {
	// Name is the room to connect to.
	Name string `yaml:"name"`

	// Identity is the gateway's participant identity.
	Identity string `yaml:"identity"`

	// Platform names the registered room platform ("webrtc").
	Platform string `yaml:"platform"`

	// STUNServers are offered to peers by the webrtc platform.
	STUNServers []string `yaml:"stun_servers"`

	// SampleRate, Channels and FrameMs describe inbound participant audio.
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`
	FrameMs    int `yaml:"frame_ms"`
}

// TokenConfig holds the access-token key pair. The secret is normally
// supplied through LIVEKIT_API_SECRET rather than the file.
type TokenConfig struct {
	APIKey    string        `yaml:"api_key"`
	APISecret string        `yaml:"api_secret"`
	TTL       time.Duration `yaml:"ttl"`
}

// BridgeConfig configures the agent WebSocket bridge.
type BridgeConfig struct {
	// ListenAddr is where the bridge listens. Empty disables the bridge.
	ListenAddr     string        `yaml:"listen_addr"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	ForwardQueries bool          `yaml:"forward_queries"`
	ForwardAudio   bool          `yaml:"forward_audio"`

	// AllowedOrigins lists host patterns (path.Match syntax, e.g.
	// "app.example.com" or "*.example.com") whose browsers may open a
	// bridge WebSocket. Empty accepts any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// ReadLimit caps one inbound frame in bytes. 0 uses the bridge default
	// of 16 MiB.
	ReadLimit int64 `yaml:"read_limit"`
}

// PipelineConfig tunes transcription and turn handling.
type PipelineConfig struct {
	// SegmentSeconds is the audio length sent per transcription request.
	SegmentSeconds float64 `yaml:"segment_seconds"`

	// FlushDelay is waited after the stop phrase before the accumulated
	// query is read.
	FlushDelay time.Duration `yaml:"flush_delay"`

	Language string `yaml:"language"`

	// SilenceRMSThreshold skips segments quieter than this RMS, in int16
	// sample units (0 to 32768). Around 300 drops room noise. 0 disables.
	SilenceRMSThreshold float64 `yaml:"silence_rms_threshold"`

	Reasoning    Reasoning `yaml:"reasoning"`
	SystemPrompt string    `yaml:"system_prompt"`
}

// GateConfig configures wake/stop detection.
type GateConfig struct {
	AgentName          string        `yaml:"agent_name"`
	WakePhrase         string        `yaml:"wake_phrase"`
	SleepPhrase        string        `yaml:"sleep_phrase"`
	ClassifierCooldown time.Duration `yaml:"classifier_cooldown"`
	ClassifierFallback bool          `yaml:"classifier_fallback"`
	MinWindowChars     int           `yaml:"min_window_chars"`
	PhoneticWake       bool          `yaml:"phonetic_wake"`
}

// EgressConfig configures how replies leave the gateway.
type EgressConfig struct {
	// PublishData sends the compressed reply audio as a data packet.
	PublishData  bool   `yaml:"publish_data"`
	DataTopic    string `yaml:"data_topic"`
	DataReliable bool   `yaml:"data_reliable"`

	// PublishTrack plays the reply as PCM on a local audio track.
	PublishTrack bool   `yaml:"publish_track"`
	SampleRate   int    `yaml:"sample_rate"`
	Channels     int    `yaml:"channels"`
	FrameMs      int    `yaml:"frame_ms"`
	TrackName    string `yaml:"track_name"`
}

// ProvidersConfig declares which provider implementation serves each stage.
// Each entry's Name selects a factory registered in the [Registry].
type ProvidersConfig struct {
	// STT lists transcription providers in failover order.
	STT []ProviderEntry `yaml:"stt"`

	LLM ProviderEntry `yaml:"llm"`

	// Classifier answers wake/stop questions. Empty reuses LLM.
	Classifier ProviderEntry `yaml:"classifier"`

	TTS ProviderEntry `yaml:"tts"`

	TTSFallbacks []ProviderEntry `yaml:"tts_fallbacks"`
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`
}

// ProviderEntry is the configuration block shared by all provider kinds.
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g. "elevenlabs").
	Name string `yaml:"name"`

	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint. For the whisper
	// STT provider it is the server address.
	BaseURL string `yaml:"base_url"`

	Model string `yaml:"model"`

	// Options holds provider-specific values (e.g. "voice_id" for TTS).
	Options map[string]any `yaml:"options"`
}

// Option returns the string option key, or "" if absent or not a string.
func (e ProviderEntry) Option(key string) string {
	s, _ := e.Options[key].(string)
	return s
}

// Default returns a config populated with the gateway defaults. Decoding
// YAML into it only overrides the keys the file sets.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   LogInfo,
		},
		Room: RoomConfig{
			Name:        "demo",
			Identity:    "pipeline-agent",
			Platform:    "webrtc",
			STUNServers: []string{"stun:stun.l.google.com:19302"},
			SampleRate:  48000,
			Channels:    1,
			FrameMs:     20,
		},
		Token: TokenConfig{TTL: 6 * time.Hour},
		Bridge: BridgeConfig{
			ListenAddr:     ":8765",
			PingInterval:   30 * time.Second,
			ForwardQueries: true,
			ForwardAudio:   true,
		},
		Pipeline: PipelineConfig{
			SegmentSeconds: 0.5,
			FlushDelay:     300 * time.Millisecond,
			Language:       "en",
			Reasoning:      ReasoningLLM,
		},
		Gate: GateConfig{
			AgentName:          "aura",
			WakePhrase:         "hey aura",
			SleepPhrase:        "bye aura",
			ClassifierCooldown: 2 * time.Second,
			MinWindowChars:     12,
		},
		Egress: EgressConfig{
			DataTopic:    "tts_audio",
			DataReliable: true,
			PublishTrack: true,
			SampleRate:   16000,
			Channels:     1,
			FrameMs:      20,
			TrackName:    "aura-tts",
		},
	}
}

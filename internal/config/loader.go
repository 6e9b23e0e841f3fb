package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":  {"gemini", "openai", "anthropic", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":  {"elevenlabs", "deepgram", "whisper"},
	"tts":  {"elevenlabs", "deepgram"},
	"room": {"webrtc"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over [Default] and validates
// the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := Decode(r)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode decodes a YAML config from r over [Default] without validating it,
// so an environment overlay can fill gaps first. An empty document yields
// the defaults.
func Decode(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// Resolve builds the runtime config: the file at path decoded over the
// defaults, then the environment overlay from lookup, then validation. A
// missing file is tolerated unless required is set, which lets the gateway
// run from environment variables alone.
func Resolve(path string, required bool, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if cfg, err = Decode(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !required:
		slog.Info("config file not found, using defaults and environment", "path", path)
	default:
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}

	if lookup != nil {
		if err := ApplyEnv(cfg, lookup); err != nil {
			return nil, err
		}
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Room
	if cfg.Room.Name == "" {
		errs = append(errs, errors.New("room.name is required"))
	}
	if cfg.Room.Identity == "" {
		errs = append(errs, errors.New("room.identity is required"))
	}
	if cfg.Room.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("room.sample_rate %d must be positive", cfg.Room.SampleRate))
	}
	if cfg.Room.Channels != 1 && cfg.Room.Channels != 2 {
		errs = append(errs, fmt.Errorf("room.channels %d is invalid; valid values: 1, 2", cfg.Room.Channels))
	}
	validateProviderName("room", cfg.Room.Platform)

	// Token
	if cfg.Token.TTL < 0 {
		errs = append(errs, fmt.Errorf("token.ttl %s must not be negative", cfg.Token.TTL))
	}
	if cfg.Token.APIKey == "" || cfg.Token.APISecret == "" {
		slog.Warn("token.api_key or token.api_secret is empty; /token and authenticated joins are disabled")
	}

	// Bridge
	if cfg.Bridge.ListenAddr != "" && cfg.Bridge.PingInterval <= 0 {
		errs = append(errs, fmt.Errorf("bridge.ping_interval %s must be positive", cfg.Bridge.PingInterval))
	}
	if cfg.Bridge.ReadLimit < 0 {
		errs = append(errs, fmt.Errorf("bridge.read_limit %d must not be negative", cfg.Bridge.ReadLimit))
	}

	// Pipeline
	if cfg.Pipeline.SegmentSeconds <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.segment_seconds %g must be positive", cfg.Pipeline.SegmentSeconds))
	}
	if cfg.Pipeline.FlushDelay < 0 {
		errs = append(errs, fmt.Errorf("pipeline.flush_delay %s must not be negative", cfg.Pipeline.FlushDelay))
	}
	if t := cfg.Pipeline.SilenceRMSThreshold; t < 0 || t > 32768 {
		errs = append(errs, fmt.Errorf("pipeline.silence_rms_threshold %g must be within 0..32768 (int16 sample units)", t))
	}
	if !cfg.Pipeline.Reasoning.IsValid() {
		errs = append(errs, fmt.Errorf("pipeline.reasoning %q is invalid; valid values: llm, bridge", cfg.Pipeline.Reasoning))
	}
	if cfg.Pipeline.Reasoning == ReasoningBridge && cfg.Bridge.ListenAddr == "" {
		errs = append(errs, errors.New("pipeline.reasoning is bridge but bridge.listen_addr is empty"))
	}

	// Gate
	if cfg.Gate.WakePhrase == "" {
		errs = append(errs, errors.New("gate.wake_phrase is required"))
	}
	if cfg.Gate.SleepPhrase == "" {
		errs = append(errs, errors.New("gate.sleep_phrase is required"))
	}
	if cfg.Gate.ClassifierCooldown < 0 {
		errs = append(errs, fmt.Errorf("gate.classifier_cooldown %s must not be negative", cfg.Gate.ClassifierCooldown))
	}
	if cfg.Gate.MinWindowChars < 0 {
		errs = append(errs, fmt.Errorf("gate.min_window_chars %d must not be negative", cfg.Gate.MinWindowChars))
	}

	// Egress
	if cfg.Egress.PublishData && cfg.Egress.DataTopic == "" {
		errs = append(errs, errors.New("egress.data_topic is required when publish_data is set"))
	}
	if cfg.Egress.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("egress.sample_rate %d must be positive", cfg.Egress.SampleRate))
	}
	if cfg.Egress.Channels != 1 && cfg.Egress.Channels != 2 {
		errs = append(errs, fmt.Errorf("egress.channels %d is invalid; valid values: 1, 2", cfg.Egress.Channels))
	}
	if cfg.Egress.FrameMs <= 0 {
		errs = append(errs, fmt.Errorf("egress.frame_ms %d must be positive", cfg.Egress.FrameMs))
	}
	if !cfg.Egress.PublishData && !cfg.Egress.PublishTrack {
		slog.Warn("egress publishes neither data nor a track; replies will not reach the room")
	}

	// Providers
	if len(cfg.Providers.STT) == 0 {
		errs = append(errs, errors.New("providers.stt needs at least one entry"))
	}
	for i, e := range cfg.Providers.STT {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt[%d].name is required", i))
		}
		validateProviderName("stt", e.Name)
	}
	if cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts.name is required"))
	}
	validateProviderName("tts", cfg.Providers.TTS.Name)
	for i, e := range cfg.Providers.TTSFallbacks {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.tts_fallbacks[%d].name is required", i))
		}
		validateProviderName("tts", e.Name)
	}
	if cfg.Pipeline.Reasoning == ReasoningLLM && cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("pipeline.reasoning is llm but providers.llm is not configured"))
	}
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("llm", cfg.Providers.Classifier.Name)
	for i, e := range cfg.Providers.LLMFallbacks {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
		}
		validateProviderName("llm", e.Name)
	}
	if cfg.Gate.ClassifierFallback && cfg.Providers.Classifier.Name == "" && cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("gate.classifier_fallback needs providers.classifier or providers.llm"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ApplyEnv overlays environment variables onto cfg. lookup is usually
// os.LookupEnv. Set variables override file values; unset ones leave them
// alone. Provider credentials also create default provider entries when the
// file configures none, so a .env file alone is enough to run.
//
// Recognised variables:
//
//	LIVEKIT_API_KEY, LIVEKIT_API_SECRET        token key pair
//	LIVEKIT_ROOM, LIVEKIT_IDENTITY             room name and gateway identity
//	LIVEKIT_AUDIO_SAMPLE_RATE, _CHANNELS, _FRAME_MS   inbound audio format
//	GEMINI_API_KEY, GEMINI_MODEL               reasoning and classifier
//	ELEVENLABS_API_KEY, ELEVENLABS_VOICE_ID    transcription and synthesis
//	ELEVENLABS_STT_MODEL_ID, ELEVENLABS_TTS_MODEL_ID, ELEVENLABS_STT_LANGUAGE
//	DEEPGRAM_API_KEY                           alternate transcription/synthesis
//	STT_SEGMENT_SECONDS, TRANSCRIPTION_FLUSH_MS
//	PUBLISH_TTS_TO_ROOM, PUBLISH_TTS_AUDIO_TRACK
//	TTS_AUDIO_SAMPLE_RATE, TTS_AUDIO_CHANNELS, TTS_AUDIO_FRAME_MS, TTS_AUDIO_TRACK_NAME
//	WAKE_PHRASE, SLEEP_PHRASE, BRIDGE_PORT
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	e := envReader{lookup: lookup}

	e.str("LIVEKIT_API_KEY", &cfg.Token.APIKey)
	e.str("LIVEKIT_API_SECRET", &cfg.Token.APISecret)
	e.str("LIVEKIT_ROOM", &cfg.Room.Name)
	e.str("LIVEKIT_IDENTITY", &cfg.Room.Identity)
	e.integer("LIVEKIT_AUDIO_SAMPLE_RATE", &cfg.Room.SampleRate)
	e.integer("LIVEKIT_AUDIO_CHANNELS", &cfg.Room.Channels)
	e.integer("LIVEKIT_AUDIO_FRAME_MS", &cfg.Room.FrameMs)

	e.number("STT_SEGMENT_SECONDS", &cfg.Pipeline.SegmentSeconds)
	e.millis("TRANSCRIPTION_FLUSH_MS", &cfg.Pipeline.FlushDelay)
	e.str("ELEVENLABS_STT_LANGUAGE", &cfg.Pipeline.Language)

	e.flag("PUBLISH_TTS_TO_ROOM", &cfg.Egress.PublishData)
	e.flag("PUBLISH_TTS_AUDIO_TRACK", &cfg.Egress.PublishTrack)
	e.integer("TTS_AUDIO_SAMPLE_RATE", &cfg.Egress.SampleRate)
	e.integer("TTS_AUDIO_CHANNELS", &cfg.Egress.Channels)
	e.integer("TTS_AUDIO_FRAME_MS", &cfg.Egress.FrameMs)
	e.str("TTS_AUDIO_TRACK_NAME", &cfg.Egress.TrackName)

	e.str("WAKE_PHRASE", &cfg.Gate.WakePhrase)
	e.str("SLEEP_PHRASE", &cfg.Gate.SleepPhrase)

	if port, ok := e.get("BRIDGE_PORT"); ok {
		if _, err := strconv.ParseUint(port, 10, 16); err != nil {
			e.errs = append(e.errs, fmt.Errorf("BRIDGE_PORT %q: %w", port, err))
		} else {
			cfg.Bridge.ListenAddr = ":" + port
		}
	}

	applyProviderEnv(cfg, &e)
	return errors.Join(e.errs...)
}

// applyProviderEnv fills credentials into entries of the matching provider
// and creates the default entries (elevenlabs STT/TTS, gemini reasoning)
// when the file names none.
func applyProviderEnv(cfg *Config, e *envReader) {
	p := &cfg.Providers

	if key, ok := e.get("ELEVENLABS_API_KEY"); ok {
		if len(p.STT) == 0 {
			p.STT = append(p.STT, ProviderEntry{Name: "elevenlabs"})
		}
		if p.TTS.Name == "" {
			p.TTS.Name = "elevenlabs"
		}
		fillKey(cfg, "elevenlabs", key)
	}
	if key, ok := e.get("DEEPGRAM_API_KEY"); ok {
		fillKey(cfg, "deepgram", key)
	}
	if key, ok := e.get("GEMINI_API_KEY"); ok {
		if p.LLM.Name == "" {
			p.LLM.Name = "gemini"
		}
		fillKey(cfg, "gemini", key)
	}

	if model, ok := e.get("GEMINI_MODEL"); ok {
		for _, entry := range allLLM(p) {
			if entry.Name == "gemini" {
				entry.Model = model
			}
		}
	}
	if model, ok := e.get("ELEVENLABS_STT_MODEL_ID"); ok {
		for i := range p.STT {
			if p.STT[i].Name == "elevenlabs" {
				p.STT[i].Model = model
			}
		}
	}
	if model, ok := e.get("ELEVENLABS_TTS_MODEL_ID"); ok {
		for _, entry := range allTTS(p) {
			if entry.Name == "elevenlabs" {
				entry.Model = model
			}
		}
	}
	if voice, ok := e.get("ELEVENLABS_VOICE_ID"); ok {
		for _, entry := range allTTS(p) {
			if entry.Name == "elevenlabs" {
				if entry.Options == nil {
					entry.Options = make(map[string]any)
				}
				entry.Options["voice_id"] = voice
			}
		}
	}
}

// fillKey sets key on every entry named name. Keys written in the file win.
func fillKey(cfg *Config, name, key string) {
	p := &cfg.Providers
	entries := append(allLLM(p), allTTS(p)...)
	for i := range p.STT {
		entries = append(entries, &p.STT[i])
	}
	for _, entry := range entries {
		if entry.Name == name && entry.APIKey == "" {
			entry.APIKey = key
		}
	}
}

func allLLM(p *ProvidersConfig) []*ProviderEntry {
	out := []*ProviderEntry{&p.LLM, &p.Classifier}
	for i := range p.LLMFallbacks {
		out = append(out, &p.LLMFallbacks[i])
	}
	return out
}

func allTTS(p *ProvidersConfig) []*ProviderEntry {
	out := []*ProviderEntry{&p.TTS}
	for i := range p.TTSFallbacks {
		out = append(out, &p.TTSFallbacks[i])
	}
	return out
}

// envReader collects parse failures so every bad variable is reported.
type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) get(name string) (string, bool) {
	v, ok := e.lookup(name)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *envReader) str(name string, dst *string) {
	if v, ok := e.get(name); ok {
		*dst = v
	}
}

func (e *envReader) integer(name string, dst *int) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s %q: not an integer", name, v))
		return
	}
	*dst = n
}

func (e *envReader) number(name string, dst *float64) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s %q: not a number", name, v))
		return
	}
	*dst = f
}

func (e *envReader) millis(name string, dst *time.Duration) {
	v, ok := e.get(name)
	if !ok {
		return
	}
	ms, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s %q: not a number of milliseconds", name, v))
		return
	}
	*dst = time.Duration(ms * float64(time.Millisecond))
}

// flag treats "true" (any case) as true and every other value as false.
func (e *envReader) flag(name string, dst *bool) {
	if v, ok := e.get(name); ok {
		*dst = strings.EqualFold(v, "true")
	}
}

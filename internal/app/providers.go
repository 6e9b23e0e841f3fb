package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/yalda00/nexhacks-aura2.0/internal/config"
	"github.com/yalda00/nexhacks-aura2.0/internal/observe"
	"github.com/yalda00/nexhacks-aura2.0/internal/resilience"
	"github.com/yalda00/nexhacks-aura2.0/pkg/provider/llm"
)

// BuildProviders instantiates every provider named in cfg through reg.
// Multiple STT entries become a fallback chain in listed order; TTS and LLM
// fallbacks wrap their primary the same way.
func BuildProviders(cfg *config.Config, reg *config.Registry) (*Providers, error) {
	p := &Providers{}
	fb := resilience.FallbackConfig{CircuitBreaker: resilience.CircuitBreakerConfig{
		OnStateChange: func(name string, _, to resilience.State) {
			observe.DefaultMetrics().RecordBreakerTransition(context.Background(), name, to.String())
		},
	}}

	// ── STT ──────────────────────────────────────────────────────────────
	var (
		names []string
		chain *resilience.STTFallback
	)
	for i, entry := range cfg.Providers.STT {
		sp, err := reg.CreateSTT(entry)
		if err != nil {
			return nil, fmt.Errorf("app: create stt provider %q: %w", entry.Name, err)
		}
		names = append(names, entry.Name)
		if i == 0 {
			p.STT = sp
			continue
		}
		if chain == nil {
			chain = resilience.NewSTTFallback(p.STT, cfg.Providers.STT[0].Name, fb)
			p.STT = chain
		}
		chain.AddFallback(entry.Name, sp)
	}
	p.STTName = strings.Join(names, "+")
	slog.Info("provider created", "kind", "stt", "chain", names)

	// ── TTS ──────────────────────────────────────────────────────────────
	primaryTTS, err := reg.CreateTTS(cfg.Providers.TTS)
	if err != nil {
		return nil, fmt.Errorf("app: create tts provider %q: %w", cfg.Providers.TTS.Name, err)
	}
	p.TTS, p.TTSName = primaryTTS, cfg.Providers.TTS.Name
	if len(cfg.Providers.TTSFallbacks) > 0 {
		chain := resilience.NewTTSFallback(primaryTTS, cfg.Providers.TTS.Name, fb)
		for _, entry := range cfg.Providers.TTSFallbacks {
			tp, err := reg.CreateTTS(entry)
			if err != nil {
				return nil, fmt.Errorf("app: create tts fallback %q: %w", entry.Name, err)
			}
			chain.AddFallback(entry.Name, tp)
		}
		p.TTS = chain
	}
	slog.Info("provider created", "kind", "tts", "name", p.TTSName, "fallbacks", len(cfg.Providers.TTSFallbacks))

	// ── LLM ──────────────────────────────────────────────────────────────
	if entry := cfg.Providers.LLM; entry.Name != "" {
		lp, err := buildLLM(reg, entry, cfg.Providers.LLMFallbacks, fb)
		if err != nil {
			return nil, err
		}
		p.LLM, p.LLMName = lp, entry.Name
		slog.Info("provider created", "kind", "llm", "name", entry.Name, "model", entry.Model)
	}
	if entry := cfg.Providers.Classifier; entry.Name != "" {
		cp, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("app: create classifier %q: %w", entry.Name, err)
		}
		p.Classifier = cp
		slog.Info("provider created", "kind", "classifier", "name", entry.Name)
	}

	// ── Room ─────────────────────────────────────────────────────────────
	room, err := reg.CreateRoom(cfg.Room)
	if err != nil {
		return nil, fmt.Errorf("app: create room platform %q: %w", cfg.Room.Platform, err)
	}
	p.Room = room

	return p, nil
}

func buildLLM(reg *config.Registry, primary config.ProviderEntry, fallbacks []config.ProviderEntry, fb resilience.FallbackConfig) (llm.Provider, error) {
	lp, err := reg.CreateLLM(primary)
	if err != nil {
		return nil, fmt.Errorf("app: create llm provider %q: %w", primary.Name, err)
	}
	if len(fallbacks) == 0 {
		return lp, nil
	}
	chain := resilience.NewLLMFallback(lp, primary.Name, fb)
	for _, entry := range fallbacks {
		fp, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("app: create llm fallback %q: %w", entry.Name, err)
		}
		chain.AddFallback(entry.Name, fp)
	}
	return chain, nil
}

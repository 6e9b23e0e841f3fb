// Command aura is the voice-agent gateway: it joins a media room, listens
// for the wake phrase, and answers spoken queries.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/yalda00/nexhacks-aura2.0/internal/app"
	"github.com/yalda00/nexhacks-aura2.0/internal/config"
	"github.com/yalda00/nexhacks-aura2.0/internal/observe"
	"github.com/yalda00/nexhacks-aura2.0/pkg/audio"
	"github.com/yalda00/nexhacks-aura2.0/pkg/audio/webrtc"
	"github.com/yalda00/nexhacks-aura2.0/pkg/provider/llm"
	"github.com/yalda00/nexhacks-aura2.0/pkg/provider/llm/anyllm"
	"github.com/yalda00/nexhacks-aura2.0/pkg/provider/llm/gemini"
	"github.com/yalda00/nexhacks-aura2.0/pkg/provider/llm/openai"
	"github.com/yalda00/nexhacks-aura2.0/pkg/provider/stt"
	sttdeepgram "github.com/yalda00/nexhacks-aura2.0/pkg/provider/stt/deepgram"
	sttelevenlabs "github.com/yalda00/nexhacks-aura2.0/pkg/provider/stt/elevenlabs"
	"github.com/yalda00/nexhacks-aura2.0/pkg/provider/stt/whisper"
	"github.com/yalda00/nexhacks-aura2.0/pkg/provider/tts"
	ttsdeepgram "github.com/yalda00/nexhacks-aura2.0/pkg/provider/tts/deepgram"
	ttselevenlabs "github.com/yalda00/nexhacks-aura2.0/pkg/provider/tts/elevenlabs"
)

// version is overridden at link time.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envFile := flag.String("env", ".env", "dotenv file loaded before the config")
	flag.Parse()

	explicit := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			explicit = true
		}
	})

	// ── Environment ───────────────────────────────────────────────────────────
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "aura: load %s: %v\n", *envFile, err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Resolve(*configPath, explicit, os.LookupEnv)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "aura: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "aura: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("aura starting",
		"version", version,
		"config", *configPath,
		"room", cfg.Room.Name,
		"reasoning", cfg.Pipeline.Reasoning,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(tctx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(ctx, reg)

	providers, err := app.BuildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	opts := []app.Option{app.WithLevelVar(level)}
	if _, err := os.Stat(*configPath); err == nil {
		opts = append(opts, app.WithConfigWatch(*configPath, os.LookupEnv))
	}

	application, err := app.New(ctx, cfg, providers, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	go func() {
		select {
		case <-application.Ready():
			slog.Info("gateway ready; press Ctrl+C to shut down")
		case <-ctx.Done():
		}
	}()

	runErr := application.Run(ctx)
	if runErr != nil {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.ShutdownTimeout)
	defer cancel()

	slog.Info("shutting down")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// anyllmBackends are the LLM names served through any-llm-go.
var anyllmBackends = []string{"anthropic", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"}

// registerBuiltinProviders wires every built-in provider factory into reg.
func registerBuiltinProviders(ctx context.Context, reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	reg.RegisterLLM("gemini", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []gemini.Option
		if entry.Model != "" {
			opts = append(opts, gemini.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(entry.BaseURL))
		}
		return gemini.New(ctx, entry.APIKey, opts...)
	})

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		return openai.New(entry.APIKey, entry.Model,
			openai.WithBaseURL(entry.BaseURL),
			openai.WithOrganization(entry.Option("organization")),
		)
	})

	for _, name := range anyllmBackends {
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			return anyllm.New(name, entry.Model,
				anyllm.WithAPIKey(entry.APIKey),
				anyllm.WithBaseURL(entry.BaseURL),
			)
		})
	}

	// ── STT ───────────────────────────────────────────────────────────────────
	reg.RegisterSTT("elevenlabs", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []sttelevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, sttelevenlabs.WithModel(entry.Model))
		}
		if lang := entry.Option("language"); lang != "" {
			opts = append(opts, sttelevenlabs.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, sttelevenlabs.WithBaseURL(entry.BaseURL))
		}
		return sttelevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []sttdeepgram.Option
		if entry.Model != "" {
			opts = append(opts, sttdeepgram.WithModel(entry.Model))
		}
		if lang := entry.Option("language"); lang != "" {
			opts = append(opts, sttdeepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, sttdeepgram.WithBaseURL(entry.BaseURL))
		}
		return sttdeepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := entry.Option("language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────
	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []ttselevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, ttselevenlabs.WithModel(entry.Model))
		}
		if voice := entry.Option("voice_id"); voice != "" {
			opts = append(opts, ttselevenlabs.WithVoice(voice))
		}
		if entry.BaseURL != "" {
			opts = append(opts, ttselevenlabs.WithBaseURL(entry.BaseURL))
		}
		return ttselevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("deepgram", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []ttsdeepgram.Option
		if entry.Model != "" {
			opts = append(opts, ttsdeepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, ttsdeepgram.WithBaseURL(entry.BaseURL))
		}
		return ttsdeepgram.New(entry.APIKey, opts...)
	})

	// ── Room ──────────────────────────────────────────────────────────────────
	reg.RegisterRoom("webrtc", func(room config.RoomConfig) (audio.Platform, error) {
		return webrtc.New(
			webrtc.WithSTUNServers(room.STUNServers...),
			webrtc.WithLogger(slog.Default()),
		), nil
	})

	for _, kind := range []string{"llm", "stt", "tts", "room"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║           Aura — startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	for i, e := range cfg.Providers.STT {
		kind := "STT"
		if i > 0 {
			kind = "STT fallback"
		}
		printProvider(kind, e.Name, e.Model)
	}
	if cfg.Pipeline.Reasoning == config.ReasoningBridge {
		printProvider("Reasoning", "bridge", "")
	} else {
		printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	}
	printProvider("Classifier", cfg.Providers.Classifier.Name, cfg.Providers.Classifier.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("Room", cfg.Room.Platform, cfg.Room.Name)
	fmt.Printf("║  Wake phrase     : %-19s ║\n", truncate(cfg.Gate.WakePhrase))
	fmt.Printf("║  Sleep phrase    : %-19s ║\n", truncate(cfg.Gate.SleepPhrase))
	printAddr("Admin addr", cfg.Server.ListenAddr)
	printAddr("Bridge addr", cfg.Bridge.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, truncate(value))
}

func printAddr(kind, addr string) {
	if addr == "" {
		addr = "(disabled)"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, truncate(addr))
}

func truncate(s string) string {
	if r := []rune(s); len(r) > 19 {
		return string(r[:18]) + "…"
	}
	return s
}

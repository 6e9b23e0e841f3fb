package config

import (
	"fmt"
	"slices"
	"time"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PhrasesChanged is set when either gate phrase changed; both new
	// phrases are reported.
	PhrasesChanged bool
	WakePhrase     string
	SleepPhrase    string

	CooldownChanged       bool
	NewClassifierCooldown time.Duration

	// Restart lists top-level sections that changed but only take effect
	// after a restart.
	Restart []string
}

// Changed reports whether d carries any hot-reloadable change.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.PhrasesChanged || d.CooldownChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Gate.WakePhrase != new.Gate.WakePhrase || old.Gate.SleepPhrase != new.Gate.SleepPhrase {
		d.PhrasesChanged = true
		d.WakePhrase = new.Gate.WakePhrase
		d.SleepPhrase = new.Gate.SleepPhrase
	}

	if old.Gate.ClassifierCooldown != new.Gate.ClassifierCooldown {
		d.CooldownChanged = true
		d.NewClassifierCooldown = new.Gate.ClassifierCooldown
	}

	// Compare the remaining gate fields with the hot ones masked out.
	og, ng := old.Gate, new.Gate
	og.WakePhrase, og.SleepPhrase, og.ClassifierCooldown = "", "", 0
	ng.WakePhrase, ng.SleepPhrase, ng.ClassifierCooldown = "", "", 0

	osrv, nsrv := old.Server, new.Server
	osrv.LogLevel, nsrv.LogLevel = "", ""

	for _, s := range []struct {
		name    string
		changed bool
	}{
		{"server", osrv != nsrv},
		{"room", !roomEqual(old.Room, new.Room)},
		{"token", old.Token != new.Token},
		{"bridge", !bridgeEqual(old.Bridge, new.Bridge)},
		{"pipeline", old.Pipeline != new.Pipeline},
		{"gate", og != ng},
		{"egress", old.Egress != new.Egress},
		{"providers", !providersEqual(old.Providers, new.Providers)},
	} {
		if s.changed {
			d.Restart = append(d.Restart, s.name)
		}
	}
	return d
}

func roomEqual(a, b RoomConfig) bool {
	return slices.Equal(a.STUNServers, b.STUNServers) &&
		a.Name == b.Name && a.Identity == b.Identity && a.Platform == b.Platform &&
		a.SampleRate == b.SampleRate && a.Channels == b.Channels && a.FrameMs == b.FrameMs
}

func bridgeEqual(a, b BridgeConfig) bool {
	return slices.Equal(a.AllowedOrigins, b.AllowedOrigins) &&
		a.ListenAddr == b.ListenAddr && a.PingInterval == b.PingInterval &&
		a.ForwardQueries == b.ForwardQueries && a.ForwardAudio == b.ForwardAudio &&
		a.ReadLimit == b.ReadLimit
}

func providersEqual(a, b ProvidersConfig) bool {
	return entriesEqual(a.STT, b.STT) &&
		entryEqual(a.LLM, b.LLM) &&
		entryEqual(a.Classifier, b.Classifier) &&
		entryEqual(a.TTS, b.TTS) &&
		entriesEqual(a.TTSFallbacks, b.TTSFallbacks) &&
		entriesEqual(a.LLMFallbacks, b.LLMFallbacks)
}

func entriesEqual(a, b []ProviderEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !entryEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

func entryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k, v := range a.Options {
		w, ok := b.Options[k]
		if !ok || fmt.Sprint(v) != fmt.Sprint(w) {
			return false
		}
	}
	return true
}

package app

import (
	"context"
	"fmt"

	"github.com/yalda00/nexhacks-aura2.0/internal/config"
)

// watch polls the config file until ctx is done.
func (a *App) watch(ctx context.Context) error {
	opts := []config.WatcherOption{
		config.WithWatcherLogger(a.log),
		config.WithInterval(a.watchInterval),
	}
	if a.envLookup != nil {
		opts = append(opts, config.WithEnv(a.envLookup))
	}
	w, err := config.NewWatcher(a.configPath, a.applyReload, opts...)
	if err != nil {
		return fmt.Errorf("app: watch config: %w", err)
	}
	<-ctx.Done()
	w.Stop()
	return nil
}

// applyReload applies the hot-reloadable part of a config change. Sections
// that need a restart are only logged.
func (a *App) applyReload(old, new *config.Config) {
	d := config.Diff(old, new)

	if d.LogLevelChanged {
		if a.level != nil {
			a.level.Set(d.NewLogLevel.Level())
			a.log.Info("log level changed", "level", d.NewLogLevel)
		} else {
			a.log.Warn("log level change ignored; no level var configured", "level", d.NewLogLevel)
		}
	}
	if d.PhrasesChanged {
		a.gate.SetPhrases(d.WakePhrase, d.SleepPhrase)
		a.log.Info("gate phrases changed", "wake", d.WakePhrase, "sleep", d.SleepPhrase)
	}
	if d.CooldownChanged {
		a.gate.SetClassifierCooldown(d.NewClassifierCooldown)
		a.log.Info("classifier cooldown changed", "cooldown", d.NewClassifierCooldown)
	}
	if len(d.Restart) > 0 {
		a.log.Warn("config sections changed that need a restart", "sections", d.Restart)
	}
}

// Package config - watcher.go provides config file hot-reload support.
//
// The watcher polls the config file for changes (stat-based, every 5 seconds)
// and notifies registered callbacks when the risk settings, the closer
// settings, or the scanner's min momentum score or min 24h volume change.
//
// Database URL, active exchange, and trading mode are structural settings
// that require an engine restart and are never hot-reloaded.
package config

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"
)

// ConfigWatcher monitors the config file for changes and invokes callbacks
// when a reloadable field changes (see reloadableChanged). It uses stat-based polling (no external
// dependencies like fsnotify required).
type ConfigWatcher struct {
	path     string
	logger   *log.Logger
	mu       sync.RWMutex
	current  *Config
	lastMod  time.Time
	onChange []func(old, new *Config)
	done     chan struct{}
	stopped  bool
}

// NewConfigWatcher creates a watcher for the given config file path.
// initial is the currently loaded config. The watcher does not start
// until Start() is called.
func NewConfigWatcher(path string, initial *Config, logger *log.Logger) *ConfigWatcher {
	if logger == nil {
		logger = log.New(log.Writer(), "", log.LstdFlags)
	}
	return &ConfigWatcher{
		path:    path,
		logger:  logger,
		current: initial,
		done:    make(chan struct{}),
	}
}

// OnChange registers a callback invoked when the config file changes and
// the new config passes validation. Multiple callbacks may be registered.
func (w *ConfigWatcher) OnChange(fn func(old, new *Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = append(w.onChange, fn)
}

// Start begins polling the config file for changes. It returns immediately;
// the watcher runs in a background goroutine. Returns an error if the
// initial file stat fails.
func (w *ConfigWatcher) Start() error {
	info, err := os.Stat(w.path)
	if err != nil {
		return err
	}
	w.lastMod = info.ModTime()
	w.logger.Printf("[config-watcher] watching %s for changes (poll interval: 5s)", w.path)

	go w.pollLoop()
	return nil
}

// Stop stops the config watcher. Safe to call multiple times.
func (w *ConfigWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.stopped {
		w.stopped = true
		close(w.done)
		w.logger.Println("[config-watcher] stopped")
	}
}

// Current returns the most recently loaded valid config.
func (w *ConfigWatcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

func (w *ConfigWatcher) pollLoop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.checkForChanges()
		}
	}
}

func (w *ConfigWatcher) checkForChanges() {
	info, err := os.Stat(w.path)
	if err != nil {
		w.logger.Printf("[config-watcher] stat error: %v", err)
		return
	}

	if !info.ModTime().After(w.lastMod) {
		return
	}
	w.lastMod = info.ModTime()

	data, err := os.ReadFile(w.path)
	if err != nil {
		w.logger.Printf("[config-watcher] read error: %v", err)
		return
	}

	newCfg := Default()
	if err := json.Unmarshal(data, &newCfg); err != nil {
		w.logger.Printf("[config-watcher] parse error (keeping old config): %v", err)
		return
	}

	if err := newCfg.Validate(); err != nil {
		w.logger.Printf("[config-watcher] validation error (keeping old config): %v", err)
		return
	}

	w.mu.RLock()
	oldCfg := w.current
	w.mu.RUnlock()

	if !reloadableChanged(oldCfg, &newCfg) {
		w.logger.Printf("[config-watcher] file changed but no reloadable field changed, skipping")
		return
	}

	w.logChanges(oldCfg, &newCfg)

	w.mu.Lock()
	w.current = &newCfg
	callbacks := make([]func(old, new *Config), len(w.onChange))
	copy(callbacks, w.onChange)
	w.mu.Unlock()

	for _, fn := range callbacks {
		fn(oldCfg, &newCfg)
	}
}

// reloadableChanged reports whether any hot-reloadable field differs.
// Database URL, active exchange, and trading mode are intentionally excluded.
func reloadableChanged(old, new *Config) bool {
	return old.Risk != new.Risk || old.Scanner.MinMomentumScore != new.Scanner.MinMomentumScore ||
		old.Scanner.MinVolume24h != new.Scanner.MinVolume24h ||
		old.Closer != new.Closer
}

func (w *ConfigWatcher) logChanges(old, new *Config) {
	if old.Risk != new.Risk {
		w.logger.Printf("[config-watcher] risk: max_open_trades=%d->%d daily_loss_limit_pct=%.2f->%.2f",
			old.Risk.MaxOpenTrades, new.Risk.MaxOpenTrades, old.Risk.DailyLossLimitPct, new.Risk.DailyLossLimitPct)
	}
	if old.Scanner.MinMomentumScore != new.Scanner.MinMomentumScore {
		w.logger.Printf("[config-watcher] min_momentum_score: %d -> %d", old.Scanner.MinMomentumScore, new.Scanner.MinMomentumScore)
	}
	if old.Closer != new.Closer {
		w.logger.Printf("[config-watcher] closer: max_hold_minutes=%d->%d fast_exit_minutes=%d->%d",
			old.Closer.MaxHoldMinutes, new.Closer.MaxHoldMinutes, old.Closer.FastExitMinutes, new.Closer.FastExitMinutes)
	}
}

package config

import (
	"context"
	"fmt"
	"os"
	"time"
)

// Watcher polls a config file and reports each valid new version.
type Watcher struct {
	filePath     string
	pollInterval time.Duration
	debounce     time.Duration
	onChange     func(oldCfg, newCfg *Config)
	onError      func(error)

	lastModTime time.Time
	lastSize    int64
	lastConfig  *Config
}

// WatcherConfig holds watcher configuration.
type WatcherConfig struct {
	FilePath     string
	PollInterval time.Duration // Default: 1s
	Debounce     time.Duration // Default: 200ms
	OnChange     func(oldCfg, newCfg *Config)
	OnError      func(error) // Optional; receives parse and validation failures
}

// NewWatcher creates a watcher and loads the current file.
func NewWatcher(cfg *WatcherConfig) (*Watcher, error) {
	if cfg.FilePath == "" {
		return nil, ErrMissingConfigFile
	}
	if cfg.OnChange == nil {
		return nil, ErrMissingOnChange
	}

	w := &Watcher{
		filePath:     cfg.FilePath,
		pollInterval: cfg.PollInterval,
		debounce:     cfg.Debounce,
		onChange:     cfg.OnChange,
		onError:      cfg.OnError,
	}
	if w.pollInterval <= 0 {
		w.pollInterval = time.Second
	}
	if w.debounce <= 0 {
		w.debounce = 200 * time.Millisecond
	}
	if w.onError == nil {
		w.onError = func(error) {}
	}

	info, err := os.Stat(cfg.FilePath)
	if err != nil {
		return nil, err
	}
	initial, err := LoadConfig(cfg.FilePath)
	if err != nil {
		return nil, err
	}
	w.lastModTime = info.ModTime()
	w.lastSize = info.Size()
	w.lastConfig = initial

	return w, nil
}

// Current returns the last valid configuration.
func (w *Watcher) Current() *Config {
	return w.lastConfig
}

// Run polls until ctx is done. A change is reloaded once the file has been
// quiet for the debounce period.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if w.changed() {
				debounce = time.After(w.debounce)
			}
		case <-debounce:
			debounce = nil
			w.reload()
		}
	}
}

func (w *Watcher) changed() bool {
	info, err := os.Stat(w.filePath)
	if err != nil {
		return false
	}
	if info.ModTime().Equal(w.lastModTime) && info.Size() == w.lastSize {
		return false
	}
	w.lastModTime = info.ModTime()
	w.lastSize = info.Size()
	return true
}

func (w *Watcher) reload() {
	newConfig, err := LoadConfig(w.filePath)
	if err != nil {
		w.onError(err)
		return
	}
	if errs := ValidateConfig(newConfig); len(errs) > 0 {
		w.onError(fmt.Errorf("invalid configuration: %v", errs[0]))
		return
	}

	old := w.lastConfig
	w.lastConfig = newConfig
	w.onChange(old, newConfig)
}

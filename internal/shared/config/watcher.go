package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// ProvidersCallback receives the validated providers section after every
// change to the config file. It runs on the watcher goroutine.
type ProvidersCallback func(providers []ProviderConfig)

// Watcher watches the config file and republishes its providers section.
type Watcher struct {
	path     string
	dir      string
	callback ProvidersCallback
	logger   zerolog.Logger
	debounce time.Duration
}

// NewWatcher creates a watcher; nothing is watched until Run is called.
func NewWatcher(path string, callback ProvidersCallback, logger zerolog.Logger) *Watcher {
	return &Watcher{
		path:     path,
		dir:      filepath.Dir(path),
		callback: callback,
		logger:   logger,
		debounce: 300 * time.Millisecond,
	}
}

// Run blocks until ctx is canceled. The parent directory is watched so
// editors that save via rename are still picked up.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return err
	}

	w.logger.Info().Str("path", w.path).Msg("config watcher started")

	target := filepath.Clean(w.path)
	var debounce <-chan time.Time
	var timer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			w.logger.Info().Msg("config watcher stopped")
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			debounce = timer.C

		case <-debounce:
			debounce = nil
			w.reload()

		case werr, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(werr).Msg("config watcher error")
		}
	}
}

// reload keeps the previous provider set when the new file is invalid.
func (w *Watcher) reload() {
	providers, err := LoadProviders(w.path)
	if err != nil {
		w.logger.Error().Err(err).Msg("provider reload failed, keeping current configuration")
		return
	}
	w.logger.Info().Int("providers", len(providers)).Msg("provider configuration reloaded")
	w.callback(providers)
}

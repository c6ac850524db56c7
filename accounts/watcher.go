package accounts

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const reloadDebounce = 250 * time.Millisecond

// Watch reloads the registry from path whenever the file changes, until ctx
// is cancelled. A file that fails to load leaves the current snapshot in place.
// onReload, when set, runs after every successful swap.
func Watch(ctx context.Context, path string, registry *Registry, onReload func([]*Account)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() {
		_ = w.Close()
	}()

	// Watch the directory so editors that replace the file are still seen.
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return err
	}

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				debounce = time.After(reloadDebounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Str("file", abs).Msg("accounts watcher error")
		case <-debounce:
			debounce = nil
			reload(abs, registry, onReload)
		}
	}
}

func reload(path string, registry *Registry, onReload func([]*Account)) {
	loaded, err := LoadFile(path)
	if err != nil {
		log.Err(err).Str("file", path).Msg("accounts reload failed, keeping current accounts")
		return
	}
	registry.Replace(loaded)
	log.Info().Str("file", path).Int("accounts", len(loaded)).Msg("accounts reloaded")
	if onReload != nil {
		onReload(loaded)
	}
}

package config

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const (
	watchDebounce = 100 * time.Millisecond
	watchPoll     = 5 * time.Second
)

// FileWatcher calls onChange with the contents of a file whenever it is
// written or replaced. It watches the parent directory so editors that
// rename into place are seen, and falls back to polling when fsnotify is
// unavailable.
type FileWatcher struct {
	path     string
	onChange func(data []byte)
	lastMod  time.Time
}

func NewFileWatcher(path string, onChange func(data []byte)) *FileWatcher {
	return &FileWatcher{path: path, onChange: onChange}
}

// Load reads the file once and delivers it. A missing file delivers nil.
func (fw *FileWatcher) Load() error {
	data, err := os.ReadFile(fw.path)
	if err != nil {
		if os.IsNotExist(err) {
			fw.onChange(nil)
			return nil
		}
		return err
	}
	if stat, err := os.Stat(fw.path); err == nil {
		fw.lastMod = stat.ModTime()
	}
	fw.onChange(data)
	return nil
}

// Run watches until ctx is done.
func (fw *FileWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn().Err(err).Msg("Falling back to polling for file changes")
		return fw.poll(ctx)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(fw.path)); err != nil {
		log.Warn().Err(err).Str("path", fw.path).Msg("Falling back to polling for file changes")
		return fw.poll(ctx)
	}
	log.Info().Str("path", fw.path).Msg("Started watching file for changes")

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(fw.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			// Debounce - wait a bit for write to complete
			time.Sleep(watchDebounce)
			log.Info().Str("event", event.Op.String()).Str("path", fw.path).Msg("Detected file change")
			fw.reload()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("File watcher error")

		case <-ctx.Done():
			return nil
		}
	}
}

func (fw *FileWatcher) poll(ctx context.Context) error {
	ticker := time.NewTicker(watchPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if stat, err := os.Stat(fw.path); err == nil && stat.ModTime().After(fw.lastMod) {
				log.Info().Str("path", fw.path).Msg("Detected file change via polling")
				fw.lastMod = stat.ModTime()
				fw.reload()
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (fw *FileWatcher) reload() {
	if err := fw.Load(); err != nil {
		log.Error().Err(err).Str("path", fw.path).Msg("Failed to reload file")
	}
}

// Package file stores settings in a YAML file and reloads it when the file
// is edited externally.
package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/goodtune/autokey/internal/storage"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type fileData struct {
	Settings map[string]string `yaml:"settings"`
}

// Store implements storage.SettingsStore on a YAML file.
type Store struct {
	path   string
	logger zerolog.Logger

	mu     sync.RWMutex
	values map[string]string
}

var _ storage.SettingsStore = (*Store)(nil)

// Open loads the settings file. A missing file is treated as empty.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	s := &Store{
		path:   filepath.Clean(path),
		logger: logger.With().Str("component", "settings-file").Logger(),
		values: make(map[string]string),
	}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok {
		return "", storage.ErrNotFound
	}
	return v, nil
}

func (s *Store) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]string, len(s.values)+1)
	for k, v := range s.values {
		next[k] = v
	}
	next[key] = value

	if err := s.writeLocked(next); err != nil {
		return err
	}
	s.values = next
	return nil
}

func (s *Store) All(_ context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out, nil
}

// Clear removes the settings file.
func (s *Store) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove settings file: %w", err)
	}
	s.values = make(map[string]string)
	return nil
}

func (s *Store) Close() error {
	return nil
}

// Watch reloads the file whenever it changes on disk, until ctx is done.
// The parent directory is watched so editors that replace the file by
// rename are picked up.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create settings watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	s.logger.Debug().Str("path", s.path).Msg("Watching settings file")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := s.reload(); err != nil {
				s.logger.Warn().Err(err).Msg("Failed to reload settings file, keeping previous values")
				continue
			}
			s.logger.Debug().Str("op", event.Op.String()).Msg("Settings file reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn().Err(err).Msg("Settings watcher error")
		}
	}
}

func (s *Store) reload() error {
	rawData, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.mu.Lock()
			s.values = make(map[string]string)
			s.mu.Unlock()
			return nil
		}
		return fmt.Errorf("read settings file: %w", err)
	}

	var data fileData
	if err := yaml.Unmarshal(rawData, &data); err != nil {
		return fmt.Errorf("parse settings yaml: %w", err)
	}
	if data.Settings == nil {
		data.Settings = make(map[string]string)
	}

	s.mu.Lock()
	s.values = data.Settings
	s.mu.Unlock()
	return nil
}

func (s *Store) writeLocked(values map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	serialized, err := yaml.Marshal(fileData{Settings: values})
	if err != nil {
		return fmt.Errorf("marshal settings yaml: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, serialized, 0o644); err != nil {
		return fmt.Errorf("write settings file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace settings file: %w", err)
	}
	return nil
}

package orgs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// LoadDirectoryFile reads and parses the organization directory file.
func LoadDirectoryFile(path string) (*DirectoryConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read organization directory %s: %w", path, err)
	}
	var config DirectoryConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parse organization directory %s: %w", path, err)
	}
	return &config, nil
}

// WatchDirectoryFile reloads the directory whenever the backing file changes.
// It blocks until the context is cancelled. A reload failure keeps the
// previous snapshot and is logged, never fatal.
func WatchDirectoryFile(ctx context.Context, path string, directory *Directory, logger logrus.FieldLogger) error {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create directory watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the containing directory: editors replace files by rename, which
	// drops a watch placed on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}
	target := filepath.Clean(path)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			config, err := LoadDirectoryFile(path)
			if err != nil {
				logger.WithError(err).Error("organization directory reload failed, keeping previous snapshot")
				continue
			}
			directory.Replace(config)
			logger.WithFields(logrus.Fields{
				"path":          path,
				"organizations": directory.Len(),
			}).Info("organization directory reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Warn("organization directory watcher error")
		}
	}
}

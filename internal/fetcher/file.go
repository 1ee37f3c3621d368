package fetcher

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/OrlandoBitencourt/flagsync/internal/domain"
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// FileFetcher serves the config document from a local JSON or YAML file.
// The ETag is the SHA-1 of the file content, so an unchanged file
// yields no new config.
type FileFetcher struct {
	path   string
	logger logrus.FieldLogger
	now    func() time.Time
}

// NewFileFetcher creates a fetcher for path
func NewFileFetcher(path string, logger logrus.FieldLogger) *FileFetcher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &FileFetcher{path: path, logger: logger, now: time.Now}
}

// Path returns the watched file
func (f *FileFetcher) Path() string {
	return f.path
}

// Fetch reads the file and returns a config when its content changed
func (f *FileFetcher) Fetch(ctx context.Context, last *domain.ProjectConfig) (*domain.ProjectConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, domain.NewFetchError(f.path, "failed to read file", err)
	}

	sum := sha1.Sum(data)
	etag := `"` + hex.EncodeToString(sum[:]) + `"`
	if last != nil && last.ETag == etag {
		return nil, nil
	}

	raw := data
	if isYAML(f.path) {
		raw, err = yamlToJSON(data)
		if err != nil {
			return nil, domain.NewFetchError(f.path, "invalid yaml", err)
		}
	}

	cfg, err := domain.NewProjectConfig(f.now(), raw, etag)
	if err != nil {
		return nil, domain.NewFetchError(f.path, "invalid config document", err)
	}
	return cfg, nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func yamlToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}
	return json.Marshal(doc)
}

// Watch calls onChange whenever the file is written, created or replaced.
// It blocks until ctx is done. The parent directory is watched so that
// editors replacing the file through a rename are seen too.
func (f *FileFetcher) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(f.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	target := filepath.Clean(f.path)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				f.logger.WithField("file", f.path).Debugf("config file event: %s", event.Op)
				onChange()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			f.logger.WithError(err).Error("config file watcher error")
		}
	}
}

// Package labgrid exposes the labgrid exporter configuration to the web
// interface. The exporter environment file can be edited from the settings
// view; external edits on disk are picked up via fsnotify.
package labgrid

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/fiurin/tacd/internal/broker"
	"github.com/fiurin/tacd/internal/config"
)

// Labgrid synchronizes the exporter environment file with its topics.
type Labgrid struct {
	log  *zap.Logger
	path string

	// current is the last known-good document, used to tell apart echoes
	// of our own writes from real changes. Only Run touches it.
	current string

	environment *broker.Topic[string]
	resources   *broker.Topic[[]string]
}

// New registers the labgrid topics and publishes the on-disk state.
// A missing environment file is treated as an empty document.
func New(b *broker.Broker, cfg *config.Config, log *zap.Logger) (*Labgrid, error) {
	l := &Labgrid{
		log:         log,
		path:        cfg.Labgrid.EnvironmentFile,
		environment: broker.TopicRW[string](b, "/v1/labgrid/environment"),
		resources:   broker.TopicRO[[]string](b, "/v1/labgrid/resources"),
	}

	doc, err := l.readFile()
	if err != nil {
		return nil, err
	}
	l.publish(doc)
	return l, nil
}

// Run follows web writes and on-disk changes until the context is
// cancelled.
func (l *Labgrid) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("labgrid: create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory, not the file: atomic replaces (tmp + rename)
	// swap the inode out from under a file watch.
	if err := watcher.Add(filepath.Dir(l.path)); err != nil {
		return fmt.Errorf("labgrid: watch %s: %w", filepath.Dir(l.path), err)
	}

	updates := l.environment.Subscribe(8)
	defer l.environment.Unsubscribe(updates)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case doc, open := <-updates:
			if !open {
				return fmt.Errorf("labgrid: evicted from environment topic")
			}
			l.handleWebWrite(doc)

		case ev, open := <-watcher.Events:
			if !open {
				return fmt.Errorf("labgrid: watcher closed")
			}
			if ev.Name == l.path && ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				l.handleFileChange()
			}

		case err, open := <-watcher.Errors:
			if !open {
				return fmt.Errorf("labgrid: watcher closed")
			}
			l.log.Warn("labgrid watcher error", zap.Error(err))
		}
	}
}

// handleWebWrite validates and persists a document written via the web.
// Invalid YAML is rejected by republishing the last known-good document.
func (l *Labgrid) handleWebWrite(doc string) {
	if doc == l.current {
		return // echo of our own publish
	}

	if _, err := parseResources(doc); err != nil {
		l.log.Warn("rejecting invalid labgrid environment", zap.Error(err))
		l.environment.Set(l.current)
		return
	}

	if err := writeFileAtomic(l.path, []byte(doc)); err != nil {
		l.log.Error("failed to persist labgrid environment", zap.Error(err))
		l.environment.Set(l.current)
		return
	}

	l.log.Info("labgrid environment updated via web")
	l.publish(doc)
}

// handleFileChange republishes the document after an external edit.
func (l *Labgrid) handleFileChange() {
	doc, err := l.readFile()
	if err != nil {
		l.log.Warn("failed to reload labgrid environment", zap.Error(err))
		return
	}
	if doc == l.current {
		return
	}

	l.log.Info("labgrid environment changed on disk")
	l.publish(doc)
}

func (l *Labgrid) publish(doc string) {
	l.current = doc

	if cur, ok := l.environment.TryGet(); !ok || cur != doc {
		l.environment.Set(doc)
	}

	resources, err := parseResources(doc)
	if err != nil {
		// The on-disk file may be invalid at boot; publish it anyway so the
		// settings view can show and fix it.
		l.log.Warn("labgrid environment does not parse", zap.Error(err))
		resources = nil
	}
	l.resources.Set(resources)
}

func (l *Labgrid) readFile() (string, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("labgrid: read %s: %w", l.path, err)
	}
	return string(data), nil
}

// parseResources extracts a sorted group/resource summary from an exporter
// environment document.
func parseResources(doc string) ([]string, error) {
	var groups map[string]map[string]yaml.Node
	if err := yaml.Unmarshal([]byte(doc), &groups); err != nil {
		return nil, fmt.Errorf("labgrid: parse environment: %w", err)
	}

	var out []string
	for group, resources := range groups {
		for name := range resources {
			out = append(out, group+"/"+name)
		}
	}
	sort.Strings(out)
	return out, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".environment-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

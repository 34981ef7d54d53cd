package cad

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"slsdispatch/services/fleet"
)

// DoneSuffix marks a finished artifact in the job folder.
const DoneSuffix = "_done.3dm"

// DoneWatcher reports each new *_done.3dm file once.
type DoneWatcher struct {
	root   string
	agent  string
	client *client
	log    zerolog.Logger
	seen   map[string]struct{}

	// armed is called once the watch is registered.
	armed func()
}

// NewDoneWatcher watches cfg.JobRoot (not recursively).
func NewDoneWatcher(cfg Config, c *client, logger zerolog.Logger) *DoneWatcher {
	return &DoneWatcher{
		root:   cfg.JobRoot,
		agent:  cfg.AgentID,
		client: c,
		log:    logger.With().Str("component", "done-watcher").Logger(),
		seen:   make(map[string]struct{}),
	}
}

// IsDoneFile reports whether name is a finished artifact.
func IsDoneFile(name string) bool {
	return strings.HasSuffix(strings.ToLower(filepath.Base(name)), DoneSuffix)
}

// Run blocks until ctx is cancelled or the watcher fails.
func (w *DoneWatcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.root, 0o755); err != nil {
		return fmt.Errorf("create job root: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.root); err != nil {
		return fmt.Errorf("watch %s: %w", w.root, err)
	}
	w.log.Info().Str("job_root", w.root).Msg("watching for finished artifacts")
	if w.armed != nil {
		w.armed()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				w.handle(ctx, ev.Name)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("watcher error")
		}
	}
}

func (w *DoneWatcher) handle(ctx context.Context, path string) {
	if !IsDoneFile(path) {
		return
	}
	if _, dup := w.seen[path]; dup {
		return
	}
	w.seen[path] = struct{}{}

	err := w.client.post(ctx, "/v1/agents/event", fleet.AgentEvent{
		AgentID: w.agent,
		Type:    fleet.EventFileDone,
		Meta:    map[string]any{"path": path},
	}, nil)
	if err != nil {
		w.log.Warn().Err(err).Str("path", path).Msg("file_done event failed")
		return
	}
	w.log.Info().Str("path", path).Msg("reported finished artifact")
}

package run

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 500 * time.Millisecond

// watchConfig reloads the config when its file changes. The parent directory
// is watched because editors often replace the file instead of writing it.
func (s *Server) watchConfig(ctx context.Context) {
	path := filepath.Clean(s.config().Paths.ConfigPath)
	w, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Warnf("config watch: %v", err)
		return
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(path)); err != nil {
		s.logger.Warnf("config watch %s: %v", filepath.Dir(path), err)
		return
	}
	s.logger.Debugf("watching %s", path)

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				pending = time.After(watchDebounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.logger.Warnf("config watch: %v", err)
		case <-pending:
			pending = nil
			msg, err := s.reload()
			if err != nil {
				s.logger.Warnf("config watch: %v", err)
				continue
			}
			s.logger.Info(msg)
		}
	}
}

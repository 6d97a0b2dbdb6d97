package normalize

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the rules file when it changes on disk, until ctx is
// cancelled. The watch is on the containing directory so editors that
// replace the file (rename-over) are picked up. A failed reload keeps
// the previous rule sets in place.
func (n *Normalizer) Watch(ctx context.Context) error {
	if n.path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(n.path)); err != nil {
		return err
	}

	target := filepath.Clean(n.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if err := n.Reload(); err != nil {
				n.logger.Warn("rules reload failed, keeping previous rules", "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			n.logger.Warn("rules watcher error", "error", err)
		}
	}
}

package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// ErrLogRotated is returned by Follow when the followed file is removed
// or renamed.
var ErrLogRotated = errors.New("audit log removed or rotated")

// Follow streams entries appended to path, starting at byte offset, to fn.
// Lines already past offset when Follow starts are delivered first.
// It blocks until ctx is cancelled or the file goes away.
func Follow(ctx context.Context, path string, offset int64, fn func(Entry)) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("seek audit log: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory: on Linux a file watch sees no Remove while we
	// still hold the file open.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %q: %w", dir, err)
	}
	target := filepath.Clean(path)

	reader := bufio.NewReader(f)
	var partial []byte

	// drain delivers every complete line available; a trailing partial
	// line is kept until its newline arrives.
	drain := func() {
		for {
			chunk, err := reader.ReadBytes('\n')
			if err != nil {
				partial = append(partial, chunk...)
				return
			}
			line := append(partial, chunk[:len(chunk)-1]...)
			partial = nil

			var e Entry
			if json.Unmarshal(line, &e) == nil {
				fn(e)
			}
		}
	}

	// Catch up on anything written before the watch was registered.
	drain()

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
			if event.Has(fsnotify.Write) {
				drain()
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				drain()
				return ErrLogRotated
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("file watcher error: %w", err)
		}
	}
}

package sidecar

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
)

// Follow tails path, emitting each newly-appended Record on the
// returned channel until ctx is cancelled. It is grounded on the same
// fsnotify watch-and-reread pattern the repo already uses to detect
// filesystem changes: rather than polling, it waits on a Write event
// for path and re-reads whatever is past the last known offset.
func Follow(ctx context.Context, path string) (<-chan Record, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("initializing sidecar watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching sidecar file %s: %w", path, err)
	}

	out := make(chan Record, 16)
	go func() {
		defer watcher.Close()
		defer close(out)

		var offset int64
		offset = drain(path, offset, out)

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					offset = drain(path, offset, out)
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return out, nil
}

// drain decodes every complete record starting at offset and returns
// the new offset. Decode errors (a record still mid-write) stop the
// scan early; the remaining bytes are picked up on the next event.
func drain(path string, offset int64, out chan<- Record) int64 {
	f, err := os.Open(path)
	if err != nil {
		return offset
	}
	defer f.Close()

	if _, err := f.Seek(offset, 0); err != nil {
		return offset
	}

	dec := json.NewDecoder(f)
	for {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			return offset + dec.InputOffset()
		}
		out <- rec
	}
}

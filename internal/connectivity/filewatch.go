package connectivity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// FileSource reads reachability from a status file that a platform hook
// rewrites on every network change. Accepted contents (case-insensitive,
// surrounding whitespace ignored): online/connected/up/1 and
// offline/disconnected/down/0.
//
// The parent directory is watched rather than the file itself so atomic
// rename-into-place updates are seen.
type FileSource struct {
	Path   string
	Logger *slog.Logger
}

// NewFileSource creates a FileSource for path.
func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path, Logger: slog.Default()}
}

func (s *FileSource) Watch(ctx context.Context) (<-chan bool, error) {
	path, err := filepath.Abs(s.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve status file: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	out := make(chan bool, 1)
	go func() {
		defer close(out)
		defer watcher.Close()

		send := func() bool {
			reachable, err := readStatusFile(path)
			if err != nil {
				if !os.IsNotExist(err) && !errors.Is(err, errEmptyStatus) {
					s.logger().Warn("unreadable connectivity status file", "path", path, "error", err)
				}
				return true
			}
			select {
			case out <- reachable:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !send() {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != path {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					if !send() {
						return
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger().Warn("connectivity watcher error", "error", err)
			}
		}
	}()
	return out, nil
}

func (s *FileSource) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func readStatusFile(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	if strings.TrimSpace(string(data)) == "" {
		// Writers truncate before writing; the follow-up write event carries the value.
		return false, errEmptyStatus
	}
	return ParseStatus(string(data))
}

var errEmptyStatus = errors.New("empty status file")

// ParseStatus interprets a status-file value.
func ParseStatus(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "online", "connected", "up", "1":
		return true, nil
	case "offline", "disconnected", "down", "0":
		return false, nil
	default:
		return false, fmt.Errorf("unrecognized connectivity status %q", strings.TrimSpace(s))
	}
}

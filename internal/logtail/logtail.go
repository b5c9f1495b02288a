// Package logtail prints the end of a log file and follows it as it grows.
package logtail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

const chunkSize = 32 * 1024

// Tail returns the last n lines of path, oldest first, and the file size
// they were read from. A final line without newline is included.
func Tail(path string, n int) ([]string, int64, error) {
	// #nosec G304 -- path is a log file chosen by the supervisor
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = f.Close() }()
	fi, err := f.Stat()
	if err != nil {
		return nil, 0, err
	}
	size := fi.Size()
	if n <= 0 || size == 0 {
		return nil, size, nil
	}

	// read backwards until n+1 newlines are buffered
	var buf []byte
	pos := size
	for pos > 0 && bytes.Count(buf, []byte{'\n'}) <= n {
		step := min(int64(chunkSize), pos)
		pos -= step
		chunk := make([]byte, step)
		if _, err := f.ReadAt(chunk, pos); err != nil && !errors.Is(err, io.EOF) {
			return nil, size, err
		}
		buf = append(chunk, buf...)
	}
	lines := bytes.Split(bytes.TrimSuffix(buf, []byte{'\n'}), []byte{'\n'})
	if pos > 0 {
		// the first element is a partial line
		lines = lines[1:]
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = string(l)
	}
	return out, size, nil
}

// Follow copies everything appended to path after offset into w until ctx
// is done. A truncated or recreated file is read again from the start.
func Follow(ctx context.Context, path string, offset int64, w io.Writer) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// watch the directory so rotation and recreation are seen
	path = filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	copyNew := func() error {
		n, err := copyFrom(path, offset, w)
		switch {
		case errors.Is(err, errTruncated):
			offset = 0
			n, err = copyFrom(path, 0, w)
		case errors.Is(err, fs.ErrNotExist):
			return nil
		}
		offset += n
		return err
	}
	if err := copyNew(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if ev.Has(fsnotify.Create) {
				offset = 0
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				if err := copyNew(); err != nil {
					return err
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch %s: %w", path, err)
		}
	}
}

var errTruncated = errors.New("file truncated")

func copyFrom(path string, offset int64, w io.Writer) (int64, error) {
	// #nosec G304 -- path is a log file chosen by the supervisor
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()
	fi, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if fi.Size() < offset {
		return 0, errTruncated
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return 0, err
	}
	return io.Copy(w, f)
}

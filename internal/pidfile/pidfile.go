// Package pidfile is the only cross-invocation memory of the supervisor: one small
// text record per managed process. Reads always hit the disk and writes are atomic
// (temp file + rename) so a concurrent reader never sees a torn record.
package pidfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrInvalid reports a PID file whose first line is not a positive decimal PID.
var ErrInvalid = errors.New("pidfile: invalid content")

// Record is the persisted state of one managed process.
// Line 1 holds the decimal PID; an optional line 2 holds JSON meta with the
// process start time, used to detect PID reuse.
type Record struct {
	PID       int
	StartUnix int64
}

type meta struct {
	StartUnix int64 `json:"start_unix"`
}

// File addresses a PID file on disk. The zero value is unusable.
type File struct {
	Path string
}

func New(path string) File { return File{Path: path} }

// Parse decodes PID file content. Unknown or malformed meta is ignored.
func Parse(b []byte) (Record, error) {
	lines := strings.Split(strings.ReplaceAll(string(b), "\r\n", "\n"), "\n")
	pidStr := strings.TrimSpace(lines[0])
	pid, err := strconv.Atoi(pidStr)
	if err != nil || pid <= 0 {
		return Record{}, fmt.Errorf("%w: %q", ErrInvalid, pidStr)
	}
	rec := Record{PID: pid}
	if len(lines) > 1 {
		var m meta
		if err := json.Unmarshal([]byte(strings.TrimSpace(lines[1])), &m); err == nil {
			rec.StartUnix = m.StartUnix
		}
	}
	return rec, nil
}

// Read loads the record from disk. A missing file is reported as an error
// satisfying errors.Is(err, os.ErrNotExist).
func (f File) Read() (Record, error) {
	b, err := os.ReadFile(filepath.Clean(f.Path))
	if err != nil {
		return Record{}, err
	}
	rec, err := Parse(b)
	if err != nil {
		return Record{}, fmt.Errorf("%s: %w", f.Path, err)
	}
	return rec, nil
}

// Exists reports whether the file is present, regardless of its content.
func (f File) Exists() bool {
	_, err := os.Stat(f.Path)
	return err == nil
}

// Write atomically replaces the record.
func (f File) Write(rec Record) error {
	if rec.PID <= 0 {
		return fmt.Errorf("%w: pid %d", ErrInvalid, rec.PID)
	}
	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	content := strconv.Itoa(rec.PID) + "\n"
	if rec.StartUnix > 0 {
		mb, _ := json.Marshal(meta{StartUnix: rec.StartUnix})
		content += string(mb) + "\n"
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.Path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, f.Path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

// Remove deletes the file; a missing file is not an error.
func (f File) Remove() error {
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

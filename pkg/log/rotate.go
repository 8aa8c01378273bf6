package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
)

// RotatingWriter writes log lines to one file per calendar day under a
// directory, named YYYY-MM-DD.log. Rotated files older than compressAfter
// are gzipped in place; files older than twice that age are removed.
type RotatingWriter struct {
	mu            sync.Mutex
	dir           string
	compressAfter time.Duration
	current       *os.File
	currentDay    string

	// now is swappable for tests.
	now func() time.Time
}

// NewRotatingWriter creates the directory if needed and opens today's file.
func NewRotatingWriter(dir string, compressAfter time.Duration) (*RotatingWriter, error) {
	return newRotatingWriter(dir, compressAfter, time.Now)
}

// newRotatingWriter takes the clock so the constructor's rotation and
// maintenance pass run on it too.
func newRotatingWriter(dir string, compressAfter time.Duration, now func() time.Time) (*RotatingWriter, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	rw := &RotatingWriter{
		dir:           dir,
		compressAfter: compressAfter,
		now:           now,
	}
	if err := rw.rotate(rw.now()); err != nil {
		return nil, err
	}
	return rw, nil
}

// Write implements io.Writer. Rotation happens on the first write of a new
// calendar day; maintenance of old files runs on rotation.
func (rw *RotatingWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	now := rw.now()
	if day := now.Format("2006-01-02"); day != rw.currentDay {
		if err := rw.rotate(now); err != nil {
			return 0, err
		}
	}
	return rw.current.Write(p)
}

// Close closes the current file.
func (rw *RotatingWriter) Close() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.current == nil {
		return nil
	}
	err := rw.current.Close()
	rw.current = nil
	return err
}

func (rw *RotatingWriter) rotate(now time.Time) error {
	if rw.current != nil {
		_ = rw.current.Close()
	}

	day := now.Format("2006-01-02")
	path := filepath.Join(rw.dir, day+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	rw.current = f
	rw.currentDay = day

	rw.maintain(now)
	return nil
}

// maintain compresses and prunes old log files. Errors are ignored: log
// maintenance must never take the logger down.
func (rw *RotatingWriter) maintain(now time.Time) {
	entries, err := os.ReadDir(rw.dir)
	if err != nil {
		return
	}

	deleteAfter := 2 * rw.compressAfter

	for _, e := range entries {
		name := e.Name()
		var day string
		switch {
		case strings.HasSuffix(name, ".log"):
			day = strings.TrimSuffix(name, ".log")
		case strings.HasSuffix(name, ".log.gz"):
			day = strings.TrimSuffix(name, ".log.gz")
		default:
			continue
		}

		t, err := time.Parse("2006-01-02", day)
		if err != nil {
			continue
		}
		age := now.Sub(t)

		path := filepath.Join(rw.dir, name)
		switch {
		case age > deleteAfter:
			_ = os.Remove(path)
		case age > rw.compressAfter && strings.HasSuffix(name, ".log") && day != rw.currentDay:
			_ = compressFile(path)
		}
	}
}

// compressFile gzips path into path.gz and removes the original.
func compressFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(path+".gz", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}

	gw := gzip.NewWriter(dst)
	if _, err := io.Copy(gw, src); err != nil {
		gw.Close()
		dst.Close()
		os.Remove(path + ".gz")
		return err
	}
	if err := gw.Close(); err != nil {
		dst.Close()
		os.Remove(path + ".gz")
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	return os.Remove(path)
}

package log

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeOldLog(t *testing.T, dir, day, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, day+".log"), []byte(content), 0o640); err != nil {
		t.Fatal(err)
	}
}

func TestRotatingWriterWritesToDailyFile(t *testing.T) {
	dir := t.TempDir()
	fixed := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	rw, err := newRotatingWriter(dir, 7*24*time.Hour, func() time.Time { return fixed })
	if err != nil {
		t.Fatalf("newRotatingWriter() error = %v", err)
	}
	defer rw.Close()

	if _, err := rw.Write([]byte("hello\n")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "2026-03-14.log"))
	if err != nil {
		t.Fatalf("expected daily file: %v", err)
	}
	if string(data) != "hello\n" {
		t.Errorf("file content = %q, want %q", data, "hello\n")
	}
}

func TestRotatingWriterRotatesOnDayChange(t *testing.T) {
	dir := t.TempDir()

	current := time.Date(2026, 3, 14, 23, 59, 0, 0, time.UTC)
	rw, err := newRotatingWriter(dir, 7*24*time.Hour, func() time.Time { return current })
	if err != nil {
		t.Fatal(err)
	}
	defer rw.Close()

	if _, err := rw.Write([]byte("a\n")); err != nil {
		t.Fatal(err)
	}

	current = current.Add(2 * time.Minute) // crosses midnight
	if _, err := rw.Write([]byte("b\n")); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(dir, "2026-03-14.log")); err != nil {
		t.Errorf("day-1 file missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "2026-03-15.log")); err != nil {
		t.Errorf("day-2 file missing: %v", err)
	}
}

func TestRotatingWriterCompressesAndPrunes(t *testing.T) {
	dir := t.TempDir()

	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	writeOldLog(t, dir, now.AddDate(0, 0, -8).Format("2006-01-02"), "old enough to compress")
	writeOldLog(t, dir, now.AddDate(0, 0, -20).Format("2006-01-02"), "old enough to delete")
	writeOldLog(t, dir, now.AddDate(0, 0, -2).Format("2006-01-02"), "too fresh")

	// The constructor's rotation runs maintenance on the injected clock.
	rw, err := newRotatingWriter(dir, 7*24*time.Hour, func() time.Time { return now })
	if err != nil {
		t.Fatal(err)
	}
	defer rw.Close()

	compressDay := now.AddDate(0, 0, -8).Format("2006-01-02")
	if _, err := os.Stat(filepath.Join(dir, compressDay+".log.gz")); err != nil {
		t.Errorf("expected compressed file for %s: %v", compressDay, err)
	}
	if _, err := os.Stat(filepath.Join(dir, compressDay+".log")); !os.IsNotExist(err) {
		t.Errorf("plain file for %s should be gone", compressDay)
	}

	deleteDay := now.AddDate(0, 0, -20).Format("2006-01-02")
	if _, err := os.Stat(filepath.Join(dir, deleteDay+".log")); !os.IsNotExist(err) {
		t.Errorf("file for %s should be deleted", deleteDay)
	}

	freshDay := now.AddDate(0, 0, -2).Format("2006-01-02")
	if _, err := os.Stat(filepath.Join(dir, freshDay+".log")); err != nil {
		t.Errorf("fresh file for %s must survive: %v", freshDay, err)
	}
}

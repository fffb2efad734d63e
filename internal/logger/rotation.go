package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// RotatingWriter rotates the log file once it grows past maxSize and prunes
// rotated files older than maxAge days. serve mode runs until terminated, so
// the file sink cannot grow unbounded.
type RotatingWriter struct {
	mu          sync.Mutex
	filename    string
	maxSize     int64 // bytes
	maxAge      int   // days
	currentFile *os.File
	currentSize int64
}

// NewRotatingWriter opens filename for appending with rotation enabled.
// maxSizeMB <= 0 disables size-based rotation; maxAge <= 0 disables pruning.
func NewRotatingWriter(filename string, maxSizeMB, maxAge int) (*RotatingWriter, error) {
	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	rw := &RotatingWriter{
		filename:    filename,
		maxSize:     int64(maxSizeMB) * 1024 * 1024,
		maxAge:      maxAge,
		currentFile: file,
		currentSize: info.Size(),
	}

	rw.prune()

	return rw, nil
}

// Write appends to the current file, rotating first if the write would push
// it past the size limit.
func (rw *RotatingWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.maxSize > 0 && rw.currentSize+int64(len(p)) > rw.maxSize {
		if err := rw.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := rw.currentFile.Write(p)
	rw.currentSize += int64(n)
	return n, err
}

// Close closes the current log file.
func (rw *RotatingWriter) Close() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.currentFile.Close()
}

func (rw *RotatingWriter) rotate() error {
	if err := rw.currentFile.Close(); err != nil {
		return err
	}

	rotated := fmt.Sprintf("%s.%s", rw.filename, time.Now().Format("20060102-150405"))
	if err := os.Rename(rw.filename, rotated); err != nil {
		return err
	}

	file, err := os.OpenFile(rw.filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}

	rw.currentFile = file
	rw.currentSize = 0

	rw.prune()

	return nil
}

// prune removes rotated files older than maxAge days.
func (rw *RotatingWriter) prune() {
	if rw.maxAge <= 0 {
		return
	}

	dir := filepath.Dir(rw.filename)
	base := filepath.Base(rw.filename)
	cutoff := time.Now().AddDate(0, 0, -rw.maxAge)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	for _, entry := range entries {
		name := entry.Name()
		if name == base || !strings.HasPrefix(name, base+".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			os.Remove(filepath.Join(dir, name))
		}
	}
}

package hub

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Sink receives encoded exports.
type Sink interface {
	Save(name string, data []byte) (string, error)
}

// DirSink writes exports into a directory. Files appear atomically; a failed
// write leaves no temporary file behind.
type DirSink struct {
	Dir string
}

// Save writes data to Dir/name and returns the final path.
func (s DirSink) Save(name string, data []byte) (path string, err error) {
	dir := s.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".hub-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write export: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return "", fmt.Errorf("close export: %w", err)
	}

	path = filepath.Join(dir, filepath.Base(name))
	if err = os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("rename export: %w", err)
	}
	return path, nil
}

// Export encodes record and hands it to sink under a name derived from title.
func Export(sink Sink, title string, record []byte, now time.Time) (string, error) {
	data, err := Encode(record)
	if err != nil {
		return "", err
	}
	return sink.Save(FileName(title, now), data)
}

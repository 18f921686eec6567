package publish

import (
	"fmt"
	"os"
	"path/filepath"
)

// PublishError reports an I/O failure while replacing the served
// artifact. The scheduler treats it as a failed pass; the previous
// artifact stays in place.
type PublishError struct {
	Path string
	Err  error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s: %v", e.Path, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// FilePublisher atomically replaces a single artifact on disk. Readers
// of Path see either the previous complete document or the new one,
// never a partial write: the document is written to a temp file in the
// same directory and renamed over the target.
type FilePublisher struct {
	path string
}

func NewFilePublisher(path string) *FilePublisher {
	return &FilePublisher{path: path}
}

// Path returns the artifact location.
func (p *FilePublisher) Path() string { return p.path }

// Publish replaces the artifact with data.
func (p *FilePublisher) Publish(data []byte) error {
	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &PublishError{Path: p.path, Err: err}
	}

	tmp, err := os.CreateTemp(dir, ".timetable-*.tmp")
	if err != nil {
		return &PublishError{Path: p.path, Err: err}
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return &PublishError{Path: p.path, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return &PublishError{Path: p.path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &PublishError{Path: p.path, Err: err}
	}

	// Served by a separate reader path; must be world-readable.
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return &PublishError{Path: p.path, Err: err}
	}
	if err := os.Rename(tmpName, p.path); err != nil {
		return &PublishError{Path: p.path, Err: err}
	}

	return nil
}

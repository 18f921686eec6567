package publish

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestPublishWritesArtifact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "timetables", "timetable.ics")
	p := NewFilePublisher(path)

	doc := []byte("BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n")
	if err := p.Publish(doc); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading artifact: %v", err)
	}
	if !bytes.Equal(got, doc) {
		t.Errorf("artifact = %q, want %q", got, doc)
	}
}

func TestPublishReplacesPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "timetable.ics")
	p := NewFilePublisher(path)

	if err := p.Publish([]byte("old")); err != nil {
		t.Fatal(err)
	}
	if err := p.Publish([]byte("new document")); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "new document" {
		t.Errorf("artifact = %q, want %q", got, "new document")
	}
}

func TestPublishLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	p := NewFilePublisher(filepath.Join(dir, "timetable.ics"))

	if err := p.Publish([]byte("doc")); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temp file %q left behind", e.Name())
		}
	}
}

func TestPublishAtomicityUnderConcurrentReads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "timetable.ics")
	p := NewFilePublisher(path)

	small := bytes.Repeat([]byte("a"), 1<<10)
	large := bytes.Repeat([]byte("b"), 1<<16)
	if err := p.Publish(small); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			data, err := os.ReadFile(path)
			if err != nil {
				t.Errorf("read during publish failed: %v", err)
				return
			}
			if len(data) != len(small) && len(data) != len(large) {
				t.Errorf("read observed partial document of %d bytes", len(data))
				return
			}
		}
	}()

	for i := 0; i < 100; i++ {
		doc := small
		if i%2 == 0 {
			doc = large
		}
		if err := p.Publish(doc); err != nil {
			t.Fatalf("Publish returned error: %v", err)
		}
	}

	close(done)
	wg.Wait()
}

func TestPublishErrorOnUnwritableTarget(t *testing.T) {
	// The artifact directory path is occupied by a regular file, so the
	// rename target's parent cannot be created.
	dir := t.TempDir()
	blocker := filepath.Join(dir, "timetables")
	if err := os.WriteFile(blocker, []byte("in the way"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := NewFilePublisher(filepath.Join(blocker, "timetable.ics"))
	err := p.Publish([]byte("doc"))

	pubErr, ok := err.(*PublishError)
	if !ok {
		t.Fatalf("expected *PublishError, got %v", err)
	}
	if pubErr.Unwrap() == nil {
		t.Error("PublishError should carry the underlying I/O error")
	}
}

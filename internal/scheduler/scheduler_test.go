package scheduler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/LaGGgggg/spbu-timetable-ics-calendar/internal/calendar"
	"github.com/LaGGgggg/spbu-timetable-ics-calendar/internal/config"
	"github.com/LaGGgggg/spbu-timetable-ics-calendar/internal/model"
	"github.com/LaGGgggg/spbu-timetable-ics-calendar/internal/publish"
	"github.com/LaGGgggg/spbu-timetable-ics-calendar/internal/timetable"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.ScheduleBaseURL = "https://timetable.example"
	cfg.EnglishTeacherFullName = "Smirnova A. A."
	return cfg
}

type fakeFetcher struct {
	mu        sync.Mutex
	calls     int
	err       error
	started   chan struct{}
	release   chan struct{}
	templates []model.LessonTemplate
}

func (f *fakeFetcher) FetchTemplates(ctx context.Context, horizonStart time.Time, weeks int) ([]model.LessonTemplate, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.started != nil {
		close(f.started)
		f.started = nil
	}
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.templates, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeResolver struct {
	occs []model.Occurrence
	err  error
}

func (r *fakeResolver) Resolve(templates []model.LessonTemplate, horizonStart time.Time, weeks int) ([]model.Occurrence, error) {
	return r.occs, r.err
}

type fakePublisher struct {
	mu        sync.Mutex
	published [][]byte
	err       error
}

func (p *fakePublisher) Publish(data []byte) error {
	if p.err != nil {
		return p.err
	}
	p.mu.Lock()
	p.published = append(p.published, data)
	p.mu.Unlock()
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

func validOccurrence() model.Occurrence {
	return model.Occurrence{
		Start:    time.Date(2025, 9, 1, 9, 30, 0, 0, time.UTC),
		Duration: 95 * time.Minute,
		Subject:  "Analysis",
		Teacher:  "Ivanov I. I.",
		Location: "room 405",
	}
}

func TestRunPassPublishesEncodedDocument(t *testing.T) {
	pub := &fakePublisher{}
	s := New(testConfig(), &fakeFetcher{}, &fakeResolver{occs: []model.Occurrence{validOccurrence()}}, pub, testLogger())

	if err := s.RunPass(context.Background()); err != nil {
		t.Fatalf("RunPass returned error: %v", err)
	}

	if pub.count() != 1 {
		t.Fatalf("expected 1 publish, got %d", pub.count())
	}
	body := string(pub.published[0])
	if !strings.Contains(body, "BEGIN:VCALENDAR") || !strings.Contains(body, "SUMMARY:Analysis (Ivanov I. I.)") {
		t.Errorf("published document malformed:\n%s", body)
	}

	st := s.Status()
	if st.State != StateIdle {
		t.Errorf("state = %s, want idle", st.State)
	}
	if st.LastSuccess.IsZero() {
		t.Error("LastSuccess not recorded")
	}
	if st.PassesTotal != 1 || st.PassesFailed != 0 {
		t.Errorf("pass counters = %d/%d, want 1/0", st.PassesTotal, st.PassesFailed)
	}
}

func TestRunPassFetchFailureLeavesArtifactUntouched(t *testing.T) {
	path := filepath.Join(t.TempDir(), "timetable.ics")
	pub := publish.NewFilePublisher(path)
	fetcher := &fakeFetcher{}
	s := New(testConfig(), fetcher, &fakeResolver{occs: []model.Occurrence{validOccurrence()}}, pub, testLogger())

	if err := s.RunPass(context.Background()); err != nil {
		t.Fatalf("first pass failed: %v", err)
	}
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	fetcher.err = &timetable.FetchError{URL: "https://timetable.example/2025-09-01", Status: 502}
	if err := s.RunPass(context.Background()); err == nil {
		t.Fatal("expected failed pass")
	}

	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(before, after) {
		t.Error("failed pass must leave the published artifact byte-identical")
	}

	st := s.Status()
	if st.State != StateFailed {
		t.Errorf("state = %s, want failed", st.State)
	}
	if st.PassesFailed != 1 {
		t.Errorf("PassesFailed = %d, want 1", st.PassesFailed)
	}
	if st.LastError == "" {
		t.Error("LastError not recorded")
	}
}

func TestRunPassEncodingErrorAbortsBeforePublish(t *testing.T) {
	bad := validOccurrence()
	bad.Duration = 0

	pub := &fakePublisher{}
	s := New(testConfig(), &fakeFetcher{}, &fakeResolver{occs: []model.Occurrence{bad}}, pub, testLogger())

	err := s.RunPass(context.Background())
	var encErr *calendar.EncodingError
	if !errors.As(err, &encErr) {
		t.Fatalf("expected *calendar.EncodingError, got %v", err)
	}
	if pub.count() != 0 {
		t.Error("nothing may be published on an encoding failure")
	}
}

func TestRunPassPublishErrorFailsPass(t *testing.T) {
	pub := &fakePublisher{err: &publish.PublishError{Path: "x", Err: errors.New("disk full")}}
	s := New(testConfig(), &fakeFetcher{}, &fakeResolver{occs: []model.Occurrence{validOccurrence()}}, pub, testLogger())

	err := s.RunPass(context.Background())
	var pubErr *publish.PublishError
	if !errors.As(err, &pubErr) {
		t.Fatalf("expected *publish.PublishError, got %v", err)
	}
}

func TestRunPassSingleFlight(t *testing.T) {
	fetcher := &fakeFetcher{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	started := fetcher.started
	pub := &fakePublisher{}
	s := New(testConfig(), fetcher, &fakeResolver{occs: []model.Occurrence{validOccurrence()}}, pub, testLogger())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.RunPass(context.Background()); err != nil {
			t.Errorf("blocked pass returned error: %v", err)
		}
	}()

	<-started

	// A trigger arriving mid-pass is dropped, not queued.
	if err := s.RunPass(context.Background()); err != nil {
		t.Errorf("dropped trigger returned error: %v", err)
	}

	close(fetcher.release)
	wg.Wait()

	if got := fetcher.callCount(); got != 1 {
		t.Errorf("fetcher called %d times, want 1", got)
	}
	if pub.count() != 1 {
		t.Errorf("published %d times, want 1", pub.count())
	}
	if st := s.Status(); st.PassesTotal != 1 {
		t.Errorf("PassesTotal = %d, want 1 (dropped trigger is not a pass)", st.PassesTotal)
	}
}

func TestCurrentWeekMonday(t *testing.T) {
	tests := []struct {
		now  time.Time
		want time.Time
	}{
		{
			now:  time.Date(2025, 9, 3, 15, 4, 5, 0, time.UTC), // Wednesday
			want: time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			now:  time.Date(2025, 9, 1, 0, 0, 1, 0, time.UTC), // Monday
			want: time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			now:  time.Date(2025, 9, 7, 23, 59, 0, 0, time.UTC), // Sunday
			want: time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		if got := currentWeekMonday(tt.now); !got.Equal(tt.want) {
			t.Errorf("currentWeekMonday(%s) = %s, want %s", tt.now, got, tt.want)
		}
	}
}

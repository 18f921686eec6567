package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/LaGGgggg/spbu-timetable-ics-calendar/internal/calendar"
	"github.com/LaGGgggg/spbu-timetable-ics-calendar/internal/config"
	"github.com/LaGGgggg/spbu-timetable-ics-calendar/internal/model"
)

// passTimeout bounds one full fetch→resolve→encode→publish pass. Far
// below any sane FETCH_EVERY_HOURS, so a stuck pass never swallows the
// next tick for long.
const passTimeout = 10 * time.Minute

// State is the refresh pass state machine position.
type State string

const (
	StateIdle       State = "idle"
	StateFetching   State = "fetching"
	StateResolving  State = "resolving"
	StateEncoding   State = "encoding"
	StatePublishing State = "publishing"
	StateFailed     State = "failed"
)

// TemplateFetcher supplies raw lesson templates for the horizon.
type TemplateFetcher interface {
	FetchTemplates(ctx context.Context, horizonStart time.Time, weeks int) ([]model.LessonTemplate, error)
}

// OccurrenceResolver expands templates into ordered occurrences.
type OccurrenceResolver interface {
	Resolve(templates []model.LessonTemplate, horizonStart time.Time, weeks int) ([]model.Occurrence, error)
}

// Publisher atomically replaces the served artifact.
type Publisher interface {
	Publish(data []byte) error
}

// Status is a snapshot of the scheduler for the status API.
type Status struct {
	State        State     `json:"state"`
	LastSuccess  time.Time `json:"last_success,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
	LastErrorAt  time.Time `json:"last_error_at,omitempty"`
	PassesTotal  int       `json:"passes_total"`
	PassesFailed int       `json:"passes_failed"`
}

// Scheduler drives the refresh loop: one full pass per tick, never two
// passes concurrently. A tick arriving while a pass runs is dropped, not
// queued; only the latest schedule data matters. A failed pass discards
// all partial state and leaves the published artifact untouched.
type Scheduler struct {
	cfg       config.Config
	fetcher   TemplateFetcher
	resolver  OccurrenceResolver
	publisher Publisher
	log       *logrus.Logger

	cron   *cron.Cron
	runMu  sync.Mutex // held for the duration of a pass
	stateM sync.Mutex
	status Status
}

func New(cfg config.Config, fetcher TemplateFetcher, resolver OccurrenceResolver, publisher Publisher, log *logrus.Logger) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		fetcher:   fetcher,
		resolver:  resolver,
		publisher: publisher,
		log:       log,
		status:    Status{State: StateIdle},
	}
}

// Start runs one pass immediately in the background and schedules the
// periodic refresh. The scheduler then runs until Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	cronLog := cron.PrintfLogger(s.log)
	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cronLog),
		cron.Recover(cronLog),
	))

	spec := fmt.Sprintf("@every %dh", s.cfg.FetchEveryHours)
	_, err := s.cron.AddFunc(spec, func() {
		if err := s.RunPass(ctx); err != nil {
			s.log.WithError(err).Error("refresh pass failed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule refresh job: %w", err)
	}

	go func() {
		if err := s.RunPass(ctx); err != nil {
			s.log.WithError(err).Error("initial refresh pass failed")
		}
	}()

	s.cron.Start()
	s.log.WithField("interval_hours", s.cfg.FetchEveryHours).Info("refresh scheduler started")
	return nil
}

// Stop halts ticking and waits for a running pass to finish. The
// publisher's atomicity guarantees the last-published artifact survives
// any shutdown point.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	s.runMu.Lock() // drain an in-flight manual pass
	s.runMu.Unlock()
	s.log.Info("refresh scheduler stopped")
}

// Status returns a snapshot of the scheduler state.
func (s *Scheduler) Status() Status {
	s.stateM.Lock()
	defer s.stateM.Unlock()
	return s.status
}

// RunPass executes one full refresh pass. Concurrent calls beyond the
// first are dropped.
func (s *Scheduler) RunPass(ctx context.Context) error {
	if !s.runMu.TryLock() {
		s.log.Warn("refresh pass already in progress, dropping trigger")
		return nil
	}
	defer s.runMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, passTimeout)
	defer cancel()

	s.stateM.Lock()
	s.status.PassesTotal++
	s.stateM.Unlock()

	err := s.pass(ctx)

	s.stateM.Lock()
	if err != nil {
		s.status.State = StateFailed
		s.status.PassesFailed++
		s.status.LastError = err.Error()
		s.status.LastErrorAt = time.Now()
	} else {
		s.status.State = StateIdle
		s.status.LastSuccess = time.Now()
	}
	s.stateM.Unlock()

	return err
}

func (s *Scheduler) pass(ctx context.Context) error {
	start := time.Now()
	horizonStart := currentWeekMonday(time.Now())

	s.setState(StateFetching)
	templates, err := s.fetcher.FetchTemplates(ctx, horizonStart, s.cfg.WeeksToFetch)
	if err != nil {
		return err
	}

	s.setState(StateResolving)
	occurrences, err := s.resolver.Resolve(templates, horizonStart, s.cfg.WeeksToFetch)
	if err != nil {
		return err
	}

	s.setState(StateEncoding)
	document, err := calendar.Encode(occurrences, calendar.Options{
		UTCOffsetHours:    s.cfg.TimezoneUTCHoursShift,
		TravelTime:        s.cfg.TravelTime,
		TravelTimeISO:     s.cfg.FirstLessonTravelTime,
		CalendarName:      "Расписание занятий",
		RefreshEveryHours: s.cfg.FetchEveryHours,
	})
	if err != nil {
		return err
	}

	s.setState(StatePublishing)
	if err := s.publisher.Publish(document); err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{
		"templates":   len(templates),
		"occurrences": len(occurrences),
		"bytes":       len(document),
		"took":        time.Since(start).Round(time.Millisecond).String(),
	}).Info("calendar refreshed and published")
	return nil
}

func (s *Scheduler) setState(st State) {
	s.stateM.Lock()
	s.status.State = st
	s.stateM.Unlock()
	s.log.WithField("state", string(st)).Debug("refresh pass state")
}

// currentWeekMonday returns the Monday of now's week at midnight, as a
// local wall-clock value in a UTC container.
func currentWeekMonday(now time.Time) time.Time {
	offset := (int(now.Weekday()) - int(time.Monday) + 7) % 7
	y, m, d := now.AddDate(0, 0, -offset).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

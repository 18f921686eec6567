package schedule

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/teambition/rrule-go"

	"github.com/LaGGgggg/spbu-timetable-ics-calendar/internal/model"
)

// NoMatchError reports an ISO week that contains no English-teacher
// lesson to apply the cancellation rule to. Soft condition: it is logged
// and the week stays unflagged, the pass continues.
type NoMatchError struct {
	Year int
	Week int
}

func (e *NoMatchError) Error() string {
	return fmt.Sprintf("no English-teacher lesson found in week %d-W%02d", e.Year, e.Week)
}

// Resolver expands weekly lesson templates into concrete occurrences
// across the fetch horizon and applies the first-English-lesson
// cancellation rule.
type Resolver struct {
	englishTeacher     string
	cancelFirstEnglish bool
	log                *logrus.Logger
}

func NewResolver(englishTeacher string, cancelFirstEnglish bool, log *logrus.Logger) *Resolver {
	return &Resolver{
		englishTeacher:     englishTeacher,
		cancelFirstEnglish: cancelFirstEnglish,
		log:                log,
	}
}

type occurrenceKey struct {
	start   int64
	subject string
	teacher string
}

// Resolve expands templates into occurrences within
// [horizonStart, horizonStart + weeks*7d). horizonStart must be a Monday
// at local midnight. Output is ordered by start instant, then subject,
// then teacher, so identical inputs always produce identical sequences.
func (r *Resolver) Resolve(templates []model.LessonTemplate, horizonStart time.Time, weeks int) ([]model.Occurrence, error) {
	horizonEnd := horizonStart.AddDate(0, 0, 7*weeks)

	type candidate struct {
		occ model.Occurrence
		// concrete marks an occurrence landing in the very week its
		// template was observed in, as opposed to a recurrence
		// extrapolation into a later week.
		concrete bool
	}

	byKey := make(map[occurrenceKey]candidate)
	keys := make([]occurrenceKey, 0, len(templates)*weeks)

	for _, tmpl := range templates {
		starts, err := expandTemplate(tmpl, horizonStart, horizonEnd)
		if err != nil {
			return nil, err
		}

		for _, start := range starts {
			occ := model.Occurrence{
				Start:     start,
				Duration:  tmpl.Duration,
				Subject:   tmpl.Subject,
				Teacher:   tmpl.Teacher,
				Location:  tmpl.Location,
				Cancelled: tmpl.Cancelled,
			}
			cand := candidate{
				occ:      occ,
				concrete: weekOf(start, horizonStart) == tmpl.WeekIndex,
			}

			key := occurrenceKey{start.Unix(), occ.Subject, occ.Teacher}
			existing, ok := byKey[key]
			if !ok {
				byKey[key] = cand
				keys = append(keys, key)
				continue
			}
			// The same slot observed in its own week overrides an
			// extrapolation from an earlier week.
			if cand.concrete && !existing.concrete {
				byKey[key] = cand
			}
		}
	}

	occurrences := make([]model.Occurrence, 0, len(keys))
	for _, key := range keys {
		occurrences = append(occurrences, byKey[key].occ)
	}

	sort.Slice(occurrences, func(i, j int) bool {
		a, b := occurrences[i], occurrences[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		if a.Subject != b.Subject {
			return a.Subject < b.Subject
		}
		return a.Teacher < b.Teacher
	})

	if r.cancelFirstEnglish {
		r.cancelFirstEnglishLessons(occurrences)
	}

	return occurrences, nil
}

// expandTemplate yields one start instant per matching week of the
// horizon, anchored at the template's source week. Parity-restricted
// slots recur bi-weekly from the first week matching their parity.
func expandTemplate(tmpl model.LessonTemplate, horizonStart, horizonEnd time.Time) ([]time.Time, error) {
	dayOffset := (int(tmpl.Weekday) - int(time.Monday) + 7) % 7
	anchor := horizonStart.AddDate(0, 0, 7*tmpl.WeekIndex+dayOffset).
		Add(time.Duration(tmpl.StartMinute) * time.Minute)

	interval := 1
	if tmpl.Parity != model.ParityAny {
		interval = 2
		if !parityMatches(tmpl.Parity, anchor) {
			anchor = anchor.AddDate(0, 0, 7)
		}
	}

	rule, err := rrule.NewRRule(rrule.ROption{
		Freq:     rrule.WEEKLY,
		Interval: interval,
		Dtstart:  anchor,
	})
	if err != nil {
		return nil, fmt.Errorf("build recurrence for %q: %w", tmpl.Subject, err)
	}

	starts := rule.Between(horizonStart, horizonEnd, true)

	// Between is end-inclusive; the horizon is not.
	out := starts[:0]
	for _, s := range starts {
		if s.Before(horizonEnd) {
			out = append(out, s)
		}
	}
	return out, nil
}

func parityMatches(p model.Parity, t time.Time) bool {
	_, week := t.ISOWeek()
	if p == model.ParityOdd {
		return week%2 == 1
	}
	return week%2 == 0
}

func weekOf(t, horizonStart time.Time) int {
	return int(t.Sub(horizonStart)/(24*time.Hour)) / 7
}

// cancelFirstEnglishLessons flags the chronologically earliest
// English-teacher occurrence of each ISO week as cancelled. occurrences
// must already be sorted by start instant.
func (r *Resolver) cancelFirstEnglishLessons(occurrences []model.Occurrence) {
	type isoWeek struct{ year, week int }

	flagged := make(map[isoWeek]bool)
	seen := make(map[isoWeek]bool)

	for i := range occurrences {
		y, w := occurrences[i].Start.ISOWeek()
		key := isoWeek{y, w}
		seen[key] = true

		if flagged[key] {
			continue
		}
		if !strings.Contains(occurrences[i].Teacher, r.englishTeacher) {
			continue
		}

		occurrences[i].Cancelled = true
		flagged[key] = true
		r.log.WithFields(logrus.Fields{
			"subject": occurrences[i].Subject,
			"start":   occurrences[i].Start.Format(time.RFC3339),
		}).Debug("first English lesson of the week flagged as cancelled")
	}

	for key := range seen {
		if !flagged[key] {
			err := &NoMatchError{Year: key.year, Week: key.week}
			r.log.WithError(err).Warn("cancellation rule skipped for week")
		}
	}
}

package calendar

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	ics "github.com/arran4/golang-ical"

	"github.com/LaGGgggg/spbu-timetable-ics-calendar/internal/model"
)

const (
	productID    = "-//spbu-timetable-ics-calendar//Timetable//RU"
	uidDomain    = "spbu-timetable-ics-calendar"
	travelUIDTag = "travel"
)

// EncodingError reports occurrence data that must not reach subscribers:
// fetch-side quality violations abort the pass instead of publishing a
// malformed document.
type EncodingError struct {
	Subject string
	Start   time.Time
	Reason  string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encode occurrence %q at %s: %s",
		e.Subject, e.Start.Format(time.RFC3339), e.Reason)
}

// Options controls a single encoding run. The zone shift and travel
// padding are applied here and nowhere else.
type Options struct {
	// UTCOffsetHours converts local wall-clock starts into absolute UTC
	// instants (local minus offset).
	UTCOffsetHours int

	// TravelTime, when non-zero, prefixes each day's first non-cancelled
	// lesson with a synthetic travel event ending at the lesson start.
	// TravelTimeISO is the raw ISO-8601 form emitted as
	// X-APPLE-TRAVEL-DURATION on the lesson itself.
	TravelTime    time.Duration
	TravelTimeISO string

	CalendarName string

	// RefreshEveryHours feeds the X-PUBLISHED-TTL subscription hint.
	RefreshEveryHours int
}

// Encode serializes resolved occurrences into an iCalendar document.
//
// Encoding is a pure function: identical occurrence sequences produce
// byte-identical documents. Event identifiers derive from the lesson's
// day, start time, subject and teacher, so re-encoding the same logical
// lesson across refresh cycles updates rather than duplicates it in
// subscribers' calendars. DTSTAMP is likewise derived from the event
// start, never from the wall clock.
func Encode(occurrences []model.Occurrence, opts Options) ([]byte, error) {
	for _, occ := range occurrences {
		if err := validate(occ); err != nil {
			return nil, err
		}
	}

	cal := ics.NewCalendar()
	cal.SetProductId(productID)
	cal.SetMethod(ics.MethodPublish)
	cal.SetCalscale("GREGORIAN")
	if opts.CalendarName != "" {
		cal.SetXWRCalName(opts.CalendarName)
	}
	if opts.RefreshEveryHours > 0 {
		cal.SetXPublishedTTL(fmt.Sprintf("PT%dH", opts.RefreshEveryHours))
	}

	offset := time.Duration(opts.UTCOffsetHours) * time.Hour
	travelDays := firstLessonDays(occurrences)

	for i, occ := range occurrences {
		startUTC := occ.Start.Add(-offset)
		endUTC := startUTC.Add(occ.Duration)

		first, ok := travelDays[localDay(occ.Start)]
		withTravel := opts.TravelTime > 0 && ok && first == i
		if withTravel {
			addTravelEvent(cal, localDay(occ.Start), startUTC, opts.TravelTime)
		}

		event := cal.AddEvent(lessonUID(occ))
		event.SetDtStampTime(startUTC)
		event.SetStartAt(startUTC)
		event.SetEndAt(endUTC)
		event.SetSummary(fmt.Sprintf("%s (%s)", occ.Subject, occ.Teacher))
		if occ.Location != "" {
			event.SetLocation(occ.Location)
		}
		event.SetDescription("Преподаватель: " + occ.Teacher)
		if occ.Cancelled {
			event.SetStatus(ics.ObjectStatusCancelled)
		} else {
			event.SetStatus(ics.ObjectStatusConfirmed)
		}
		if withTravel && opts.TravelTimeISO != "" {
			event.SetProperty(
				ics.ComponentProperty("X-APPLE-TRAVEL-DURATION"),
				opts.TravelTimeISO,
				&ics.KeyValues{Key: "VALUE", Value: []string{"DURATION"}},
			)
		}
	}

	return []byte(cal.Serialize()), nil
}

func validate(occ model.Occurrence) error {
	switch {
	case occ.Start.IsZero():
		return &EncodingError{Subject: occ.Subject, Start: occ.Start, Reason: "missing start instant"}
	case occ.Subject == "":
		return &EncodingError{Subject: occ.Subject, Start: occ.Start, Reason: "missing subject"}
	case occ.Duration <= 0:
		return &EncodingError{Subject: occ.Subject, Start: occ.Start, Reason: "non-positive duration"}
	}
	return nil
}

// firstLessonDays maps each local day to the index of its first
// non-cancelled occurrence. occurrences must be ordered by start.
func firstLessonDays(occurrences []model.Occurrence) map[string]int {
	days := make(map[string]int)
	for i, occ := range occurrences {
		if occ.Cancelled {
			continue
		}
		day := localDay(occ.Start)
		if _, ok := days[day]; !ok {
			days[day] = i
		}
	}
	return days
}

func localDay(t time.Time) string {
	return t.Format("2006-01-02")
}

// addTravelEvent emits the synthetic commute block ending exactly at the
// day's first lesson. It carries no subject or teacher semantics.
func addTravelEvent(cal *ics.Calendar, day string, lessonStartUTC time.Time, travel time.Duration) {
	event := cal.AddEvent(stableUID(day, travelUIDTag, "", ""))
	event.SetDtStampTime(lessonStartUTC.Add(-travel))
	event.SetStartAt(lessonStartUTC.Add(-travel))
	event.SetEndAt(lessonStartUTC)
	event.SetSummary("Дорога")
	event.SetStatus(ics.ObjectStatusConfirmed)
}

func lessonUID(occ model.Occurrence) string {
	return stableUID(localDay(occ.Start), occ.Start.Format("15:04"), occ.Subject, occ.Teacher)
}

// stableUID hashes the identifying lesson fields into a deterministic
// identifier: same logical lesson, same UID, on every refresh cycle.
func stableUID(day, clock, subject, teacher string) string {
	sum := sha256.Sum256([]byte(day + "|" + clock + "|" + subject + "|" + teacher))
	return hex.EncodeToString(sum[:8]) + "@" + uidDomain
}

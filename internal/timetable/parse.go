package timetable

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/LaGGgggg/spbu-timetable-ics-calendar/internal/model"
)

const englishSubjectMarker = "Английский язык"

// ParseWeek parses one week's timetable page into lesson templates.
//
// Page structure: an accordion of day panels, Monday first, one panel
// per consecutive day; each panel lists lessons as <li> rows whose
// direct child <div>s hold, in order: time, subject, location, teacher.
// A "cancelled" class on the time span marks a source-side cancellation.
//
// English lessons of streams taught by other teachers are dropped here:
// the page lists every group's English slot, only the configured
// teacher's stream belongs in the calendar.
func ParseWeek(body []byte, weekIndex int, englishTeacher string) ([]model.LessonTemplate, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse timetable page: %w", err)
	}

	panels := doc.Find("#accordion > div.panel.panel-default")
	if panels.Length() == 0 {
		return nil, nil
	}

	templates := make([]model.LessonTemplate, 0, 16)
	var parseErr error

	panels.EachWithBreak(func(dayIndex int, panel *goquery.Selection) bool {
		weekday := time.Weekday((int(time.Monday) + dayIndex) % 7)

		panel.Find("ul > li").EachWithBreak(func(_ int, lesson *goquery.Selection) bool {
			tmpl, skip, err := parseLesson(lesson, weekday, weekIndex, englishTeacher)
			if err != nil {
				parseErr = fmt.Errorf("day %d (%s): %w", dayIndex, weekday, err)
				return false
			}
			if !skip {
				templates = append(templates, tmpl)
			}
			return true
		})

		return parseErr == nil
	})

	if parseErr != nil {
		return nil, parseErr
	}
	return templates, nil
}

func parseLesson(lesson *goquery.Selection, weekday time.Weekday, weekIndex int, englishTeacher string) (model.LessonTemplate, bool, error) {
	divs := lesson.ChildrenFiltered("div")
	if divs.Length() < 4 {
		return model.LessonTemplate{}, false, fmt.Errorf("lesson row has %d cells, want 4", divs.Length())
	}

	timeSpan := divs.Eq(0).Find("div > div > span").First()
	subject := normalizeText(cellText(divs.Eq(1)))
	location := normalizeText(cellText(divs.Eq(2)))
	teacher := normalizeText(cellText(divs.Eq(3)))

	if subject == "" {
		return model.LessonTemplate{}, false, fmt.Errorf("lesson row has empty subject")
	}

	// Foreign-stream English slots do not belong to this calendar.
	if strings.Contains(subject, englishSubjectMarker) && !strings.Contains(teacher, englishTeacher) {
		return model.LessonTemplate{}, true, nil
	}

	startMinute, duration, err := parseTimeRange(normalizeText(timeSpan.Text()))
	if err != nil {
		return model.LessonTemplate{}, false, fmt.Errorf("subject %q: %w", subject, err)
	}

	return model.LessonTemplate{
		Subject:     subject,
		Teacher:     teacher,
		Location:    location,
		Weekday:     weekday,
		StartMinute: startMinute,
		Duration:    duration,
		WeekIndex:   weekIndex,
		Parity:      model.ParityAny,
		Cancelled:   timeSpan.HasClass("cancelled"),
	}, false, nil
}

func cellText(cell *goquery.Selection) string {
	return cell.Find("div > div > span").First().Text()
}

// parseTimeRange parses "HH:MM–HH:MM" (en dash) into the start minute of
// day and the slot duration.
func parseTimeRange(s string) (startMinute int, duration time.Duration, err error) {
	begin, end, ok := strings.Cut(s, "–")
	if !ok {
		return 0, 0, fmt.Errorf("malformed time range %q", s)
	}

	startMinute, err = parseClock(strings.TrimSpace(begin))
	if err != nil {
		return 0, 0, err
	}
	endMinute, err := parseClock(strings.TrimSpace(end))
	if err != nil {
		return 0, 0, err
	}

	if endMinute <= startMinute {
		return 0, 0, fmt.Errorf("time range %q ends before it starts", s)
	}
	return startMinute, time.Duration(endMinute-startMinute) * time.Minute, nil
}

func parseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return 0, fmt.Errorf("malformed clock value %q", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("malformed clock value %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("malformed clock value %q", s)
	}
	return h*60 + m, nil
}

// normalizeText strips newlines and collapses whitespace runs left over
// from the page's markup indentation.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

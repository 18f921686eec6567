package timetable

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/LaGGgggg/spbu-timetable-ics-calendar/internal/model"
)

// Fetcher retrieves the weekly lesson grid from the university site and
// parses it into lesson templates. One page covers one week and is
// addressed by its Monday date.
type Fetcher struct {
	client         *http.Client
	baseURL        string
	englishTeacher string
	log            *logrus.Logger
}

func NewFetcher(baseURL, englishTeacher string, log *logrus.Logger) *Fetcher {
	return &Fetcher{
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		baseURL:        strings.TrimRight(baseURL, "/"),
		englishTeacher: englishTeacher,
		log:            log,
	}
}

// FetchTemplates fetches weeks consecutive weeks starting at horizonStart
// (a Monday) and returns all parsed lesson templates. A week whose page
// contains no day panels is skipped; transport failures, non-200
// responses and malformed pages return a *FetchError and abort the pass.
func (f *Fetcher) FetchTemplates(ctx context.Context, horizonStart time.Time, weeks int) ([]model.LessonTemplate, error) {
	templates := make([]model.LessonTemplate, 0, 32)

	for week := 0; week < weeks; week++ {
		monday := horizonStart.AddDate(0, 0, 7*week)
		url := fmt.Sprintf("%s/%s", f.baseURL, monday.Format("2006-01-02"))

		body, err := f.fetchPage(ctx, url)
		if err != nil {
			return nil, err
		}

		weekTemplates, err := ParseWeek(body, week, f.englishTeacher)
		if err != nil {
			return nil, &FetchError{URL: url, Err: err}
		}
		if len(weekTemplates) == 0 {
			f.log.WithField("week_monday", monday.Format("2006-01-02")).
				Info("timetable week is empty, skipping")
			continue
		}

		f.log.WithFields(logrus.Fields{
			"week_monday": monday.Format("2006-01-02"),
			"lessons":     len(weekTemplates),
		}).Debug("timetable week fetched")

		templates = append(templates, weekTemplates...)
	}

	return templates, nil
}

func (f *Fetcher) fetchPage(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	// The source localizes day headings; pin the expected language.
	req.Header.Set("Accept-Language", "ru-RU,ru;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{URL: url, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	return body, nil
}

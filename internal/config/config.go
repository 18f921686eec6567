package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the resolved application configuration. It is built once at
// startup and passed by value into the transform stages; nothing reads
// configuration from ambient globals afterwards.
type Config struct {
	// ScheduleBaseURL is the timetable endpoint; the week's Monday date
	// (YYYY-MM-DD) is appended as a path segment on every fetch.
	ScheduleBaseURL string

	// EnglishTeacherFullName selects which English stream belongs to the
	// calendar owner and which lesson the cancellation rule targets.
	EnglishTeacherFullName string

	// TimezoneUTCHoursShift is the local-to-UTC offset in hours, applied
	// once at encoding time. Defaults to 0 but should always be set.
	TimezoneUTCHoursShift int

	// IsCancelFirstEnglishLesson enables flagging the earliest English
	// lesson of each ISO week as cancelled.
	IsCancelFirstEnglishLesson bool

	WeeksToFetch    int
	FetchEveryHours int

	// FirstLessonTravelTime is the raw ISO-8601 duration string (e.g.
	// "PT15M"); empty disables travel blocks. TravelTime is its parsed
	// form.
	FirstLessonTravelTime string
	TravelTime            time.Duration

	CalendarFilePath string
	Listen           string

	LogLevel    string
	Environment string
}

// fileConfig mirrors Config for the optional YAML config file. Pointer
// fields distinguish "unset" from zero values so the file can override
// only what it mentions.
type fileConfig struct {
	ScheduleBaseURL            *string `yaml:"schedule_base_url"`
	EnglishTeacherFullName     *string `yaml:"english_teacher_full_name"`
	TimezoneUTCHoursShift      *int    `yaml:"timezone_utc_hours_shift"`
	IsCancelFirstEnglishLesson *bool   `yaml:"is_cancel_first_english_lesson"`
	WeeksToFetch               *int    `yaml:"weeks_to_fetch"`
	FetchEveryHours            *int    `yaml:"fetch_every_hours"`
	FirstLessonTravelTime      *string `yaml:"first_lesson_x_travel_time"`
	CalendarFilePath           *string `yaml:"calendar_file_path"`
	Listen                     *string `yaml:"listen"`
	LogLevel                   *string `yaml:"log_level"`
	Environment                *string `yaml:"environment"`
}

// Default returns the built-in defaults. Required keys stay empty and
// fail validation unless supplied by file or environment.
func Default() Config {
	return Config{
		TimezoneUTCHoursShift:      0,
		IsCancelFirstEnglishLesson: true,
		WeeksToFetch:               2,
		FetchEveryHours:            6,
		CalendarFilePath:           "timetables/timetable.ics",
		Listen:                     "127.0.0.1:8080",
		LogLevel:                   "info",
		Environment:                "development",
	}
}

// Load builds the configuration: defaults, then the optional YAML file
// at path (skipped when path is empty or the file does not exist), then
// environment variables. A .env file is honored but never overrides
// variables already present in the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	// Errors are ignored if no .env file exists.
	_ = godotenv.Load()

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	if cfg.FirstLessonTravelTime != "" {
		d, err := ParseISO8601Duration(cfg.FirstLessonTravelTime)
		if err != nil {
			return Config{}, fmt.Errorf("invalid FIRST_LESSON_X_TRAVEL_TIME: %w", err)
		}
		cfg.TravelTime = d
	}

	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	setString(&cfg.ScheduleBaseURL, fc.ScheduleBaseURL)
	setString(&cfg.EnglishTeacherFullName, fc.EnglishTeacherFullName)
	setInt(&cfg.TimezoneUTCHoursShift, fc.TimezoneUTCHoursShift)
	setBool(&cfg.IsCancelFirstEnglishLesson, fc.IsCancelFirstEnglishLesson)
	setInt(&cfg.WeeksToFetch, fc.WeeksToFetch)
	setInt(&cfg.FetchEveryHours, fc.FetchEveryHours)
	setString(&cfg.FirstLessonTravelTime, fc.FirstLessonTravelTime)
	setString(&cfg.CalendarFilePath, fc.CalendarFilePath)
	setString(&cfg.Listen, fc.Listen)
	setString(&cfg.LogLevel, fc.LogLevel)
	setString(&cfg.Environment, fc.Environment)

	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("SCHEDULE_BASE_URL"); v != "" {
		cfg.ScheduleBaseURL = v
	}
	if v := os.Getenv("ENGLISH_TEACHER_FULL_NAME"); v != "" {
		cfg.EnglishTeacherFullName = v
	}
	if err := envInt("TIMEZONE_UTC_HOURS_SHIFT", &cfg.TimezoneUTCHoursShift); err != nil {
		return err
	}
	if err := envBool("IS_CANCEL_FIRST_ENGLISH_LESSON", &cfg.IsCancelFirstEnglishLesson); err != nil {
		return err
	}
	if err := envInt("WEEKS_TO_FETCH", &cfg.WeeksToFetch); err != nil {
		return err
	}
	if err := envInt("FETCH_EVERY_HOURS", &cfg.FetchEveryHours); err != nil {
		return err
	}
	if v := os.Getenv("FIRST_LESSON_X_TRAVEL_TIME"); v != "" {
		cfg.FirstLessonTravelTime = v
	}
	if v := os.Getenv("CALENDAR_FILE_PATH"); v != "" {
		cfg.CalendarFilePath = v
	}
	if v := os.Getenv("LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		cfg.Environment = v
	}
	return nil
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func envBool(key string, dst *bool) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = b
	return nil
}

func (c Config) validate() error {
	if c.ScheduleBaseURL == "" {
		return fmt.Errorf("SCHEDULE_BASE_URL is not set")
	}
	if c.EnglishTeacherFullName == "" {
		return fmt.Errorf("ENGLISH_TEACHER_FULL_NAME is not set")
	}
	if c.WeeksToFetch <= 0 {
		return fmt.Errorf("WEEKS_TO_FETCH must be positive, got %d", c.WeeksToFetch)
	}
	if c.FetchEveryHours <= 0 {
		return fmt.Errorf("FETCH_EVERY_HOURS must be positive, got %d", c.FetchEveryHours)
	}
	return nil
}

// FetchInterval returns the refresh cadence as a duration.
func (c Config) FetchInterval() time.Duration {
	return time.Duration(c.FetchEveryHours) * time.Hour
}

var iso8601DurationRe = regexp.MustCompile(
	`^P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// ParseISO8601Duration parses the day/time subset of ISO-8601 durations
// used by iCalendar (RFC 5545 DURATION), e.g. "PT15M" or "P1DT2H".
func ParseISO8601Duration(s string) (time.Duration, error) {
	m := iso8601DurationRe.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("malformed ISO-8601 duration %q", s)
	}

	var d time.Duration
	var any bool
	units := []time.Duration{24 * time.Hour, time.Hour, time.Minute, time.Second}
	for i, unit := range units {
		part := m[i+1]
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return 0, fmt.Errorf("malformed ISO-8601 duration %q: %w", s, err)
		}
		d += time.Duration(n) * unit
		any = true
	}
	if !any {
		return 0, fmt.Errorf("empty ISO-8601 duration %q", s)
	}
	return d, nil
}

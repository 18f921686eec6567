package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LaGGgggg/spbu-timetable-ics-calendar/internal/config"
	"github.com/LaGGgggg/spbu-timetable-ics-calendar/internal/logger"
	"github.com/LaGGgggg/spbu-timetable-ics-calendar/internal/publish"
	"github.com/LaGGgggg/spbu-timetable-ics-calendar/internal/schedule"
	"github.com/LaGGgggg/spbu-timetable-ics-calendar/internal/scheduler"
	"github.com/LaGGgggg/spbu-timetable-ics-calendar/internal/timetable"
	"github.com/LaGGgggg/spbu-timetable-ics-calendar/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	once       bool
}

func main() {
	flags := parseFlags()

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		// No logger yet: config failures go straight to stderr.
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}
	if flags.listen != "" {
		cfg.Listen = flags.listen
	}

	log := logger.New(cfg)
	log.WithFields(map[string]any{
		"listen":               cfg.Listen,
		"weeks_to_fetch":       cfg.WeeksToFetch,
		"fetch_every_hours":    cfg.FetchEveryHours,
		"utc_hours_shift":      cfg.TimezoneUTCHoursShift,
		"cancel_first_english": cfg.IsCancelFirstEnglishLesson,
		"travel_time":          cfg.FirstLessonTravelTime,
		"calendar_file":        cfg.CalendarFilePath,
	}).Info("timetable-ics starting")

	fetcher := timetable.NewFetcher(cfg.ScheduleBaseURL, cfg.EnglishTeacherFullName, log)
	resolver := schedule.NewResolver(cfg.EnglishTeacherFullName, cfg.IsCancelFirstEnglishLesson, log)
	publisher := publish.NewFilePublisher(cfg.CalendarFilePath)
	sched := scheduler.New(cfg, fetcher, resolver, publisher, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if flags.once {
		if err := sched.RunPass(ctx); err != nil {
			log.WithError(err).Error("single refresh pass failed")
			os.Exit(1)
		}
		log.Info("single refresh pass completed")
		return
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.WithField("signal", sig.String()).Info("signal received, shutting down")
		cancel()
	}()

	if err := sched.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start refresh scheduler")
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: web.NewServer(cfg.CalendarFilePath, sched.Status, log).Handler(),
	}
	go func() {
		log.WithField("listen", "http://"+cfg.Listen).Info("HTTP server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("HTTP server failed")
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("HTTP server shutdown failed")
	}
	sched.Stop()

	log.Info("timetable-ics exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "", "Path to optional YAML config file (environment wins)")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one fetch+publish pass and exit")

	flag.Parse()

	return cfg
}

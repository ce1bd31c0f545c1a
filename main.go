// ByteSize mails subscribers a daily digest of the handles they follow.
//
// Every cycle it fetches recent posts per handle, summarizes them with
// a generative model, and emails one digest per subscriber. Cycles run
// on a schedule and can also be triggered over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/jmoiron/sqlx"
	"github.com/oklog/run"
	"github.com/robfig/cron/v3"
	"github.com/sethvargo/go-envconfig"
	_ "golang.org/x/crypto/x509roots/fallback"
	_ "modernc.org/sqlite"

	"github.com/bytesize-news/bytesize/internal/api"
	"github.com/bytesize-news/bytesize/internal/bytesize"
	"github.com/bytesize-news/bytesize/internal/claude"
	"github.com/bytesize-news/bytesize/internal/deliver"
	"github.com/bytesize-news/bytesize/internal/digest"
	"github.com/bytesize-news/bytesize/internal/fetch"
	"github.com/bytesize-news/bytesize/internal/migrations"
	"github.com/bytesize-news/bytesize/internal/resend"
	"github.com/bytesize-news/bytesize/internal/rettiwt"
	"github.com/bytesize-news/bytesize/internal/server"
	"github.com/bytesize-news/bytesize/internal/sqlite"
	"github.com/bytesize-news/bytesize/internal/summarize"
	"github.com/bytesize-news/bytesize/logger"
)

type config struct {
	Port     int    `env:"PORT, default=4444"`
	Database string `env:"DATABASE, required"`

	RettiwtBaseURL  string `env:"RETTIWT_BASE_URL, required"`
	RettiwtAPIKey   string `env:"RETTIWT_API_KEY, required"`
	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY, required"`
	ResendAPIKey    string `env:"RESEND_API_KEY, required"`

	FromAddress string `env:"FROM_ADDRESS, default=ByteSize <hello@bytesize.news>"`

	// Local time (IST) at which the daily run fires, as HH:MM.
	ScheduleTime string `env:"SCHEDULE_TIME, default=08:00"`

	// Run the whole pipeline but never hand anything to the email
	// provider. Useful when pointing at production data.
	DryRun bool `env:"DRY_RUN, default=false"`

	CORSOrigin string `env:"CORS_ORIGIN, default=*"`

	// Which format to use for logging: either text or json
	LoggerFormat string `env:"LOGGER_FORMAT, default=text"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	// Parse the config
	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		log.Fatalf("error parsing config: %s", err)
	}

	// Determine which logger format to use
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, nil)
	if cfg.LoggerFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, nil)
	}
	l := slog.New(logger.NewContextHandler(handler))
	slog.SetDefault(l)

	// Start the application
	if err := runApp(ctx, cfg); err != nil {
		slog.Error("error running", "error", err)
		os.Exit(1)
	}
}

func runApp(ctx context.Context, cfg config) error {
	slog.Info("running", "port", cfg.Port, "database", cfg.Database, "schedule", cfg.ScheduleTime, "dry_run", cfg.DryRun)

	// Connect to the db
	dbx, err := sqlx.Open("sqlite", fmt.Sprintf("%s?_journal_mode=WAL", cfg.Database))
	if err != nil {
		return fmt.Errorf("error opening database: %s", err)
	}

	// Migrate, always
	if err := migrations.Run(dbx); err != nil {
		return fmt.Errorf("error migrating: %s", err)
	}
	repo := sqlite.New(dbx)

	// Assemble the pipeline: posts in, summaries, emails out.
	anthropicClient := anthropic.NewClient(option.WithAPIKey(cfg.AnthropicAPIKey))
	sender := resend.New(cfg.ResendAPIKey, "")
	var (
		fetcher    = fetch.New(rettiwt.New(cfg.RettiwtBaseURL, cfg.RettiwtAPIKey), fetch.Config{})
		summarizer = summarize.New(claude.New(&anthropicClient), summarize.NewCache(512))
		deliverer  = deliver.New(sender, deliver.Config{})
		runner     = digest.NewRunner(repo, fetcher, summarizer, deliverer, cfg.FromAddress)
	)

	apiServer := api.NewServer(repo, runner, sender, cfg.FromAddress)

	router := server.NewRouter()
	apiServer.Routes(router)
	srv := server.New(cfg.Port, cfg.CORSOrigin, router)

	cronSpec, err := cronSpecFor(cfg.ScheduleTime)
	if err != nil {
		return err
	}

	var g run.Group
	g.Add(func() error {
		slog.Info("listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("error listening: %s", err)
		}
		return nil
	}, func(error) {
		downCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(downCtx); err != nil {
			slog.Error("error shutting down server", "error", err)
		}
	})

	// Scheduled runs fire in IST so "daily" matches the audience's day.
	c := cron.New(cron.WithLocation(bytesize.IST))
	if _, err := c.AddFunc(cronSpec, func() {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Minute)
		defer cancel()

		report, err := runner.Run(runCtx, digest.Options{DryRun: cfg.DryRun})
		if err != nil {
			slog.Error("error running scheduled digest", "error", err)
			return
		}
		slog.Info("scheduled digest finished", "processed", report.Processed, "failures", len(report.Failures))
	}); err != nil {
		return fmt.Errorf("error scheduling digest: %s", err)
	}
	cronDone := make(chan struct{})
	g.Add(func() error {
		c.Start()
		<-cronDone
		return nil
	}, func(error) {
		<-c.Stop().Done()
		close(cronDone)
	})

	g.Add(run.SignalHandler(ctx, os.Interrupt))

	err = g.Run()
	var sigErr run.SignalError
	if errors.As(err, &sigErr) {
		slog.Info("shutting down", "signal", sigErr.Signal)
		return nil
	}
	if err != nil {
		return fmt.Errorf("error running: %s", err)
	}

	return nil
}

// cronSpecFor turns an HH:MM wall-clock time into a daily cron spec.
func cronSpecFor(scheduleTime string) (string, error) {
	parts := strings.Split(scheduleTime, ":")
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid SCHEDULE_TIME %q: want HH:MM", scheduleTime)
	}
	t, err := time.Parse("15:04", scheduleTime)
	if err != nil {
		return "", fmt.Errorf("invalid SCHEDULE_TIME %q: %s", scheduleTime, err)
	}

	return fmt.Sprintf("%d %d * * *", t.Minute(), t.Hour()), nil
}

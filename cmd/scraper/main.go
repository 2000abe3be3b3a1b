package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"

	"page_scraper/internal/config"
	"page_scraper/internal/publisher"
	"page_scraper/internal/relevance"
	"page_scraper/internal/service"
	"page_scraper/internal/source/graph"
	"page_scraper/internal/storage/sqlstore"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("scraper", flag.ContinueOnError)
	global.SetOutput(stderr)
	configPath := global.String("config", "config.yaml", "path to config file")
	global.Usage = func() { printUsage(stdout) }

	if err := global.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	rest := global.Args()
	if len(rest) == 0 {
		printUsage(stdout)
		return 0
	}

	cmd, ok := commands[rest[0]]
	if !ok {
		fmt.Fprintf(stdout, "unknown command %q\n\n", rest[0])
		printUsage(stdout)
		return 0
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "failed to load config: %v\n", err)
		return 1
	}

	logger := setupLogger(cfg.LogLevel, stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, stdout, cmd.publishes)
	if err != nil {
		logger.Error("failed to start", "error", err)
		return 1
	}
	defer a.Close()

	return cmd.run(ctx, a, rest[1:])
}

// app holds the wired services for one command invocation.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	stdout    io.Writer
	db        *sqlx.DB
	publisher *publisher.RabbitMQ

	keywords *service.KeywordService
	pages    *service.PageService
	scrape   *service.ScrapeService
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, stdout io.Writer, withPublisher bool) (*app, error) {
	db, err := sqlstore.Open(ctx, cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, err
	}
	if err := sqlstore.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	logger.Debug("connected to database", "driver", cfg.Database.Driver)

	a := &app{cfg: cfg, logger: logger, stdout: stdout, db: db}

	var pub service.Publisher
	if withPublisher && cfg.RabbitMQ.Enabled {
		rabbitMQ, err := publisher.NewRabbitMQ(publisher.Config{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
			QueueName:  cfg.RabbitMQ.QueueName,
		}, logger)
		if err != nil {
			db.Close()
			return nil, err
		}
		a.publisher = rabbitMQ
		pub = rabbitMQ
	}

	source := graph.New(graph.Config{
		BaseURL:        cfg.Graph.BaseURL,
		AccessToken:    cfg.Graph.AccessToken,
		PageSize:       cfg.Graph.PageSize,
		Timeout:        cfg.Graph.Timeout,
		MaxAttempts:    cfg.Graph.Retry.MaxAttempts,
		InitialBackoff: cfg.Graph.Retry.InitialBackoff,
		MaxBackoff:     cfg.Graph.Retry.MaxBackoff,
	}, logger)

	pageStore := sqlstore.NewPageStore(db)
	filter := relevance.NewFilter(nil)

	a.keywords = service.NewKeywordService(
		sqlstore.NewKeywordStore(db),
		sqlstore.NewTransactionManager(db),
		filter,
		cfg.Keywords,
		logger,
	)
	a.pages = service.NewPageService(pageStore, source, logger)
	a.scrape = service.NewScrapeService(
		source,
		pageStore,
		service.NewLedger(sqlstore.NewPostLedger(db), sqlstore.NewCommentStore(db)),
		filter,
		a.keywords,
		pub,
		logger,
		cfg.Scrape,
	)

	if _, err := a.keywords.Bootstrap(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("bootstrap keywords: %w", err)
	}

	return a, nil
}

func (a *app) Close() {
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}

func setupLogger(level string, w io.Writer) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(w, opts)
	return slog.New(handler)
}

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/oklog/run"
	"github.com/sirupsen/logrus"
	"k8s.io/client-go/util/homedir"

	"github.com/slok/webq/internal/answer"
	"github.com/slok/webq/internal/api"
	"github.com/slok/webq/internal/app/taskcreate"
	"github.com/slok/webq/internal/app/taskget"
	"github.com/slok/webq/internal/fetch"
	"github.com/slok/webq/internal/log"
	loglogrus "github.com/slok/webq/internal/log/logrus"
	"github.com/slok/webq/internal/queue"
	queuememory "github.com/slok/webq/internal/queue/memory"
	queuesqlite "github.com/slok/webq/internal/queue/sqlite"
	"github.com/slok/webq/internal/storage"
	storagememory "github.com/slok/webq/internal/storage/memory"
	storagesqlite "github.com/slok/webq/internal/storage/sqlite"
	"github.com/slok/webq/internal/worker"
)

const (
	// Version is the application version (set via ldflags).
	Version = "dev"

	// LoggerTypeDefault is the logrus text logger.
	LoggerTypeDefault = "default"
	// LoggerTypeJSON is the logrus JSON logger.
	LoggerTypeJSON = "json"
)

// CmdConfig is the application command line configuration.
type CmdConfig struct {
	Debug         bool
	LoggerType    string
	NoLog         bool
	NoColor       bool
	ListenAddress string
	DBPath        string
	MemoryStorage bool
	GroqAPIKey    string
	GroqModel     string
	GroqBaseURL   string
	AllowedOrigin string
	Workers       int

	Stderr io.Writer
}

// NewCmdConfig parses the command line arguments into the app configuration.
func NewCmdConfig(args []string) (*CmdConfig, error) {
	c := &CmdConfig{}

	app := kingpin.New("webq", "Ask questions about web pages, answered asynchronously.")
	app.Version(Version)
	app.DefaultEnvars()

	app.Flag("debug", "Enable debug mode.").BoolVar(&c.Debug)
	app.Flag("logger", "Logger type.").Default(LoggerTypeDefault).EnumVar(&c.LoggerType, LoggerTypeDefault, LoggerTypeJSON)
	app.Flag("no-log", "Disable logging.").BoolVar(&c.NoLog)
	app.Flag("no-color", "Disable logger color.").BoolVar(&c.NoColor)
	app.Flag("listen-address", "HTTP API listen address.").Default(":8080").StringVar(&c.ListenAddress)
	app.Flag("db-path", "Path to the SQLite database file.").Default(filepath.Join(homedir.HomeDir(), ".webq", "webq.db")).StringVar(&c.DBPath)
	app.Flag("memory", "Run with in-memory storage and queue (development only, nothing survives a restart).").BoolVar(&c.MemoryStorage)
	app.Flag("groq-api-key", "Groq API key used to generate answers.").Required().StringVar(&c.GroqAPIKey)
	app.Flag("groq-model", "Model used to generate answers.").Default(answer.DefaultModel).StringVar(&c.GroqModel)
	app.Flag("groq-base-url", "Base URL of the Groq OpenAI-compatible API.").Default(answer.DefaultBaseURL).StringVar(&c.GroqBaseURL)
	app.Flag("allowed-origin", "CORS allowed origin.").Default(api.DefaultAllowedOrigin).StringVar(&c.AllowedOrigin)
	app.Flag("workers", "Number of concurrent job workers.").Default(fmt.Sprintf("%d", worker.DefaultWorkers)).IntVar(&c.Workers)

	_, err := app.Parse(args[1:])
	if err != nil {
		return nil, fmt.Errorf("invalid command configuration: %w", err)
	}

	return c, nil
}

// Run runs the main application.
func Run(ctx context.Context, args []string, stderr io.Writer) error {
	config, err := NewCmdConfig(args)
	if err != nil {
		return err
	}
	config.Stderr = stderr

	logger := getLogger(*config)

	// Storage and queue, shared SQLite DB unless running in memory.
	var (
		repo     storage.TaskRepository
		jobQueue queue.Queue
	)
	if config.MemoryStorage {
		logger.Warningf("Using in-memory storage, tasks will not survive a restart")
		memRepo, err := storagememory.NewRepository(storagememory.RepositoryConfig{Logger: logger})
		if err != nil {
			return fmt.Errorf("could not create memory repository: %w", err)
		}
		memQueue, err := queuememory.NewQueue(queuememory.QueueConfig{Logger: logger})
		if err != nil {
			return fmt.Errorf("could not create memory queue: %w", err)
		}
		repo, jobQueue = memRepo, memQueue
	} else {
		db, err := storagesqlite.NewDB(ctx, storagesqlite.DBConfig{
			DBPath: config.DBPath,
			Logger: logger,
		})
		if err != nil {
			return fmt.Errorf("could not open database: %w", err)
		}
		defer db.Close()

		sqlRepo, err := storagesqlite.NewRepository(storagesqlite.RepositoryConfig{DB: db, Logger: logger})
		if err != nil {
			return fmt.Errorf("could not create repository: %w", err)
		}
		sqlQueue, err := queuesqlite.NewQueue(queuesqlite.QueueConfig{DB: db, Logger: logger})
		if err != nil {
			return fmt.Errorf("could not create queue: %w", err)
		}
		repo, jobQueue = sqlRepo, sqlQueue
	}

	// Job pipeline dependencies.
	fetcher, err := fetch.NewBrowserFetcher(fetch.BrowserFetcherConfig{Logger: logger})
	if err != nil {
		return fmt.Errorf("could not create fetcher: %w", err)
	}

	generator, err := answer.NewGroqGenerator(answer.GroqGeneratorConfig{
		APIKey:  config.GroqAPIKey,
		BaseURL: config.GroqBaseURL,
		Model:   config.GroqModel,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("could not create answer generator: %w", err)
	}

	// Application services.
	creator, err := taskcreate.NewService(taskcreate.ServiceConfig{
		Repository: repo,
		Queue:      jobQueue,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("could not create task create service: %w", err)
	}

	getter, err := taskget.NewService(taskget.ServiceConfig{
		Repository: repo,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("could not create task get service: %w", err)
	}

	server, err := api.NewServer(api.ServerConfig{
		ListenAddress: config.ListenAddress,
		TaskCreator:   creator,
		TaskGetter:    getter,
		AllowedOrigin: config.AllowedOrigin,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("could not create API server: %w", err)
	}

	pool, err := worker.NewPool(worker.PoolConfig{
		Queue:      jobQueue,
		Repository: repo,
		Fetcher:    fetcher,
		Generator:  generator,
		Workers:    config.Workers,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("could not create worker pool: %w", err)
	}

	var g run.Group

	// OS signals.
	{
		signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer signalCancel()

		g.Add(
			func() error {
				<-signalCtx.Done()
				logger.Infof("Termination signal received")
				return nil
			},
			func(_ error) {
				signalCancel()
			},
		)
	}

	// HTTP API server.
	{
		g.Add(
			func() error {
				return server.ListenAndServe()
			},
			func(_ error) {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					logger.Errorf("Could not shut down HTTP server gracefully: %s", err)
				}
			},
		)
	}

	// Worker pool.
	{
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		g.Add(
			func() error {
				return pool.Run(ctx)
			},
			func(_ error) {
				cancel()
			},
		)
	}

	return g.Run()
}

// getLogger returns the application logger.
func getLogger(config CmdConfig) log.Logger {
	if config.NoLog {
		return log.Noop
	}

	logrusLog := logrus.New()
	logrusLog.Out = config.Stderr
	logrusLogEntry := logrus.NewEntry(logrusLog)

	if config.Debug {
		logrusLogEntry.Logger.SetLevel(logrus.DebugLevel)
	}

	switch config.LoggerType {
	case LoggerTypeDefault:
		logrusLogEntry.Logger.SetFormatter(&logrus.TextFormatter{
			ForceColors:   !config.NoColor,
			DisableColors: config.NoColor,
		})
	case LoggerTypeJSON:
		logrusLogEntry.Logger.SetFormatter(&logrus.JSONFormatter{})
	}

	logger := loglogrus.NewLogrus(logrusLogEntry).WithValues(log.Kv{
		"version": Version,
	})

	logger.Debugf("Debug level is enabled") // Will log only when debug enabled.

	return logger
}

func main() {
	ctx := context.Background()
	err := Run(ctx, os.Args, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

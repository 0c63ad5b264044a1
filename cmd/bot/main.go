package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "time/tzdata"

	"vest_tracker/internal/app"
	"vest_tracker/internal/domain/cycle"
	"vest_tracker/internal/domain/onah"
	"vest_tracker/internal/domain/subject"
	"vest_tracker/internal/domain/vest"
	"vest_tracker/internal/infra/astronomy"
	"vest_tracker/internal/infra/config"
	idb "vest_tracker/internal/infra/database"
	"vest_tracker/internal/infra/logger"
	"vest_tracker/internal/infra/memstore"
	"vest_tracker/internal/infra/scheduler"
	"vest_tracker/internal/infra/telegram"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// storage bundles the repositories of the selected driver.
type storage struct {
	subjects subject.Repository
	cycles   cycle.Repository
	dirty    scheduler.DirtySubjectLister
	db       *sql.DB
}

func openStorage(ctx context.Context, cfg *config.AppConfig, log *logrus.Entry) (*storage, error) {
	if cfg.StorageDriver == config.StorageDriverMemory {
		log.Warn("Using in-memory storage, data is lost on restart")
		store := memstore.New()
		return &storage{subjects: store.Subjects(), cycles: store, dirty: store}, nil
	}

	db, err := idb.NewPostgresConnection(ctx, cfg.DatabaseURL, true)
	if err != nil {
		return nil, err
	}
	log.Info("Database connection established and schema applied")

	cycleRepo := idb.NewPostgresCycleRepository(db)
	return &storage{
		subjects: idb.NewPostgresSubjectRepository(db),
		cycles:   cycleRepo,
		dirty:    cycleRepo,
		db:       db,
	}, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatalf("Could not load application configuration: %v", err)
	}
	logger.Init(cfg)
	mainLogger := logger.Component("main")
	mainLogger.WithFields(logrus.Fields{
		"environment": cfg.Environment,
		"admin_id":    cfg.AdminTelegramID,
	}).Info("Configuration loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openStorage(ctx, cfg, mainLogger)
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not initialize storage")
	}
	if store.db != nil {
		defer store.db.Close()
	}

	resolver := onah.NewResolver(astronomy.New())
	engine := vest.NewEngine(resolver)

	cycleService := app.NewCycleService(store.cycles, store.subjects, resolver, engine, logger.Component("cycle_service"))
	subjectService := app.NewSubjectService(store.subjects, cycleService, cfg.AdminTelegramID, cfg.DefaultMinimumGapDays)
	mainLogger.Info("Services initialized")

	sweeper := scheduler.NewForecastSweeper(
		store.dirty,
		cycleService,
		logger.Component("forecast_sweeper"),
		cfg.CronSpecForecastSweep,
		cfg.SweepConcurrency,
	)
	if err := sweeper.Start(); err != nil {
		mainLogger.WithError(err).Fatal("Could not start forecast sweeper")
	}

	botLogger := logger.Component("telegram")
	pref := telebot.Settings{
		Token:  cfg.TelegramToken,
		Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
		OnError: func(err error, c telebot.Context) { // Global error handler
			entry := botLogger.WithError(err)
			if c != nil && c.Sender() != nil && c.Chat() != nil {
				entry = entry.WithFields(logrus.Fields{
					"message":   c.Text(),
					"sender_id": c.Sender().ID,
					"chat_id":   c.Chat().ID,
				})
			}
			entry.Error("Telebot error")
		},
	}
	bot, err := telebot.NewBot(pref)
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not create Telegram bot")
	}
	notifier := telegram.NewTelebotNotifier(bot)

	// Register Handlers
	telegram.RegisterBotCommands(ctx, bot, cfg.AdminTelegramID, store.subjects, botLogger)
	telegram.RegisterAdminHandlers(ctx, bot, subjectService, cfg.AdminTelegramID, botLogger)
	telegram.RegisterSubjectHandlers(bot, telegram.NewSubjectHandlers(
		ctx, subjectService, cycleService, cfg.DefaultLocation, cfg.AdminTelegramID, notifier, botLogger,
	))
	mainLogger.Info("Command handlers registered")

	// Start bot in a goroutine so it doesn't block graceful shutdown handling
	go bot.Start()
	mainLogger.Info("Application setup complete, bot and sweeper are running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	mainLogger.Info("Shutting down application...")
	cancel()
	sweeper.Stop()
	bot.Stop()
	mainLogger.Info("Application shut down gracefully")
}

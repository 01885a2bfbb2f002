package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/frahmantamala/payment-reconciliation/internal"
	"github.com/frahmantamala/payment-reconciliation/internal/commission"
	commissionpg "github.com/frahmantamala/payment-reconciliation/internal/commission/postgres"
	"github.com/frahmantamala/payment-reconciliation/internal/core/events"
	"github.com/frahmantamala/payment-reconciliation/internal/messaging"
	"github.com/frahmantamala/payment-reconciliation/internal/payment"
	paymentpg "github.com/frahmantamala/payment-reconciliation/internal/payment/postgres"
	"github.com/frahmantamala/payment-reconciliation/internal/paymentgateway"
	"github.com/frahmantamala/payment-reconciliation/internal/poller"
	"github.com/frahmantamala/payment-reconciliation/internal/webhookerror"
	webhookerrorpg "github.com/frahmantamala/payment-reconciliation/internal/webhookerror/postgres"
	"github.com/frahmantamala/payment-reconciliation/pkg/logger"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	amqp "github.com/rabbitmq/amqp091-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// App is the wired object graph shared by the server and the CLI commands.
type App struct {
	Config *internal.Config
	Logger *slog.Logger
	DB     *sqlx.DB
	Gorm   *gorm.DB

	EventBus      *events.EventBus
	Gateway       *paymentgateway.Client
	Payments      *paymentpg.PaymentRepository
	Commissions   *commissionpg.CommissionRepository
	WebhookErrors *webhookerrorpg.WebhookErrorRepository
	Recorder      *webhookerror.Recorder
	Disburser     *commission.Disburser
	Queue         *commission.Queue
	Engine        *payment.Engine
	Replayer      *webhookerror.Replayer
	Poller        *poller.Poller
	Publisher     *messaging.Publisher

	amqpConn *amqp.Connection
}

type appOptions struct {
	// asyncDisburse routes disbursement through the worker pool when the
	// config enables it. CLI commands run it inline so they exit after it.
	asyncDisburse bool
	publish       bool
}

func newApp(opts appOptions) (*App, error) {
	config, err := loadConfig(".")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	lg := logger.Configure(config.Observability.Logging.Level, config.Observability.Logging.Format, os.Stdout)

	db, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	gdb, err := initGorm(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize gorm: %w", err)
	}

	minTransfer, err := config.Commission.MinTransfer()
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	app := &App{
		Config:        config,
		Logger:        lg,
		DB:            db,
		Gorm:          gdb,
		EventBus:      events.NewEventBus(lg),
		Payments:      paymentpg.NewPaymentRepository(gdb),
		Commissions:   commissionpg.NewCommissionRepository(gdb),
		WebhookErrors: webhookerrorpg.NewWebhookErrorRepository(gdb),
	}

	app.Gateway = paymentgateway.NewClient(paymentgateway.Config{
		BaseURL: config.Payment.BaseURL,
		APIKey:  config.Payment.APIKey,
		Timeout: config.Payment.Timeout,
	}, lg)

	app.Recorder = webhookerror.NewRecorder(app.WebhookErrors, lg)

	app.Disburser = commission.NewDisburser(app.Commissions, app.Gateway, app.EventBus, commission.Config{
		MinTransfer:         minTransfer,
		TransferDescription: config.Commission.TransferDescription,
	}, lg)

	var disburser payment.Disburser = app.Disburser
	if opts.asyncDisburse && config.Commission.Async {
		app.Queue = commission.NewQueue(app.Disburser, app.Recorder, commission.QueueConfig{
			MaxWorkers:   config.Commission.MaxWorkers,
			JobQueueSize: config.Commission.JobQueueSize,
		}, lg)
		disburser = app.Queue
	}

	app.Engine = payment.NewEngine(app.Payments, disburser, app.Disburser, app.Recorder, app.EventBus, lg)

	app.Replayer = webhookerror.NewReplayer(app.WebhookErrors, app.Engine, webhookerror.ReplayConfig{
		MaxRetries: config.Replay.MaxRetries,
		Backoff:    config.Replay.Backoff,
		BatchSize:  config.Replay.BatchSize,
	}, lg)

	app.Poller = poller.NewPoller(app.Payments, app.Gateway, app.Engine, poller.Config{
		Interval:   config.Poller.Interval,
		Timeout:    config.Poller.Timeout,
		StaleAfter: config.Poller.StaleAfter,
	}, lg)

	if opts.publish && config.Messaging.RabbitMQURL != "" {
		publisher, conn, err := messaging.Dial(config.Messaging.RabbitMQURL, config.Messaging.Queue, lg)
		if err != nil {
			// notifications are best effort; reconciliation runs without them
			lg.Error("rabbitmq unavailable, status changes will not be forwarded", "error", err)
		} else {
			publisher.Register(app.EventBus)
			app.Publisher = publisher
			app.amqpConn = conn
		}
	}

	return app, nil
}

// Close drains background work then releases connections.
func (a *App) Close(ctx context.Context) {
	if a.Queue != nil {
		a.Queue.Shutdown(ctx)
	}
	if !a.EventBus.WaitContext(ctx) {
		a.Logger.Warn("event handlers still running at shutdown")
	}

	if a.Publisher != nil {
		if err := a.Publisher.Close(); err != nil {
			a.Logger.Error("rabbitmq channel close error", "error", err)
		}
	}
	if a.amqpConn != nil {
		if err := a.amqpConn.Close(); err != nil {
			a.Logger.Error("rabbitmq connection close error", "error", err)
		}
	}
	if err := a.DB.Close(); err != nil {
		a.Logger.Error("database close error", "error", err)
	}
}

// initDB initializes the database connection
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}

// initGorm shares the sqlx pool with gorm so both see one set of connections.
func initGorm(db *sqlx.DB) (*gorm.DB, error) {
	return gorm.Open(postgres.New(postgres.Config{Conn: db.DB}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/frahmantamala/payment-reconciliation/internal/auth"
	"github.com/frahmantamala/payment-reconciliation/internal/payment"
	"github.com/frahmantamala/payment-reconciliation/internal/poller"
	"github.com/frahmantamala/payment-reconciliation/internal/transport"
	"github.com/frahmantamala/payment-reconciliation/internal/transport/rest"
	"github.com/frahmantamala/payment-reconciliation/internal/webhookerror"

	"github.com/go-chi/chi"
	"github.com/spf13/cobra"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server receiving gateway webhooks, client polls and operator requests`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

const shutdownTimeout = 30 * time.Second

func startHTTPServer() {
	app, err := newApp(appOptions{asyncDisburse: true, publish: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	router, err := setupRoutes(app)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up routes: %v\n", err)
		os.Exit(1)
	}

	addr := fmt.Sprintf(":%d", app.Config.Server.Port)
	app.Logger.Info("Starting HTTP server", "address", addr, "async_disbursement", app.Queue != nil)

	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: app.Config.Server.ReadHeaderTimeout,
		ReadTimeout:       app.Config.Server.ReadTimeout,
		WriteTimeout:      app.Config.Server.WriteTimeout,
		IdleTimeout:       app.Config.Server.IdleTimeout,
	}

	// Signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		app.Logger.Info("Received signal, shutting down...", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			app.Logger.Error("Server shutdown error", "error", err)
		}
		app.Close(ctx)
	case err := <-serverErrChan:
		if err != nil && err != http.ErrServerClosed {
			app.Logger.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}

	app.Logger.Info("Server stopped")
}

func setupRoutes(app *App) (*chi.Mux, error) {
	base := transport.NewBaseHandler(app.Logger)

	handlers := rest.Handlers{
		Webhook:       payment.NewWebhookHandler(base, app.Engine, app.Recorder, app.Config.Payment.WebhookToken, app.Logger),
		Poll:          poller.NewHandler(base, app.Poller, app.Config.Poller.MaxTimeout),
		WebhookErrors: webhookerror.NewHandler(base, app.Replayer),
	}

	routerConfig := rest.RouterConfig{
		AllowedOrigins:     app.Config.Server.AllowedOrigins,
		OperatorPermission: app.Config.Security.OperatorPermission,
		HealthChecks:       healthChecks(app),
	}
	if app.Config.Security.JWTPublicKey != "" {
		publicKey, err := app.Config.Security.GetPublicKey()
		if err != nil {
			return nil, fmt.Errorf("invalid JWT public key: %w", err)
		}
		routerConfig.RBAC = auth.NewRBACAuthorization(auth.NewJWTVerifier(publicKey), auth.NewPermissionChecker(), app.Logger)
	}

	router := chi.NewRouter()
	if err := rest.RegisterAllRoutes(router, app.DB.DB, handlers, routerConfig, app.Logger); err != nil {
		return nil, err
	}
	return router, nil
}

// healthChecks reports the optional components. None of them gate readiness:
// webhooks are still acknowledged and recorded while they are down.
func healthChecks(app *App) []rest.HealthCheck {
	checks := []rest.HealthCheck{{
		Name: "webhook_errors",
		Check: func(ctx context.Context) (map[string]any, error) {
			pending, err := app.WebhookErrors.ListReplayable(ctx, app.Config.Replay.MaxRetries, 1000)
			if err != nil {
				return nil, err
			}
			return map[string]any{"replayable": len(pending)}, nil
		},
	}}

	if app.Queue != nil {
		checks = append(checks, rest.HealthCheck{
			Name: "disbursement_queue",
			Check: func(ctx context.Context) (map[string]any, error) {
				return map[string]any{"pending": app.Queue.Pending()}, nil
			},
		})
	}

	if app.Config.Messaging.RabbitMQURL != "" {
		checks = append(checks, rest.HealthCheck{
			Name: "rabbitmq",
			Check: func(ctx context.Context) (map[string]any, error) {
				if app.amqpConn == nil || app.amqpConn.IsClosed() {
					return nil, errors.New("not connected")
				}
				return nil, nil
			},
		})
	}

	return checks
}

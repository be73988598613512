package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/into-the-night/fin-breaker/config"
	"github.com/into-the-night/fin-breaker/internal/runtime"
)

const shutdownTimeout = 10 * time.Second

// NewEcho builds the HTTP API around app. A non-empty secret protects /api
// with JWT bearer auth.
func NewEcho(app *App, secret []byte) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := newLogger("[HTTP] ")
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization", "Cookie", "If-None-Match"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if app.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(app.Metrics, promhttp.HandlerOpts{})))
	}

	api := e.Group("/api")
	if len(secret) > 0 {
		api.Use(runtime.EchoAuthMiddleware(secret))
	}
	h := &Handler{App: app}
	h.Register(api)
	return e
}

// Run serves the API until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, cfg *config.Config, addr string) error {
	if cfg.Storage.Backend == "postgres" {
		if err := Migrate(cfg.Server.MigrationsPath, cfg.Storage.Postgres.DSN(), "up", 0); err != nil {
			return fmt.Errorf("migrations failed: %w", err)
		}
	}
	app, err := Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close(context.Background())

	secret, err := runtime.LoadJWTSecret(cfg)
	if err != nil {
		return err
	}
	if len(secret) == 0 {
		log.Printf("server.jwt_secret not set, api is unauthenticated")
	}

	if app.Scheduler != nil {
		app.Scheduler.Start(ctx)
	}

	if addr == "" {
		addr = cfg.Server.Address
	}
	if addr == "" {
		addr = ":10001"
	}
	e := NewEcho(app, secret)
	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

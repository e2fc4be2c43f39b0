package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/Skotchmaster/cart_recovery/pkg/logging"
	authmw "github.com/Skotchmaster/cart_recovery/pkg/middleware/auth"
	loggingmw "github.com/Skotchmaster/cart_recovery/pkg/middleware/logging"
	"github.com/Skotchmaster/cart_recovery/pkg/session"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/app"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/config"
	"github.com/Skotchmaster/cart_recovery/services/cart/internal/httpserver"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.LogLevel).With("service", cfg.ServiceName)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("init: %v", err)
	}

	e := echo.New()
	e.HideBanner = true

	e.Server.ReadTimeout = 10 * time.Second
	e.Server.WriteTimeout = 15 * time.Second
	e.Server.ReadHeaderTimeout = 3 * time.Second

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(loggingmw.RequestLogger(logger))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{cfg.FrontendURL},
		AllowHeaders:     []string{echo.HeaderContentType, echo.HeaderAuthorization, session.HeaderName},
		ExposeHeaders:    []string{session.HeaderName},
		AllowCredentials: true,
	}))

	httpserver.Register(e, &httpserver.Deps{
		Cart:     &httpserver.CartHTTP{Svc: a.Carts, Searcher: a.Searcher},
		Events:   &httpserver.EventsHTTP{Svc: a.Behavior, PopupIdleSeconds: cfg.PopupIdleSeconds},
		Recovery: &httpserver.RecoveryHTTP{Svc: a.Recovery, Popups: popupInbox(a)},
		Admin:    &httpserver.AdminHTTP{Repo: a.Repo, Recovery: a.Recovery, Detector: a.Detector},
		Auth:     authmw.NewAuthenticator([]byte(cfg.JWTAccessSecret)),
		Ready:    a.Ready,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := ":" + strconv.Itoa(cfg.ServerPort)
		logger.Info("server_start", "addr", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return a.Detector.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("server_shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server_stopped", "error", err)
	}
	if err := a.Close(); err != nil {
		logger.Warn("close_failed", "error", err)
	}
	logger.Info("server_stopped")
}

// popupInbox keeps a nil *notify.Popup from becoming a non-nil interface.
func popupInbox(a *app.App) httpserver.PopupInbox {
	if a.Popups == nil {
		return nil
	}
	return a.Popups
}

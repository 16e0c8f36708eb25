package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/DaNaRim/monal-money-analyzer-sub000/internal/auth"
	"github.com/DaNaRim/monal-money-analyzer-sub000/internal/handler"
	"github.com/DaNaRim/monal-money-analyzer-sub000/internal/models"
	"github.com/DaNaRim/monal-money-analyzer-sub000/internal/service"
	"github.com/DaNaRim/monal-money-analyzer-sub000/internal/storage"
	"github.com/DaNaRim/monal-money-analyzer-sub000/internal/sweeper"
	"github.com/DaNaRim/monal-money-analyzer-sub000/internal/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	serviceName     = "monal"
	shutdownTimeout = 10 * time.Second
)

var (
	flagSkipMigrations bool
	flagAdminEmail     string
	flagAdminPassword  string

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server and the token sweeper",
		RunE:  runServe,
	}
)

func init() {
	serveCmd.Flags().BoolVar(&flagSkipMigrations, "skip-migrations", false, "do not apply database migrations on start")
	serveCmd.Flags().StringVar(&flagAdminEmail, "admin-email", "", "create this admin user on start if it does not exist")
	serveCmd.Flags().StringVar(&flagAdminPassword, "admin-password", "", "password for --admin-email")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	log := a.log
	log.Info("starting monal", slog.String("address", a.cfg.HTTPServer.Address))

	if pg, ok := a.postgres(); ok && !flagSkipMigrations {
		if err := storage.RunMigrations(ctx, pg.DB()); err != nil {
			return err
		}
	}

	m, sink, err := telemetry.New(serviceName)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	clock := auth.SystemClock{}

	tokens, err := storage.NewCachedTokenStore(a.store, a.cfg.Cache.BlockedTokens, clock, log, m)
	if err != nil {
		return err
	}
	defer tokens.Close()

	svc := service.New(log, a.cfg.Auth, tokens, a.store, clock, m)

	if flagAdminEmail != "" {
		if err := ensureAdmin(ctx, svc, flagAdminEmail, flagAdminPassword); err != nil {
			return err
		}
	}

	if a.cfg.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}

	h, err := handler.NewHandler(svc, a.cfg.Auth, a.cfg.RateLimit, sink, log)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         a.cfg.HTTPServer.Address,
		Handler:      h.InitRoutes(),
		ReadTimeout:  a.cfg.HTTPServer.ReadTimeout,
		WriteTimeout: a.cfg.HTTPServer.WriteTimeout,
		IdleTimeout:  a.cfg.HTTPServer.IdleTimeout,
	}

	sw := sweeper.New(tokens, clock, a.cfg.Sweep.Interval, log, m)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return sw.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server stopped with error", slog.Any("error", err))
		return err
	}

	log.Info("server stopped")

	return nil
}

func ensureAdmin(ctx context.Context, svc *service.AuthService, email, password string) error {
	_, err := svc.CreateUser(ctx, service.NewUser{
		Email:    email,
		Password: password,
		Roles:    []models.Role{models.RoleUser, models.RoleAdmin},
	})
	if kind, _ := service.KindOf(err); kind == service.KindUserExists {
		return nil
	}
	return err
}

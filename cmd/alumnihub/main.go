package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alumnihub/alumnihub/internal/config"
	"github.com/alumnihub/alumnihub/internal/database"
	"github.com/alumnihub/alumnihub/internal/logging"
	"github.com/alumnihub/alumnihub/internal/metrics"
	"github.com/alumnihub/alumnihub/internal/push"
	"github.com/alumnihub/alumnihub/internal/runlock"
	"github.com/alumnihub/alumnihub/internal/server"
)

const usage = `usage: alumnihub [command]

commands:
  serve         run the HTTP server and daily reminder scheduler (default)
  notify        run the event reminders once (-date YYYY-MM-DD)
  rotate-keys   re-encrypt stored subscriptions under ALUMNIHUB_KEK_CURRENT
  vapid-keys    print a new VAPID key pair
`

func main() {
	cmd, args := "serve", os.Args[1:]
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	if cmd == "vapid-keys" {
		pub, priv, err := push.GenerateVAPIDKeys()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Printf("VAPID_PUBLIC_KEY=%s\nVAPID_PRIVATE_KEY=%s\n", pub, priv)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	switch cmd {
	case "serve":
		err = runServe(cfg, logger)
	case "notify":
		err = runNotify(cfg, logger, args)
	case "rotate-keys":
		err = runRotateKeys(cfg, logger)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		slog.Error(cmd+" failed", "error", err)
		os.Exit(1)
	}
}

// app holds what every command needs.
type app struct {
	db    *sql.DB
	srv   *server.Server
	redis *redis.Client
}

func (a *app) Close() {
	if a.redis != nil {
		a.redis.Close()
	}
	a.db.Close()
}

func openApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	keys, err := cfg.Keyring()
	if err != nil {
		return nil, err
	}

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a := &app{db: db}

	var transport push.Transport
	if cfg.PushEnabled() {
		transport = push.NewWebPushTransport(cfg.Push, nil)
	} else {
		logger.Warn("VAPID keys not set, reminder sending disabled")
	}

	var lock runlock.Locker
	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		lock = runlock.NewRedis(a.redis, "alumnihub:lock:")
		logger.Info("using redis run lock", "addr", cfg.RedisAddr)
	}

	a.srv = server.New(db, cfg, keys, transport, lock, logger)
	return a, nil
}

func runServe(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	var schedule *push.Schedule
	if sched := a.srv.PushScheduler(); sched != nil {
		schedule, err = sched.Start(ctx)
		if err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// The admin trigger runs a full reminder pass inline.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", metrics.Handler())
		metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server error", "error", err)
			}
		}()
	}

	// Background cleanup
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				a.srv.RateLimiter().Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("alumnihub starting", "addr", httpServer.Addr, "tz", cfg.Location.String())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var errs []error
	if schedule != nil {
		errs = append(errs, a.srv.PushScheduler().Shutdown(shutdownCtx, schedule))
	}
	errs = append(errs, httpServer.Shutdown(shutdownCtx))
	if metricsServer != nil {
		errs = append(errs, metricsServer.Shutdown(shutdownCtx))
	}
	return errors.Join(errs...)
}

func runNotify(cfg *config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("notify", flag.ContinueOnError)
	date := fs.String("date", "", "reference date YYYY-MM-DD in the configured zone (default today)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	// No signal handling: a reminder run stops only when the process dies.
	ctx := context.Background()

	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	orch := a.srv.Orchestrator()
	if orch == nil {
		return errors.New("VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY are required to send reminders")
	}

	var result push.RunResult
	if *date != "" {
		day, perr := time.ParseInLocation(time.DateOnly, *date, cfg.Location)
		if perr != nil {
			return fmt.Errorf("invalid -date: %w", perr)
		}
		result, err = orch.Run(ctx, day)
	} else {
		result, err = orch.Trigger(ctx)
	}
	if err != nil {
		return err
	}
	return printJSON(result)
}

func runRotateKeys(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.srv.Registry().RotateKeys(ctx)
	if err != nil {
		return err
	}
	return printJSON(result)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"putprobe/internal/auth"
	"putprobe/internal/sink"
	"putprobe/internal/storage"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
)

// getenv returns the value of the environment variable named by key or
// fallback if the variable is not present.
func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func Run(ctx context.Context) error {

	listen := flag.String("listen", "9000", "HTTP listen port")
	region := flag.String("region", "us-east-1", "region reported to clients and required in signatures")
	status := flag.Int("status", http.StatusOK, "status answered to every PUT")
	body := flag.String("body", "", "response body for every PUT (an S3 error document when empty and status is not 2xx)")
	accessKey := flag.String("access-key", getenv("PUTPROBE_ACCESS_KEY", ""), "access key; enables signature verification together with -secret-key")
	secretKey := flag.String("secret-key", getenv("PUTPROBE_SECRET_KEY", ""), "secret key")
	dataDir := flag.String("data-dir", "", "directory to keep received objects in (memory when empty)")
	logLevel := flag.String("log-level", "debug", "log level (debug, info, warn, error)")

	flag.Parse()

	level, err := log.ParseLevel(*logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", *logLevel, err)
	}

	handler := log.NewWithOptions(os.Stdout, log.Options{
		Level:           level,
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
		TimeFunction:    log.NowUTC,
		ReportCaller:    true,
	})

	slog.SetDefault(slog.New(handler))

	cfg := sink.Config{
		Region: *region,
		Status: *status,
		Body:   *body,
	}

	switch {
	case *accessKey != "" && *secretKey != "":
		cfg.Authenticator = auth.NewAwsHmacAuthEngine(*accessKey, *secretKey, *region)
		slog.Info("Signature verification enabled", "access_key", *accessKey, "region", *region)
	case *accessKey != "" || *secretKey != "":
		return errors.New("-access-key and -secret-key must be given together")
	default:
		slog.Info("Signature verification disabled; every request is accepted")
	}

	if *dataDir != "" {
		// Ensure data directory is absolute for easier debugging.
		absDataDir, err := filepath.Abs(*dataDir)
		if err != nil {
			return fmt.Errorf("failed to resolve data directory: %w", err)
		}

		engine, err := storage.NewDiskStorage(absDataDir)
		if err != nil {
			return err
		}
		cfg.Engine = engine
		slog.Info("Keeping received objects on disk", "data_dir", absDataDir)
	}

	server, err := sink.NewServer(cfg)
	if err != nil {
		return fmt.Errorf("failed to create sink server: %w", err)
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", *listen),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 20 * time.Second,
		ReadTimeout:       20 * time.Second,
		WriteTimeout:      20 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	eg.Go(func() error {
		slog.Info("Starting sink HTTP server", "port", *listen, "status", cfg.Status)
		err := httpServer.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	return eg.Wait()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := Run(ctx); err != nil {
		slog.Error("Sink exited with error", "error", err)
		os.Exit(1)
	}
}

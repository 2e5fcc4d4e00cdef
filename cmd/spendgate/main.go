package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kailas-cloud/spendgate/internal/config"
	dbRedis "github.com/kailas-cloud/spendgate/internal/db/redis"
	"github.com/kailas-cloud/spendgate/internal/domain/pricing"
	logpkg "github.com/kailas-cloud/spendgate/internal/logger"
	"github.com/kailas-cloud/spendgate/internal/metrics"
	"github.com/kailas-cloud/spendgate/internal/repository/ledger"
	"github.com/kailas-cloud/spendgate/internal/tokenizer"
	chiTransport "github.com/kailas-cloud/spendgate/internal/transport/chi"
	openaiProbe "github.com/kailas-cloud/spendgate/internal/transport/openai"
	"github.com/kailas-cloud/spendgate/internal/transport/upstream"
	"github.com/kailas-cloud/spendgate/internal/usecase/accounting"
	admissionuc "github.com/kailas-cloud/spendgate/internal/usecase/admission"
	completionuc "github.com/kailas-cloud/spendgate/internal/usecase/completion"
	healthuc "github.com/kailas-cloud/spendgate/internal/usecase/health"
	usageuc "github.com/kailas-cloud/spendgate/internal/usecase/usage"
	"github.com/kailas-cloud/spendgate/internal/version"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "-version" {
		fmt.Println(version.String())
		return
	}

	if err := config.LoadDotEnv(".env"); err != nil {
		panic(err.Error())
	}

	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	logger, logFile := logpkg.WithFile(logger, logpkg.FileConfig{
		Path:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	defer func() {
		_ = logger.Sync()
		_ = logFile.Close()
	}()

	logger.Info("Starting spendgate proxy",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("db_driver", cfg.Database.Driver),
		zap.Strings("db_addrs", cfg.Database.Addrs),
		zap.String("upstream", cfg.Upstream.BaseURL),
		zap.Float64("daily_limit_usd", cfg.Budget.DailyLimitUSD),
	)

	// Redis and Valkey speak the same protocol; one rueidis store serves both.
	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Database.Addrs,
		Username: cfg.Database.Username,
		Password: cfg.Database.Password,
		DB:       cfg.Database.DB,
	})
	if err != nil {
		logger.Fatal("Failed to create database store", zap.Error(err))
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Database not ready", zap.Error(err))
	}
	logger.Info("Connected to spend ledger")

	// Register proxy metrics explicitly (no init())
	metrics.RegisterProxyMetrics()

	counter, err := tokenizer.New(cfg.Tokenizer.Encoding,
		tokenizer.WithOverheads(*cfg.Tokenizer.MessageOverhead, *cfg.Tokenizer.PrimingOverhead))
	if err != nil {
		logger.Fatal("Failed to load tokenizer", zap.Error(err))
	}

	prices := buildPriceTable(cfg.Pricing)

	spend := ledger.New(store, time.Duration(cfg.Budget.RecordTTLHours)*time.Hour).
		WithPrefix(cfg.Budget.KeyPrefix)

	client := upstream.New(upstream.Config{
		BaseURL:         cfg.Upstream.BaseURL,
		CompletionsPath: cfg.Upstream.CompletionsPath,
		APIKey:          cfg.Upstream.APIKey,
		ConnectTimeout:  time.Duration(cfg.Upstream.ConnectTimeoutSec) * time.Second,
		ReadTimeout:     time.Duration(cfg.Upstream.ReadTimeoutSec) * time.Second,
		WriteTimeout:    time.Duration(cfg.Upstream.WriteTimeoutSec) * time.Second,
		PoolTimeout:     time.Duration(cfg.Upstream.PoolTimeoutSec) * time.Second,
	})
	defer client.Close()

	// Pass nil interface (not typed nil pointer!) when the probe is disabled.
	var upstreamChecker healthuc.UpstreamChecker
	if cfg.Upstream.HealthCheck {
		prober := openaiProbe.NewProber(&openaiProbe.Config{
			APIKey:     cfg.Upstream.APIKey,
			BaseURL:    cfg.Upstream.ModelsBaseURL,
			HTTPClient: &http.Client{Transport: client.HTTPClient().Transport, Timeout: 10 * time.Second},
		})
		upstreamChecker = prober
		go reportUnpricedModels(prober, prices, logger)
	}

	// Use case services
	scheduler := accounting.NewScheduler()
	accountant := accounting.New(spend, prices, counter, scheduler, logger)
	gate := admissionuc.New(spend, cfg.Budget.DailyLimitUSD, logger)
	completionSvc := completionuc.New(client, counter, accountant, logger)
	usageSvc := usageuc.New(spend, cfg.Budget.DailyLimitUSD)
	healthSvc := healthuc.New(store, upstreamChecker, logger)

	server := chiTransport.NewServer(gate, completionSvc, usageSvc, healthSvc, logger).
		WithMaxBodyBytes(cfg.HTTP.MaxBodyBytes)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKey, cfg.Auth.User))
	r.Use(metrics.Middleware())
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, http.StatusNotFound, "not_found", "not found")
	})
	server.Routes(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		ReadTimeout:       time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout:      time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	// Streams that finished during shutdown still owe a settlement.
	if err := scheduler.Wait(shutdownCtx); err != nil {
		logger.Error("Pending settlements lost", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// buildPriceTable overlays configured prices on the built-in table.
func buildPriceTable(cfg config.PricingConfig) *pricing.Table {
	overrides := make(map[string]pricing.Price, len(cfg.Models))
	for model, p := range cfg.Models {
		overrides[model] = pricing.Price{Input: p.Input, Output: p.Output}
	}
	var fallback *pricing.Price
	if cfg.Default != nil {
		fallback = &pricing.Price{Input: cfg.Default.Input, Output: cfg.Default.Output}
	}
	return pricing.NewTable(overrides, fallback)
}

// modelLister is the part of the upstream prober used at startup.
type modelLister interface {
	Models(ctx context.Context) ([]string, error)
}

// reportUnpricedModels warns once about upstream models billed at the default price.
func reportUnpricedModels(lister modelLister, prices *pricing.Table, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	models, err := lister.Models(ctx)
	if err != nil {
		logger.Warn("Could not list upstream models", zap.Error(err))
		return
	}

	var unpriced int
	for _, m := range models {
		if !prices.Known(m) {
			unpriced++
		}
	}
	if unpriced > 0 {
		def := prices.Fallback()
		logger.Warn("Upstream models without an explicit price use the default",
			zap.Int("unpriced", unpriced),
			zap.Int("total", len(models)),
			zap.Float64("default_input_per_1k", def.Input),
			zap.Float64("default_output_per_1k", def.Output),
		)
	}
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"code":    code,
		"message": message,
	})
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					if rvr == http.ErrAbortHandler { //nolint:errorlint // sentinel panic value
						panic(rvr)
					}
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					writeJSONError(w, http.StatusInternalServerError, "internal_error", "internal error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())

			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			// The wrapper keeps http.Flusher, so event streams pass through unbuffered.
			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line: one per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}

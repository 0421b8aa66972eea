package main

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Erizki0712/uas-aggregator/common/broker"
	"github.com/Erizki0712/uas-aggregator/common/logger"
	"github.com/Erizki0712/uas-aggregator/common/metrics"
)

type App struct {
	config          Config
	logger          *zap.Logger
	broker          *broker.Client
	store           *PostgresStore
	httpMetrics     *metrics.HTTPMetrics
	pipelineMetrics *metrics.PipelineMetrics
	httpServer      *http.Server
	startTime       time.Time

	cancelConsumer context.CancelFunc
	consumerDone   sync.WaitGroup
}

type Config struct {
	ServiceName string
	HTTPAddr    string
	BrokerURL   string
	DatabaseURL string
}

func NewApp(config Config) *App {
	return &App{
		config: config,
		logger: logger.NewLogger(config.ServiceName),
	}
}

// Start wires the pipeline and blocks serving HTTP. Order matters:
// schema first, then the consumer, then the listener, so no envelope can
// be dequeued before the table and its unique constraint exist.
func (a *App) Start(ctx context.Context) error {
	// 1. Connect store and initialize schema (fatal on failure)
	store, err := NewPostgresStore(a.config.DatabaseURL)
	if err != nil {
		return err
	}
	a.store = store

	if err := a.store.InitSchema(ctx); err != nil {
		return err
	}
	a.logger.Info("store schema ready")

	// 2. Connect broker (fatal if unreachable at startup)
	b, err := broker.Connect(a.config.BrokerURL)
	if err != nil {
		return err
	}
	a.broker = b
	a.logger.Info("connected to broker", zap.String("url", a.config.BrokerURL))

	// 3. Initialize Prometheus metrics
	a.httpMetrics = metrics.NewHTTPMetrics(a.config.ServiceName)
	a.pipelineMetrics = metrics.NewPipelineMetrics(a.config.ServiceName)

	// 4. Capture the start instant for uptime_seconds
	a.startTime = time.Now()

	// 5. Spawn the consumer loop
	consumerCtx, cancel := context.WithCancel(context.Background())
	a.cancelConsumer = cancel

	consumer := NewConsumer(a.broker, a.store, a.pipelineMetrics, a.logger)
	a.consumerDone.Add(1)
	go func() {
		defer a.consumerDone.Done()
		consumer.Run(consumerCtx)
	}()

	// 6. Setup HTTP server
	mux := http.NewServeMux()
	handler := NewHandler(a.broker, a.store, a.pipelineMetrics, a.logger, a.startTime)
	handler.registerRoute(mux)

	// Add /metrics endpoint for Prometheus scraping
	mux.Handle("GET /metrics", promhttp.Handler())

	a.httpServer = &http.Server{
		Addr:    a.config.HTTPAddr,
		Handler: a.metricsMiddleware(mux),
	}

	a.logger.Info("starting http server", zap.String("addr", a.config.HTTPAddr))
	if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting HTTP work, then cancels the consumer, which
// observes the cancellation at its next dequeue-return boundary.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down gracefully")

	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(ctx); err != nil {
			a.logger.Error("http server shutdown error", zap.Error(err))
		}
	}

	if a.cancelConsumer != nil {
		a.cancelConsumer()
		a.consumerDone.Wait()
	}

	if a.broker != nil {
		if err := a.broker.Close(); err != nil {
			a.logger.Error("broker close error", zap.Error(err))
		}
	}

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Error("store close error", zap.Error(err))
		}
	}

	return nil
}

// metricsMiddleware wraps HTTP handlers to record Prometheus metrics
func (a *App) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Don't record metrics for /metrics endpoint itself
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()

		recorder := &responseRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(recorder, r)

		duration := time.Since(start)
		status := strconv.Itoa(recorder.statusCode)
		a.httpMetrics.RecordHTTPRequest(r.Method, r.URL.Path, status, duration)
	})
}

// responseRecorder wraps http.ResponseWriter to capture status code
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *responseRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}

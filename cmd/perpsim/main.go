package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"PerpSim/internal/core"
	"PerpSim/internal/observability"
	"PerpSim/internal/outbound"
	"PerpSim/internal/persistence"
	"PerpSim/internal/report"
	"PerpSim/internal/sim"
)

// Config holds all application configuration, loaded from environment
// variables with defaults.
type Config struct {
	ScenarioPath string
	ReportPath   string

	HTTPAddr    string
	MetricsAddr string

	// Optional integrations; empty disables them.
	PostgresDSN string
	NATSURL     string

	MigrationsDir string

	OutputChanSize      int
	PersistBatchSize    int
	PersistFlushTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		ScenarioPath:        envOrDefault("PERPSIM_SCENARIO", "scenario.json"),
		ReportPath:          envOrDefault("PERPSIM_REPORT", "report.json"),
		HTTPAddr:            envOrDefault("PERPSIM_HTTP_ADDR", ":8080"),
		MetricsAddr:         envOrDefault("PERPSIM_METRICS_ADDR", ":9091"),
		PostgresDSN:         os.Getenv("PERPSIM_POSTGRES_DSN"),
		NATSURL:             os.Getenv("PERPSIM_NATS_URL"),
		MigrationsDir:       envOrDefault("PERPSIM_MIGRATIONS_DIR", "migrations"),
		OutputChanSize:      envIntOrDefault("PERPSIM_OUTPUT_CHAN_SIZE", 1024),
		PersistBatchSize:    envIntOrDefault("PERPSIM_PERSIST_BATCH_SIZE", 50),
		PersistFlushTimeout: 10 * time.Millisecond,
	}
}

func main() {
	log := observability.NewLogger("main")
	cfg := DefaultConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	health := observability.NewHealthChecker()

	// --- Metrics & health server ---
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsMux.HandleFunc("/healthz", health.LivenessHandler)
	metricsMux.HandleFunc("/readyz", health.ReadinessHandler)
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("metrics server")
		}
	}()

	// --- Scenario ---
	scenario, err := sim.LoadScenario(cfg.ScenarioPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.ScenarioPath).Msg("load scenario")
	}
	log.Info().
		Str("market", scenario.Market).
		Int("accounts", len(scenario.Accounts)).
		Int("events", len(scenario.Events)).
		Msg("scenario loaded")

	// --- Optional Postgres audit trail ---
	var db *sql.DB
	if cfg.PostgresDSN != "" {
		db, err = sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("postgres open")
		}
		defer db.Close()
		db.SetMaxOpenConns(10)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			log.Fatal().Err(err).Msg("postgres ping")
		}
		if err := persistence.NewMigrator(db, cfg.MigrationsDir).Up(ctx); err != nil {
			log.Fatal().Err(err).Msg("migrations")
		}
	}

	// --- Optional NATS outbound ---
	var js jetstream.JetStream
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("perpsim"))
		if err != nil {
			log.Fatal().Err(err).Msg("nats connect")
		}
		defer nc.Close()

		js, err = jetstream.New(nc)
		if err != nil {
			log.Fatal().Err(err).Msg("jetstream")
		}
		if err := outbound.EnsureStream(ctx, js); err != nil {
			log.Fatal().Err(err).Msg("outbound stream")
		}
	}

	// --- Output fanout ---
	outputs := make(chan core.Output, cfg.OutputChanSize)

	var consumers []chan core.Output
	var workers sync.WaitGroup

	if db != nil {
		persistChan := make(chan core.Output, cfg.OutputChanSize)
		consumers = append(consumers, persistChan)
		worker := persistence.NewWorker(db, persistChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout, metrics)
		workers.Add(1)
		go func() {
			defer workers.Done()
			worker.Run(ctx)
		}()
	}
	if js != nil {
		publishChan := make(chan core.Output, cfg.OutputChanSize)
		consumers = append(consumers, publishChan)
		publisher := outbound.NewPublisher(js, publishChan, metrics)
		workers.Add(1)
		go func() {
			defer workers.Done()
			publisher.Run(ctx)
		}()
	}

	workers.Add(1)
	go func() {
		defer workers.Done()
		for out := range outputs {
			for _, ch := range consumers {
				ch <- out
			}
		}
		for _, ch := range consumers {
			close(ch)
		}
	}()

	// --- Run ---
	exchange, err := sim.BuildCore(scenario, outputs, metrics)
	if err != nil {
		log.Fatal().Err(err).Msg("build core")
	}

	start := time.Now()
	stats, err := sim.NewDriver(exchange).Run(scenario.Events)
	if err != nil {
		log.Fatal().Err(err).Msg("scenario run")
	}
	log.Info().
		Int("applied", stats.Applied).
		Int("skipped", stats.Skipped).
		Int64("sequence", exchange.Sequence()).
		Dur("elapsed", time.Since(start)).
		Msg("scenario complete")

	close(outputs)
	workers.Wait()

	// --- Report ---
	result, err := report.Build(scenario.Market, exchange)
	if err != nil {
		log.Fatal().Err(err).Msg("build report")
	}
	if err := report.Write(result, cfg.ReportPath); err != nil {
		log.Fatal().Err(err).Msg("write report")
	}
	log.Info().Str("path", cfg.ReportPath).Msg("report written")

	// --- Read-only API over the finished run ---
	api := report.NewAPI(result, metrics)
	apiSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: api.Router()}
	go func() {
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("api server")
		}
	}()
	health.SetReady(true)
	log.Info().Str("addr", cfg.HTTPAddr).Msg("query api serving")

	<-sigChan
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	apiSrv.Shutdown(shutdownCtx)
	metricsSrv.Shutdown(shutdownCtx)
	cancel()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var i int
	if _, err := fmt.Sscanf(v, "%d", &i); err != nil {
		return defaultVal
	}
	return i
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/citewatch/citewatch/internal/archive"
	"github.com/citewatch/citewatch/internal/config"
	"github.com/citewatch/citewatch/internal/dispatch"
	"github.com/citewatch/citewatch/internal/engine"
	"github.com/citewatch/citewatch/internal/events"
	"github.com/citewatch/citewatch/internal/jobs"
	"github.com/citewatch/citewatch/internal/notify"
	"github.com/citewatch/citewatch/internal/probe"
	"github.com/citewatch/citewatch/internal/scheduler"
	"github.com/citewatch/citewatch/internal/store"
)

func main() {
	// Load environment variables from .env file if it exists
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logrus.SetLevel(logrus.InfoLevel)
	if cfg.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	logrus.SetFormatter(&logrus.JSONFormatter{})

	logrus.Info("Starting Citewatch pipeline")

	if err := store.RunMigrations(cfg.DatabaseURL); err != nil {
		logrus.Fatalf("Failed to run migrations: %v", err)
	}

	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		logrus.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	st := store.New(db)

	prober := probe.NewClient(cfg.ProbeBaseURL, cfg.ProbeAPIKey, cfg.ProbeTimeout)

	var arc archive.Archive = archive.Disabled{}
	if cfg.StorageAccount != "" {
		arc, err = archive.NewAzureArchive(cfg.StorageAccount, cfg.StorageContainer)
		if err != nil {
			logrus.Fatalf("Failed to initialize archive: %v", err)
		}
	}

	var bus events.Bus
	if cfg.RedisAddr != "" {
		bus, err = events.NewRedisBus(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisStream)
		if err != nil {
			logrus.Fatalf("Failed to connect to Redis: %v", err)
		}
		logrus.Infof("Using Redis stream %s for events", cfg.RedisStream)
	} else {
		bus = events.NewChannelBus()
		logrus.Info("No REDIS_ADDR configured, using the in-process event bus")
	}
	defer bus.Close()

	var email notify.EmailSender
	if cfg.EmailEnabled() {
		email = notify.NewEmailService(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom)
	} else {
		logrus.Warn("SMTP not configured, email notifications are disabled")
	}

	dispatcher := dispatch.New(st, email, notify.NewWebhookService())
	if err := bus.Subscribe(context.Background(), dispatcher.Handle); err != nil {
		logrus.Fatalf("Failed to subscribe dispatcher: %v", err)
	}

	eng := engine.New(st, cfg.RunRetries, cfg.RetryDelay)
	pipeline := jobs.New(st, prober, bus, eng, arc, cfg.ProbeRateDelay, cfg.DropThreshold)

	schedulerService := scheduler.NewService(pipeline)
	if err := schedulerService.Start(); err != nil {
		logrus.Fatalf("Failed to start scheduler: %v", err)
	}
	defer schedulerService.Stop()

	// HTTP server for health, run status, metrics and manual triggers
	router := mux.NewRouter()
	router.HandleFunc("/health", healthCheckHandler(st)).Methods("GET")
	router.HandleFunc("/status", statusHandler(st)).Methods("GET")
	router.HandleFunc("/benchmarks/{period}/{category}", benchmarkHandler(st)).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	router.HandleFunc("/trigger/{job}", triggerHandler(pipeline)).Methods("POST")

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logrus.Infof("HTTP server starting on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logrus.Errorf("Server forced to shutdown: %v", err)
	}

	logrus.Info("Server exited")
}

func healthCheckHandler(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if err := st.Ping(r.Context()); err != nil {
			logrus.Errorf("Health check database ping failed: %v", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","timestamp":"` + time.Now().Format(time.RFC3339) + `"}`))
			return
		}

		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","timestamp":"` + time.Now().Format(time.RFC3339) + `"}`))
	}
}

// statusHandler reports the latest run per job.
func statusHandler(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runs, err := st.RunStatuses(r.Context())
		if err != nil {
			logrus.Errorf("Failed to load run statuses: %v", err)
			http.Error(w, `{"error":"failed to load run statuses"}`, http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(runs); err != nil {
			logrus.Errorf("Failed to encode run statuses: %v", err)
		}
	}
}

// benchmarkHandler serves one stored (period, category) rollup.
func benchmarkHandler(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		b, err := st.GetBenchmark(r.Context(), vars["period"], vars["category"])
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, `{"error":"benchmark not found"}`, http.StatusNotFound)
			return
		}
		if err != nil {
			logrus.Errorf("Failed to load benchmark %s/%s: %v", vars["period"], vars["category"], err)
			http.Error(w, `{"error":"failed to load benchmark"}`, http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(b); err != nil {
			logrus.Errorf("Failed to encode benchmark: %v", err)
		}
	}
}

// triggerHandler starts one pipeline out of schedule. The run executes in the
// background; its dedupe key still applies, so triggering an already-completed
// period is a no-op.
func triggerHandler(pipeline *jobs.Pipeline) http.HandlerFunc {
	triggers := map[string]func(ctx context.Context) error{
		"daily":   pipeline.RunDaily,
		"hourly":  pipeline.RunHourly,
		"weekly":  pipeline.RunWeekly,
		"monthly": pipeline.RunMonthly,
	}

	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["job"]
		run, ok := triggers[name]
		if !ok {
			http.Error(w, `{"error":"unknown job"}`, http.StatusNotFound)
			return
		}

		go func() {
			if err := run(context.Background()); err != nil {
				logrus.Errorf("Manual %s trigger failed: %v", name, err)
			}
		}()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"message":"` + name + ` run triggered"}`))
	}
}

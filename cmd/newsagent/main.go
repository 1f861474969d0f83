// Package main contains the entrypoint for the news agent.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"newsagent/internal/ai"
	"newsagent/internal/config"
	"newsagent/internal/database"
	"newsagent/internal/intent"
	"newsagent/internal/logger"
	"newsagent/internal/memory"
	"newsagent/internal/orchestrator"
	"newsagent/internal/scheduler"
	"newsagent/internal/search"
	"newsagent/internal/tasks"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run initializes all components (config, logger, db, ai client, search
// client, memory, orchestrator, scheduler), drives the transport loop,
// handles graceful shutdown, and returns an exit code.
func run(ctx context.Context) int {
	configPath := flag.String("config", "./config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.NewLogger(cfg.LogLevel, cfg.LogJSON)
	log.Info("Logger initialized", "level", cfg.LogLevel, "json", cfg.LogJSON)

	db, err := database.NewDB(cfg.DBPath)
	if err != nil {
		log.Error("Failed to connect to database", "path", cfg.DBPath, "error", err)
		return 1
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log)

	classifier := intent.NewClassifier(cfg.IntentRulesPath, log)

	aiClient, err := ai.NewClient(cfg, log)
	if err != nil {
		log.Error("Failed to initialize AI client", "error", err)
		return 1
	}

	searcher, err := search.NewQdrantClient(&cfg.Search, aiClient, log)
	if err != nil {
		log.Error("Failed to create search client", "error", err)
		return 1
	}
	defer func() {
		if closeErr := searcher.Close(); closeErr != nil {
			log.Warn("Error closing search client", "error", closeErr)
		}
	}()

	if err := searcher.Connect(ctx); err != nil {
		log.Error("Failed to connect to search backend", "error", err)
		return 1
	}

	mem := memory.New(store, cfg.ContextWindow, log)
	agent := orchestrator.New(classifier, mem, store, searcher, aiClient, cfg, log)

	sched, err := scheduler.New(log, &cfg.Scheduler, tasks.RegisterAllTasks(tasks.TaskDeps{
		Logger: log,
		Store:  store,
		Config: cfg,
	}))
	if err != nil {
		log.Error("Failed to create scheduler", "error", err)
		return 1
	}
	if err := sched.Start(); err != nil {
		log.Error("Failed to start scheduler", "error", err)
		return 1
	}
	defer func() {
		if stopErr := sched.Stop(); stopErr != nil {
			log.Warn("Error stopping scheduler", "error", stopErr)
		}
	}()

	group, groupCtx := errgroup.WithContext(ctx)

	if cfg.MetricsAddr != "" {
		group.Go(func() error {
			return serveMetrics(groupCtx, log, cfg.MetricsAddr)
		})
	}

	group.Go(func() error {
		return classifier.Watch(groupCtx)
	})

	group.Go(func() error {
		return transportLoop(groupCtx, log, agent, os.Stdin, os.Stdout, cfg.Messages.GeneralError)
	})

	log.Info("News agent started")
	runErr := group.Wait()
	log.Info("Run loop finished. Initiating shutdown...")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Agent stopped due to error", "error", runErr)
		time.Sleep(time.Second)
		return 1
	}

	log.Info("Agent stopped gracefully.")
	return 0
}

// transportLoop reads "contact: message" lines from in and prints
// replies to out. The production transport delivers messages externally;
// this loop exists for local operation.
func transportLoop(ctx context.Context, log *slog.Logger, agent *orchestrator.Orchestrator,
	in io.Reader, out io.Writer, errText string,
) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 64*1024)

	lines := make(chan string)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case line, ok := <-lines:
			if !ok {
				log.Info("Input closed, stopping transport loop")
				return nil
			}

			contact, message, found := strings.Cut(line, ":")
			if !found {
				fmt.Fprintln(out, "expected input of the form 'contact: message'")
				continue
			}

			reply, err := agent.HandleMessage(ctx, strings.TrimSpace(contact), strings.TrimSpace(message))
			if err != nil {
				log.Error("Failed to handle message", "error", err)
				fmt.Fprintln(out, errText)
				continue
			}
			fmt.Fprintf(out, "%s\n\n", reply)
		}
	}
}

// serveMetrics exposes Prometheus metrics until ctx is cancelled.
func serveMetrics(ctx context.Context, log *slog.Logger, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("Metrics server shutdown error", "error", err)
		}
	}()

	log.Info("Serving metrics", "addr", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server failed: %w", err)
	}
	return nil
}

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tonari-ai/mna-hearing/internal/config"
	"github.com/tonari-ai/mna-hearing/internal/handler"
	"github.com/tonari-ai/mna-hearing/internal/hub"
	"github.com/tonari-ai/mna-hearing/internal/model/project"
	"github.com/tonari-ai/mna-hearing/internal/oracle"
	"github.com/tonari-ai/mna-hearing/internal/service/extraction"
	"github.com/tonari-ai/mna-hearing/internal/service/pipeline"
	"github.com/tonari-ai/mna-hearing/internal/service/registry"
	"github.com/tonari-ai/mna-hearing/internal/service/suggestion"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	projectStore := project.NewMemoryStore(nil)
	sessionRegistry := registry.NewService()

	// The analysis oracle degrades gracefully: without Ark credentials
	// the service still ingests and stores utterances, it just never
	// produces automatic extractions or suggestions.
	var analysisOracle oracle.Oracle
	arkOracle, err := oracle.NewArkOracle(ctx, cfg.AI)
	switch {
	case err == nil:
		analysisOracle = arkOracle
		log.Println("analysis oracle initialized successfully")
	case errors.Is(err, oracle.ErrUnavailable):
		log.Println("Ark credentials not configured, continuing without automatic analysis")
	default:
		log.Printf("warning: failed to initialize analysis oracle: %v", err)
		log.Println("continuing without automatic analysis")
	}

	extractor := extraction.NewService(analysisOracle)
	suggester := suggestion.NewService(analysisOracle)

	broadcastHub := hub.New()
	pipe := pipeline.NewService(sessionRegistry, extractor, suggester, broadcastHub, cfg.Pipeline)

	router := handler.NewRouter(projectStore, sessionRegistry, extractor, pipe, broadcastHub, cfg.Pipeline)

	startServer(ctx, cfg.Server, router)

	// Drain in-flight analysis cycles before exiting.
	pipe.Wait()
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("mna-hearing backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

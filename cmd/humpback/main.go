// Command humpback runs the hybrid search service: the HTTP API, the
// content-sync queue worker, and optionally an MCP stdio server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/meilisearch/meilisearch-go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/humpbacklabs/humpback/internal/analytics"
	"github.com/humpbacklabs/humpback/internal/config"
	"github.com/humpbacklabs/humpback/internal/index"
	"github.com/humpbacklabs/humpback/internal/mcp"
	"github.com/humpbacklabs/humpback/internal/provider"
	"github.com/humpbacklabs/humpback/internal/search"
	"github.com/humpbacklabs/humpback/internal/server"
	"github.com/humpbacklabs/humpback/internal/store"
	"github.com/humpbacklabs/humpback/internal/syncjob"
)

const version = "0.1.0"

func main() {
	mode := "serve"
	if len(os.Args) > 1 {
		mode = os.Args[1]
	}

	switch mode {
	case "serve":
		if err := runServe(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "mcp":
		if err := runMCP(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "version", "--version", "-v":
		fmt.Printf("humpback %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", mode)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`humpback - hybrid semantic + keyword search service

Usage:
  humpback serve     Run the HTTP API and the content-sync worker (default)
  humpback mcp       Serve the search tool over MCP stdio
  humpback version   Print the version`)
}

// deps holds the wired collaborators shared by serve and mcp modes.
type deps struct {
	cfg          *config.Config
	log          *slog.Logger
	store        store.Store
	qdrantConn   *grpc.ClientConn
	vector       *index.VectorIndex
	keyword      *index.KeywordIndex
	sink         analytics.Sink
	embedder     provider.Embedder
	orchestrator *search.Orchestrator
}

func (d *deps) close() {
	if d.sink != nil {
		d.sink.Close()
	}
	if d.qdrantConn != nil {
		d.qdrantConn.Close()
	}
	if d.store != nil {
		d.store.Close()
	}
}

func wire(ctx context.Context) (*deps, error) {
	// Missing .env is fine; real deployments use the environment.
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("HUMPBACK_CONFIG"))
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(log)

	d := &deps{cfg: cfg, log: log}

	d.store, err = store.NewStore(cfg.Store.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	d.qdrantConn, err = grpc.NewClient(cfg.Qdrant.Addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		d.close()
		return nil, fmt.Errorf("connecting to qdrant: %w", err)
	}
	d.vector = index.NewVectorIndex(d.qdrantConn, cfg.Qdrant.Collection, cfg.Qdrant.Dimensions)
	if err := d.vector.EnsureCollection(ctx); err != nil {
		d.close()
		return nil, fmt.Errorf("bootstrapping vector index: %w", err)
	}

	meili := meilisearch.New(cfg.Meili.Host, meilisearch.WithAPIKey(cfg.Meili.APIKey))
	d.keyword = index.NewKeywordIndex(meili, cfg.Meili.Index)
	if err := d.keyword.EnsureIndex(ctx); err != nil {
		d.close()
		return nil, fmt.Errorf("bootstrapping keyword index: %w", err)
	}

	embedder, err := provider.NewEmbedClient(provider.EmbedConfig{
		BaseURL: cfg.OpenAI.BaseURL,
		APIKey:  cfg.OpenAI.APIKey,
		Model:   cfg.OpenAI.EmbedModel,
	})
	if err != nil {
		d.close()
		return nil, fmt.Errorf("building embedding client: %w", err)
	}
	d.embedder = embedder

	var rewriter provider.Rewriter
	if cfg.OpenAI.RewriteModel != "" {
		rw, err := provider.NewRewriteClient(provider.RewriteConfig{
			BaseURL: cfg.OpenAI.BaseURL,
			APIKey:  cfg.OpenAI.APIKey,
			Model:   cfg.OpenAI.RewriteModel,
		})
		if err != nil {
			d.close()
			return nil, fmt.Errorf("building rewrite client: %w", err)
		}
		rewriter = rw
	}

	var reranker provider.Reranker
	if cfg.Cohere.APIKey != "" {
		rr, err := provider.NewRerankClient(provider.RerankConfig{
			BaseURL: cfg.Cohere.BaseURL,
			APIKey:  cfg.Cohere.APIKey,
			Model:   cfg.Cohere.Model,
		})
		if err != nil {
			d.close()
			return nil, fmt.Errorf("building rerank client: %w", err)
		}
		reranker = rr
	}

	var backfill provider.BackfillSearcher
	if cfg.Tavily.APIKey != "" {
		bf, err := provider.NewBackfillClient(provider.BackfillConfig{
			BaseURL: cfg.Tavily.BaseURL,
			APIKey:  cfg.Tavily.APIKey,
		})
		if err != nil {
			d.close()
			return nil, fmt.Errorf("building backfill client: %w", err)
		}
		backfill = bf
	}

	d.sink = analytics.NewTinybirdSink(cfg.Tinybird.Endpoint, cfg.Tinybird.Token, log)

	d.orchestrator = search.NewOrchestrator(
		embedder, rewriter, reranker, backfill,
		d.vector, d.keyword, d.sink, log,
	)
	return d, nil
}

func runServe() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := wire(ctx)
	if err != nil {
		return err
	}
	defer d.close()

	redisOpt := asynq.RedisClientOpt{
		Addr:     d.cfg.Redis.Addr,
		Password: d.cfg.Redis.Password,
		DB:       d.cfg.Redis.DB,
	}
	policy := syncjob.DefaultRetryPolicy()

	queueClient := asynq.NewClient(redisOpt)
	defer queueClient.Close()
	dispatcher := syncjob.NewDispatcher(queueClient, policy, d.log)

	worker := syncjob.NewWorker(d.store, d.vector, d.keyword, d.embedder, d.log)
	queueSrv, mux := syncjob.NewServer(redisOpt, worker, policy, d.log)

	workerErr := make(chan error, 1)
	go func() {
		workerErr <- queueSrv.Run(mux)
	}()

	httpSrv := server.New(d.store, d.orchestrator, dispatcher, d.cfg.Server.InternalSecret, d.log)
	httpErr := make(chan error, 1)
	go func() {
		httpErr <- httpSrv.Start(d.cfg.Server.Addr)
	}()

	select {
	case <-ctx.Done():
		d.log.Info("shutting down")
	case err := <-workerErr:
		return fmt.Errorf("queue worker: %w", err)
	case err := <-httpErr:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		d.log.Error("http shutdown failed", "error", err)
	}
	queueSrv.Shutdown()
	return nil
}

func runMCP() error {
	d, err := wire(context.Background())
	if err != nil {
		return err
	}
	defer d.close()

	srv := mcp.NewServer(mcp.ServerConfig{
		Searcher: d.orchestrator,
		Keys:     d.store,
		Version:  version,
	})
	return mcp.ServeStdio(srv)
}

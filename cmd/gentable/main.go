// Command gentable runs the generative table execution core as an HTTP
// service: schema registration, row add/regen/update/delete, each
// wired through the column-graph analyzer, batch planner, row/multi-row
// executors, RAG pipeline, and quota/billing manager.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/qdrant/go-client/qdrant"

	"github.com/gentable/engine/internal/cache"
	"github.com/gentable/engine/internal/llmengine"
	"github.com/gentable/engine/internal/progress"
	"github.com/gentable/engine/internal/pyexec"
	"github.com/gentable/engine/internal/quota"
	"github.com/gentable/engine/internal/rag"
	"github.com/gentable/engine/internal/rerank"
	"github.com/gentable/engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := loadConfig()

	s, cleanup, err := buildServer(cfg, logger)
	if err != nil {
		logger.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer cleanup()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /tables", s.handleCreateTable)
	mux.HandleFunc("POST /tables/rows", s.handleAddRows)
	mux.HandleFunc("POST /tables/rows/regen", s.handleRegenRows)
	mux.HandleFunc("PATCH /tables/rows", s.handleUpdateRows)
	mux.HandleFunc("DELETE /tables/rows", s.handleDeleteRows)
	mux.HandleFunc("GET /progress/{token}", s.handleGetProgress)

	logger.Info("listening", "addr", cfg.Addr)
	if err := http.ListenAndServe(cfg.Addr, mux); err != nil {
		logger.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func buildServer(cfg Config, logger *slog.Logger) (*server, func(), error) {
	openaiEngine := llmengine.NewOpenAIEngine(cfg.OpenAIAPIKey)
	anthropicEngine := llmengine.NewAnthropicEngine(cfg.AnthropicAPIKey)
	geminiEngine, err := llmengine.NewGeminiEngine(context.Background(), cfg.GeminiAPIKey)
	if err != nil {
		return nil, nil, err
	}
	router := llmengine.NewRouter(openaiEngine, anthropicEngine, geminiEngine)
	embedder := llmengine.NewOpenAIEmbedder(cfg.OpenAIAPIKey)
	reranker := rerank.NewEmbeddingReranker(embedder)

	memStore := store.NewMemStore()

	var qdrantRetriever *store.QdrantRetriever
	qdrantClient, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.QdrantHost,
		Port:   cfg.QdrantPort,
		APIKey: cfg.QdrantAPIKey,
		UseTLS: cfg.QdrantUseTLS,
	})
	if err != nil {
		logger.Warn("qdrant unavailable, knowledge tables will use full-text retrieval only", "err", err)
	} else {
		qdrantRetriever = store.NewQdrantRetriever(qdrantClient)
	}

	retrievers := []rag.Retriever{store.Retriever{Store: memStore}}
	if qdrantRetriever != nil {
		retrievers = append(retrievers, qdrantRetriever)
	}
	ragPipeline, err := rag.NewPipeline(embedder, reranker, retrievers...)
	if err != nil {
		return nil, nil, err
	}

	pyExecRunner := pyexec.NewRunner(cfg.PythonInterpreter, cfg.PythonBudget)

	orgCache := cache.NewStore(cfg.OrgCacheSize, cfg.OrgCacheTTL)
	usageStore := cache.NewStore(cfg.OrgCacheSize, 0)
	orgStore := newOrgStoreAdapter(orgCache)
	sink := newUsageSink(usageStore, cfg.UsageFlushThreshold, cfg.UsageFlushInterval)
	quotaManager := quota.NewManager(orgStore, sink)

	progressTracker, err := progress.NewTracker(cfg.ProgressTTL, cfg.ProgressSweepCron)
	if err != nil {
		return nil, nil, err
	}

	s := &server{
		log:        logger,
		store:      memStore,
		qdrant:     qdrantRetriever,
		router:     router,
		embedder:   embedder,
		rag:        ragPipeline,
		pyExec:     pyExecRunner,
		quota:      quotaManager,
		progress:   progressTracker,
		cellBudget: cfg.CellBudget,
	}
	s.registry = newRegistry(s)

	cleanup := func() {
		sink.Close()
		progressTracker.Close()
	}
	return s, cleanup, nil
}

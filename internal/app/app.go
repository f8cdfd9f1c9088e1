// internal/app/app.go
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/markdave123-py/insightai/internal/api/handlers"
	"github.com/markdave123-py/insightai/internal/config"
	"github.com/markdave123-py/insightai/internal/core"
	db "github.com/markdave123-py/insightai/internal/core/database"
	"github.com/markdave123-py/insightai/internal/core/ingestion_engine"
	"github.com/markdave123-py/insightai/internal/core/llm"
	objectclient "github.com/markdave123-py/insightai/internal/core/object-client"
	"github.com/markdave123-py/insightai/internal/core/reporting"
	"github.com/markdave123-py/insightai/internal/core/structuring"
	"github.com/markdave123-py/insightai/internal/core/tokenizer"
	"github.com/markdave123-py/insightai/internal/core/vectorstore"
	"github.com/markdave123-py/insightai/internal/platform/logger"
	"github.com/markdave123-py/insightai/internal/platform/tracing"
	"github.com/markdave123-py/insightai/internal/services"
)

type App struct {
	Config       *config.Config
	Log          *logger.Logger
	DBClient     core.DbClient
	ObjectClient core.ObjectClient
	Vectors      core.VectorStore
	LLM          *llm.Facade
	DocProcessor ingestion_engine.Ingestor
	Server       *Server

	closers        []func() error
	tracerShutdown func(context.Context) error
}

func NewApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	if log == nil {
		log = logger.Nop()
	}
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	a := &App{Config: cfg, Log: log}
	a.tracerShutdown = tracing.Init(appCtx, log, tracing.Config{Enabled: cfg.TracingEnabled, ServiceName: "insightai"})

	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	var pg *db.DatabaseClient
	switch cfg.DBDriver {
	case "memory":
		a.DBClient = db.NewMemoryClient()
	default:
		client, err := db.NewDatabaseClient(appCtx, cfg)
		if err != nil {
			return nil, err
		}
		pg = client
		a.DBClient = client
	}
	a.closers = append(a.closers, a.DBClient.Close)
	log.Info("database initialized and ready", "driver", cfg.DBDriver)

	switch cfg.StorageDriver {
	case "local":
		client, err := objectclient.NewLocalClient(cfg.LocalStorageDir)
		if err != nil {
			return nil, err
		}
		a.ObjectClient = client
	default:
		client, err := objectclient.NewS3Client(appCtx, cfg)
		if err != nil {
			return nil, err
		}
		a.ObjectClient = client
	}
	log.Info("object client initialized and ready", "driver", cfg.StorageDriver)

	facade, err := a.buildFacade(appCtx, cfg, log)
	if err != nil {
		return nil, err
	}
	a.LLM = facade

	switch cfg.VectorBackend {
	case "memory":
		a.Vectors = vectorstore.NewMemoryStore(facade)
	case "pgvector":
		if pg == nil {
			return nil, fmt.Errorf("pgvector backend requires the postgres database driver")
		}
		a.Vectors = vectorstore.NewPgVectorStore(pg.DB(), facade, log)
	default:
		store, err := vectorstore.NewQdrantStore(vectorstore.QdrantConfig{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
		}, facade, log)
		if err != nil {
			return nil, fmt.Errorf("couldn't initialize the vector store, %w", err)
		}
		a.Vectors = store
	}
	log.Info("vector store initialized", "backend", cfg.VectorBackend)

	tok, err := tokenizer.Load(cfg.TokenizerEncoding)
	if err != nil {
		return nil, fmt.Errorf("couldn't load the tokenizer, %w", err)
	}

	var pdf core.PDFParser = ingestion_engine.LocalPDFParser{}
	if cfg.DoclingURL != "" {
		pdf = ingestion_engine.NewDoclingParser(cfg.DoclingURL, true, nil)
	}

	useReadability := false
	documentExtractor := ingestion_engine.NewDocconvExtractor(useReadability)

	structurer := structuring.NewBlockStructurer(a.DBClient, facade, structuring.Config{
		Model:       cfg.GenModel,
		BatchSize:   cfg.StructureBatchSize,
		Concurrency: cfg.StructureConcurrency,
	}, log)

	reports := reporting.NewGenerator(a.DBClient, a.Vectors, facade, reporting.Config{
		Model:       cfg.GenModel,
		Language:    cfg.ReportLanguage,
		Temperature: float32(cfg.ReportTemperature),
	}, log)

	ingCfg := ingestion_engine.DefaultIngestConfig()
	ingCfg.ChunkMaxTokens = cfg.ChunkMaxTokens
	ingCfg.ChunkOverlapTokens = cfg.ChunkOverlapTokens
	ingCfg.CSVMaxTokens = cfg.CSVMaxTokens
	ingCfg.CSVOverlapRows = cfg.CSVOverlapRows
	ingCfg.ChunksPerBlock = cfg.ChunksPerBlock
	ingCfg.RowsPerBlock = cfg.RowsPerBlock

	docIngestor := ingestion_engine.NewDocumentIngestor(ingestion_engine.IngestorDeps{
		DB:         a.DBClient,
		Objects:    a.ObjectClient,
		Vectors:    a.Vectors,
		Tokenizer:  tok,
		Extractor:  documentExtractor,
		PDF:        pdf,
		Structurer: structurer,
		Reports:    reports,
	}, ingCfg, log.With("service", "DocumentIngestor"))
	a.DocProcessor = docIngestor

	docService := services.NewDocumentService(a.DBClient, a.ObjectClient, a.Vectors, docIngestor, log)
	a.Server = NewServer(cfg, handlers.NewDocumentHandler(docService, log), log)

	ok = true
	return a, nil
}

// buildFacade wires OpenAI as the primary JSON provider with Gemini as the
// fallback. Without an OpenAI key Gemini serves alone.
func (a *App) buildFacade(ctx context.Context, cfg *config.Config, log *logger.Logger) (*llm.Facade, error) {
	var gemini *llm.GeminiLLM
	if cfg.GeminiAPIKey != "" {
		g, err := llm.NewGeminiLLM(ctx, cfg.GeminiAPIKey, cfg.FallbackModel)
		if err != nil {
			return nil, fmt.Errorf("couldn't initialize the gemini provider, %w", err)
		}
		gemini = g
		a.closers = append(a.closers, g.Close)
	}

	var routes []llm.Route
	switch {
	case cfg.OpenAIAPIKey != "" && gemini != nil:
		routes = llm.DefaultRoutes(llm.NewOpenAILLM(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.GenModel), gemini, cfg.FallbackModel, cfg.RetryDelay)
	case cfg.OpenAIAPIKey != "":
		routes = llm.DefaultRoutes(llm.NewOpenAILLM(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.GenModel), nil, "", cfg.RetryDelay)
	case gemini != nil:
		routes = llm.DefaultRoutes(gemini, nil, "", cfg.RetryDelay)
		routes[0].Model = cfg.FallbackModel
	default:
		return nil, fmt.Errorf("no llm provider configured")
	}

	embedder, fallback, err := a.buildEmbedders(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return llm.NewFacade(llm.FacadeConfig{
		Routes:            routes,
		Embedder:          embedder,
		EmbedFallback:     fallback,
		EmbedBatchSize:    cfg.EmbedBatchSize,
		EmbedInitialDelay: cfg.RetryDelay,
	}, log.With("service", "LLMFacade"))
}

func (a *App) buildEmbedders(ctx context.Context, cfg *config.Config) (core.EmbeddingProvider, core.EmbeddingProvider, error) {
	openai := func() core.EmbeddingProvider {
		return llm.NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.EmbedModel)
	}
	gemini := func(model string) (core.EmbeddingProvider, error) {
		g, err := llm.NewGeminiEmbedder(ctx, cfg.GeminiAPIKey, model)
		if err != nil {
			return nil, fmt.Errorf("couldn't initialize the embedder, %w", err)
		}
		a.closers = append(a.closers, g.Close)
		return g, nil
	}

	if cfg.EmbedProvider == "gemini" {
		primary, err := gemini(cfg.EmbedModel)
		if err != nil {
			return nil, nil, err
		}
		if cfg.EmbedFallback && cfg.OpenAIAPIKey != "" {
			return primary, llm.NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, ""), nil
		}
		return primary, nil, nil
	}

	primary := openai()
	if cfg.EmbedFallback && cfg.GeminiAPIKey != "" {
		fallback, err := gemini("")
		if err != nil {
			return nil, nil, err
		}
		return primary, fallback, nil
	}
	return primary, nil, nil
}

// Start launches the background ingestion workers.
func (a *App) Start(ctx context.Context) {
	a.DocProcessor.Start(ctx, a.Config.IngestWorkers)
	a.Log.Info("ingestion workers started", "workers", a.Config.IngestWorkers)
}

// Handler exposes the HTTP router, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.Server.httpServer.Handler
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Log.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
	if a.tracerShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.tracerShutdown(ctx); err != nil {
			a.Log.Warn("tracer shutdown failed", "error", err)
		}
		a.tracerShutdown = nil
	}
}

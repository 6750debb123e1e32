// Package cognify wires the ingestion pipeline and the retrieval engines
// into one service. This is the composition root the CLI and embedders use.
package cognify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/liliang-cn/cognify/pkg/answer"
	"github.com/liliang-cn/cognify/pkg/config"
	"github.com/liliang-cn/cognify/pkg/domain"
	"github.com/liliang-cn/cognify/pkg/extract"
	"github.com/liliang-cn/cognify/pkg/graphstore"
	"github.com/liliang-cn/cognify/pkg/llm"
	"github.com/liliang-cn/cognify/pkg/loader"
	"github.com/liliang-cn/cognify/pkg/log"
	"github.com/liliang-cn/cognify/pkg/pipeline"
	"github.com/liliang-cn/cognify/pkg/ratelimit"
	"github.com/liliang-cn/cognify/pkg/relstore"
	"github.com/liliang-cn/cognify/pkg/resolve"
	"github.com/liliang-cn/cognify/pkg/retrieve"
	"github.com/liliang-cn/cognify/pkg/tokenizer"
	"github.com/liliang-cn/cognify/pkg/vectorstore"
	"github.com/liliang-cn/cognify/pkg/writer"
)

// Deps are the service's pluggable backends. Nil fields fall back to the
// built-in defaults (SQLite, in-memory vector store, OpenAI-compatible
// provider from config).
type Deps struct {
	Relational domain.RelationalStore
	Graph      domain.GraphStore
	Vector     domain.VectorStore
	LLM        domain.LLM
	Embedder   domain.Embedder
	Loaders    *loader.Registry
	Lexical    *retrieve.Lexical
	Reranker   retrieve.Reranker
}

// Service is the public surface: dataset management, Cognify runs and Search.
type Service struct {
	cfg *config.Config

	rel     domain.RelationalStore
	graph   domain.GraphStore
	vector  domain.VectorStore
	llm     domain.LLM
	emb     domain.Embedder
	loaders *loader.Registry
	lexical *retrieve.Lexical

	extractor *extract.Extractor
	validator *extract.Validator
	resolver  *resolve.Resolver
	writer    *writer.Writer
	engine    *pipeline.Engine
	answerer  *answer.Generator
	counter   tokenizer.Counter

	vectorRet *retrieve.Vector
	graphRet  *retrieve.Graph
	hybrid    *retrieve.Hybrid

	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelFunc
}

// New builds a service from config, filling any dependency not supplied.
func New(cfg *config.Config, deps Deps) (*Service, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	s := &Service{
		cfg:     cfg,
		rel:     deps.Relational,
		graph:   deps.Graph,
		vector:  deps.Vector,
		llm:     deps.LLM,
		emb:     deps.Embedder,
		loaders: deps.Loaders,
		lexical: deps.Lexical,
		cancels: make(map[uuid.UUID]context.CancelFunc),
	}

	if s.rel == nil {
		store, err := relstore.Open(cfg.Storage.DBPath)
		if err != nil {
			return nil, err
		}
		s.rel = store
	}
	if s.graph == nil {
		store, err := graphstore.Open(cfg.Storage.GraphDBPath)
		if err != nil {
			return nil, err
		}
		s.graph = store
	}

	if s.llm == nil || s.emb == nil {
		limiters := ratelimit.NewRegistry()
		limiters.Configure("openai", llm.ResourceChat, cfg.Provider.LLMRate, cfg.Provider.LLMBurst)
		limiters.Configure("openai", llm.ResourceEmbed, cfg.Provider.EmbedRate, cfg.Provider.EmbedBurst)
		client, err := llm.New(llm.Options{
			Provider:       "openai",
			APIKey:         cfg.Provider.APIKey,
			BaseURL:        cfg.Provider.BaseURL,
			EmbeddingModel: cfg.Provider.EmbeddingModel,
			LLMDeadline:    cfg.Deadline.LLM,
			EmbedDeadline:  cfg.Deadline.Embed,
		}, limiters)
		if err != nil {
			return nil, err
		}
		if s.llm == nil {
			s.llm = client
		}
		if s.emb == nil {
			s.emb = client
		}
	}

	if s.vector == nil {
		if cfg.Storage.QdrantURL != "" {
			store, err := vectorstore.NewQdrant(cfg.Storage.QdrantURL, s.emb.Dimensions())
			if err != nil {
				return nil, err
			}
			s.vector = store
		} else {
			s.vector = vectorstore.NewMemory()
		}
	}
	if s.loaders == nil {
		s.loaders = loader.NewRegistry()
	}
	if s.lexical == nil {
		lex, err := retrieve.NewLexical("")
		if err != nil {
			return nil, err
		}
		s.lexical = lex
	}

	retryPolicy := ratelimit.Policy{
		MaxAttempts: cfg.Extract.MaxRetries,
		BaseDelay:   time.Second,
		MaxDelay:    60 * time.Second,
	}
	extractor, err := extract.New(s.llm, extract.Config{
		Model:           cfg.Provider.LLMModel,
		Temperature:     cfg.Extract.Temperature,
		MaxParseRetries: cfg.Extract.MaxParseRetries,
		Retry:           retryPolicy,
	})
	if err != nil {
		return nil, err
	}
	validator, err := extract.NewValidator(s.llm, extract.ValidatorConfig{
		Model:     cfg.Provider.LLMModel,
		Threshold: cfg.Validate.Threshold,
		Retry:     retryPolicy,
	})
	if err != nil {
		return nil, err
	}

	s.extractor = extractor
	s.validator = validator
	s.resolver = resolve.New(resolve.Config{
		FuzzyThreshold:     cfg.Resolve.FuzzyThreshold,
		EmbeddingThreshold: cfg.Resolve.EmbThreshold,
		Embedder:           s.emb,
	})
	s.writer = writer.New(s.graph, s.vector, s.emb, cfg.Embed.Batch)
	s.engine = pipeline.NewEngine(s.rel, pipeline.NewBroadcaster())
	s.answerer = answer.New(s.llm, cfg.Provider.LLMModel, cfg.Provider.AnswerTemp)
	s.counter = tokenizer.ForModel(cfg.Provider.EmbeddingModel)

	s.vectorRet = retrieve.NewVector(s.vector, s.emb, cfg.Retrieve.SimilarityThreshold)
	s.graphRet = retrieve.NewGraph(s.graph, s.vector, s.emb,
		cfg.Retrieve.SimilarityThreshold, cfg.Retrieve.GraphDepth, cfg.Retrieve.GraphMaxFrontier)

	var reranker retrieve.Reranker
	if cfg.Retrieve.RerankEnabled {
		reranker = deps.Reranker
	}
	s.hybrid = retrieve.NewHybrid([]retrieve.Weighted{
		{Retriever: s.vectorRet, Weight: cfg.Retrieve.HybridWeights.Vector, Priority: 0},
		{Retriever: s.graphRet, Weight: cfg.Retrieve.HybridWeights.Graph, Priority: 1},
		{Retriever: s.lexical, Weight: cfg.Retrieve.HybridWeights.Lexical, Priority: 2},
	}, cfg.Retrieve.RRFConstant, reranker)

	return s, nil
}

// CreateDataset registers a new dataset for the tenant.
func (s *Service) CreateDataset(ctx context.Context, tenantID, ownerID uuid.UUID, name string) (domain.Dataset, error) {
	ds := domain.Dataset{
		ID:        uuid.New(),
		TenantID:  tenantID,
		OwnerID:   ownerID,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.rel.CreateDataset(ctx, ds); err != nil {
		return domain.Dataset{}, err
	}
	log.Info("dataset created", "dataset", ds.ID, "name", name)
	return ds, nil
}

// GetRun returns the persisted state of a pipeline run.
func (s *Service) GetRun(ctx context.Context, runID uuid.UUID) (*domain.PipelineRun, error) {
	return s.rel.GetRun(ctx, runID)
}

// ListRuns returns the runs recorded for a dataset, newest first.
func (s *Service) ListRuns(ctx context.Context, datasetID uuid.UUID) ([]*domain.PipelineRun, error) {
	return s.rel.ListRuns(ctx, datasetID)
}

// SubscribeRun streams progress events for an active run. The channel closes
// when the run finishes.
func (s *Service) SubscribeRun(runID uuid.UUID) (<-chan domain.Event, func()) {
	return s.engine.Bus().Subscribe(runID)
}

// CancelRun requests cancellation of a background run. In-flight items
// finish; the run is finalized as cancelled.
func (s *Service) CancelRun(runID uuid.UUID) error {
	s.mu.Lock()
	cancel, ok := s.cancels[runID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: no active run %s", domain.ErrNotFound, runID)
	}
	cancel()
	return nil
}

func (s *Service) trackRun(runID uuid.UUID, cancel context.CancelFunc) {
	s.mu.Lock()
	s.cancels[runID] = cancel
	s.mu.Unlock()
}

func (s *Service) untrackRun(runID uuid.UUID) {
	s.mu.Lock()
	delete(s.cancels, runID)
	s.mu.Unlock()
}

package cognify

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/liliang-cn/cognify/pkg/chunker"
	"github.com/liliang-cn/cognify/pkg/domain"
	"github.com/liliang-cn/cognify/pkg/log"
	"github.com/liliang-cn/cognify/pkg/pipeline"
	"github.com/liliang-cn/cognify/pkg/resolve"
)

// DefaultCognifyOptions enables resolution, leaves the optional validation
// pass off and runs in the foreground.
func DefaultCognifyOptions() domain.CognifyOptions {
	return domain.CognifyOptions{ResolutionEnabled: true}
}

// Add ingests raw document bytes into a dataset. Identical bytes for the
// same tenant dedup onto the existing data row, which just gains the dataset
// link.
func (s *Service) Add(ctx context.Context, tenantID, datasetID uuid.UUID, r io.Reader, name string) (domain.Data, error) {
	if _, err := s.rel.GetDataset(ctx, tenantID, datasetID); err != nil {
		return domain.Data{}, err
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return domain.Data{}, fmt.Errorf("%w: read content: %v", domain.ErrTransient, err)
	}
	if len(raw) == 0 {
		return domain.Data{}, fmt.Errorf("%w: empty document", domain.ErrValidation)
	}

	hash := domain.ContentHash(raw)
	existing, err := s.rel.DedupData(ctx, tenantID, hash)
	if err != nil {
		return domain.Data{}, err
	}

	d := domain.Data{
		ID:             domain.DataID(tenantID, hash),
		TenantID:       tenantID,
		DatasetIDs:     []uuid.UUID{datasetID},
		Name:           name,
		ContentHash:    hash,
		MIME:           mime.TypeByExtension(filepath.Ext(name)),
		PipelineStatus: domain.StatusPending,
		CreatedAt:      time.Now().UTC(),
	}
	if existing != uuid.Nil {
		d.ID = existing
		log.Debug("content already known, linking dataset", "data", existing, "dataset", datasetID)
	}

	path, err := s.storeBlob(hash, name, raw)
	if err != nil {
		return domain.Data{}, err
	}
	d.SourcePath = path

	if err := s.rel.PersistData(ctx, d); err != nil {
		return domain.Data{}, err
	}
	return d, nil
}

// AddFile ingests a file from disk.
func (s *Service) AddFile(ctx context.Context, tenantID, datasetID uuid.UUID, path string) (domain.Data, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.Data{}, fmt.Errorf("%w: open %s: %v", domain.ErrNotFound, path, err)
	}
	defer func() { _ = f.Close() }()
	return s.Add(ctx, tenantID, datasetID, f, filepath.Base(path))
}

// storeBlob writes the raw bytes under the data dir, keyed by content hash
// so duplicates share one file. The original name survives as the extension.
func (s *Service) storeBlob(hash, name string, raw []byte) (string, error) {
	dir := filepath.Join(s.cfg.DataDir(), "files")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create blob dir: %w", err)
	}
	path := filepath.Join(dir, hash+filepath.Ext(name))
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", fmt.Errorf("store blob: %w", err)
	}
	return path, nil
}

// chunkGraph carries one chunk and what was extracted from it between
// pipeline stages.
type chunkGraph struct {
	chunk domain.DocumentChunk
	graph domain.KnowledgeGraph
}

// Cognify processes every pending document in the dataset: chunking, graph
// extraction, optional relation validation, entity resolution and the dual
// write. It returns the run id; subscribe with SubscribeRun for progress.
func (s *Service) Cognify(ctx context.Context, tenantID, datasetID, userID uuid.UUID, opts domain.CognifyOptions) (uuid.UUID, error) {
	if _, err := s.rel.GetDataset(ctx, tenantID, datasetID); err != nil {
		return uuid.Nil, err
	}
	data, err := s.rel.ListData(ctx, tenantID, datasetID)
	if err != nil {
		return uuid.Nil, err
	}

	run := &domain.PipelineRun{
		ID:        uuid.New(),
		DatasetID: datasetID,
		UserID:    userID,
	}
	input := make([]any, len(data))
	for i, d := range data {
		input[i] = d
	}
	stages := s.buildStages(tenantID, datasetID, opts)

	if !opts.RunInBackground {
		return run.ID, s.engine.Execute(ctx, run, input, stages)
	}

	// Detach from the caller's context; CancelRun is the cancellation path.
	bg, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.trackRun(run.ID, cancel)
	go func() {
		defer s.untrackRun(run.ID)
		defer cancel()
		if err := s.engine.Execute(bg, run, input, stages); err != nil {
			log.Warn("background run finished with error", "run", run.ID, "error", err)
		}
	}()
	return run.ID, nil
}

func (s *Service) buildStages(tenantID, datasetID uuid.UUID, opts domain.CognifyOptions) []pipeline.Stage {
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = s.cfg.Chunk.Size
	}
	overlap := opts.ChunkOverlap
	if overlap <= 0 {
		overlap = s.cfg.Chunk.Overlap
	}

	stages := []pipeline.Stage{
		{Name: "load_chunk", Batch: s.loadChunkStage(tenantID, datasetID, chunkSize, overlap)},
		{Name: "extract", Map: s.extractStage(), Workers: s.cfg.Workers.Pool},
	}
	if opts.ValidationEnabled {
		stages = append(stages, pipeline.Stage{Name: "validate", Batch: s.validateStage()})
	}
	if opts.ResolutionEnabled {
		stages = append(stages, pipeline.Stage{Name: "resolve", Batch: s.resolveStage()})
	}
	stages = append(stages, pipeline.Stage{Name: "write", Batch: s.writeStage(tenantID, datasetID)})
	return stages
}

// loadChunkStage loads each document and splits it into chunks. A document
// that fails to load is marked failed and dropped; the run continues.
func (s *Service) loadChunkStage(tenantID, datasetID uuid.UUID, chunkSize, overlap int) pipeline.BatchFunc {
	return func(ctx context.Context, sc *pipeline.StageContext, in []any) ([]any, error) {
		var out []any
		for _, item := range in {
			d := item.(domain.Data)
			if err := ctx.Err(); err != nil {
				return nil, domain.ErrCancelled
			}
			if err := s.rel.UpdateDataStatus(ctx, d.ID, domain.StatusRunning); err != nil {
				return nil, err
			}

			doc, err := s.loaders.LoadFile(ctx, d.SourcePath, d.MIME)
			if err != nil {
				if domain.Cancelled(err) {
					return nil, err
				}
				sc.AddDropped(1)
				sc.Warn("failed to load %s: %v", filepath.Base(d.SourcePath), err)
				_ = s.rel.UpdateDataStatus(ctx, d.ID, domain.StatusFailed)
				continue
			}

			sourceName := d.Name
			if sourceName == "" {
				sourceName = filepath.Base(d.SourcePath)
			}
			stream, err := chunker.Split(ctx, chunker.Source{
				DataID:     d.ID,
				TenantID:   tenantID,
				DatasetID:  datasetID,
				SourceName: sourceName,
			}, doc, chunker.Options{
				MaxTokens: chunkSize,
				Overlap:   overlap,
				Counter:   s.counter,
			})
			if err != nil {
				return nil, &domain.ChunkingError{DataID: d.ID, Err: err}
			}
			chunks, err := stream.All(ctx)
			if err != nil {
				return nil, err
			}
			for _, c := range chunks {
				out = append(out, c)
			}
		}
		return out, nil
	}
}

// extractStage runs graph extraction per chunk on the worker pool. A chunk
// whose extraction fails permanently is dropped with a warning rather than
// failing the run; transient errors were already retried underneath.
func (s *Service) extractStage() pipeline.MapFunc {
	return func(ctx context.Context, sc *pipeline.StageContext, item any) (any, error) {
		chunk := item.(domain.DocumentChunk)
		res, err := s.extractor.Extract(ctx, chunk)
		if err != nil {
			if domain.Cancelled(err) {
				return nil, err
			}
			sc.Warn("extraction failed for chunk %d of %s: %v", chunk.ChunkIndex, chunk.SourceName, err)
			return nil, nil
		}
		sc.AddRetries(res.Stats.Retries)
		sc.AddDropped(res.Stats.DroppedEdges)
		if res.Stats.LowYield {
			log.Debug("low-yield chunk", "chunk", chunk.ID, "source", chunk.SourceName)
		}
		return chunkGraph{chunk: chunk, graph: res.Graph}, nil
	}
}

// validateStage scores extracted relations against their source chunks and
// drops the unsupported ones. Unavailable scoring degrades, never fails.
func (s *Service) validateStage() pipeline.BatchFunc {
	return func(ctx context.Context, sc *pipeline.StageContext, in []any) ([]any, error) {
		texts := make(map[uuid.UUID]string, len(in))
		merged := domain.KnowledgeGraph{}
		for _, item := range in {
			cg := item.(chunkGraph)
			texts[cg.chunk.ID] = cg.chunk.Text
			merged.Nodes = append(merged.Nodes, cg.graph.Nodes...)
			merged.Edges = append(merged.Edges, cg.graph.Edges...)
		}

		res, err := s.validator.Validate(ctx, &merged, texts)
		if err != nil {
			return nil, err
		}
		sc.AddRetries(res.Retries)
		sc.AddDropped(res.Dropped)
		if res.Degraded {
			sc.Warn("relation validation degraded; relations kept unscored")
		}

		kept := make(map[domain.RelationKey]domain.Relation, len(res.Kept))
		for _, rel := range res.Kept {
			kept[rel.Key()] = rel
		}
		out := make([]any, 0, len(in))
		for _, item := range in {
			cg := item.(chunkGraph)
			var edges []domain.Relation
			for _, rel := range cg.graph.Edges {
				if scored, ok := kept[rel.Key()]; ok {
					edges = append(edges, scored)
				}
			}
			cg.graph.Edges = edges
			out = append(out, cg)
		}
		return out, nil
	}
}

// resolveStage merges duplicate entities across all chunks of the run and
// rewrites relations onto the canonical survivors. Output is a single
// resolved item plus the original chunks.
func (s *Service) resolveStage() pipeline.BatchFunc {
	return func(ctx context.Context, sc *pipeline.StageContext, in []any) ([]any, error) {
		var entities []domain.Entity
		var relations []domain.Relation
		out := make([]any, 0, len(in)+1)
		for _, item := range in {
			cg := item.(chunkGraph)
			entities = append(entities, cg.graph.Nodes...)
			relations = append(relations, cg.graph.Edges...)
			out = append(out, cg.chunk)
		}

		res, err := s.resolver.Resolve(ctx, entities, relations)
		if err != nil {
			return nil, err
		}
		sc.AddDropped(res.Dropped)
		log.Debug("entity resolution done", "entities", len(res.Entities),
			"merged", res.Merged, "relations", len(res.Relations))

		out = append(out, resolve.Result{
			Entities:  res.Entities,
			Relations: res.Relations,
			AliasOf:   res.AliasOf,
		})
		return out, nil
	}
}

// writeStage persists chunks, entities and relations to the graph and
// vector stores and feeds the lexical index, then marks the source
// documents completed.
func (s *Service) writeStage(tenantID, datasetID uuid.UUID) pipeline.BatchFunc {
	return func(ctx context.Context, sc *pipeline.StageContext, in []any) ([]any, error) {
		var points []domain.DataPoint
		var chunks []domain.DocumentChunk

		for _, item := range in {
			switch v := item.(type) {
			case domain.DocumentChunk:
				chunks = append(chunks, v)
				points = append(points, v)
			case chunkGraph:
				// Resolution disabled: each chunk still carries its graph.
				chunks = append(chunks, v.chunk)
				points = append(points, v.chunk)
				for _, e := range v.graph.Nodes {
					points = append(points, e)
				}
				for _, r := range v.graph.Edges {
					points = append(points, r)
				}
			case resolve.Result:
				for _, e := range v.Entities {
					points = append(points, e)
				}
				for _, r := range v.Relations {
					points = append(points, r)
				}
			}
		}

		stats, err := s.writer.Write(ctx, tenantID, datasetID, points)
		if err != nil {
			return nil, err
		}
		if err := s.lexical.Index(ctx, chunks); err != nil {
			return nil, err
		}

		seen := make(map[uuid.UUID]struct{})
		for _, c := range chunks {
			if _, ok := seen[c.DataID]; ok {
				continue
			}
			seen[c.DataID] = struct{}{}
			if err := s.rel.UpdateDataStatus(ctx, c.DataID, domain.StatusCompleted); err != nil {
				return nil, err
			}
		}

		log.Info("write completed",
			"nodes", stats.NodesWritten, "edges", stats.EdgesWritten,
			"vectors", stats.VectorsWritten)
		written := int64(stats.NodesWritten + stats.EdgesWritten)
		return []any{written}, nil
	}
}

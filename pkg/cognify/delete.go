package cognify

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/liliang-cn/cognify/pkg/domain"
	"github.com/liliang-cn/cognify/pkg/log"
)

// DeleteDataset removes a dataset and every derived artifact: graph
// subgraph, vector collections, lexical index entries and the relational
// rows. Data rows still referenced by another dataset survive.
func (s *Service) DeleteDataset(ctx context.Context, tenantID, datasetID uuid.UUID) error {
	if _, err := s.rel.GetDataset(ctx, tenantID, datasetID); err != nil {
		return err
	}

	if err := s.graph.DeleteSubgraph(ctx, datasetID); err != nil {
		return err
	}
	if err := s.deleteVectors(ctx, tenantID, datasetID); err != nil {
		return err
	}
	if err := s.lexical.DeleteDataset(ctx, datasetID); err != nil {
		return err
	}
	if err := s.rel.DeleteDataset(ctx, tenantID, datasetID); err != nil {
		return err
	}
	log.Info("dataset deleted", "dataset", datasetID)
	return nil
}

// deleteVectors clears every collection scoped to the dataset. Collection
// names embed the tenant and dataset, so a prefix match finds them all.
func (s *Service) deleteVectors(ctx context.Context, tenantID, datasetID uuid.UUID) error {
	collections, err := s.vector.Collections(ctx)
	if err != nil {
		return err
	}
	prefix := strings.TrimSuffix(domain.CollectionName(tenantID, datasetID, "x", "y"), "x_y")
	filter := map[string]any{"dataset_id": datasetID.String()}
	for _, col := range collections {
		if !strings.HasPrefix(col, prefix) {
			continue
		}
		if err := s.vector.DeleteByFilter(ctx, col, filter); err != nil {
			return err
		}
	}
	return nil
}

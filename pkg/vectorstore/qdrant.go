// Package vectorstore persists embeddings per collection. Qdrant is the
// durable backend; Memory backs tests and the quickstart configuration.
package vectorstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/liliang-cn/cognify/pkg/domain"
	"github.com/liliang-cn/cognify/pkg/log"
)

const (
	dialTimeout     = 30 * time.Second
	defaultDistance = pb.Distance_Cosine

	payloadVersion = "version"
)

// Qdrant implements domain.VectorStore over the Qdrant gRPC API. Collections
// are created lazily on first upsert.
type Qdrant struct {
	points      pb.PointsClient
	collections pb.CollectionsClient
	conn        *grpc.ClientConn
	vectorSize  uint64

	mu    sync.Mutex
	known map[string]struct{}
}

func NewQdrant(url string, vectorSize int) (*Qdrant, error) {
	if vectorSize <= 0 {
		return nil, fmt.Errorf("%w: vector size must be positive", domain.ErrValidation)
	}
	url = strings.TrimPrefix(url, "http://")
	url = strings.TrimPrefix(url, "https://")

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	conn, err := grpc.DialContext(ctx, url, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("%w: connect to qdrant: %v", domain.ErrTransient, err)
	}

	return &Qdrant{
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		conn:        conn,
		vectorSize:  uint64(vectorSize),
		known:       make(map[string]struct{}),
	}, nil
}

func (s *Qdrant) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Qdrant) ensureCollection(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.known[name]; ok {
		return nil
	}

	listResp, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("%w: list collections: %v", domain.ErrTransient, err)
	}
	for _, col := range listResp.Collections {
		if col.Name == name {
			s.known[name] = struct{}{}
			return nil
		}
	}

	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     s.vectorSize,
					Distance: defaultDistance,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: create collection %s: %v", domain.ErrTransient, name, err)
	}
	log.Debugf("created qdrant collection %s (size %d)", name, s.vectorSize)
	s.known[name] = struct{}{}
	return nil
}

func (s *Qdrant) Upsert(ctx context.Context, collection string, records []domain.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := s.ensureCollection(ctx, collection); err != nil {
		return err
	}

	points := make([]*pb.PointStruct, 0, len(records))
	for _, rec := range records {
		if len(rec.Vector) != int(s.vectorSize) {
			return fmt.Errorf("%w: record %s has %d dims, collection wants %d",
				domain.ErrValidation, rec.ID, len(rec.Vector), s.vectorSize)
		}
		payload := make(map[string]*pb.Value, len(rec.Payload)+2)
		for k, v := range rec.Payload {
			payload[k] = toValue(v)
		}
		payload[payloadVersion] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: rec.Version}}

		points = append(points, &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: pointID(rec.ID, rec.Field)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: rec.Vector}},
			},
			Payload: payload,
		})
	}

	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Points:         points,
		Wait:           &waitTrue,
	})
	if err != nil {
		return fmt.Errorf("%w: upsert points: %v", domain.ErrTransient, err)
	}
	return nil
}

func (s *Qdrant) Search(ctx context.Context, collection string, vector []float32, topK int) ([]domain.VectorHit, error) {
	if topK <= 0 {
		return nil, nil
	}
	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		if strings.Contains(err.Error(), "doesn't exist") || strings.Contains(err.Error(), "not found") {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: search %s: %v", domain.ErrTransient, collection, err)
	}

	hits := make([]domain.VectorHit, 0, len(resp.Result))
	for _, point := range resp.Result {
		hit := domain.VectorHit{
			Score:   float64(point.Score),
			Payload: make(map[string]any, len(point.Payload)),
		}
		for k, v := range point.Payload {
			hit.Payload[k] = fromValue(v)
		}
		// The owning node id travels in the payload since the point id also
		// encodes the indexed field.
		if id, ok := hit.Payload["id"].(string); ok {
			if parsed, err := uuid.Parse(id); err == nil {
				hit.ID = parsed
			}
		}
		if hit.ID == uuid.Nil {
			if parsed, err := uuid.Parse(point.Id.GetUuid()); err == nil {
				hit.ID = parsed
			}
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func (s *Qdrant) DeleteByFilter(ctx context.Context, collection string, filter map[string]any) error {
	if len(filter) == 0 {
		return fmt.Errorf("%w: empty delete filter", domain.ErrValidation)
	}
	conditions := make([]*pb.Condition, 0, len(filter))
	for k, v := range filter {
		strVal, ok := v.(string)
		if !ok {
			strVal = fmt.Sprintf("%v", v)
		}
		conditions = append(conditions, &pb.Condition{
			ConditionOneOf: &pb.Condition_Field{
				Field: &pb.FieldCondition{
					Key:   k,
					Match: &pb.Match{MatchValue: &pb.Match_Text{Text: strVal}},
				},
			},
		})
	}

	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: collection,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{Must: conditions},
			},
		},
		Wait: &waitTrue,
	})
	if err != nil {
		if strings.Contains(err.Error(), "doesn't exist") || strings.Contains(err.Error(), "not found") {
			return nil
		}
		return fmt.Errorf("%w: delete by filter: %v", domain.ErrTransient, err)
	}
	return nil
}

func (s *Qdrant) Collections(ctx context.Context) ([]string, error) {
	resp, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return nil, fmt.Errorf("%w: list collections: %v", domain.ErrTransient, err)
	}
	names := make([]string, 0, len(resp.Collections))
	for _, col := range resp.Collections {
		names = append(names, col.Name)
	}
	return names, nil
}

// pointID folds the indexed field into the point id so one node can carry
// one point per field in the same collection.
func pointID(id uuid.UUID, field string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id.String()+"/"+field)).String()
}

func toValue(v any) *pb.Value {
	switch val := v.(type) {
	case string:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: val}}
	case bool:
		return &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: val}}
	case int:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(val)}}
	case int64:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: val}}
	case float64:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: val}}
	case uuid.UUID:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: val.String()}}
	default:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprintf("%v", val)}}
	}
}

func fromValue(v *pb.Value) any {
	switch kind := v.Kind.(type) {
	case *pb.Value_StringValue:
		return kind.StringValue
	case *pb.Value_BoolValue:
		return kind.BoolValue
	case *pb.Value_IntegerValue:
		return kind.IntegerValue
	case *pb.Value_DoubleValue:
		return kind.DoubleValue
	default:
		return nil
	}
}

var waitTrue = true

var _ domain.VectorStore = (*Qdrant)(nil)

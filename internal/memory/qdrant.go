package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
)

const (
	payloadScope     = "scope_id"
	payloadText      = "text"
	payloadCreatedAt = "created_at"
	payloadMetaPfx   = "m."
)

// QdrantConfig configures the Qdrant backend.
type QdrantConfig struct {
	Host           string
	Port           int
	UseTLS         bool
	APIKey         string
	Collection     string
	Dimension      int
	MaxMessageSize int
}

// QdrantBackend stores records as points in one collection, filtered by a
// scope_id payload field. Vectors are unit length so Dot distance equals
// cosine similarity.
type QdrantBackend struct {
	client *qdrant.Client
	cfg    QdrantConfig

	ensureOnce sync.Once
	ensureErr  error
}

// NewQdrantBackend dials Qdrant over gRPC. The collection is created on first
// use, not here, so a down server surfaces as a primary error the selector
// can act on.
func NewQdrantBackend(cfg QdrantConfig) (*QdrantBackend, error) {
	if cfg.Collection == "" {
		cfg.Collection = "conductor_memories"
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("qdrant: dimension must be > 0")
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 50 * 1024 * 1024
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		UseTLS: cfg.UseTLS,
		APIKey: cfg.APIKey,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant client: %w", err)
	}
	return &QdrantBackend{client: client, cfg: cfg}, nil
}

func (b *QdrantBackend) Name() string { return "qdrant" }

func (b *QdrantBackend) ensureCollection(ctx context.Context) error {
	b.ensureOnce.Do(func() {
		b.ensureErr = b.createCollection(ctx)
	})
	return b.ensureErr
}

func (b *QdrantBackend) createCollection(ctx context.Context) error {
	exists, err := b.client.CollectionExists(ctx, b.cfg.Collection)
	if err != nil {
		return fmt.Errorf("check collection %s: %w", b.cfg.Collection, err)
	}
	if exists {
		return nil
	}
	err = b.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: b.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(b.cfg.Dimension),
			Distance: qdrant.Distance_Dot,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", b.cfg.Collection, err)
	}
	for field, typ := range map[string]qdrant.FieldType{
		payloadScope:     qdrant.FieldType_FieldTypeKeyword,
		MetaContentHash:  qdrant.FieldType_FieldTypeKeyword,
		payloadCreatedAt: qdrant.FieldType_FieldTypeInteger,
	} {
		_, err := b.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: b.cfg.Collection,
			FieldName:      field,
			FieldType:      typ.Enum(),
		})
		if err != nil {
			return fmt.Errorf("index %s: %w", field, err)
		}
	}
	return nil
}

func (b *QdrantBackend) Insert(ctx context.Context, rec Record) error {
	if len(rec.Vector) != b.cfg.Dimension {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(rec.Vector), b.cfg.Dimension)
	}
	if err := b.ensureCollection(ctx); err != nil {
		return err
	}
	_, err := b.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: b.cfg.Collection,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(rec.ID),
			Vectors: qdrant.NewVectors(rec.Vector...),
			Payload: toPayload(rec),
		}},
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	return nil
}

func (b *QdrantBackend) Search(ctx context.Context, scopeID string, vec []float32, topK int) ([]Hit, error) {
	if err := b.ensureCollection(ctx); err != nil {
		return nil, err
	}
	if isZero(vec) {
		recs, err := b.scroll(ctx, scopeFilter(scopeID), uint32(topK), true)
		if err != nil {
			return nil, err
		}
		hits := make([]Hit, len(recs))
		for i, r := range recs {
			hits[i] = Hit{Record: r}
		}
		return hits, nil
	}

	points, err := b.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: b.cfg.Collection,
		Query:          qdrant.NewQuery(vec...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		Filter:         scopeFilter(scopeID),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant query: %w", err)
	}
	hits := make([]Hit, 0, len(points))
	for _, p := range points {
		rec := fromPayload(extractPointID(p.Id), p.Payload)
		rec.Vector = extractVector(p.Vectors)
		hits = append(hits, Hit{Score: float64(p.Score), Record: rec})
	}
	return hits, nil
}

func (b *QdrantBackend) FindByHash(ctx context.Context, scopeID, hash string) (*Record, error) {
	if err := b.ensureCollection(ctx); err != nil {
		return nil, err
	}
	filter := scopeFilter(scopeID)
	filter.Must = append(filter.Must, keywordCondition(MetaContentHash, hash))
	recs, err := b.scroll(ctx, filter, 1, false)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return &recs[0], nil
}

func (b *QdrantBackend) scroll(ctx context.Context, filter *qdrant.Filter, limit uint32, newestFirst bool) ([]Record, error) {
	req := &qdrant.ScrollPoints{
		CollectionName: b.cfg.Collection,
		Filter:         filter,
		Limit:          qdrant.PtrOf(limit),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	}
	if newestFirst {
		req.OrderBy = &qdrant.OrderBy{
			Key:       payloadCreatedAt,
			Direction: qdrant.Direction_Desc.Enum(),
		}
	}
	points, err := b.client.Scroll(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("qdrant scroll: %w", err)
	}
	out := make([]Record, 0, len(points))
	for _, p := range points {
		rec := fromPayload(extractPointID(p.Id), p.Payload)
		rec.Vector = extractVector(p.Vectors)
		out = append(out, rec)
	}
	return out, nil
}

func (b *QdrantBackend) Close() error {
	return b.client.Close()
}

func scopeFilter(scopeID string) *qdrant.Filter {
	return &qdrant.Filter{Must: []*qdrant.Condition{keywordCondition(payloadScope, scopeID)}}
}

func keywordCondition(key, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: key,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

func toPayload(rec Record) map[string]*qdrant.Value {
	payload := map[string]*qdrant.Value{
		payloadScope:     {Kind: &qdrant.Value_StringValue{StringValue: rec.ScopeID}},
		payloadText:      {Kind: &qdrant.Value_StringValue{StringValue: rec.Text}},
		payloadCreatedAt: {Kind: &qdrant.Value_IntegerValue{IntegerValue: rec.CreatedAt.UnixNano()}},
	}
	for k, v := range rec.Metadata {
		payload[payloadMetaPfx+k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: v}}
	}
	// Indexed copy for FindByHash.
	if h, ok := rec.Metadata[MetaContentHash]; ok {
		payload[MetaContentHash] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: h}}
	}
	return payload
}

func fromPayload(id string, payload map[string]*qdrant.Value) Record {
	rec := Record{ID: id}
	for k, v := range payload {
		switch val := v.GetKind().(type) {
		case *qdrant.Value_StringValue:
			switch {
			case k == payloadScope:
				rec.ScopeID = val.StringValue
			case k == payloadText:
				rec.Text = val.StringValue
			case strings.HasPrefix(k, payloadMetaPfx):
				if rec.Metadata == nil {
					rec.Metadata = make(map[string]string)
				}
				rec.Metadata[strings.TrimPrefix(k, payloadMetaPfx)] = val.StringValue
			}
		case *qdrant.Value_IntegerValue:
			if k == payloadCreatedAt {
				rec.CreatedAt = time.Unix(0, val.IntegerValue).UTC()
			}
		}
	}
	return rec
}

func extractPointID(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return fmt.Sprintf("%d", id.GetNum())
}

func extractVector(vectors *qdrant.VectorsOutput) []float32 {
	if vectors == nil {
		return nil
	}
	if vec := vectors.GetVector(); vec != nil {
		if dense := vec.GetDense(); dense != nil {
			return dense.GetData()
		}
	}
	return nil
}

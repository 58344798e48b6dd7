package repository

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"github.com/timmy/vidtalker/internal/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	defaultVectorDimension = 384
)

// QdrantConnectionConfig holds configuration for Qdrant connection
type QdrantConnectionConfig struct {
	Host            string
	Port            int
	Collection      string
	APIKey          string // Qdrant Cloud API Key (enables TLS automatically)
	UseTLS          bool   // Explicitly enable TLS without API Key
	VectorDimension int
}

// CollectionState is a snapshot of a collection as reported by Qdrant.
type CollectionState struct {
	Exists      bool
	Ready       bool
	PointsCount uint64
	VectorSize  uint64
}

// apiKeyInterceptor creates a unary interceptor that adds API key to metadata
func apiKeyInterceptor(apiKey string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", apiKey)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// QdrantRepository stores transcript vectors in a single Qdrant collection.
type QdrantRepository struct {
	conn            *grpc.ClientConn
	pointsClient    pb.PointsClient
	collectClient   pb.CollectionsClient
	collectionName  string
	vectorDimension int
}

// NewQdrantRepository creates a new QdrantRepository.
// Supports both local Qdrant (insecure) and Qdrant Cloud (TLS + API Key).
func NewQdrantRepository(cfg *QdrantConnectionConfig) (*QdrantRepository, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	var opts []grpc.DialOption

	// TLS is enabled if: APIKey is set OR UseTLS is explicitly true
	useTLS := cfg.UseTLS || cfg.APIKey != ""

	if useTLS {
		creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS13})
		opts = append(opts, grpc.WithTransportCredentials(creds))
		if cfg.APIKey != "" {
			opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)))
		}
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	repo := newQdrantRepository(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), cfg.Collection, cfg.VectorDimension)
	repo.conn = conn
	return repo, nil
}

func newQdrantRepository(points pb.PointsClient, collections pb.CollectionsClient, collection string, dimension int) *QdrantRepository {
	if dimension <= 0 {
		dimension = defaultVectorDimension
	}
	return &QdrantRepository{
		pointsClient:    points,
		collectClient:   collections,
		collectionName:  collection,
		vectorDimension: dimension,
	}
}

// Close closes the gRPC connection
func (r *QdrantRepository) Close() error {
	if r.conn == nil {
		return nil
	}
	return r.conn.Close()
}

// Name returns the collection name.
func (r *QdrantRepository) Name() string {
	return r.collectionName
}

// Dimension returns the configured vector size.
func (r *QdrantRepository) Dimension() int {
	return r.vectorDimension
}

// CollectionState describes the collection. A missing collection is not an error.
func (r *QdrantRepository) CollectionState(ctx context.Context) (CollectionState, error) {
	info, err := r.collectClient.Get(ctx, &pb.GetCollectionInfoRequest{
		CollectionName: r.collectionName,
	})
	if err != nil {
		if isNotFound(err) {
			return CollectionState{}, nil
		}
		return CollectionState{}, fmt.Errorf("failed to get collection info: %w", err)
	}

	result := info.GetResult()
	size, _ := collectionVectorSize(result)
	return CollectionState{
		Exists:      true,
		Ready:       result.GetStatus() == pb.CollectionStatus_Green,
		PointsCount: result.GetPointsCount(),
		VectorSize:  size,
	}, nil
}

// CreateCollection creates the collection with cosine distance.
// It returns created=false when the collection already exists with the right size.
func (r *QdrantRepository) CreateCollection(ctx context.Context) (bool, error) {
	state, err := r.CollectionState(ctx)
	if err != nil {
		return false, err
	}
	if state.Exists {
		if state.VectorSize != 0 && state.VectorSize != uint64(r.vectorDimension) {
			return false, fmt.Errorf("collection %s has vector size %d, expected %d", r.collectionName, state.VectorSize, r.vectorDimension)
		}
		return false, nil
	}

	_, err = r.collectClient.Create(ctx, &pb.CreateCollection{
		CollectionName: r.collectionName,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(r.vectorDimension),
					Distance: pb.Distance_Cosine,
				},
			},
		},
		HnswConfig: &pb.HnswConfigDiff{
			M:                 optionalUint64(16),
			EfConstruct:       optionalUint64(128),
			FullScanThreshold: optionalUint64(10000),
		},
	})
	if err != nil {
		// lost a race with another creator
		if status.Code(err) == codes.AlreadyExists {
			return false, nil
		}
		return false, fmt.Errorf("failed to create collection: %w", err)
	}

	return true, nil
}

// Count returns the exact number of points in the collection.
func (r *QdrantRepository) Count(ctx context.Context) (uint64, error) {
	resp, err := r.pointsClient.Count(ctx, &pb.CountPoints{
		CollectionName: r.collectionName,
		Exact:          optionalBool(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}
	return resp.GetResult().GetCount(), nil
}

// DeleteAll removes every point from the collection.
func (r *QdrantRepository) DeleteAll(ctx context.Context) error {
	_, err := r.pointsClient.Delete(ctx, &pb.DeletePoints{
		CollectionName: r.collectionName,
		Wait:           optionalBool(true),
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete points: %w", err)
	}
	return nil
}

// UpsertBatch writes one batch of vectors. Every vector must match the
// collection dimension.
func (r *QdrantRepository) UpsertBatch(ctx context.Context, vectors []domain.IndexedVector) error {
	points := make([]*pb.PointStruct, 0, len(vectors))
	for _, v := range vectors {
		if len(v.Values) != r.vectorDimension {
			return fmt.Errorf("vector %s has dimension %d, expected %d", v.ID, len(v.Values), r.vectorDimension)
		}
		points = append(points, &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: r.PointID(v.ID)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: v.Values},
				},
			},
			Payload: metadataToPayload(v.ID, v.Metadata),
		})
	}

	_, err := r.pointsClient.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: r.collectionName,
		Wait:           optionalBool(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	return nil
}

// Search performs a cosine similarity search, best match first.
func (r *QdrantRepository) Search(ctx context.Context, vector []float32, topK int) ([]domain.Match, error) {
	resp, err := r.pointsClient.Search(ctx, &pb.SearchPoints{
		CollectionName: r.collectionName,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	matches := make([]domain.Match, 0, len(resp.GetResult()))
	for _, scored := range resp.GetResult() {
		id, meta := payloadToMetadata(scored.GetPayload())
		if id == "" {
			id = scored.GetId().GetUuid()
		}
		matches = append(matches, domain.Match{
			ID:       id,
			Score:    scored.GetScore(),
			Metadata: meta,
		})
	}
	return matches, nil
}

// PointID maps a vector id such as "entry_3" to the deterministic UUID
// stored in Qdrant, which only accepts integer or UUID point ids.
func (r *QdrantRepository) PointID(vectorID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(r.collectionName+"/"+vectorID)).String()
}

func metadataToPayload(vectorID string, m domain.VectorMetadata) map[string]*pb.Value {
	return map[string]*pb.Value{
		domain.MetaVectorID:  {Kind: &pb.Value_StringValue{StringValue: vectorID}},
		domain.MetaText:      {Kind: &pb.Value_StringValue{StringValue: m.Text}},
		domain.MetaSpeakerID: {Kind: &pb.Value_StringValue{StringValue: m.SpeakerID}},
		domain.MetaStartTime: {Kind: &pb.Value_DoubleValue{DoubleValue: m.StartTime}},
		domain.MetaEndTime:   {Kind: &pb.Value_DoubleValue{DoubleValue: m.EndTime}},
	}
}

func payloadToMetadata(payload map[string]*pb.Value) (string, domain.VectorMetadata) {
	var m domain.VectorMetadata
	if payload == nil {
		return "", m
	}
	m.Text = payload[domain.MetaText].GetStringValue()
	m.SpeakerID = payload[domain.MetaSpeakerID].GetStringValue()
	m.StartTime = numberValue(payload[domain.MetaStartTime])
	m.EndTime = numberValue(payload[domain.MetaEndTime])
	return payload[domain.MetaVectorID].GetStringValue(), m
}

// numberValue accepts both double and integer payload values.
func numberValue(v *pb.Value) float64 {
	if v == nil {
		return 0
	}
	switch k := v.GetKind().(type) {
	case *pb.Value_DoubleValue:
		return k.DoubleValue
	case *pb.Value_IntegerValue:
		return float64(k.IntegerValue)
	default:
		return 0
	}
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

func optionalUint64(v uint64) *uint64 {
	return &v
}

func optionalBool(v bool) *bool {
	return &v
}

func collectionVectorSize(info *pb.CollectionInfo) (uint64, bool) {
	if info == nil {
		return 0, false
	}

	params := info.GetConfig().GetParams()
	if params == nil {
		return 0, false
	}

	vectors := params.GetVectorsConfig()
	if vectors == nil {
		return 0, false
	}

	if single := vectors.GetParams(); single != nil {
		if size := single.GetSize(); size > 0 {
			return size, true
		}
	}

	if paramsMap := vectors.GetParamsMap(); paramsMap != nil {
		for _, vectorParams := range paramsMap.GetMap() {
			if size := vectorParams.GetSize(); size > 0 {
				return size, true
			}
		}
	}

	return 0, false
}

package qdrant

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"
	qdrant "github.com/qdrant/go-client/qdrant"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/hive-discover/clip-api/internal/domain"
)

const (
	payloadHashes  = "image_hash"
	payloadQuality = "brisque_score"
	payloadDocID   = "doc_id"
)

// pointNamespace scopes the deterministic point ids derived from content hashes.
var pointNamespace = uuid.MustParse("6f1c7a52-4b1e-4d6a-9a57-31c2c1e0d9b4")

// Options configures the Qdrant vector store.
type Options struct {
	Host        string
	Port        int
	APIKey      string
	Collection  string
	Dimension   int
	ImagesIndex string
}

// Store implements port.VectorStore over the Qdrant gRPC API. One point per
// visual cluster, keyed by the hash of the image that created it.
type Store struct {
	conn        *grpc.ClientConn
	points      qdrant.PointsClient
	collections qdrant.CollectionsClient
	opts        Options
	log         zerolog.Logger

	mu    sync.Mutex
	ready bool
}

// NewStore dials Qdrant. The connection is established lazily.
func NewStore(opts Options, log zerolog.Logger) (*Store, error) {
	target := opts.Host + ":" + strconv.Itoa(opts.Port)
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant at %s: %w", target, err)
	}
	return NewStoreWithConn(conn, opts, log), nil
}

// NewStoreWithConn wraps an existing gRPC connection.
func NewStoreWithConn(conn *grpc.ClientConn, opts Options, log zerolog.Logger) *Store {
	return &Store{
		conn:        conn,
		points:      qdrant.NewPointsClient(conn),
		collections: qdrant.NewCollectionsClient(conn),
		opts:        opts,
		log:         log,
	}
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) withAuth(ctx context.Context) context.Context {
	if s.opts.APIKey == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "api-key", s.opts.APIKey)
}

// ensureCollection creates the collection on first use.
func (s *Store) ensureCollection(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}

	_, err := s.collections.Get(ctx, &qdrant.GetCollectionInfoRequest{CollectionName: s.opts.Collection})
	if err != nil {
		st, ok := status.FromError(err)
		if !ok || st.Code() != codes.NotFound {
			return fmt.Errorf("failed to check collection %s: %w", s.opts.Collection, err)
		}

		s.log.Info().Str("collection", s.opts.Collection).Msg("creating vector collection")
		_, err = s.collections.Create(ctx, &qdrant.CreateCollection{
			CollectionName: s.opts.Collection,
			VectorsConfig: &qdrant.VectorsConfig{
				Config: &qdrant.VectorsConfig_Params{
					Params: &qdrant.VectorParams{
						Size:     uint64(s.opts.Dimension),
						Distance: qdrant.Distance_Cosine,
					},
				},
			},
		})
		if err != nil {
			return fmt.Errorf("failed to create collection %s: %w", s.opts.Collection, err)
		}
	}

	s.ready = true
	return nil
}

// Create stores a new cluster point and returns its id.
func (s *Store) Create(ctx context.Context, entry domain.VectorEntry) (string, error) {
	ctx = s.withAuth(ctx)
	if err := s.ensureCollection(ctx); err != nil {
		return "", err
	}

	id := PointID(entry.Hash)
	wait := true
	_, err := s.points.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.opts.Collection,
		Wait:           &wait,
		Points: []*qdrant.PointStruct{{
			Id:      &qdrant.PointId{PointIdOptions: &qdrant.PointId_Uuid{Uuid: id}},
			Payload: Payload(entry.Hash, entry.DuplicateHashes, entry.Quality),
			Vectors: &qdrant.Vectors{VectorsOptions: &qdrant.Vectors_Vector{Vector: &qdrant.Vector{Data: entry.Vector}}},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upsert point %s: %w", entry.Hash, err)
	}
	return id, nil
}

// UpdatePayload replaces the duplicate set and quality of the cluster point.
func (s *Store) UpdatePayload(ctx context.Context, hash string, duplicates []string, quality float64) error {
	ctx = s.withAuth(ctx)
	if err := s.ensureCollection(ctx); err != nil {
		return err
	}

	wait := true
	_, err := s.points.SetPayload(ctx, &qdrant.SetPayloadPoints{
		CollectionName: s.opts.Collection,
		Wait:           &wait,
		Payload:        Payload(hash, duplicates, quality),
		PointsSelector: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{
					Ids: []*qdrant.PointId{{PointIdOptions: &qdrant.PointId_Uuid{Uuid: PointID(hash)}}},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to set payload for %s: %w", hash, err)
	}
	return nil
}

// SimilarImages searches the collection. Qdrant returns raw cosine; the
// score is shifted into the 1 + cosine space used by the duplicate threshold.
func (s *Store) SimilarImages(ctx context.Context, vector []float32, k int) ([]domain.SimilarImage, error) {
	ctx = s.withAuth(ctx)
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}

	resp, err := s.points.Search(ctx, &qdrant.SearchPoints{
		CollectionName: s.opts.Collection,
		Vector:         vector,
		Limit:          uint64(k),
		WithPayload:    &qdrant.WithPayloadSelector{SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	out := make([]domain.SimilarImage, 0, len(resp.GetResult()))
	for _, p := range resp.GetResult() {
		out = append(out, SimilarFromPoint(p, s.opts.ImagesIndex))
	}
	return out, nil
}

// PointID derives the point id for a cluster hash.
func PointID(hash string) string {
	return uuid.NewSHA1(pointNamespace, []byte(hash)).String()
}

// Payload builds the point payload for a cluster.
func Payload(hash string, duplicates []string, quality float64) map[string]*qdrant.Value {
	values := make([]*qdrant.Value, 0, len(duplicates))
	for _, d := range duplicates {
		values = append(values, &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: d}})
	}
	return map[string]*qdrant.Value{
		payloadDocID:   {Kind: &qdrant.Value_StringValue{StringValue: hash}},
		payloadHashes:  {Kind: &qdrant.Value_ListValue{ListValue: &qdrant.ListValue{Values: values}}},
		payloadQuality: {Kind: &qdrant.Value_DoubleValue{DoubleValue: quality}},
	}
}

// SimilarFromPoint converts a scored point into a similarity hit addressed
// at the image document the cluster was created with.
func SimilarFromPoint(p *qdrant.ScoredPoint, index string) domain.SimilarImage {
	payload := p.GetPayload()
	sim := domain.SimilarImage{
		Index: index,
		ID:    payload[payloadDocID].GetStringValue(),
		Score: 1 + float64(p.GetScore()),
	}
	for _, v := range payload[payloadHashes].GetListValue().GetValues() {
		sim.DuplicateHashes = append(sim.DuplicateHashes, v.GetStringValue())
	}
	switch q := payload[payloadQuality].GetKind().(type) {
	case *qdrant.Value_DoubleValue:
		sim.Quality, sim.HasQuality = q.DoubleValue, true
	case *qdrant.Value_IntegerValue:
		sim.Quality, sim.HasQuality = float64(q.IntegerValue), true
	}
	if sim.ID == "" {
		sim.ID = p.GetId().GetUuid()
	}
	return sim
}

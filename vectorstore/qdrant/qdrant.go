// Package qdrant stores indexes as Qdrant collections with a multivector
// MaxSim comparator.
package qdrant

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"

	"github.com/midras-ai/midras/internal/domain"
	"github.com/midras-ai/midras/vectorstore"
)

const (
	// DefaultAddr is the gRPC endpoint of a local Qdrant.
	DefaultAddr = "localhost:6334"
	// DefaultDimensions is the row width of ColBERT embeddings.
	DefaultDimensions = 128

	idPayloadKey = "_midras_id"
)

// point ids that are not integers or UUIDs are hashed into this namespace
var idNamespace = uuid.MustParse("6f1c1d2e-8a7b-4c1e-9a55-3d7c0c5e2b10")

var _ vectorstore.Store = (*Store)(nil)

// Config holds connection parameters.
type Config struct {
	Addr       string
	Dimensions int
	DialOpts   []grpc.DialOption
}

// Store is a blocking vector store backed by Qdrant.
type Store struct {
	collections qdrant.CollectionsClient
	points      qdrant.PointsClient
	dims        uint64
	closer      func() error
}

// New dials Qdrant. The connection is established lazily by gRPC.
func New(cfg Config) (*Store, error) {
	addr := cfg.Addr
	if addr == "" {
		addr = DefaultAddr
	}
	opts := cfg.DialOpts
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("could not connect to qdrant: %w", err)
	}
	s := newStore(qdrant.NewCollectionsClient(conn), qdrant.NewPointsClient(conn), cfg.Dimensions)
	s.closer = conn.Close
	return s, nil
}

func newStore(c qdrant.CollectionsClient, p qdrant.PointsClient, dims int) *Store {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &Store{collections: c, points: p, dims: uint64(dims), closer: func() error { return nil }}
}

// Concurrency implements vectorstore.Backend.
func (s *Store) Concurrency() vectorstore.Concurrency { return vectorstore.Blocking }

// CreateIndex creates a collection unless it exists.
func (s *Store) CreateIndex(ctx context.Context, name string) (bool, error) {
	if err := vectorstore.ValidateIndexName(name); err != nil {
		return false, err
	}
	exists, err := s.exists(ctx, name)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	_, err = s.collections.Create(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.dims,
			Distance: qdrant.Distance_Dot,
			MultivectorConfig: &qdrant.MultiVectorConfig{
				Comparator: qdrant.MultiVectorComparator_MaxSim,
			},
		}),
	})
	if err != nil {
		// lost a race with another creator
		if status.Code(err) == codes.AlreadyExists {
			return false, nil
		}
		return false, fmt.Errorf("create collection %q: %w", name, err)
	}
	return true, nil
}

// CreatePoint builds a point without storing it.
func (s *Store) CreatePoint(id vectorstore.PointID, embedding domain.ColBERT, metadata map[string]any) vectorstore.Point {
	return vectorstore.NewPoint(id, embedding, metadata)
}

// SavePoints upserts points and waits for the write to be applied.
func (s *Store) SavePoints(
	ctx context.Context, name string, points []vectorstore.Point,
) (vectorstore.SaveResult, error) {
	if err := s.requireIndex(ctx, name); err != nil {
		return vectorstore.SaveResult{}, err
	}
	if len(points) == 0 {
		return vectorstore.SaveResult{}, nil
	}
	if err := vectorstore.ValidatePoints(points); err != nil {
		return vectorstore.SaveResult{}, err
	}

	structs := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		if uint64(p.Embedding.Dims()) != s.dims {
			return vectorstore.SaveResult{}, fmt.Errorf("point %s has %d dims, collection expects %d: %w",
				p.ID, p.Embedding.Dims(), s.dims, domain.ErrInvalidInput)
		}
		payload, err := toPayload(p.Metadata)
		if err != nil {
			return vectorstore.SaveResult{}, fmt.Errorf("point %s: %w", p.ID, err)
		}
		payload[idPayloadKey] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: p.ID.Key()}}
		structs = append(structs, &qdrant.PointStruct{
			Id:      pointID(p.ID),
			Vectors: multiVector(p.Embedding),
			Payload: payload,
		})
	}

	_, err := s.points.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: name,
		Points:         structs,
		Wait:           proto.Bool(true),
	})
	if err != nil {
		return vectorstore.SaveResult{}, mapErr(err, "upsert points to %q", name)
	}
	return vectorstore.SaveResult{Saved: len(points)}, nil
}

// Search runs a multivector nearest query.
func (s *Store) Search(
	ctx context.Context, name string, query domain.ColBERT, topK int,
) ([]vectorstore.Match, error) {
	if err := vectorstore.ValidateQuery(query, topK); err != nil {
		return nil, err
	}
	if err := s.requireIndex(ctx, name); err != nil {
		return nil, err
	}

	rows := make([]*qdrant.DenseVector, len(query))
	for i, row := range query {
		rows[i] = &qdrant.DenseVector{Data: row}
	}
	resp, err := s.points.Query(ctx, &qdrant.QueryPoints{
		CollectionName: name,
		Query: &qdrant.Query{Variant: &qdrant.Query_Nearest{Nearest: &qdrant.VectorInput{
			Variant: &qdrant.VectorInput_MultiDense{MultiDense: &qdrant.MultiDenseVector{Vectors: rows}},
		}}},
		Limit:       proto.Uint64(uint64(topK)),
		WithPayload: &qdrant.WithPayloadSelector{SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, mapErr(err, "query %q", name)
	}

	matches := make([]vectorstore.Match, 0, len(resp.GetResult()))
	for _, hit := range resp.GetResult() {
		payload := hit.GetPayload()
		id, err := vectorstore.ParseKey(payload[idPayloadKey].GetStringValue())
		if err != nil {
			return nil, fmt.Errorf("query %q: %w", name, err)
		}
		meta := fromPayload(payload)
		delete(meta, idPayloadKey)
		matches = append(matches, vectorstore.Match{
			ID:       id,
			Score:    float64(hit.GetScore()),
			Metadata: meta,
		})
	}
	return vectorstore.Rank(matches, topK), nil
}

// Ping lists collections to check that the server answers.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.collections.List(ctx, &qdrant.ListCollectionsRequest{}); err != nil {
		return fmt.Errorf("list collections: %w", err)
	}
	return nil
}

// Close closes the gRPC connection.
func (s *Store) Close() error {
	return s.closer()
}

func (s *Store) exists(ctx context.Context, name string) (bool, error) {
	resp, err := s.collections.CollectionExists(ctx, &qdrant.CollectionExistsRequest{CollectionName: name})
	if err != nil {
		return false, fmt.Errorf("check collection %q: %w", name, err)
	}
	return resp.GetResult().GetExists(), nil
}

func (s *Store) requireIndex(ctx context.Context, name string) error {
	ok, err := s.exists(ctx, name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("index %q: %w", name, domain.ErrIndexNotFound)
	}
	return nil
}

func mapErr(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%s: %w", msg, errors.Join(domain.ErrIndexNotFound, err))
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// pointID maps non-negative integers to numeric ids and every other id to a UUID.
// Only a canonical lowercase UUID string is used as is; other spellings of the
// same UUID are distinct ids and get a derived one.
func pointID(id vectorstore.PointID) *qdrant.PointId {
	if id.IsNumeric() && id.Int() >= 0 {
		return &qdrant.PointId{PointIdOptions: &qdrant.PointId_Num{Num: uint64(id.Int())}}
	}
	if !id.IsNumeric() {
		if u, err := uuid.Parse(id.String()); err == nil && u.String() == id.String() {
			return &qdrant.PointId{PointIdOptions: &qdrant.PointId_Uuid{Uuid: u.String()}}
		}
	}
	u := uuid.NewSHA1(idNamespace, []byte(id.Key()))
	return &qdrant.PointId{PointIdOptions: &qdrant.PointId_Uuid{Uuid: u.String()}}
}

func multiVector(emb domain.ColBERT) *qdrant.Vectors {
	flat := make([]float32, 0, len(emb)*emb.Dims())
	for _, row := range emb {
		flat = append(flat, row...)
	}
	return &qdrant.Vectors{VectorsOptions: &qdrant.Vectors_Vector{Vector: &qdrant.Vector{
		Data:         flat,
		VectorsCount: proto.Uint32(uint32(len(emb))),
	}}}
}

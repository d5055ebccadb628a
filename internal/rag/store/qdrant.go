package store

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// payloadOriginalID stores the human-readable "path:chunk_id" key in the
// point payload, since Qdrant point IDs must be UUIDs or positive integers.
const payloadOriginalID = "_original_id"

// QdrantStore is a VectorStore backed by a local Qdrant collection, housed
// under the rag/chroma_db/ directory name kept verbatim in the persisted
// state layout regardless of the concrete engine behind it.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	dimension  int
}

// NewQdrantStore connects to Qdrant (gRPC, default port 6334) and ensures
// the collection exists with the given embedding dimension.
func NewQdrantStore(dsn, collection string, dimension int) (*QdrantStore, error) {
	if collection == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("dimension must be > 0")
	}

	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse qdrant dsn: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsed.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("invalid port in qdrant dsn: %w", err)
	}

	cfg := &qdrant.Config{Host: host, Port: portNum}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}

	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}

	s := &QdrantStore{client: client, collection: collection, dimension: dimension}
	if err := s.ensureCollection(context.Background()); err != nil {
		client.Close()
		return nil, fmt.Errorf("ensure collection: %w", err)
	}
	return s, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("check collection exists: %w", err)
	}
	if exists {
		return nil
	}
	return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
}

func pointIDFor(path, chunkID string) (string, string) {
	key := path + ":" + chunkID
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String(), key
}

// Upsert stores or replaces one chunk's embedding and payload.
func (s *QdrantStore) Upsert(ctx context.Context, chunk Chunk, vector []float32) error {
	uuidStr, key := pointIDFor(chunk.Path, chunk.ChunkID)
	vec := make([]float32, len(vector))
	copy(vec, vector)

	payload := qdrant.NewValueMap(map[string]any{
		payloadOriginalID: key,
		"path":            chunk.Path,
		"chunk_id":        chunk.ChunkID,
		"content_hash":    chunk.ContentHash,
		"content":         chunk.Content,
		"section":         chunk.Section,
	})

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(uuidStr),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: payload,
		}},
	})
	return err
}

// DeleteByPath removes every indexed chunk for a file path.
func (s *QdrantStore) DeleteByPath(ctx context.Context, path string) error {
	limit := uint64(10000)
	hits, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch("path", path)},
		},
		Limit:       &limit,
		WithPayload: qdrant.NewWithPayload(false),
	})
	if err != nil {
		return fmt.Errorf("query chunks for path: %w", err)
	}
	if len(hits) == 0 {
		return nil
	}

	ids := make([]*qdrant.PointId, 0, len(hits))
	for _, hit := range hits {
		ids = append(ids, hit.Id)
	}
	_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points:         qdrant.NewPointsSelector(ids...),
	})
	return err
}

// SimilaritySearch returns the k nearest chunks to the query vector.
func (s *QdrantStore) SimilaritySearch(ctx context.Context, vector []float32, k int) ([]SearchResult, error) {
	if k <= 0 {
		k = 10
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)
	limit := uint64(k)

	hits, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(hits))
	for _, hit := range hits {
		chunk := Chunk{}
		if hit.Payload != nil {
			if v, ok := hit.Payload["path"]; ok {
				chunk.Path = v.GetStringValue()
			}
			if v, ok := hit.Payload["chunk_id"]; ok {
				chunk.ChunkID = v.GetStringValue()
			}
			if v, ok := hit.Payload["content_hash"]; ok {
				chunk.ContentHash = v.GetStringValue()
			}
			if v, ok := hit.Payload["content"]; ok {
				chunk.Content = v.GetStringValue()
			}
			if v, ok := hit.Payload["section"]; ok {
				chunk.Section = v.GetStringValue()
			}
		}
		results = append(results, SearchResult{Chunk: chunk, Score: float64(hit.Score)})
	}
	return results, nil
}

// Dimension returns the configured embedding dimension.
func (s *QdrantStore) Dimension() int { return s.dimension }

// Close releases the underlying gRPC connection.
func (s *QdrantStore) Close() error { return s.client.Close() }

var _ VectorStore = (*QdrantStore)(nil)

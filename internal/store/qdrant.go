package store

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"github.com/gentable/engine/internal/rag"
	"github.com/gentable/engine/pkg/ptr"
)

// QdrantRetriever is a rag.Retriever backed by a live Qdrant collection
// per knowledge table, grounded directly on the teacher's
// ai/providers/vectorstores/qdrant.VectorStore: one collection per
// knowledge base, cosine distance, payload-carried source text. It
// supplies the vector half of a table's hybrid search; MemStore's
// term-overlap retriever supplies the full-text half, run in parallel by
// rag.Pipeline.retrieve (§4.D: "hybrid search is simply running every
// registered Retriever in parallel and merging their candidates").
type QdrantRetriever struct {
	Client *qdrant.Client
}

// NewQdrantRetriever wraps an already-connected Qdrant client.
func NewQdrantRetriever(client *qdrant.Client) *QdrantRetriever {
	return &QdrantRetriever{Client: client}
}

// payloadTextKey is the payload field holding a point's retrievable
// source text, mirroring the teacher's payloadDocumentContentKey.
const payloadTextKey = "text"

// EnsureCollection creates collectionName with dim-dimensional cosine
// vectors if it does not already exist, called once per knowledge table
// before its first ingest (§4.D step 2 / §6's CreateIndex).
func (r *QdrantRetriever) EnsureCollection(ctx context.Context, collectionName string, dim int) error {
	exists, err := r.Client.CollectionExists(ctx, collectionName)
	if err != nil {
		return fmt.Errorf("qdrant: checking collection %q: %w", collectionName, err)
	}
	if exists {
		return nil
	}
	err = r.Client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collectionName,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: creating collection %q: %w", collectionName, err)
	}
	return nil
}

// Upsert stores rowID's embedding vector under collectionName, with text
// carried as retrievable payload. Called whenever a knowledge table's
// Embed column materializes a new row's vector.
func (r *QdrantRetriever) Upsert(ctx context.Context, collectionName, rowID string, vector []float32, text string) error {
	value, err := qdrant.NewValue(text)
	if err != nil {
		return fmt.Errorf("qdrant: encoding payload text: %w", err)
	}
	_, err = r.Client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collectionName,
		Wait:           ptr.Pointer(true),
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewID(rowID),
			Vectors: qdrant.NewVectors(vector...),
			Payload: map[string]*qdrant.Value{payloadTextKey: value},
		}},
	})
	if err != nil {
		return fmt.Errorf("qdrant: upserting point %q into %q: %w", rowID, collectionName, err)
	}
	return nil
}

// Retrieve implements rag.Retriever against knowledgeTableID's
// collection by vector similarity alone; queryText is accepted for
// interface parity with MemStore's term-overlap retriever but unused
// here.
func (r *QdrantRetriever) Retrieve(ctx context.Context, knowledgeTableID, queryText string, queryVector []float32, limit int) ([]rag.Chunk, error) {
	if len(queryVector) == 0 {
		return nil, nil
	}
	points, err := r.Client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: knowledgeTableID,
		Query:          qdrant.NewQuery(queryVector...),
		Limit:          ptr.Pointer(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: querying collection %q: %w", knowledgeTableID, err)
	}

	chunks := make([]rag.Chunk, 0, len(points))
	for _, p := range points {
		text := ""
		if payload := p.GetPayload(); payload != nil {
			if v, ok := payload[payloadTextKey]; ok {
				text = v.GetStringValue()
			}
		}
		chunks = append(chunks, rag.Chunk{
			Text:         text,
			SourceRowID:  p.GetId().GetUuid(),
			SourceColumn: knowledgeTableID,
			Score:        float64(p.GetScore()),
		})
	}
	return chunks, nil
}

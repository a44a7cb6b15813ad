package index

import (
	"context"
	"fmt"
	"time"

	qpb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"

	"github.com/humpbacklabs/humpback/internal/chunk"
)

const vectorBackend = "vector"

// defaultCallTimeout bounds every backend RPC so a stuck index can never
// hold a request or a job open indefinitely.
const defaultCallTimeout = 15 * time.Second

// VectorIndex adapts a Qdrant collection to the Index contract using the
// gRPC points API. Cosine similarity scores come back in [0,1] for
// normalized embeddings.
type VectorIndex struct {
	points      qpb.PointsClient
	collections qpb.CollectionsClient
	collection  string
	dims        int
	timeout     time.Duration
}

// NewVectorIndex wraps an established gRPC connection to Qdrant.
func NewVectorIndex(conn grpc.ClientConnInterface, collection string, dims int) *VectorIndex {
	return &VectorIndex{
		points:      qpb.NewPointsClient(conn),
		collections: qpb.NewCollectionsClient(conn),
		collection:  collection,
		dims:        dims,
		timeout:     defaultCallTimeout,
	}
}

// EnsureCollection creates the collection (cosine distance) and the
// owner_id payload index if they do not exist yet. Called once at startup.
func (v *VectorIndex) EnsureCollection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	exists, err := v.collections.CollectionExists(ctx, &qpb.CollectionExistsRequest{
		CollectionName: v.collection,
	})
	if err != nil {
		return wrapErr(vectorBackend, fmt.Errorf("checking collection: %w", err))
	}
	if exists.GetResult().GetExists() {
		return nil
	}

	_, err = v.collections.Create(ctx, &qpb.CreateCollection{
		CollectionName: v.collection,
		VectorsConfig: &qpb.VectorsConfig{
			Config: &qpb.VectorsConfig_Params{
				Params: &qpb.VectorParams{
					Size:     uint64(v.dims),
					Distance: qpb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return wrapErr(vectorBackend, fmt.Errorf("creating collection: %w", err))
	}

	fieldType := qpb.FieldType_FieldTypeKeyword
	_, err = v.points.CreateFieldIndex(ctx, &qpb.CreateFieldIndexCollection{
		CollectionName: v.collection,
		FieldName:      "owner_id",
		FieldType:      &fieldType,
	})
	if err != nil {
		return wrapErr(vectorBackend, fmt.Errorf("indexing owner_id: %w", err))
	}
	return nil
}

// Upsert writes documents with their embeddings. Vectors must align 1:1
// with documents.
func (v *VectorIndex) Upsert(ctx context.Context, docs []chunk.IndexedDocument, vectors [][]float32) error {
	if len(docs) == 0 {
		return nil
	}
	if len(vectors) != len(docs) {
		return wrapErr(vectorBackend, fmt.Errorf("got %d vectors for %d documents", len(vectors), len(docs)))
	}

	points := make([]*qpb.PointStruct, 0, len(docs))
	for i := range docs {
		doc := &docs[i]
		if err := doc.Validate(); err != nil {
			return wrapErr(vectorBackend, err)
		}
		if len(vectors[i]) == 0 {
			return wrapErr(vectorBackend, fmt.Errorf("document %s: empty vector", doc.ID))
		}
		points = append(points, &qpb.PointStruct{
			Id: &qpb.PointId{PointIdOptions: &qpb.PointId_Uuid{Uuid: doc.ID}},
			Vectors: &qpb.Vectors{
				VectorsOptions: &qpb.Vectors_Vector{
					Vector: &qpb.Vector{Vector: &qpb.Vector_Dense{Dense: &qpb.DenseVector{Data: vectors[i]}}},
				},
			},
			Payload: payloadFromDocument(doc),
		})
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	wait := true
	_, err := v.points.Upsert(ctx, &qpb.UpsertPoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return wrapErr(vectorBackend, fmt.Errorf("upserting %d points: %w", len(points), err))
	}
	return nil
}

// Delete removes points by chunk id. Missing ids are ignored by the
// backend.
func (v *VectorIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*qpb.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = &qpb.PointId{PointIdOptions: &qpb.PointId_Uuid{Uuid: id}}
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	wait := true
	_, err := v.points.Delete(ctx, &qpb.DeletePoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points: &qpb.PointsSelector{
			PointsSelectorOneOf: &qpb.PointsSelector_Points{
				Points: &qpb.PointsIdsList{Ids: pointIDs},
			},
		},
	})
	if err != nil {
		return wrapErr(vectorBackend, fmt.Errorf("deleting %d points: %w", len(ids), err))
	}
	return nil
}

// Search runs nearest-neighbor retrieval filtered to the query's owner.
func (v *VectorIndex) Search(ctx context.Context, q Query) ([]Hit, error) {
	if len(q.Vector) == 0 {
		return nil, wrapErr(vectorBackend, fmt.Errorf("query vector is required"))
	}
	if q.Limit <= 0 {
		return nil, wrapErr(vectorBackend, fmt.Errorf("limit must be positive"))
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	resp, err := v.points.Search(ctx, &qpb.SearchPoints{
		CollectionName: v.collection,
		Vector:         q.Vector,
		Limit:          uint64(q.Limit),
		Filter: &qpb.Filter{
			Must: []*qpb.Condition{{
				ConditionOneOf: &qpb.Condition_Field{
					Field: &qpb.FieldCondition{
						Key:   "owner_id",
						Match: &qpb.Match{MatchValue: &qpb.Match_Keyword{Keyword: q.OwnerID}},
					},
				},
			}},
		},
		WithPayload: &qpb.WithPayloadSelector{
			SelectorOptions: &qpb.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, wrapErr(vectorBackend, fmt.Errorf("searching: %w", err))
	}

	hits := make([]Hit, 0, len(resp.GetResult()))
	for _, point := range resp.GetResult() {
		doc, err := documentFromPayload(point.GetId().GetUuid(), point.GetPayload())
		if err != nil {
			return nil, wrapErr(vectorBackend, err)
		}
		hits = append(hits, Hit{Document: doc, Score: float64(point.GetScore())})
	}
	return hits, nil
}

// payloadFromDocument flattens an IndexedDocument into a Qdrant payload.
// Timestamps are stored as RFC 3339 strings, epochs as integers.
func payloadFromDocument(doc *chunk.IndexedDocument) map[string]*qpb.Value {
	payload := map[string]*qpb.Value{
		"id":               stringValue(doc.ID),
		"owner_id":         stringValue(doc.OwnerID),
		"title":            stringValue(doc.Title),
		"content":          stringValue(doc.Content),
		"source_url":       stringValue(doc.SourceURL),
		"created_at":       stringValue(doc.CreatedAt.UTC().Format(time.RFC3339Nano)),
		"created_at_epoch": intValue(doc.CreatedAtEpoch),
		"updated_at":       nullValue(),
		"updated_at_epoch": nullValue(),
	}
	if doc.UpdatedAt != nil {
		payload["updated_at"] = stringValue(doc.UpdatedAt.UTC().Format(time.RFC3339Nano))
		payload["updated_at_epoch"] = intValue(*doc.UpdatedAtEpoch)
	}
	return payload
}

// documentFromPayload rebuilds the IndexedDocument a search hit carries.
func documentFromPayload(id string, payload map[string]*qpb.Value) (chunk.IndexedDocument, error) {
	doc := chunk.IndexedDocument{
		ID:             id,
		OwnerID:        payload["owner_id"].GetStringValue(),
		Title:          payload["title"].GetStringValue(),
		Content:        payload["content"].GetStringValue(),
		SourceURL:      payload["source_url"].GetStringValue(),
		CreatedAtEpoch: payload["created_at_epoch"].GetIntegerValue(),
	}

	created, err := time.Parse(time.RFC3339Nano, payload["created_at"].GetStringValue())
	if err != nil {
		return doc, fmt.Errorf("point %s: parsing created_at: %w", id, err)
	}
	doc.CreatedAt = created

	if s := payload["updated_at"].GetStringValue(); s != "" {
		updated, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return doc, fmt.Errorf("point %s: parsing updated_at: %w", id, err)
		}
		doc.UpdatedAt = &updated
		epoch := payload["updated_at_epoch"].GetIntegerValue()
		doc.UpdatedAtEpoch = &epoch
	}
	return doc, nil
}

func stringValue(s string) *qpb.Value {
	return &qpb.Value{Kind: &qpb.Value_StringValue{StringValue: s}}
}

func intValue(n int64) *qpb.Value {
	return &qpb.Value{Kind: &qpb.Value_IntegerValue{IntegerValue: n}}
}

func nullValue() *qpb.Value {
	return &qpb.Value{Kind: &qpb.Value_NullValue{NullValue: qpb.NullValue_NULL_VALUE}}
}

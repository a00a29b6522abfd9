package weaviate

import (
	"context"
	"fmt"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"protoqa/internal/vector"
)

// idNamespace scopes the deterministic object ids derived from chunk ids.
var idNamespace = uuid.MustParse("6f1c9e0a-3b57-4d5e-9a41-8f2d7c3b1e64")

// maxListed bounds IDs(); it matches Weaviate's default QUERY_MAXIMUM_RESULTS.
const maxListed = 10000

// Store implements vector.Index on the ProtocolChunk class.
type Store struct {
	client *weaviate.Client
}

func NewStore(client *weaviate.Client) *Store {
	return &Store{client: client}
}

// ObjectID maps a chunk id onto its stable Weaviate object id.
func ObjectID(chunkID string) string {
	return uuid.NewSHA1(idNamespace, []byte(chunkID)).String()
}

// EnsureSchema creates or migrates the ProtocolChunk class.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return vector.EnsureSchema(ctx, vector.NewWeaviateSchema(s.client))
}

func (s *Store) MaxDistance() float64 { return vector.CosineMaxDistance }

func (s *Store) Add(ctx context.Context, records []vector.Record) error {
	if len(records) == 0 {
		return nil
	}

	objects := make([]*models.Object, len(records))
	for i, r := range records {
		objects[i] = &models.Object{
			Class: vector.ClassName,
			ID:    strfmt.UUID(ObjectID(r.ID)),
			Properties: map[string]interface{}{
				"content":    r.Text,
				"chunkId":    r.ID,
				"pageNumber": r.PageNumber,
				"source":     r.Source,
				"startPos":   r.StartPos,
				"endPos":     r.EndPos,
			},
			Vector: models.C11yVector(r.Embedding),
		}
	}

	resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return err
	}
	for _, o := range resp {
		if o.Result != nil && o.Result.Errors != nil && len(o.Result.Errors.Error) > 0 {
			return fmt.Errorf("batch object %s: %s", o.ID, o.Result.Errors.Error[0].Message)
		}
	}
	return nil
}

func (s *Store) Query(ctx context.Context, embedding []float32, n int) ([]vector.Match, error) {
	if n <= 0 {
		return nil, nil
	}

	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(embedding)
	fields := []graphql.Field{
		{Name: "content"},
		{Name: "chunkId"},
		{Name: "pageNumber"},
		{Name: "source"},
		{Name: "startPos"},
		{Name: "endPos"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
	}

	res, err := s.client.GraphQL().Get().
		WithClassName(vector.ClassName).
		WithNearVector(nearVector).
		WithLimit(n).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}

	var matches []vector.Match
	for _, props := range getObjects(res) {
		m := vector.Match{Metadata: make(map[string]string)}
		if content, ok := props["content"].(string); ok {
			m.Text = content
		}
		if id, ok := props["chunkId"].(string); ok {
			m.ID = id
		}
		if page, ok := props["pageNumber"].(float64); ok {
			m.Metadata[vector.MetaPageNumber] = fmt.Sprintf("%d", int(page))
		}
		if source, ok := props["source"].(string); ok {
			m.Metadata[vector.MetaSource] = source
		}
		if start, ok := props["startPos"].(float64); ok {
			m.Metadata[vector.MetaStartPos] = fmt.Sprintf("%d", int(start))
		}
		if end, ok := props["endPos"].(float64); ok {
			m.Metadata[vector.MetaEndPos] = fmt.Sprintf("%d", int(end))
		}
		if additional, ok := props["_additional"].(map[string]interface{}); ok {
			if d, ok := additional["distance"].(float64); ok {
				m.Distance = d
			}
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// Delete removes chunks by chunkId with batch deletes of at most maxListed ids.
func (s *Store) Delete(ctx context.Context, ids ...string) error {
	for start := 0; start < len(ids); start += maxListed {
		batch := ids[start:min(start+maxListed, len(ids))]
		res, err := s.client.Batch().ObjectsBatchDeleter().
			WithClassName(vector.ClassName).
			WithOutput("minimal").
			WithWhere(filters.Where().
				WithPath([]string{"chunkId"}).
				WithOperator(filters.ContainsAny).
				WithValueString(batch...)).
			Do(ctx)
		if err != nil {
			return fmt.Errorf("batch delete: %w", err)
		}
		if res != nil && res.Results != nil && res.Results.Failed > 0 {
			return fmt.Errorf("batch delete: %d of %d objects failed", res.Results.Failed, res.Results.Matches)
		}
	}
	return nil
}

func (s *Store) IDs(ctx context.Context) ([]string, error) {
	res, err := s.client.GraphQL().Get().
		WithClassName(vector.ClassName).
		WithLimit(maxListed).
		WithFields(graphql.Field{Name: "chunkId"}).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}

	var ids []string
	for _, props := range getObjects(res) {
		if id, ok := props["chunkId"].(string); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	res, err := s.client.GraphQL().Aggregate().
		WithClassName(vector.ClassName).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(res.Errors) > 0 {
		return 0, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}

	agg, ok := res.Data["Aggregate"].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	rows, ok := agg[vector.ClassName].([]interface{})
	if !ok || len(rows) == 0 {
		return 0, nil
	}
	row, _ := rows[0].(map[string]interface{})
	meta, _ := row["meta"].(map[string]interface{})
	count, _ := meta["count"].(float64)
	return int(count), nil
}

func getObjects(res *models.GraphQLResponse) []map[string]interface{} {
	data, ok := res.Data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	raw, ok := data[vector.ClassName].([]interface{})
	if !ok {
		return nil
	}
	out := make([]map[string]interface{}, 0, len(raw))
	for _, c := range raw {
		if props, ok := c.(map[string]interface{}); ok {
			out = append(out, props)
		}
	}
	return out
}

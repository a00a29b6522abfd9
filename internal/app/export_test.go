package app

import "context"

// MockVectorStore satisfies SchemaEnsurer with a fixed result.
type MockVectorStore struct {
	EnsureSchemaErr error
}

func (m *MockVectorStore) EnsureSchema(ctx context.Context) error {
	return m.EnsureSchemaErr
}

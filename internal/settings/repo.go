package settings

import (
	"context"
	"database/sql"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Get(ctx context.Context) (*Settings, error) {
	s := &Settings{}
	query := `SELECT id, relevance_max_distance, relevance_floor_search, relevance_floor_answer, top_k FROM settings WHERE id = 1`
	err := r.db.QueryRowContext(ctx, query).Scan(&s.ID, &s.RelevanceMaxDistance, &s.RelevanceFloorSearch, &s.RelevanceFloorAnswer, &s.TopK)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *PostgresRepo) Update(ctx context.Context, s *Settings) error {
	query := `
		UPDATE settings 
		SET relevance_max_distance = $1, relevance_floor_search = $2, relevance_floor_answer = $3, top_k = $4, updated_at = NOW()
		WHERE id = 1
	`
	_, err := r.db.ExecContext(ctx, query, s.RelevanceMaxDistance, s.RelevanceFloorSearch, s.RelevanceFloorAnswer, s.TopK)
	return err
}

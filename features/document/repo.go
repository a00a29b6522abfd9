package document

import (
	"context"
	"database/sql"
)

type Repository interface {
	Save(ctx context.Context, d *Document) error
	List(ctx context.Context, limit int) ([]Document, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

// Save upserts by task id. A zero file size keeps the stored one.
func (r *PostgresRepo) Save(ctx context.Context, d *Document) error {
	query := `INSERT INTO documents (task_id, filename, pages_count, chunks_count, failed_count, file_size, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (task_id) DO UPDATE SET
			pages_count = EXCLUDED.pages_count,
			chunks_count = EXCLUDED.chunks_count,
			failed_count = EXCLUDED.failed_count,
			file_size = CASE WHEN EXCLUDED.file_size > 0 THEN EXCLUDED.file_size ELSE documents.file_size END,
			status = EXCLUDED.status
		RETURNING id, created_at`
	return r.db.QueryRowContext(ctx, query,
		d.TaskID, d.Filename, d.PagesCount, d.ChunksCount, d.FailedCount, d.FileSize, d.Status,
	).Scan(&d.ID, &d.CreatedAt)
}

func (r *PostgresRepo) List(ctx context.Context, limit int) ([]Document, error) {
	query := `SELECT id, task_id, filename, pages_count, chunks_count, failed_count, file_size, status, created_at
		FROM documents ORDER BY created_at DESC LIMIT $1`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.TaskID, &d.Filename, &d.PagesCount, &d.ChunksCount, &d.FailedCount, &d.FileSize, &d.Status, &d.CreatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

package feedback

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

type Repository interface {
	Save(ctx context.Context, f *Feedback) error
	Recent(ctx context.Context, limit int) ([]Feedback, error)
	Counts(ctx context.Context, since time.Time) (*Counts, error)
	RecordQuestion(ctx context.Context, q Question) error
	Count(ctx context.Context) (int, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Save(ctx context.Context, f *Feedback) error {
	sources, err := json.Marshal(f.Sources)
	if err != nil {
		return err
	}
	extra, err := json.Marshal(f.AdditionalData)
	if err != nil {
		return err
	}

	query := `INSERT INTO feedback (message_id, question, answer, reaction_type, user_session, sources, evidence_count, confidence_score, additional_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id, created_at`
	return r.db.QueryRowContext(ctx, query,
		f.MessageID, f.Question, f.Answer, string(f.ReactionType), f.UserSession,
		sources, f.EvidenceCount, f.ConfidenceScore, extra,
	).Scan(&f.ID, &f.CreatedAt)
}

func (r *PostgresRepo) Recent(ctx context.Context, limit int) ([]Feedback, error) {
	query := `SELECT id, message_id, question, reaction_type, sources, evidence_count, confidence_score, created_at
		FROM feedback ORDER BY created_at DESC LIMIT $1`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Feedback
	for rows.Next() {
		var f Feedback
		var reaction string
		var sources []byte
		if err := rows.Scan(&f.ID, &f.MessageID, &f.Question, &reaction, &sources, &f.EvidenceCount, &f.ConfidenceScore, &f.CreatedAt); err != nil {
			return nil, err
		}
		f.ReactionType = Reaction(reaction)
		if len(sources) > 0 {
			if err := json.Unmarshal(sources, &f.Sources); err != nil {
				return nil, err
			}
		}
		if f.Sources == nil {
			f.Sources = []string{}
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) Counts(ctx context.Context, since time.Time) (*Counts, error) {
	query := `SELECT
		(SELECT COUNT(*) FROM questions WHERE created_at >= $1),
		COUNT(*) FILTER (WHERE reaction_type = 'like'),
		COUNT(*) FILTER (WHERE reaction_type = 'dislike'),
		COUNT(*) FILTER (WHERE reaction_type = 'copy'),
		COUNT(*) FILTER (WHERE reaction_type = 'view_evidence'),
		COALESCE(AVG(confidence_score), 0)
		FROM feedback WHERE created_at >= $1`
	c := &Counts{}
	err := r.db.QueryRowContext(ctx, query, since).Scan(&c.Questions, &c.Likes, &c.Dislikes, &c.Copies, &c.EvidenceViews, &c.AvgConfidence)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *PostgresRepo) RecordQuestion(ctx context.Context, q Question) error {
	query := `INSERT INTO questions (user_session, question, method, category) VALUES ($1, $2, $3, $4)`
	_, err := r.db.ExecContext(ctx, query, q.UserSession, q.Question, q.Method, q.Category)
	return err
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM feedback`).Scan(&count)
	return count, err
}

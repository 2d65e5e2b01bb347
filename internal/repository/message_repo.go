package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	ID        int64     `db:"id"`
	ProjectID string    `db:"project_id"`
	Role      string    `db:"role"`
	Content   string    `db:"content"`
	CreatedAt time.Time `db:"created_at"`
}

type MessageRepository struct {
	db *sqlx.DB
}

func NewMessageRepository(db *sqlx.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) ListByProject(ctx context.Context, projectID string) ([]Message, error) {
	var msgs []Message
	err := r.db.SelectContext(ctx, &msgs,
		`SELECT id, project_id, role, content, created_at FROM messages WHERE project_id = ? ORDER BY id`,
		projectID,
	)
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *MessageRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, m *Message) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO messages (project_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		m.ProjectID, m.Role, m.Content, m.CreatedAt,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r *MessageRepository) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	return withTx(ctx, r.db, fn)
}

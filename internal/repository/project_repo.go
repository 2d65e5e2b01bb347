package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

const (
	ProjectStatusActive   = "active"
	ProjectStatusArchived = "archived"
	ProjectStatusDeleted  = "deleted"
)

type Project struct {
	ID          string    `db:"id"`
	UserID      int64     `db:"user_id"`
	Name        string    `db:"name"`
	Description string    `db:"description"`
	Prompt      string    `db:"prompt"`
	Content     string    `db:"content"`
	Status      string    `db:"status"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

type ProjectRepository struct {
	db *sqlx.DB
}

func NewProjectRepository(db *sqlx.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

const projectColumns = `id, user_id, name, description, prompt, content, status, created_at, updated_at`

func (r *ProjectRepository) Create(ctx context.Context, p *Project) error {
	_, err := r.db.NamedExecContext(ctx,
		`INSERT INTO projects (id, user_id, name, description, prompt, content, status, created_at, updated_at)
		 VALUES (:id, :user_id, :name, :description, :prompt, :content, :status, :created_at, :updated_at)`,
		p,
	)
	return err
}

// ListByUser returns the user's projects, most recently updated first. A
// non-empty query keeps projects whose name or prompt contains it.
func (r *ProjectRepository) ListByUser(ctx context.Context, userID int64, query string) ([]Project, error) {
	q := `SELECT ` + projectColumns + ` FROM projects WHERE user_id = ?`
	args := []any{userID}
	if query = strings.TrimSpace(query); query != "" {
		pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
		q += ` AND (LOWER(name) LIKE ? OR LOWER(prompt) LIKE ?)`
		args = append(args, pattern, pattern)
	}
	q += ` ORDER BY updated_at DESC, id`

	var projects []Project
	if err := r.db.SelectContext(ctx, &projects, q, args...); err != nil {
		return nil, err
	}
	return projects, nil
}

func (r *ProjectRepository) GetForUser(ctx context.Context, id string, userID int64) (*Project, error) {
	var p Project
	err := r.db.GetContext(ctx, &p, `SELECT `+projectColumns+` FROM projects WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (r *ProjectRepository) Update(ctx context.Context, p *Project) error {
	_, err := r.db.NamedExecContext(ctx,
		`UPDATE projects
		 SET name = :name, description = :description, prompt = :prompt, content = :content, status = :status, updated_at = :updated_at
		 WHERE id = :id AND user_id = :user_id`,
		p,
	)
	return err
}

func (r *ProjectRepository) Delete(ctx context.Context, id string, userID int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *ProjectRepository) TouchTx(ctx context.Context, tx *sqlx.Tx, id string, ts time.Time) error {
	_, err := tx.ExecContext(ctx, `UPDATE projects SET updated_at = ? WHERE id = ?`, ts, id)
	return err
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

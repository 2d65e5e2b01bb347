package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"ProjectForge/internal/repository"
)

type Generator interface {
	Generate(ctx context.Context, message, projectPrompt string) (string, error)
}

type ChatService struct {
	db       *sqlx.DB
	projects chatProjectStore
	messages chatMessageStore
	gen      Generator
	logger   *slog.Logger
	now      func() time.Time
}

type chatProjectStore interface {
	GetForUser(ctx context.Context, id string, userID int64) (*repository.Project, error)
	TouchTx(ctx context.Context, tx *sqlx.Tx, id string, ts time.Time) error
}

type chatMessageStore interface {
	ListByProject(ctx context.Context, projectID string) ([]repository.Message, error)
	CreateTx(ctx context.Context, tx *sqlx.Tx, m *repository.Message) (int64, error)
}

func NewChatService(db *sqlx.DB, projects chatProjectStore, messages chatMessageStore, gen Generator, logger *slog.Logger) *ChatService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatService{db: db, projects: projects, messages: messages, gen: gen, logger: logger, now: time.Now}
}

func (s *ChatService) ListMessages(ctx context.Context, userID int64, projectID string) ([]repository.Message, error) {
	p, err := s.projects.GetForUser(ctx, projectID, userID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrNotFound
	}
	msgs, err := s.messages.ListByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []repository.Message{}
	}
	return msgs, nil
}

// Send generates a reply to content and stores both messages. Nothing is
// written when generation fails.
func (s *ChatService) Send(ctx context.Context, userID int64, projectID, content string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("%w: message content is required", ErrBadRequest)
	}

	p, err := s.projects.GetForUser(ctx, projectID, userID)
	if err != nil {
		return "", err
	}
	if p == nil {
		return "", ErrNotFound
	}

	reply, err := s.gen.Generate(ctx, content, p.Prompt)
	if err != nil {
		s.logger.Warn("generation failed", "project_id", projectID, "user_id", userID, "err", err)
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	now := s.now().UTC()
	if _, err := s.messages.CreateTx(ctx, tx, &repository.Message{ProjectID: projectID, Role: repository.RoleUser, Content: content, CreatedAt: now}); err != nil {
		return "", err
	}
	if _, err := s.messages.CreateTx(ctx, tx, &repository.Message{ProjectID: projectID, Role: repository.RoleAssistant, Content: reply, CreatedAt: now}); err != nil {
		return "", err
	}
	if err := s.projects.TouchTx(ctx, tx, projectID, now); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return reply, nil
}

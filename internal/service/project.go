package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"ProjectForge/internal/repository"
)

type ProjectService struct {
	projects projectStore
	messages messageLister
	logger   *slog.Logger
	now      func() time.Time
}

type projectStore interface {
	Create(ctx context.Context, p *repository.Project) error
	ListByUser(ctx context.Context, userID int64, query string) ([]repository.Project, error)
	GetForUser(ctx context.Context, id string, userID int64) (*repository.Project, error)
	Update(ctx context.Context, p *repository.Project) error
	Delete(ctx context.Context, id string, userID int64) (bool, error)
}

type messageLister interface {
	ListByProject(ctx context.Context, projectID string) ([]repository.Message, error)
}

type ProjectInput struct {
	Name        string
	Description string
	Prompt      string
}

// ProjectPatch holds the fields to change; nil fields are left as they are.
type ProjectPatch struct {
	Name        *string
	Description *string
	Prompt      *string
	Content     *string
	Status      *string
}

func NewProjectService(projects projectStore, messages messageLister, logger *slog.Logger) *ProjectService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProjectService{projects: projects, messages: messages, logger: logger, now: time.Now}
}

func (s *ProjectService) Create(ctx context.Context, userID int64, in ProjectInput) (*repository.Project, error) {
	name := strings.TrimSpace(in.Name)
	if err := validateProjectName(name); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	p := &repository.Project{
		ID:          uuid.NewString(),
		UserID:      userID,
		Name:        name,
		Description: in.Description,
		Prompt:      in.Prompt,
		Status:      repository.ProjectStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.projects.Create(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info("project created", "project_id", p.ID, "user_id", userID)
	return p, nil
}

func (s *ProjectService) List(ctx context.Context, userID int64, query string) ([]repository.Project, error) {
	projects, err := s.projects.ListByUser(ctx, userID, query)
	if err != nil {
		return nil, err
	}
	if projects == nil {
		projects = []repository.Project{}
	}
	return projects, nil
}

func (s *ProjectService) Get(ctx context.Context, userID int64, id string) (*repository.Project, []repository.Message, error) {
	p, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := s.messages.ListByProject(ctx, p.ID)
	if err != nil {
		return nil, nil, err
	}
	if msgs == nil {
		msgs = []repository.Message{}
	}
	return p, msgs, nil
}

func (s *ProjectService) Update(ctx context.Context, userID int64, id string, patch ProjectPatch) (*repository.Project, error) {
	p, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if err := validateProjectName(name); err != nil {
			return nil, err
		}
		p.Name = name
	}
	if patch.Description != nil {
		p.Description = *patch.Description
	}
	if patch.Prompt != nil {
		p.Prompt = *patch.Prompt
	}
	if patch.Content != nil {
		p.Content = *patch.Content
	}
	if patch.Status != nil {
		switch *patch.Status {
		case repository.ProjectStatusActive, repository.ProjectStatusArchived, repository.ProjectStatusDeleted:
			p.Status = *patch.Status
		default:
			return nil, fmt.Errorf("%w: invalid status", ErrBadRequest)
		}
	}
	p.UpdatedAt = s.now().UTC()

	if err := s.projects.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *ProjectService) Delete(ctx context.Context, userID int64, id string) error {
	ok, err := s.projects.Delete(ctx, id, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	s.logger.Info("project deleted", "project_id", id, "user_id", userID)
	return nil
}

// owned hides projects of other users behind ErrNotFound.
func (s *ProjectService) owned(ctx context.Context, userID int64, id string) (*repository.Project, error) {
	p, err := s.projects.GetForUser(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrNotFound
	}
	return p, nil
}

func validateProjectName(name string) error {
	if n := utf8.RuneCountInString(name); n < 1 || n > 100 {
		return fmt.Errorf("%w: name must be 1-100 characters", ErrBadRequest)
	}
	return nil
}

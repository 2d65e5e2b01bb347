package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"ProjectForge/internal/config"
	"ProjectForge/internal/domain/ratelimit"
	"ProjectForge/internal/repository"
	"ProjectForge/internal/service"
	"ProjectForge/pkg/api/response"
)

const (
	msgProjectLimit  = "Rate limit exceeded. Please try again later."
	msgGenerateLimit = "Rate limit exceeded. Please wait before generating again."

	// generation may call a remote backend
	generateTimeout = 30 * time.Second
)

type ProjectManager interface {
	Create(ctx context.Context, userID int64, in service.ProjectInput) (*repository.Project, error)
	List(ctx context.Context, userID int64, query string) ([]repository.Project, error)
	Get(ctx context.Context, userID int64, id string) (*repository.Project, []repository.Message, error)
	Update(ctx context.Context, userID int64, id string, patch service.ProjectPatch) (*repository.Project, error)
	Delete(ctx context.Context, userID int64, id string) error
}

type Chat interface {
	ListMessages(ctx context.Context, userID int64, projectID string) ([]repository.Message, error)
	Send(ctx context.Context, userID int64, projectID, content string) (string, error)
}

type ProjectHandler struct {
	projects       ProjectManager
	chat           Chat
	limiter        ratelimit.Limiter
	createPolicy   config.Policy
	generatePolicy config.Policy
	logger         *slog.Logger
}

type createProjectRequest struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=2000"`
	Prompt      string `json:"prompt"`
}

type updateProjectRequest struct {
	Name        *string `json:"name" validate:"omitnil,min=1,max=100"`
	Description *string `json:"description" validate:"omitnil,max=2000"`
	Prompt      *string `json:"prompt"`
	Content     *string `json:"content"`
	Status      *string `json:"status" validate:"omitnil,oneof=active archived deleted"`
}

type sendMessageRequest struct {
	Content string `json:"content" validate:"required"`
}

type projectDTO struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Prompt      string    `json:"prompt"`
	Content     string    `json:"content"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type messageDTO struct {
	ID        int64     `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type projectDetailDTO struct {
	projectDTO
	Messages []messageDTO `json:"messages"`
}

func NewProjectHandler(projects ProjectManager, chat Chat, limiter ratelimit.Limiter, rl config.RateLimitConfig, logger *slog.Logger) *ProjectHandler {
	return &ProjectHandler{
		projects:       projects,
		chat:           chat,
		limiter:        limiter,
		createPolicy:   rl.ProjectCreate,
		generatePolicy: rl.Generate,
		logger:         logger,
	}
}

func (h *ProjectHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(w, r)
	if !ok {
		return
	}
	ctx, cancel := contextWithTimeout(r, requestTimeout)
	defer cancel()

	projects, err := h.projects.List(ctx, userID, strings.TrimSpace(r.URL.Query().Get("q")))
	if h.fail(w, err) {
		return
	}
	out := make([]projectDTO, 0, len(projects))
	for i := range projects {
		out = append(out, toProjectDTO(&projects[i]))
	}
	response.JSON(w, http.StatusOK, out)
}

func (h *ProjectHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(w, r)
	if !ok {
		return
	}
	var req createProjectRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if !checkLimit(w, r, h.limiter, h.logger, intToString(userID), h.createPolicy.Limit, h.createPolicy.WindowSeconds, msgProjectLimit) {
		return
	}

	ctx, cancel := contextWithTimeout(r, requestTimeout)
	defer cancel()

	p, err := h.projects.Create(ctx, userID, service.ProjectInput{Name: req.Name, Description: req.Description, Prompt: req.Prompt})
	if h.fail(w, err) {
		return
	}
	w.Header().Set("Location", "/api/v1/projects/"+p.ID)
	response.JSON(w, http.StatusCreated, toProjectDTO(p))
}

func (h *ProjectHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(w, r)
	if !ok {
		return
	}
	ctx, cancel := contextWithTimeout(r, requestTimeout)
	defer cancel()

	p, msgs, err := h.projects.Get(ctx, userID, chi.URLParam(r, "id"))
	if h.fail(w, err) {
		return
	}
	response.JSON(w, http.StatusOK, projectDetailDTO{projectDTO: toProjectDTO(p), Messages: toMessageDTOs(msgs)})
}

func (h *ProjectHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(w, r)
	if !ok {
		return
	}
	var req updateProjectRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	ctx, cancel := contextWithTimeout(r, requestTimeout)
	defer cancel()

	p, err := h.projects.Update(ctx, userID, chi.URLParam(r, "id"), service.ProjectPatch{
		Name:        req.Name,
		Description: req.Description,
		Prompt:      req.Prompt,
		Content:     req.Content,
		Status:      req.Status,
	})
	if h.fail(w, err) {
		return
	}
	response.JSON(w, http.StatusOK, toProjectDTO(p))
}

func (h *ProjectHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(w, r)
	if !ok {
		return
	}
	ctx, cancel := contextWithTimeout(r, requestTimeout)
	defer cancel()

	if h.fail(w, h.projects.Delete(ctx, userID, chi.URLParam(r, "id"))) {
		return
	}
	response.JSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *ProjectHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(w, r)
	if !ok {
		return
	}
	ctx, cancel := contextWithTimeout(r, requestTimeout)
	defer cancel()

	msgs, err := h.chat.ListMessages(ctx, userID, chi.URLParam(r, "id"))
	if h.fail(w, err) {
		return
	}
	response.JSON(w, http.StatusOK, toMessageDTOs(msgs))
}

func (h *ProjectHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(w, r)
	if !ok {
		return
	}
	var req sendMessageRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	key := "generate:" + intToString(userID)
	if !checkLimit(w, r, h.limiter, h.logger, key, h.generatePolicy.Limit, h.generatePolicy.WindowSeconds, msgGenerateLimit) {
		return
	}

	ctx, cancel := contextWithTimeout(r, generateTimeout)
	defer cancel()

	reply, err := h.chat.Send(ctx, userID, chi.URLParam(r, "id"), req.Content)
	if h.fail(w, err) {
		return
	}
	response.JSON(w, http.StatusOK, map[string]string{"response": reply})
}

func (h *ProjectHandler) fail(w http.ResponseWriter, err error) bool {
	if err != nil && h.logger != nil && !isClientError(err) {
		h.logger.Error("project request failed", "err", err)
	}
	return mapServiceError(w, err)
}

func toProjectDTO(p *repository.Project) projectDTO {
	return projectDTO{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Prompt:      p.Prompt,
		Content:     p.Content,
		Status:      p.Status,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func toMessageDTOs(msgs []repository.Message) []messageDTO {
	out := make([]messageDTO, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageDTO{ID: m.ID, Role: m.Role, Content: m.Content, CreatedAt: m.CreatedAt})
	}
	return out
}

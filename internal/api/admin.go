package api

import (
	"context"
	"net/http"

	"github.com/aifocusdev/focos-ia-sub000/internal/auth"
	"github.com/aifocusdev/focos-ia-sub000/internal/conversation"
	"github.com/aifocusdev/focos-ia-sub000/internal/store"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Sweeper runs the auto-reassignment sweep on demand.
type Sweeper interface {
	Sweep(ctx context.Context) (conversation.SweepResult, error)
}

// IntegrationWriter changes integration credentials. Writes go through the
// registry so its cache is invalidated.
type IntegrationWriter interface {
	Upsert(ctx context.Context, in *store.Integration) (*store.Integration, error)
	Delete(ctx context.Context, id int64) error
}

// AgentDirectory creates agents.
type AgentDirectory interface {
	CreateAgent(ctx context.Context, name, role string) (*store.Agent, error)
}

// AdminHandler serves operator endpoints. Every route requires the admin role.
type AdminHandler struct {
	sweeper      Sweeper
	integrations IntegrationWriter
	agents       AgentDirectory
	log          *zap.Logger
}

func NewAdminHandler(s Sweeper, in IntegrationWriter, ag AgentDirectory, log *zap.Logger) *AdminHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AdminHandler{sweeper: s, integrations: in, agents: ag, log: log.Named("admin")}
}

func (h *AdminHandler) Register(e *echo.Echo) {
	g := e.Group("/admin", auth.RequireRole(auth.RoleAdmin))
	g.POST("/sweep", h.Sweep)
	g.POST("/integrations", h.UpsertIntegration)
	g.DELETE("/integrations/:id", h.DeleteIntegration)
	g.POST("/agents", h.CreateAgent)
}

// Sweep runs the sweep synchronously and returns its counts.
func (h *AdminHandler) Sweep(c echo.Context) error {
	res, err := h.sweeper.Sweep(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	h.log.Info("manual sweep", zap.Int("processed", res.Processed), zap.Int("errors", res.Errors))
	return c.JSON(http.StatusOK, res)
}

type integrationRequest struct {
	Name          string `json:"name" validate:"max=120"`
	PhoneNumberID string `json:"phone_number_id" validate:"required,max=64"`
	AccessToken   string `json:"access_token" validate:"required"`
	APIVersion    string `json:"api_version" validate:"omitempty,max=16"`
}

// IntegrationView omits the access token.
type IntegrationView struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	PhoneNumberID string `json:"phone_number_id"`
	APIVersion    string `json:"api_version,omitempty"`
}

// UpsertIntegration creates or updates the integration keyed by phone number id.
func (h *AdminHandler) UpsertIntegration(c echo.Context) error {
	var req integrationRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	saved, err := h.integrations.Upsert(c.Request().Context(), &store.Integration{
		Name:          req.Name,
		PhoneNumberID: req.PhoneNumberID,
		AccessToken:   req.AccessToken,
		APIVersion:    req.APIVersion,
	})
	if err != nil {
		return httpError(err)
	}
	h.log.Info("integration saved", zap.Int64("integration", saved.ID), zap.String("phone_number_id", saved.PhoneNumberID))
	return c.JSON(http.StatusOK, IntegrationView{
		ID:            saved.ID,
		Name:          saved.Name,
		PhoneNumberID: saved.PhoneNumberID,
		APIVersion:    saved.APIVersion,
	})
}

func (h *AdminHandler) DeleteIntegration(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	if err := h.integrations.Delete(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	h.log.Info("integration deleted", zap.Int64("integration", id))
	return c.NoContent(http.StatusNoContent)
}

type AgentView struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

type agentRequest struct {
	Name string `json:"name" validate:"required,max=120"`
	Role string `json:"role" validate:"omitempty,oneof=admin agent"`
}

func (h *AdminHandler) CreateAgent(c echo.Context) error {
	var req agentRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	if req.Role == "" {
		req.Role = auth.RoleAgent
	}
	a, err := h.agents.CreateAgent(c.Request().Context(), req.Name, req.Role)
	if err != nil {
		return httpError(err)
	}
	h.log.Info("agent created", zap.Int64("agent_id", a.ID), zap.String("role", a.Role))
	return c.JSON(http.StatusCreated, AgentView{ID: a.ID, Name: a.Name, Role: a.Role})
}

package capa

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/psims/psims/internal/platform/auditchain"
	"github.com/psims/psims/internal/platform/auth"
	"github.com/psims/psims/internal/platform/errs"
	"github.com/psims/psims/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/actions")
	g.POST("", h.Create, auth.RequirePermission(auth.PermCAPAManage))
	g.GET("", h.List, auth.RequirePermission(auth.PermCAPARead))
	g.GET("/overdue", h.Overdue, auth.RequirePermission(auth.PermCAPARead))
	g.GET("/:id", h.Get, auth.RequirePermission(auth.PermCAPARead))
	g.PUT("/:id", h.Update, auth.RequirePermission(auth.PermCAPAManage))
	g.POST("/:id/transition", h.Transition, auth.RequirePermission(auth.PermCAPAManage, auth.PermCAPAVerify))
}

func actorFrom(c echo.Context) auditchain.Actor {
	ctx := c.Request().Context()
	roles := auth.RolesFromContext(ctx)
	role := ""
	if len(roles) > 0 {
		role = roles[0]
	}
	return auditchain.Actor{
		ID:        auth.UserIDFromContext(ctx),
		Role:      role,
		Name:      auth.UserNameFromContext(ctx),
		IP:        c.RealIP(),
		UserAgent: c.Request().UserAgent(),
	}
}

func httpError(err error) error {
	return echo.NewHTTPError(errs.HTTPStatus(err), err.Error())
}

func (h *Handler) Create(c echo.Context) error {
	var a Action
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Create(c.Request().Context(), &a, actorFrom(c)); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := Filter{
		Status:     Status(c.QueryParam("status")),
		Kind:       Kind(c.QueryParam("kind")),
		AssigneeID: c.QueryParam("assignee_id"),
	}
	if v := c.QueryParam("risk_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid risk_id")
		}
		f.RiskID = &id
	}
	if v := c.QueryParam("incident_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid incident_id")
		}
		f.IncidentID = &id
	}
	items, total, err := h.svc.Search(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Overdue(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.Overdue(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Update(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var upd Action
	if err := c.Bind(&upd); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.Update(c.Request().Context(), id, &upd, actorFrom(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

type transitionRequest struct {
	To Status `json:"to"`
}

func (h *Handler) Transition(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req transitionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.Transition(c.Request().Context(), id, req.To, actorFrom(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

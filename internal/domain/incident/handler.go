package incident

import (
	"net/http"
	"time"

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
	g := api.Group("/incidents")
	g.POST("", h.Create, auth.RequirePermission(auth.PermIncidentCreate))
	g.GET("", h.List, auth.RequirePermission(auth.PermIncidentRead))
	g.GET("/:id", h.Get, auth.RequirePermission(auth.PermIncidentRead))
	g.PUT("/:id", h.Update, auth.RequirePermission(auth.PermIncidentUpdate))
	g.DELETE("/:id", h.Delete, auth.RequirePermission(auth.PermIncidentDelete))
	g.GET("/:id/approvals", h.Approvals, auth.RequirePermission(auth.PermIncidentRead))
	g.POST("/:id/approvals/1", h.decide(1), auth.RequirePermission(auth.PermIncidentApproveL1))
	g.POST("/:id/approvals/2", h.decide(2), auth.RequirePermission(auth.PermIncidentApproveL2))
	g.POST("/:id/approvals/3", h.decide(3), auth.RequirePermission(auth.PermIncidentApproveL3))
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
	var inc Incident
	if err := c.Bind(&inc); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Create(c.Request().Context(), &inc, actorFrom(c)); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, inc)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	inc, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, inc)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := Filter{
		Category:   Category(c.QueryParam("category")),
		Grade:      Grade(c.QueryParam("grade")),
		Status:     Status(c.QueryParam("status")),
		Department: c.QueryParam("department"),
	}
	if v := c.QueryParam("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid from timestamp")
		}
		f.From = &t
	}
	if v := c.QueryParam("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid to timestamp")
		}
		f.To = &t
	}
	items, total, err := h.svc.Search(c.Request().Context(), f, pg.Limit, pg.Offset)
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
	var upd Incident
	if err := c.Bind(&upd); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	inc, err := h.svc.Update(c.Request().Context(), id, &upd, actorFrom(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, inc)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.Delete(c.Request().Context(), id, actorFrom(c)); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type decideRequest struct {
	Decision Decision `json:"decision"`
	Comment  string   `json:"comment"`
}

func (h *Handler) decide(level int) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
		}
		var req decideRequest
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		inc, err := h.svc.Decide(c.Request().Context(), id, level, req.Decision, req.Comment, actorFrom(c))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusOK, inc)
	}
}

func (h *Handler) Approvals(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	steps, err := h.svc.Approvals(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, steps)
}

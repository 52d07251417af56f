package auditchain

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/psims/psims/internal/platform/auth"
	"github.com/psims/psims/pkg/pagination"
)

// Handler exposes the read side of the audit chain. There is no write
// endpoint: entries are only appended by services.
type Handler struct {
	rec *Recorder
}

func NewHandler(rec *Recorder) *Handler {
	return &Handler{rec: rec}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/audit", auth.RequirePermission(auth.PermAuditRead))
	g.GET("/entries", h.Search)
	g.GET("/verify", h.Verify)
}

func (h *Handler) Search(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := Filter{
		Kind:         Kind(c.QueryParam("kind")),
		ActorID:      c.QueryParam("actor_id"),
		ResourceKind: c.QueryParam("resource_kind"),
		ResourceID:   c.QueryParam("resource_id"),
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
	items, total, err := h.rec.Search(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Verify(c echo.Context) error {
	rep, err := h.rec.VerifyChain(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	status := http.StatusOK
	if !rep.OK {
		status = http.StatusConflict
	}
	return c.JSON(status, rep)
}

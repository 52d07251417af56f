package risk

import (
	"net/http"
	"strconv"

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
	g := api.Group("/risks")
	g.POST("", h.Create, auth.RequirePermission(auth.PermRiskManage))
	g.GET("", h.List, auth.RequirePermission(auth.PermRiskRead))
	g.GET("/:id", h.Get, auth.RequirePermission(auth.PermRiskRead))
	g.PUT("/:id", h.Update, auth.RequirePermission(auth.PermRiskManage))
	g.POST("/:id/transition", h.Transition, auth.RequirePermission(auth.PermRiskManage, auth.PermRiskClose))
	g.POST("/:id/assessments", h.Assess, auth.RequirePermission(auth.PermRiskManage))
	g.GET("/:id/assessments", h.Assessments, auth.RequirePermission(auth.PermRiskRead))

	api.POST("/incidents/:id/escalate", h.Escalate, auth.RequirePermission(auth.PermRiskManage))
	api.POST("/risks/escalation/run", h.RunBatch, auth.RequirePermission(auth.PermRiskManage))
	api.GET("/risks/escalation/candidates", h.Candidates, auth.RequirePermission(auth.PermRiskRead))
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

type createRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Department  string `json:"department"`
	Source      string `json:"source"`
	Reason      string `json:"reason"`
	OwnerID     string `json:"owner_id"`
	OwnerName   string `json:"owner_name"`
	P           int    `json:"p"`
	S           int    `json:"s"`
	Note        string `json:"note"`
}

func (h *Handler) Create(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	r := &Risk{
		Title:       req.Title,
		Description: req.Description,
		Category:    Category(req.Category),
		Department:  req.Department,
		Source:      Source(req.Source),
		Reason:      req.Reason,
		OwnerID:     req.OwnerID,
		OwnerName:   req.OwnerName,
	}
	if err := h.svc.Create(c.Request().Context(), r, req.P, req.S, req.Note, actorFrom(c)); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	r, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := Filter{
		Status:     Status(c.QueryParam("status")),
		Level:      Level(c.QueryParam("level")),
		Origin:     Origin(c.QueryParam("origin")),
		Source:     Source(c.QueryParam("source")),
		Category:   Category(c.QueryParam("category")),
		Department: c.QueryParam("department"),
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
	var upd Risk
	if err := c.Bind(&upd); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	r, err := h.svc.Update(c.Request().Context(), id, &upd, actorFrom(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, r)
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
	r, err := h.svc.Transition(c.Request().Context(), id, req.To, actorFrom(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, r)
}

type assessRequest struct {
	Type AssessmentType `json:"type"`
	P    int            `json:"p"`
	S    int            `json:"s"`
	Note string         `json:"note"`
}

func (h *Handler) Assess(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req assessRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.Assess(c.Request().Context(), id, req.Type, req.P, req.S, req.Note, actorFrom(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) Assessments(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	items, err := h.svc.Assessments(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

type escalateRequest struct {
	P      int    `json:"p"`
	S      int    `json:"s"`
	Reason string `json:"reason"`
}

func (h *Handler) Escalate(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req escalateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	r, err := h.svc.Escalate(c.Request().Context(), id, req.P, req.S, req.Reason, actorFrom(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) Candidates(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, err := h.svc.EscalationCandidates(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) RunBatch(c echo.Context) error {
	windowDays := 0
	if v := c.QueryParam("window_days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "window_days must be a positive integer")
		}
		windowDays = n
	}
	res, err := h.svc.RunBatchEscalation(c.Request().Context(), windowDays, actorFrom(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

package auditchain

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/psims/psims/internal/platform/auth"
)

func doRequest(t *testing.T, rec *Recorder, handler echo.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	e.Use(DenialRecorder(rec))
	e.GET("/risks", handler)

	req := httptest.NewRequest(http.MethodGet, "/risks", nil)
	ctx := context.WithValue(req.Context(), auth.UserIDKey, "u-1")
	ctx = context.WithValue(ctx, auth.UserRolesKey, []string{"reporter"})
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()
	e.ServeHTTP(w, req)
	return w
}

func TestDenialRecorderRecordsForbidden(t *testing.T) {
	repo := &memRepo{}
	rec := NewRecorder(repo, nil)

	w := doRequest(t, rec, func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusForbidden, "required permission: risk.read")
	})
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d", w.Code)
	}
	if len(repo.entries) != 1 {
		t.Fatalf("expected one denial entry, got %d", len(repo.entries))
	}
	e := repo.entries[0]
	if e.Kind != KindPermission || e.Result != ResultDenied {
		t.Errorf("entry = %s/%s", e.Kind, e.Result)
	}
	if e.ActorID == nil || *e.ActorID != "u-1" {
		t.Errorf("actor id = %v", e.ActorID)
	}
	if e.ResourceID == nil || *e.ResourceID != "/risks" {
		t.Errorf("resource id = %v", e.ResourceID)
	}
}

func TestDenialRecorderIgnoresOtherOutcomes(t *testing.T) {
	repo := &memRepo{}
	rec := NewRecorder(repo, nil)

	doRequest(t, rec, func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	doRequest(t, rec, func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "no such risk")
	})
	if len(repo.entries) != 0 {
		t.Errorf("expected no entries, got %d", len(repo.entries))
	}
}

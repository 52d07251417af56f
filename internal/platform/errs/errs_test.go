package errs

import (
	"fmt"
	"net/http"
	"testing"
)

func TestNotFoundError(t *testing.T) {
	err := NotFound("incident", "abc")
	if err.Error() != "incident abc not found" {
		t.Errorf("unexpected message: %s", err.Error())
	}
	if !IsNotFound(err) {
		t.Error("expected IsNotFound to be true")
	}
	if IsConflict(err) || IsValidation(err) {
		t.Error("wrong classification")
	}
}

func TestWrappedErrorsClassify(t *testing.T) {
	base := Conflict("risk already exists for incident %s", "xyz")
	wrapped := fmt.Errorf("escalate: %w", base)
	if !IsConflict(wrapped) {
		t.Error("expected wrapped ConflictError to classify")
	}
	if HTTPStatus(wrapped) != http.StatusConflict {
		t.Errorf("expected 409, got %d", HTTPStatus(wrapped))
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{NotFound("risk", ""), http.StatusNotFound},
		{Conflict("dup"), http.StatusConflict},
		{Validation("probability must be 1-5"), http.StatusUnprocessableEntity},
		{Forbidden("risk.close required"), http.StatusForbidden},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := HTTPStatus(tc.err); got != tc.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

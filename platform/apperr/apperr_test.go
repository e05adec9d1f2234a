package apperr

import (
	"fmt"
	"net/http"
	"testing"
)

func TestGetKindFindsWrappedError(t *testing.T) {
	base := NotFound("opportunity not found").WithOp("pipeline.MoveOpportunityToStage")
	wrapped := fmt.Errorf("handler: %w", base)

	if got := GetKind(wrapped); got != KindNotFound {
		t.Fatalf("expected KindNotFound, got %v", got)
	}
	if !Is(wrapped, KindNotFound) {
		t.Fatal("expected Is to match wrapped not found error")
	}
	if Is(fmt.Errorf("plain"), KindNotFound) {
		t.Fatal("plain errors must not match a kind")
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		err  *Error
		want int
	}{
		{NotFound("x"), http.StatusNotFound},
		{Validation("x"), http.StatusBadRequest},
		{BadRequest("x"), http.StatusBadRequest},
		{Conflict("x"), http.StatusConflict},
		{Forbidden("x"), http.StatusForbidden},
		{Unauthorized("x"), http.StatusUnauthorized},
		{Internal("x"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		if got := tc.err.HTTPStatus(); got != tc.want {
			t.Fatalf("kind %v: expected status %d, got %d", tc.err.Kind, tc.want, got)
		}
	}
}

func TestErrorMessageIncludesOp(t *testing.T) {
	err := Validation("unknown stage").WithOp("move")
	if err.Error() != "move: unknown stage" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func TestParseOrGenerateTraceID(t *testing.T) {
	valid := "0190b3a4-7c2e-7b5d-9f1e-3a2b1c0d9e8f"
	if got := ParseOrGenerateTraceID(valid); got != valid {
		t.Fatalf("expected %s to be kept, got %s", valid, got)
	}
	for _, raw := range []string{"", "not-a-uuid"} {
		got := ParseOrGenerateTraceID(raw)
		id, err := uuid.Parse(got)
		if err != nil {
			t.Fatalf("generated id %q is not a uuid: %v", got, err)
		}
		if id.Version() != 7 {
			t.Fatalf("expected v7, got v%d", id.Version())
		}
	}
}

func TestTraceMiddleware(t *testing.T) {
	e := echo.New()
	var seen string
	e.GET("/", func(c echo.Context) error {
		seen = c.Request().Header.Get(echo.HeaderXRequestID)
		return c.NoContent(http.StatusOK)
	}, TraceMiddleware())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(echo.HeaderXRequestID, "garbage")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	got := rec.Header().Get(echo.HeaderXRequestID)
	if got == "" || got == "garbage" {
		t.Fatalf("expected a fresh request id, got %q", got)
	}
	if seen != got {
		t.Fatalf("handler saw %q, response carries %q", seen, got)
	}
}

package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func runWithRoles(roles []string, required ...string) error {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), UserRolesKey, roles))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	return RequireRole(required...)(ok)(c)
}

func TestRequireRole_Allowed(t *testing.T) {
	if err := runWithRoles([]string{"doctor"}, RoleDoctor, RolePatient); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestRequireRole_CaseInsensitive(t *testing.T) {
	if err := runWithRoles([]string{"DOCTOR"}, RoleDoctor); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestRequireRole_Denied(t *testing.T) {
	expectStatus(t, runWithRoles([]string{"patient"}, RoleDoctor), http.StatusForbidden)
}

func TestRequireRole_NoRoles(t *testing.T) {
	expectStatus(t, runWithRoles(nil, RoleDoctor), http.StatusForbidden)
}

func TestRequireRole_AdminBypass(t *testing.T) {
	if err := runWithRoles([]string{"admin"}, RoleDoctor); err != nil {
		t.Error("admin should bypass role checks")
	}
}

func TestUserIDFromContext(t *testing.T) {
	ctx := context.WithValue(context.Background(), UserIDKey, "user-123")
	if uid := UserIDFromContext(ctx); uid != "user-123" {
		t.Errorf("expected user-123, got %s", uid)
	}
	if empty := UserIDFromContext(context.Background()); empty != "" {
		t.Errorf("expected empty string, got %s", empty)
	}
}

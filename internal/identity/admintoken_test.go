package identity_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fitbounty/fitbounty/internal/identity"
)

const testIssuer = "https://fitbounty.example.com"

func newTestAdminIssuer(t *testing.T, secret string) *identity.AdminTokenIssuer {
	t.Helper()
	hash := ""
	if secret != "" {
		var err error
		hash, err = identity.HashSecret(secret)
		if err != nil {
			t.Fatalf("HashSecret() error: %v", err)
		}
	}
	return identity.NewAdminTokenIssuer([]byte("test-signing-key"), hash, testIssuer, time.Hour)
}

func TestAdminTokenIssuer_Exchange(t *testing.T) {
	tokens := newTestAdminIssuer(t, "s3cret")

	tok, err := tokens.Exchange("s3cret")
	if err != nil {
		t.Fatalf("Exchange() error: %v", err)
	}
	if parts := strings.Split(tok, "."); len(parts) != 3 {
		t.Fatalf("expected 3-part JWT, got %d parts", len(parts))
	}

	claims, err := tokens.Verify(tok)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if claims.Role != "admin" || claims.Issuer != testIssuer {
		t.Errorf("unexpected claims: role=%q iss=%q", claims.Role, claims.Issuer)
	}
}

func TestAdminTokenIssuer_Exchange_wrongSecret(t *testing.T) {
	tokens := newTestAdminIssuer(t, "s3cret")
	if _, err := tokens.Exchange("guess"); !errors.Is(err, identity.ErrInvalidSecret) {
		t.Errorf("expected ErrInvalidSecret, got %v", err)
	}
}

func TestAdminTokenIssuer_Exchange_disabled(t *testing.T) {
	tokens := newTestAdminIssuer(t, "")
	if _, err := tokens.Exchange("anything"); !errors.Is(err, identity.ErrAdminDisabled) {
		t.Errorf("expected ErrAdminDisabled, got %v", err)
	}
}

func TestAdminTokenIssuer_Verify_otherKey(t *testing.T) {
	tok, err := newTestAdminIssuer(t, "").Issue()
	if err != nil {
		t.Fatal(err)
	}
	other := identity.NewAdminTokenIssuer([]byte("different-key"), "", testIssuer, time.Hour)
	if _, err := other.Verify(tok); err == nil {
		t.Error("expected error verifying token signed with another key")
	}
}

func TestAdminTokenIssuer_Verify_expired(t *testing.T) {
	tokens := identity.NewAdminTokenIssuer([]byte("k"), "", testIssuer, time.Nanosecond)
	tok, err := tokens.Issue()
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(2 * time.Millisecond)
	if _, err := tokens.Verify(tok); err == nil {
		t.Error("expected error for expired token, got nil")
	}
}

func TestRequireAdmin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tokens := newTestAdminIssuer(t, "")

	r := gin.New()
	r.GET("/admin", identity.RequireAdmin(tokens), func(c *gin.Context) {
		c.String(http.StatusOK, identity.AdminClaimsFromCtx(c).Subject)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no token: got %d, want 401", w.Code)
	}

	tok, _ := tokens.Issue()
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != "admin" {
		t.Errorf("valid token: got %d %q", w.Code, w.Body.String())
	}
}

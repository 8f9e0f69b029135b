package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

func newPrivateApp() *fiber.App {
	app := fiber.New()
	app.Get("/private", JWTMiddleware("secret"), func(c *fiber.Ctx) error {
		if c.Locals("user_id") != "user-1" {
			return fiber.NewError(fiber.StatusUnauthorized)
		}
		return c.SendStatus(http.StatusOK)
	})
	return app
}

func status(t *testing.T, app *fiber.App, header string) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	return resp.StatusCode
}

func TestJWTMiddleware(t *testing.T) {
	app := newPrivateApp()

	if status(t, app, "") != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized")
	}

	token, err := SignToken("secret", "user-1", DefaultTokenTTL)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if status(t, app, "Bearer "+token) != http.StatusOK {
		t.Fatalf("expected ok")
	}

	wrong, _ := SignToken("other", "user-1", time.Minute)
	if status(t, app, "Bearer "+wrong) != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized for wrong secret")
	}

	if status(t, app, "Token "+token) != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized for non-bearer scheme")
	}
}

func TestJWTMiddlewareRejectsMissingUser(t *testing.T) {
	app := newPrivateApp()
	token, _ := SignToken("secret", "", time.Minute)
	if status(t, app, "Bearer "+token) != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized without user id")
	}
}

func TestJWTMiddlewareParseError(t *testing.T) {
	orig := parseMiddlewareClaimsFn
	defer func() { parseMiddlewareClaimsFn = orig }()
	parseMiddlewareClaimsFn = func(string, jwt.Claims, jwt.Keyfunc, ...jwt.ParserOption) (*jwt.Token, error) {
		return nil, errors.New("boom")
	}

	if status(t, newPrivateApp(), "Bearer anything") != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized on parse error")
	}
}

func TestJWTMiddlewareQueryToken(t *testing.T) {
	app := newPrivateApp()
	token, _ := SignToken("secret", "user-1", time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/private?access_token="+token, nil)
	resp, err := app.Test(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("expected query token accepted, got %v %v", resp.StatusCode, err)
	}

	req = httptest.NewRequest(http.MethodGet, "/private?access_token=garbage", nil)
	resp, _ = app.Test(req)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized for bad query token")
	}
}

package apikey

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApp(cfg Config) *fiber.App {
	app := fiber.New()
	app.Use(New(cfg))
	app.Get("/token", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendString("healthy")
	})
	return app
}

func TestAPIKeyMiddleware(t *testing.T) {
	app := newApp(Config{Key: "bot-key"})

	cases := []struct {
		name   string
		header string
		value  string
		status int
	}{
		{name: "missing", status: fiber.StatusUnauthorized},
		{name: "header", header: "X-API-Key", value: "bot-key", status: fiber.StatusOK},
		{name: "bearer", header: "Authorization", value: "Bearer bot-key", status: fiber.StatusOK},
		{name: "bearer lowercase", header: "Authorization", value: "bearer bot-key", status: fiber.StatusOK},
		{name: "wrong key", header: "X-API-Key", value: "nope", status: fiber.StatusUnauthorized},
		{name: "basic scheme", header: "Authorization", value: "Basic bot-key", status: fiber.StatusUnauthorized},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/token", nil)
			if tc.header != "" {
				req.Header.Set(tc.header, tc.value)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

func TestAPIKeyMiddlewareUnauthorizedBody(t *testing.T) {
	app := newApp(Config{Key: "bot-key"})

	resp, err := app.Test(httptest.NewRequest("GET", "/token", nil))
	require.NoError(t, err)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":false,"error":"unauthorized","message":"Missing or invalid API key"}`, string(body))
}

func TestAPIKeyMiddlewareDisabledWithoutKey(t *testing.T) {
	app := newApp(Config{})

	resp, err := app.Test(httptest.NewRequest("GET", "/token", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestAPIKeyMiddlewareSkip(t *testing.T) {
	app := newApp(Config{
		Key:  "bot-key",
		Skip: func(c *fiber.Ctx) bool { return c.Path() == "/healthz" },
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/healthz", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/token", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

package igauth

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

// DefaultStateCookieName is the cookie holding the state carrier.
const DefaultStateCookieName = "oauth_state"

// HTTPController exposes the connect flow and the bot facing token API.
type HTTPController struct {
	flow      *Flow
	refresher *Refresher
	gateway   *TokenGateway
	store     CredentialStore
	activity  ActivitySink
	logger    Logger
	now       func() time.Time
	config    HTTPConfig
}

// HTTPConfig configures the HTTP controller.
type HTTPConfig struct {
	// PathPrefix for routes (default: "/api/instagram")
	PathPrefix string

	// StateCookieName (default: "oauth_state")
	StateCookieName string

	// CookieSecure sets the Secure flag on the state cookie
	CookieSecure bool

	// CookieSameSite (default: "Lax")
	CookieSameSite string

	// SuccessRedirect after a completed callback (default: "/connected")
	SuccessRedirect string

	// ErrorRedirect receives ?error=<reason> (default: "/connect")
	ErrorRedirect string

	// BotMiddleware guards refresh, token, list and disconnect (optional)
	BotMiddleware []fiber.Handler

	Logger       Logger
	ActivitySink ActivitySink
}

// NewHTTPController creates the controller.
func NewHTTPController(flow *Flow, refresher *Refresher, gateway *TokenGateway, store CredentialStore, cfg HTTPConfig) *HTTPController {
	if cfg.PathPrefix == "" {
		cfg.PathPrefix = "/api/instagram"
	}
	if cfg.StateCookieName == "" {
		cfg.StateCookieName = DefaultStateCookieName
	}
	if cfg.CookieSameSite == "" {
		cfg.CookieSameSite = fiber.CookieSameSiteLaxMode
	}
	if cfg.SuccessRedirect == "" {
		cfg.SuccessRedirect = "/connected"
	}
	if cfg.ErrorRedirect == "" {
		cfg.ErrorRedirect = "/connect"
	}

	return &HTTPController{
		flow:      flow,
		refresher: refresher,
		gateway:   gateway,
		store:     store,
		activity:  normalizeActivitySink(cfg.ActivitySink),
		logger:    normalizeLogger(cfg.Logger),
		now:       time.Now,
		config:    cfg,
	}
}

// RegisterRoutes mounts the routes under PathPrefix.
func (c *HTTPController) RegisterRoutes(r fiber.Router) {
	group := r.Group(c.config.PathPrefix)

	group.Get("/login", c.Login)
	group.Get("/callback", c.Callback)

	bot := func(h fiber.Handler) []fiber.Handler {
		return append(append([]fiber.Handler{}, c.config.BotMiddleware...), h)
	}

	group.Post("/refresh", bot(c.Refresh)...)
	group.Get("/token", bot(c.Token)...)
	group.Get("/status", bot(c.ListAccounts)...)
	group.Get("/accounts", bot(c.ListAccounts)...)
	group.Delete("/accounts/:externalAccountId", bot(c.Disconnect)...)
}

// Login issues the state cookie and redirects to the provider.
func (c *HTTPController) Login(ctx *fiber.Ctx) error {
	redirect, err := c.flow.Begin(ctx.UserContext())
	if err != nil {
		c.logger.Error("login failed", "error", err)
		return ctx.Redirect(appendQueryParam(c.config.ErrorRedirect, "error", "Failed to start OAuth flow"), fiber.StatusFound)
	}

	ctx.Cookie(&fiber.Cookie{
		Name:     c.config.StateCookieName,
		Value:    redirect.Carrier,
		Path:     "/",
		MaxAge:   int(redirect.TTL / time.Second),
		Expires:  c.now().Add(redirect.TTL),
		Secure:   c.config.CookieSecure,
		HTTPOnly: true,
		SameSite: c.config.CookieSameSite,
	})

	return ctx.Redirect(redirect.URL, fiber.StatusFound)
}

// Callback completes the flow. The state cookie is cleared on every path.
func (c *HTTPController) Callback(ctx *fiber.Ctx) error {
	carrier := ctx.Cookies(c.config.StateCookieName)
	c.clearStateCookie(ctx)

	_, err := c.flow.Complete(ctx.UserContext(), Callback{
		Code:             ctx.Query("code"),
		State:            ctx.Query("state"),
		Error:            ctx.Query("error"),
		ErrorReason:      ctx.Query("error_reason"),
		ErrorDescription: ctx.Query("error_description"),
		Carrier:          carrier,
	})
	if err != nil {
		return ctx.Redirect(appendQueryParam(c.config.ErrorRedirect, "error", SafeReason(err)), fiber.StatusFound)
	}

	return ctx.Redirect(c.config.SuccessRedirect, fiber.StatusFound)
}

type refreshRequest struct {
	ExternalAccountID string `json:"externalAccountId"`
	IGUserID          string `json:"igUserId"`
}

// Refresh extends the token of one account.
func (c *HTTPController) Refresh(ctx *fiber.Ctx) error {
	var req refreshRequest
	if len(ctx.Body()) > 0 {
		if err := ctx.BodyParser(&req); err != nil {
			return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"error":   "invalid request body",
			})
		}
	}

	id := firstNonEmpty(req.ExternalAccountID, req.IGUserID)
	if id == "" {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "externalAccountId is required",
		})
	}

	result, err := c.refresher.Refresh(ctx.UserContext(), id)
	if err != nil {
		status := HTTPStatus(err)
		if status >= fiber.StatusInternalServerError {
			c.logger.Error("refresh failed", "external_account_id", id, "error", err)
		}
		return ctx.Status(status).JSON(fiber.Map{
			"success": false,
			"error":   SafeReason(err),
		})
	}

	body := fiber.Map{
		"success": true,
		"message": "Token refreshed successfully",
	}
	if result.ExpiresIn > 0 {
		body["expiresIn"] = Seconds(result.ExpiresIn)
	}
	return ctx.JSON(body)
}

// Token serves the current token to downstream consumers.
func (c *HTTPController) Token(ctx *fiber.Ctx) error {
	id := firstNonEmpty(ctx.Query("externalAccountId"), ctx.Query("igUserId"))
	if id == "" {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "externalAccountId parameter is required",
		})
	}

	lease, err := c.gateway.Lookup(ctx.UserContext(), id)
	if err != nil {
		var expired *TokenExpiredError
		switch {
		case errors.As(err, &expired):
			return ctx.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"success":        false,
				"error":          "expired",
				"tokenExpiresAt": expired.ExpiresAt.UTC(),
			})
		case errors.Is(err, ErrAccountNotFound):
			return ctx.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"error":   "Account not found",
			})
		default:
			return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"success": false,
				"error":   SafeReason(err),
			})
		}
	}

	body := fiber.Map{
		"success":           true,
		"externalAccountId": lease.ExternalAccountID,
		"accessToken":       lease.AccessToken,
		"tokenType":         lease.TokenType,
		"expiresIn":         Seconds(lease.ExpiresIn),
		"tokenExpiresAt":    lease.TokenExpiresAt,
	}
	if lease.Username != "" {
		body["username"] = lease.Username
	}
	if lease.Endpoints != (Endpoints{}) {
		body["endpoints"] = lease.Endpoints
	}
	return ctx.JSON(body)
}

// ListAccounts returns every connected account without tokens.
func (c *HTTPController) ListAccounts(ctx *fiber.Ctx) error {
	accounts, err := c.store.List(ctx.UserContext())
	if err != nil {
		c.logger.Error("list accounts failed", "error", err)
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "Failed to fetch accounts",
		})
	}
	if accounts == nil {
		accounts = []AccountView{}
	}

	return ctx.JSON(fiber.Map{
		"success":  true,
		"count":    len(accounts),
		"accounts": accounts,
	})
}

// Disconnect removes an account and its credential.
func (c *HTTPController) Disconnect(ctx *fiber.Ctx) error {
	id, err := url.PathUnescape(ctx.Params("externalAccountId"))
	if err != nil || id == "" {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "externalAccountId is required",
		})
	}

	if err := c.store.Delete(ctx.UserContext(), id); err != nil {
		status := HTTPStatus(err)
		if status == fiber.StatusInternalServerError {
			c.logger.Error("disconnect failed", "external_account_id", id, "error", err)
		}
		return ctx.Status(status).JSON(fiber.Map{
			"success": false,
			"error":   SafeReason(err),
		})
	}

	recordActivity(ctx.UserContext(), c.activity, c.logger, c.now, ActivityEvent{
		EventType:         ActivityEventAccountDisconnected,
		Provider:          c.flow.Provider().Name(),
		ExternalAccountID: id,
	})

	return ctx.JSON(fiber.Map{"success": true})
}

func (c *HTTPController) clearStateCookie(ctx *fiber.Ctx) {
	ctx.Cookie(&fiber.Cookie{
		Name:     c.config.StateCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		Secure:   c.config.CookieSecure,
		HTTPOnly: true,
		SameSite: c.config.CookieSameSite,
	})
}

func appendQueryParam(rawURL, key, value string) string {
	if rawURL == "" {
		return ""
	}

	parsed, err := url.Parse(rawURL)
	if err == nil {
		query := parsed.Query()
		query.Set(key, value)
		parsed.RawQuery = query.Encode()
		return parsed.String()
	}

	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + url.QueryEscape(key) + "=" + url.QueryEscape(value)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

package igauth

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterOperationalRoutes mounts GET /healthz and, when gatherer is non
// nil, GET /metrics.
func RegisterOperationalRoutes(r fiber.Router, pinger Pinger, gatherer prometheus.Gatherer) {
	r.Get("/healthz", func(ctx *fiber.Ctx) error {
		if pinger != nil {
			if err := pinger.Ping(ctx.UserContext()); err != nil {
				return ctx.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
					"status": "unavailable",
					"error":  "database unreachable",
				})
			}
		}
		return ctx.JSON(fiber.Map{"status": "ok"})
	})

	if gatherer != nil {
		r.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
}

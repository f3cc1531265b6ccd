package app

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"

	"github.com/goliatone/go-igauth"
	"github.com/goliatone/go-igauth/middleware/apikey"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer rt.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
			defer stop()

			app, release, err := rt.buildApp(ctx)
			if err != nil {
				return err
			}
			defer release()

			errCh := make(chan error, 1)
			go func() {
				rt.logger.Info("http server listening", "addr", rt.cfg.HTTPAddr, "provider", rt.cfg.Provider)
				errCh <- app.Listen(rt.cfg.HTTPAddr)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			rt.logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := app.ShutdownWithContext(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

// buildApp wires the flow, refresher, gateway and controller into a fiber app.
func (rt *runtime) buildApp(ctx context.Context) (*fiber.App, func(), error) {
	provider, err := rt.provider()
	if err != nil {
		return nil, nil, err
	}

	states, release, err := rt.stateStore(ctx)
	if err != nil {
		return nil, nil, err
	}

	sink := rt.activitySink()

	flow := igauth.NewFlow(provider, states, rt.store,
		igauth.WithFlowLogger(rt.logger),
		igauth.WithFlowMetrics(rt.metrics),
		igauth.WithFlowActivitySink(sink),
		igauth.WithStateTTL(rt.cfg.StateTTL),
		igauth.WithTransitionHook(func(_ context.Context, t igauth.FlowTransition) {
			rt.logger.Debug("flow transition", "provider", t.Provider, "from", string(t.From), "to", string(t.To))
		}),
	)
	refresher := igauth.NewRefresher(provider, rt.store,
		igauth.WithRefresherLogger(rt.logger),
		igauth.WithRefresherMetrics(rt.metrics),
		igauth.WithRefresherActivitySink(sink),
		igauth.WithRefreshConcurrency(rt.cfg.RefreshConcurrency),
	)
	gateway := igauth.NewTokenGateway(rt.store,
		igauth.WithGatewayLogger(rt.logger),
		igauth.WithGatewayMetrics(rt.metrics),
		igauth.WithGatewayProvider(provider),
	)

	var bot []fiber.Handler
	if rt.cfg.APIKey != "" {
		bot = append(bot, apikey.New(apikey.Config{Key: rt.cfg.APIKey}))
	}

	controller := igauth.NewHTTPController(flow, refresher, gateway, rt.store, igauth.HTTPConfig{
		CookieSecure:    rt.cfg.CookieSecure,
		SuccessRedirect: rt.cfg.SuccessPath,
		ErrorRedirect:   rt.cfg.ErrorPath,
		BotMiddleware:   bot,
		Logger:          rt.logger,
		ActivitySink:    sink,
	})

	app := fiber.New(fiber.Config{
		AppName:               "igauthd",
		DisableStartupMessage: true,
		ReadTimeout:           rt.cfg.HTTPTimeout,
		WriteTimeout:          rt.cfg.HTTPTimeout,
	})
	igauth.RegisterOperationalRoutes(app, rt.store, rt.registry)
	controller.RegisterRoutes(app)

	return app, release, nil
}

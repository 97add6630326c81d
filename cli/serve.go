package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"board-sync/api"
	"board-sync/config"
	"board-sync/relay"
)

const shutdownTimeout = 10 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Port string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the event relay",
		Long: `Run the HTTP event relay. Subscribers hold a text/event-stream open on
GET /api/tasks/events?userId=<owner> and publishers POST events to the same
route. With REDIS_CONNECTION_STRING set, events fan out across relay
instances and repeated event ids are dropped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Port, "port", "p", "", "listen port (overrides STREAM_SERVICE_PORT)")

	return cmd
}

func runServe(ctx context.Context, opts *ServeOptions) error {
	cfg := opts.Config
	port := cfg.Server.Port
	if opts.Port != "" {
		port = opts.Port
	}

	hub := relay.NewHub(cfg.Server.Buffer)
	r := api.Relay{Hub: hub, KeepAlive: cfg.Server.KeepAlive}

	if cfg.Redis.ConnectionString != "" {
		redisOpts, err := config.RedisOptions(cfg.Redis.ConnectionString)
		if err != nil {
			return err
		}
		rc := redis.NewClient(redisOpts)
		defer rc.Close()
		fanout := relay.NewRedisFanout(rc, cfg.Server.Channel, hub)
		go fanout.Run(ctx)
		r.Broadcaster = fanout
		r.Deduper = relay.NewRedisDeduper(rc, cfg.Redis.DeduperTTL)
		log.WithField("channel", cfg.Server.Channel).Info("redis fan-out enabled")
	}

	auth, err := newAuthenticator(cfg.Auth)
	if err != nil {
		return err
	}

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = tp.Shutdown(sctx)
	}()

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	api.Register(e, r, auth, log.StandardLogger())

	errCh := make(chan error, 1)
	go func() {
		log.WithField("port", port).Info("relay listening")
		errCh <- e.Start(":" + port)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	log.Info("relay shutting down")
	return e.Shutdown(sctx)
}

// newAuthenticator returns nil when neither Auth0 nor test mode is set, in
// which case owners come from the userId query parameter.
func newAuthenticator(cfg config.AuthConfig) (api.Authenticator, error) {
	switch {
	case cfg.TestMode:
		log.Warn("AUTH0_TEST_MODE enabled, accepting HS256 test tokens")
		return api.NewTestAuth(cfg.TestSecret), nil
	case cfg.Domain != "":
		jwks, err := keyfunc.Get(cfg.JWKSURL(), keyfunc.Options{})
		if err != nil {
			return nil, err
		}
		return api.NewAuth(jwks, cfg.Audience, cfg.Issuer()), nil
	}
	return nil, nil
}

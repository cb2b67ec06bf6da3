package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/washgo/delivery/internal/auth"
	"github.com/washgo/delivery/internal/cache"
	"github.com/washgo/delivery/internal/checkout"
	"github.com/washgo/delivery/internal/domain/address"
	"github.com/washgo/delivery/internal/domain/order"
	"github.com/washgo/delivery/internal/domain/payment"
	"github.com/washgo/delivery/internal/domain/user"
	"github.com/washgo/delivery/internal/events"
	"github.com/washgo/delivery/internal/handler"
	"github.com/washgo/delivery/internal/notify"
	"github.com/washgo/delivery/internal/places"
	"github.com/washgo/delivery/internal/repository"
	"github.com/washgo/delivery/pkg/health"
	"github.com/washgo/delivery/pkg/httpmiddleware"
)

const serviceName = "washgo-api"

type eventSink interface {
	order.EventSink
	payment.EventSink
}

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m httpmiddleware.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL, repository.PoolConfig{
		MaxConns:        cfg.Database.MaxConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Optional collaborators. Each one is skipped when unconfigured.
	var suggestionCache address.Cache
	if cfg.Redis.Addr != "" {
		rc, err := cache.NewClient(ctx, cache.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return errors.Wrap(err, "connect redis")
		}
		defer func() { _ = rc.Close() }()

		redisCache := cache.NewRedis(rc, lg.Named("cache"))
		healthSvc.AddReadinessCheck("redis", 2*time.Second, health.PingCheck(redisCache))
		suggestionCache = redisCache
	} else {
		lg.Info("Redis not configured, address suggestions are not cached")
	}

	var sink eventSink = events.Nop{}
	if cfg.NATS.URL != "" {
		nc, err := events.Connect(cfg.NATS.URL, serviceName)
		if err != nil {
			return err
		}
		defer nc.Close()

		healthSvc.AddReadinessCheck("nats", time.Second, health.ConnectedCheck(nc.IsConnected))
		sink = events.NewPublisher(nc)
	} else {
		lg.Info("NATS not configured, order events are dropped")
	}

	var receipts payment.Receipts
	if mc := notifyConfig(cfg.Mail); mc.Enabled() {
		receipts = notify.NewMailer(mc)
	} else {
		lg.Info("SMTP not configured, receipts are not sent")
	}

	var suggestions address.Provider
	if cfg.Places.APIKey != "" {
		suggestions = places.New(places.Config{
			APIKey:  cfg.Places.APIKey,
			BaseURL: cfg.Places.BaseURL,
			Timeout: cfg.Places.Timeout,
		})
	} else {
		lg.Info("Places API key not set, address suggestions are degraded")
	}

	// Repositories.
	userRepo := repository.NewUserRepository(pool)
	orderRepo := repository.NewOrderRepository(pool)
	paymentRepo := repository.NewPaymentRepository(pool)

	// Domain services.
	passwords, err := user.NewPasswords(cfg.Auth.BcryptCost)
	if err != nil {
		return errors.Wrap(err, "password hasher")
	}
	userService := user.NewService(userRepo, passwords)
	if err := userService.WarmUsernames(ctx); err != nil {
		lg.Warn("Username filter not warmed", zap.Error(err))
	}

	orderService := order.NewService(orderRepo, order.Options{
		StrictTransitions: cfg.Orders.StrictTransitions,
		Events:            sink,
	})

	stripeClient := checkout.NewStripe(checkout.Config{
		SecretKey:     cfg.Stripe.SecretKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
	})
	paymentService, err := payment.NewService(stripeClient, paymentRepo, userService, orderRepo, payment.Options{
		Currency:       cfg.Stripe.Currency,
		SuccessURL:     cfg.SuccessURL(),
		CancelURL:      cfg.CancelURL(),
		Events:         sink,
		Receipts:       receipts,
		TracerProvider: m.TracerProvider(),
		MeterProvider:  m.MeterProvider(),
	})
	if err != nil {
		return errors.Wrap(err, "create payment service")
	}

	addressService := address.NewService(suggestions, suggestionCache, cfg.Redis.TTL)

	// HTTP: API routes + health endpoints on one router.
	h := handler.New(
		userService,
		orderService,
		paymentService,
		addressService,
		auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		stripeClient,
	)
	router := h.Router()
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)
	routeFinder := httpmiddleware.MakeRouteFinder(router)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", httpmiddleware.RequestIDHeader},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument(serviceName, routeFinder, m),
			httpmiddleware.LogRequests(routeFinder),
			httpmiddleware.Labeler(routeFinder),
		),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return healthSvc.Run(gctx, 10*time.Second)
	})
	g.Go(func() error {
		// Graceful shutdown: wait for cancellation, drain, then stop.
		<-gctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutdown")
		}
		return nil
	})
	g.Go(func() error {
		healthSvc.SetReady(true)
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	return g.Wait()
}

func notifyConfig(c MailConfig) notify.Config {
	return notify.Config{
		Host:     c.Host,
		Port:     c.Port,
		Username: c.Username,
		Password: c.Password,
		From:     c.From,
	}
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/labstack/echo-contrib/prometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/quickoh/relay/internal"
	"github.com/quickoh/relay/internal/app"
	"github.com/quickoh/relay/internal/cart"
	"github.com/quickoh/relay/internal/config"
	"github.com/quickoh/relay/internal/dispatch"
	"github.com/quickoh/relay/internal/durable"
	"github.com/quickoh/relay/internal/ephemeral"
	"github.com/quickoh/relay/internal/handler"
	"github.com/quickoh/relay/internal/identity"
	relay_middleware "github.com/quickoh/relay/internal/middleware"
	"github.com/quickoh/relay/internal/ntp"
	"github.com/quickoh/relay/internal/orders"
	"github.com/quickoh/relay/internal/ratelimit"
	"github.com/quickoh/relay/internal/relay"
	"github.com/quickoh/relay/internal/storage"
	"github.com/quickoh/relay/internal/utils"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

// orderAccess lets the hub consult the order service, which itself needs the
// hub to emit.
type orderAccess struct {
	orders *orders.Service
}

func (a *orderAccess) CanJoinOrder(ctx context.Context, caller identity.Identity, orderID string) bool {
	return a.orders != nil && a.orders.CanJoinOrder(ctx, caller, orderID)
}

func main() {
	log.Info(fmt.Sprintf("Relay %s is running", internal.RelayVersionRevision))
	config.LoadConfig()
	app.InitMetrics()

	var timeProvider ntp.TimeProvider
	if config.Config.NTPEnabled {
		ntpClient := ntp.NewClient(ntp.Options{
			Servers:      config.Config.NTPServers,
			SyncInterval: time.Duration(config.Config.NTPSyncInterval) * time.Second,
			QueryTimeout: time.Duration(config.Config.NTPQueryTimeout) * time.Second,
		})
		ntpClient.Start(context.Background())
		defer ntpClient.Stop()
		timeProvider = ntpClient
		log.WithFields(log.Fields{
			"servers":       config.Config.NTPServers,
			"sync_interval": config.Config.NTPSyncInterval,
		}).Info("NTP synchronization enabled")
	} else {
		timeProvider = ntp.NewLocalTimeProvider()
		log.Info("NTP synchronization disabled, using local time")
	}

	backend, err := storage.NewBackend(config.Config.Storage, config.Config.ValkeyURI, timeProvider)
	if err != nil {
		log.Fatalf("failed to create ephemeral storage: %v", err)
	}
	defer func() { _ = backend.Close() }()

	db, err := durable.NewStore(config.Config.DurableStorage, config.Config.PostgresURI, timeProvider)
	if err != nil {
		log.Fatalf("failed to create durable storage: %v", err)
	}
	defer db.Close()

	ephemeralKind, durableKind := "memory", "memory"
	if _, ok := backend.(*storage.ValkeyBackend); ok {
		ephemeralKind = "valkey"
	}
	switch store := db.(type) {
	case *durable.PgStore:
		durableKind = "postgres"
	case *durable.MemStore:
		if config.Config.DurableSeedFile != "" {
			seed, err := store.LoadSeedFile(config.Config.DurableSeedFile)
			if err != nil {
				log.Fatalf("failed to seed durable storage: %v", err)
			}
			log.WithFields(log.Fields{
				"products": len(seed.Products),
				"partners": len(seed.Partners),
			}).Info("durable storage seeded")
		}
	}
	log.WithFields(log.Fields{"ephemeral": ephemeralKind, "durable": durableKind}).Info("storage ready")
	app.SetRelayInfo(ephemeralKind, durableKind)

	live := ephemeral.NewStore(backend, timeProvider, config.Config.EphemeralTTL)
	limiter := ratelimit.New(backend)

	healthManager := app.NewHealthManager(live, db)
	go healthManager.StartHealthMonitoring(5*time.Second, nil)

	access := &orderAccess{}
	hubOpts := relay.Options{
		ChatLimit:     config.Config.RateLimitChat,
		LocationLimit: config.Config.RateLimitLocation,
		RejectionAck:  config.Config.RejectionAck,
	}
	if config.Config.EnforceRoomAccess {
		hubOpts.Authorizer = access
	}
	hub := relay.NewHub(live, limiter, hubOpts)
	orderService := orders.NewService(db, db, live, dispatch.New(db, hub), hub)
	access.orders = orderService

	extractor, err := utils.NewRealIPExtractor(config.Config.TrustedProxyRanges)
	if err != nil {
		log.Warnf("failed to create realIPExtractor: %v, using defaults", err)
		extractor, _ = utils.NewRealIPExtractor([]string{})
	}

	mux := http.NewServeMux()
	mux.Handle("/health", http.HandlerFunc(healthManager.HealthHandler))
	mux.Handle("/ready", http.HandlerFunc(healthManager.ReadyHandler))
	mux.Handle("/version", http.HandlerFunc(app.VersionHandler))
	mux.Handle("/metrics", promhttp.Handler())
	if config.Config.PprofEnabled {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
	}
	go func() {
		log.Fatal(http.ListenAndServe(fmt.Sprintf(":%d", config.Config.MetricsPort), mux))
	}()

	e := echo.New()
	e.HideBanner = true
	e.Validator = handler.NewValidator()
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		Skipper:           nil,
		DisableStackAll:   true,
		DisablePrintStack: false,
	}))
	e.Use(handler.TraceMiddleware())
	e.Use(app.LogrusLoggerMiddleware())
	e.Use(middleware.BodyLimit(config.Config.BodyLimit))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     config.Config.CorsOrigins,
		AllowMethods:     []string{echo.GET, echo.POST, echo.PUT, echo.DELETE, echo.OPTIONS},
		AllowHeaders:     []string{"Content-Type", "Authorization", identity.HeaderUserID, identity.HeaderUserRole, echo.HeaderXRequestID},
		AllowCredentials: true,
		MaxAge:           86400,
	}))
	e.Use(app.ConnectionsLimitMiddleware(relay_middleware.NewConnectionLimiter(config.Config.ConnectionsLimit, extractor), func(c echo.Context) bool {
		return c.Path() != "/relay"
	}))

	auth := identity.HeaderAuthenticator{}
	api := e.Group("/api/v1", identity.Authenticate(auth))
	handler.New(cart.NewService(live, db), orderService, limiter, handler.Rules{
		CartAdd:     config.Config.RateLimitCartAdd,
		OrderCreate: config.Config.RateLimitOrderCreate,
	}).Register(api)

	ws := relay.NewHandler(hub, auth, relay.TransportOptions{
		Heartbeat:      time.Duration(config.Config.HeartbeatInterval) * time.Second,
		AllowedOrigins: config.Config.CorsOrigins,
		SendBuffer:     config.Config.SendBufferSize,
		MaxFrameSize:   config.Config.MaxFrameSize,
		FrameRPS:       config.Config.FrameRPS,
		FrameBurst:     config.Config.FrameBurst,
	})
	e.GET("/relay", ws.Serve)

	var existedPaths []string
	for _, r := range e.Routes() {
		existedPaths = append(existedPaths, r.Path)
	}
	p := prometheus.NewPrometheus("http", func(c echo.Context) bool {
		return !slices.Contains(existedPaths, c.Path())
	})
	e.Use(p.HandlerFunc)

	addr := fmt.Sprintf(":%v", config.Config.Port)
	if config.Config.SelfSignedTLS {
		tlsConfig, err := utils.SelfSignedTLSConfig()
		if err != nil {
			log.Fatalf("failed to generate self signed certificate: %v", err)
		}
		server := &http.Server{Addr: addr, Handler: e, TLSConfig: tlsConfig}
		log.Fatal(server.ListenAndServeTLS("", ""))
	} else {
		log.Fatal(e.Start(addr))
	}
}

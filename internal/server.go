package internal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/2beens/gymweb/internal/backend"
	"github.com/2beens/gymweb/internal/config"
	"github.com/2beens/gymweb/internal/db"
	"github.com/2beens/gymweb/internal/guard"
	"github.com/2beens/gymweb/internal/middleware"
	"github.com/2beens/gymweb/internal/pages"
	"github.com/2beens/gymweb/internal/session"
	"github.com/2beens/gymweb/internal/storage"
	"github.com/2beens/gymweb/internal/telemetry/metrics"
	"github.com/2beens/gymweb/internal/telemetry/tracing"
	"github.com/2beens/gymweb/pkg"

	"github.com/IBM/pgxpoolprometheus"
	"github.com/getsentry/sentry-go"
	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redis_rate/v9"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Server struct {
	httpServer        *http.Server
	metricsHttpServer *http.Server
	versionInfo       string

	config      *config.Config
	dbPool      *pgxpool.Pool
	redisClient *redis.Client

	sessionStore  *session.Store
	unsubscribers []func()

	// metrics
	metricsManager *metrics.Manager
	promRegistry   *prometheus.Registry
	otelShutdown   func()
}

type NewServerParams struct {
	Config      *config.Config
	Secrets     config.Secrets
	VersionInfo string
}

func NewServer(
	ctx context.Context,
	params NewServerParams,
) (*Server, error) {
	cfg := params.Config

	var rdb *redis.Client
	if cfg.RedisEnabled() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     net.JoinHostPort(cfg.RedisHost, cfg.RedisPort),
			Password: params.Secrets.RedisPassword,
			DB:       0, // use default DB
		})

		rdbStatus := rdb.Ping(ctx)
		if err := rdbStatus.Err(); err != nil {
			log.Errorf("--> failed to ping redis: %s", err)
		} else {
			log.Debugf("redis ping: %s", rdbStatus.Val())
		}
	}

	var (
		dbPool          *pgxpool.Pool
		extraCollectors []prometheus.Collector
	)
	if cfg.StorageBackend == config.StoragePostgres {
		var err error
		dbPool, err = db.NewDBPool(ctx, db.NewDBPoolParams{
			DBHost:         cfg.PostgresHost,
			DBPort:         cfg.PostgresPort,
			DBName:         cfg.PostgresDBName,
			DBUser:         cfg.PostgresUser,
			DBPassword:     params.Secrets.PostgresPassword,
			TracingEnabled: params.Secrets.HoneycombEnabled,
		})
		if err != nil {
			return nil, fmt.Errorf("new db pool: %w", err)
		}
		if err := dbPool.Ping(ctx); err != nil {
			log.Warnf("failed to ping db: %s", err)
		}

		extraCollectors = append(extraCollectors, pgxpoolprometheus.NewCollector(
			dbPool,
			map[string]string{"db_name": cfg.PostgresDBName},
		))
	}

	promRegistry := metrics.SetupPrometheus(extraCollectors...)
	metricsManager := metrics.NewManager("gymweb", "webclient", promRegistry)

	// use honeycomb distro to setup OpenTelemetry SDK
	otelShutdown, err := tracing.HoneycombSetup(params.Secrets.HoneycombEnabled, params.Secrets.OtelServiceName, rdb)
	if err != nil {
		return nil, err
	}

	persistentStore, err := newPersistentStore(ctx, cfg, rdb, dbPool)
	if err != nil {
		return nil, fmt.Errorf("new persistent store: %w", err)
	}

	s := &Server{
		config:      cfg,
		dbPool:      dbPool,
		redisClient: rdb,
		versionInfo: params.VersionInfo,

		// telemetry
		metricsManager: metricsManager,
		promRegistry:   promRegistry,
		otelShutdown:   otelShutdown,
	}
	s.sessionStore = session.New(persistentStore, newBackendClient(cfg, metricsManager), sessionOptions(cfg)...)
	s.watchSession()

	return s, nil
}

func newBackendClient(cfg *config.Config, metricsManager *metrics.Manager) *backend.Client {
	tracedHttpClient := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   cfg.ApiTimeout,
	}
	return backend.NewClient(
		cfg.ApiBaseURL,
		tracedHttpClient,
		backend.WithDurationObserver(func(endpoint string, statusCode int, duration time.Duration) {
			metricsManager.HistogramBackendRequestDuration.
				WithLabelValues(endpoint, backend.StatusLabel(statusCode)).
				Observe(duration.Seconds())
		}),
	)
}

func sessionOptions(cfg *config.Config) []session.Option {
	var opts []session.Option
	if cfg.DetachAuthRequests {
		opts = append(opts, session.WithDetachedRequests())
	}
	if cfg.RegisterMode == config.RegisterModeRemote {
		opts = append(opts, session.WithRemoteRegistration())
	}
	return opts
}

func newPersistentStore(
	ctx context.Context,
	cfg *config.Config,
	rdb *redis.Client,
	dbPool *pgxpool.Pool,
) (session.PersistentStore, error) {
	switch cfg.StorageBackend {
	case config.StorageMemory:
		log.Warnln("using in-memory session storage, sessions will not survive a restart")
		return storage.NewMemoryStore(0), nil
	case config.StorageFile:
		fileStore, err := storage.NewFileStore(cfg.StorageFilePath)
		if err != nil {
			return nil, err
		}
		log.Debugf("session storage file: %s", fileStore.Path())
		return fileStore, nil
	case config.StorageRedis:
		if rdb == nil {
			return nil, errors.New("redis storage backend without a redis client")
		}
		return storage.NewRedisStore(rdb, cfg.StorageKeyPrefix), nil
	case config.StoragePostgres:
		if dbPool == nil {
			return nil, errors.New("postgres storage backend without a db pool")
		}
		pgStore := storage.NewPostgresStore(dbPool, cfg.StorageKeyPrefix)
		if err := pgStore.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure session schema: %w", err)
		}
		return pgStore, nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.StorageBackend)
	}
}

// watchSession keeps the session gauge current and counts the moments the
// session falls out of the authenticated state.
func (s *Server) watchSession() {
	s.unsubscribers = append(s.unsubscribers, s.sessionStore.Subscribe(func(st session.State) {
		if st.IsAuthenticated {
			s.metricsManager.GaugeAuthenticated.Set(1)
		} else {
			s.metricsManager.GaugeAuthenticated.Set(0)
		}
	}))

	sessionGuard := guard.New(pages.EntryRoute, func(route string) {
		s.metricsManager.CounterGuardRedirects.Inc()
		log.Infof("no authenticated session, protected pages redirect to [%s]", route)
	})
	s.unsubscribers = append(s.unsubscribers, sessionGuard.Attach(s.sessionStore))
}

func (s *Server) restoreSession(ctx context.Context) {
	outcome := s.sessionStore.Init(ctx)
	s.metricsManager.CounterSessionRestores.WithLabelValues(outcome.String()).Inc()
	log.Infof("session restore: %s", outcome)
}

func (s *Server) rateLimiter() middleware.RequestRateLimiter {
	if s.redisClient != nil {
		return redis_rate.NewLimiter(s.redisClient)
	}
	return middleware.NewLocalRateLimiter()
}

func (s *Server) routerSetup() *mux.Router {
	r := mux.NewRouter()
	r.Use(otelmux.Middleware("gymweb-router"))

	pagesHandler := pages.NewHandler(s.sessionStore, s.metricsManager)
	pagesHandler.SetupRoutes(r, s.rateLimiter(), s.config.LoginRateLimitPerMin)

	r.HandleFunc("/version", s.handleVersion).Methods("GET").Name("version")

	// all the rest - unhandled paths
	r.HandleFunc("/{unknown}", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}).Methods("GET", "POST", "OPTIONS").Name("unknown")

	r.Use(middleware.PanicRecovery(s.metricsManager))
	r.Use(middleware.LogRequest())
	r.Use(middleware.RequestMetrics(s.metricsManager))
	r.Use(middleware.Cors(s.config.AllowedOrigins...))
	r.Use(middleware.DrainAndCloseRequest())

	return r
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	pkg.WriteTextResponseOK(w, s.versionInfo)
}

// Serve starts the web and metrics listeners and restores the session in the
// background. Until the restore finishes, pages render the loading placeholder.
func (s *Server) Serve(ctx context.Context, host string, port int) error {
	ipAndPort := net.JoinHostPort(host, strconv.Itoa(port))
	s.httpServer = &http.Server{
		Handler:      s.routerSetup(),
		Addr:         ipAndPort,
		WriteTimeout: time.Minute,
		ReadTimeout:  time.Minute,
		ConnState:    s.connStateMetrics,
	}

	metricsRouter := mux.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.InstrumentMetricHandler(
		s.promRegistry,
		promhttp.HandlerFor(s.promRegistry, promhttp.HandlerOpts{}),
	))
	metricsAddr := net.JoinHostPort(s.config.PrometheusMetricsHost, s.config.PrometheusMetricsPort)
	s.metricsHttpServer = &http.Server{
		Addr:              metricsAddr,
		Handler:           metricsRouter,
		ReadHeaderTimeout: 10 * time.Second,
	}

	listener, err := net.Listen("tcp", ipAndPort)
	if err != nil {
		return fmt.Errorf("main service, listen: %w", err)
	}
	metricsListener, err := net.Listen("tcp", metricsAddr)
	if err != nil {
		_ = listener.Close()
		return fmt.Errorf("metrics service, listen: %w", err)
	}

	go func() {
		log.Infof(" > server listening on: [%s]", listener.Addr())
		err := s.httpServer.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("main service, serve: %s", err)
		}
	}()

	go func() {
		log.Debugf(" > metrics listening on: [%s]", metricsListener.Addr())
		err := s.metricsHttpServer.Serve(metricsListener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("metrics service, serve: %s", err)
		}
	}()

	s.metricsManager.GaugeLifeSignal.Set(1)

	go s.restoreSession(ctx)

	return nil
}

func (s *Server) GracefulShutdown() {
	log.Debug("graceful shutdown initiated ...")

	s.metricsManager.GaugeLifeSignal.Set(0)

	maxWaitDuration := time.Second * 15
	ctx, timeoutCancel := context.WithTimeout(context.Background(), maxWaitDuration)
	defer timeoutCancel()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Errorf(" >>> failed to gracefully shutdown http server: %s", err)
		}
		log.Warnln("server shut down")
	}

	if s.metricsHttpServer != nil {
		if err := s.metricsHttpServer.Shutdown(ctx); err != nil {
			log.Errorf(" >>> failed to gracefully shutdown metrics http server: %s", err)
		}
		log.Warnln("metrics server shut down")
	}

	for _, unsubscribe := range s.unsubscribers {
		unsubscribe()
	}
	s.sessionStore.Close()

	s.otelShutdown()
	log.Trace("otel shut down ...")

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			log.Errorf("failed to close redis client conn: %s", err)
		}
	}

	if s.dbPool != nil {
		log.Debugln("closing db pool ...")
		s.dbPool.Close() // blocking operation
		log.Debugln("db pool closed")
	}

	if ok := sentry.Flush(5 * time.Second); ok {
		log.Debugf("sentry flush ok: %t", ok)
	}
}

func (s *Server) connStateMetrics(_ net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		s.metricsManager.GaugeConnections.Add(1)
	case http.StateClosed, http.StateHijacked:
		s.metricsManager.GaugeConnections.Add(-1)
	default:
		// do nothing
	}
}

package dashboard

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"io/fs"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"gachasync/config"
	"gachasync/internal/metrics"
	"gachasync/logger"
	"gachasync/models"
	"gachasync/store"
)

//go:embed templates/*.tmpl assets/*
var embeddedFS embed.FS

// Syncer is the part of the sync processor the dashboard drives.
type Syncer interface {
	Enqueue(ctx context.Context, key, reason string) (models.SyncRequest, error)
	InFlight(key string) bool
	LastResult(key string) (models.SyncResult, bool)
}

// Deps are the stores and processor the account endpoints read from. Progress,
// when set, is drained by the websocket hub. DataDir is the volume whose disk
// usage the resource sampler reports.
type Deps struct {
	Accounts *store.AccountStore
	History  store.HistoryStore
	Pools    *store.PoolInfoCache
	Syncer   Syncer
	Progress <-chan models.SyncProgress
	DataDir  string
}

// Server hosts the Gin-powered dashboard and account API for gachasync.
type Server struct {
	cfg               config.DashboardConfig
	log               *logger.Log
	deps              Deps
	metricStore       *metricStore
	logStore          *logStore
	metricHandler     metrics.MetricHandlerID
	httpServer        *http.Server
	refreshIntervalMs int
	resourceSampler   *resourceSampler
	progress          *progressHub
}

// NewServer constructs a dashboard server when the dashboard feature is enabled.
// When the dashboard is disabled the returned server will be nil.
func NewServer(cfg config.DashboardConfig, log *logger.Log, deps Deps) (*Server, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if deps.Accounts == nil || deps.History == nil || deps.Pools == nil || deps.Syncer == nil {
		return nil, errors.New("dashboard: accounts, history, pools and syncer are required")
	}

	cfg.Address = normalizeAddress(cfg.Address)

	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Second
	}

	if cfg.LogHistory <= 0 {
		cfg.LogHistory = 200
	}

	if cfg.MetricsHistory <= 0 {
		cfg.MetricsHistory = 200
	}

	metricStore := newMetricStore(cfg.MetricsHistory)
	handlerID := metrics.RegisterMetricHandler(metricStore.handle)

	logStore := newLogStore(cfg.LogHistory)
	log.AddHook(logStore)

	sampler := newResourceSampler(cfg.MetricsHistory, cfg.RefreshInterval, deps.DataDir, log)

	server := &Server{
		cfg:               cfg,
		log:               log,
		deps:              deps,
		metricStore:       metricStore,
		logStore:          logStore,
		metricHandler:     handlerID,
		refreshIntervalMs: int(cfg.RefreshInterval / time.Millisecond),
		resourceSampler:   sampler,
		progress:          newProgressHub(log),
	}

	if server.refreshIntervalMs <= 0 {
		server.refreshIntervalMs = int((5 * time.Second) / time.Millisecond)
	}

	return server, nil
}

// Run starts the dashboard HTTP server and blocks until the provided context is
// cancelled or the underlying HTTP server exits with an error.
func (s *Server) Run(ctx context.Context, appName string) error {
	if s == nil {
		return nil
	}

	defer s.cleanup()

	router, err := s.buildRouter(appName)
	if err != nil {
		return err
	}

	if s.resourceSampler != nil {
		s.resourceSampler.start(ctx)
	}
	if s.deps.Progress != nil {
		go s.progress.run(ctx, s.deps.Progress)
	}

	s.httpServer = &http.Server{
		Addr:    s.cfg.Address,
		Handler: router,
	}

	s.log.WithComponent("dashboard").WithFields(logger.Fields{"address": s.cfg.Address}).Info("dashboard listening")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.progress.closeAll()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		if err == nil {
			return nil
		}
		return err
	}
}

func (s *Server) cleanup() {
	metrics.UnregisterMetricHandler(s.metricHandler)
	if s.logStore != nil {
		s.logStore.close()
	}
	if s.resourceSampler != nil {
		s.resourceSampler.stop()
	}
	s.progress.closeAll()
}

// Address reports the network address the dashboard server listens on.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

func (s *Server) buildRouter(appName string) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	// Client IPs come from the connection, never from forwarded headers.
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	tmpl := template.Must(template.New("dashboard").ParseFS(embeddedFS, "templates/index.tmpl"))
	router.SetHTMLTemplate(tmpl)

	if assetsFS, err := fsSub("assets"); err == nil {
		router.StaticFS("/assets", http.FS(assetsFS))
	}

	router.GET("/", func(c *gin.Context) {
		c.HTML(http.StatusOK, "index.tmpl", gin.H{
			"AppName":           appName,
			"RefreshIntervalMs": s.refreshIntervalMs,
		})
	})

	api := router.Group("/api")
	api.GET("/accounts", s.handleAccounts)
	api.GET("/accounts/:key/statistics", s.handleStatistics)
	api.GET("/accounts/:key/records", s.handleRecords)
	api.POST("/accounts/:key/sync", s.handleSync)

	api.GET("/metrics", s.handleMetrics)
	api.GET("/logs", s.handleLogs)
	api.GET("/resources", s.handleResources)

	router.GET("/ws/progress", s.handleProgress)

	return router, nil
}

func fsSub(path string) (fs.FS, error) {
	sub, err := fs.Sub(embeddedFS, path)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

const defaultListenPort = "8080"

// normalizeAddress turns a configured address, possibly a URL or a bare host,
// into a host:port listen address.
func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if i := strings.Index(addr, "://"); i >= 0 {
		if u, err := url.Parse(addr); err == nil && u.Host != "" {
			addr = u.Host
		} else {
			addr = strings.TrimSuffix(addr[i+3:], "/")
		}
	}
	if addr == "" {
		return net.JoinHostPort("0.0.0.0", defaultListenPort)
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		// no port: a bare host or an unbracketed IPv6 address
		host, port = addr, ""
	}
	if host == "" || host == "*" {
		host = "0.0.0.0"
	}
	if port == "" {
		port = defaultListenPort
	}
	return net.JoinHostPort(host, port)
}

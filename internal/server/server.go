package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/tokenledger/internal/config"
	ledgerdomain "github.com/smallbiznis/tokenledger/internal/ledger/domain"
	"github.com/smallbiznis/tokenledger/internal/observability"
	obsmiddleware "github.com/smallbiznis/tokenledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/tokenledger/internal/observability/metrics"
	obstracing "github.com/smallbiznis/tokenledger/internal/observability/tracing"
	"github.com/smallbiznis/tokenledger/internal/portal"
	"github.com/smallbiznis/tokenledger/internal/ratelimit"
	reconciledomain "github.com/smallbiznis/tokenledger/internal/reconcile/domain"
	"github.com/smallbiznis/tokenledger/internal/tier"
	"github.com/smallbiznis/tokenledger/internal/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
		QuietRoutes:     []string{"/health", "/metrics"},
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	return NewEngine(obsCfg)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log = log.Named("http.server")

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type webhookIngester interface {
	Ingest(ctx context.Context, payload []byte, headers http.Header) (reconciledomain.Result, error)
}

type portalSessions interface {
	CreateSession(ctx context.Context, accountID string) (string, error)
}

type Server struct {
	engine        *gin.Engine
	cfg           config.Config
	webhooks      webhookIngester
	ledgerSvc     ledgerdomain.Service
	portalSvc     portalSessions
	catalog       *tier.Catalog
	portalLimiter *ratelimit.PortalLimiter
	obsMetrics    *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	Webhooks      *webhook.Service
	LedgerSvc     ledgerdomain.Service
	PortalSvc     *portal.Service
	Catalog       *tier.Catalog
	PortalLimiter *ratelimit.PortalLimiter `optional:"true"`
	ObsMetrics    *obsmetrics.Metrics      `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		webhooks:      p.Webhooks,
		ledgerSvc:     p.LedgerSvc,
		portalSvc:     p.PortalSvc,
		catalog:       p.Catalog,
		portalLimiter: p.PortalLimiter,
		obsMetrics:    p.ObsMetrics,
	}

	svc.registerRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerRoutes() {
	s.engine.POST("/webhooks/billing", s.HandleBillingWebhook)
	s.engine.GET("/tiers", s.ListTiers)

	account := s.engine.Group("", s.IdentityRequired())
	{
		account.GET("/credits", s.GetCredits)
		account.GET("/credits/ledger", s.ListLedgerEntries)
		account.POST("/billing/portal-session", s.PortalRateLimit(), s.CreatePortalSession)
	}
}

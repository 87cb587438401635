package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/brandseal/brandseal/internal/config"
	"github.com/brandseal/brandseal/internal/ledger"
	"github.com/brandseal/brandseal/internal/observability"
	obsmiddleware "github.com/brandseal/brandseal/internal/observability/logger"
	obsmetrics "github.com/brandseal/brandseal/internal/observability/metrics"
	obstracing "github.com/brandseal/brandseal/internal/observability/tracing"
	processingdomain "github.com/brandseal/brandseal/internal/processing/domain"
	shopdomain "github.com/brandseal/brandseal/internal/shop/domain"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
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

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	processing processingdomain.Service
	shops      shopdomain.Repository
	ledger     *ledger.Client
	metrics    *obsmetrics.Metrics
	log        *zap.Logger
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	Processing processingdomain.Service
	Shops      shopdomain.Repository
	Ledger     *ledger.Client
	Metrics    *obsmetrics.Metrics `optional:"true"`
	Log        *zap.Logger
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		processing: p.Processing,
		shops:      p.Shops,
		ledger:     p.Ledger,
		metrics:    p.Metrics,
		log:        p.Log.Named("server"),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	api := s.engine.Group("/api")
	api.Use(ShopContextMiddleware())

	api.GET("/trial-allowance", s.getTrialAllowance)
	api.PUT("/settings", s.putSettings)
	api.POST("/shops", s.registerShop)

	callbacks := api.Group("/callbacks")
	callbacks.POST("/bulk-operation", s.bulkOperationCallback)
	callbacks.POST("/removal", s.removalCallback)
	callbacks.POST("/usage", s.usageCallback)
}
